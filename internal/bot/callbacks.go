package bot

import (
	"context"
	"fmt"
	"strconv"

	"appealbot/internal/domain"
	"appealbot/internal/transport"
	logx "appealbot/pkg/logx"
)

func (b *Bot) builtinCallbacks() []CallbackRoute {
	return []CallbackRoute{
		{Prefix: "appeal", Action: "processed", Access: AccessAdmin, Handle: b.cbAppealStatus(domain.AppealProcessed)},
		{Prefix: "appeal", Action: "rejected", Access: AccessAdmin, Handle: b.cbAppealStatus(domain.AppealRejected)},
		{Prefix: "adminreq", Action: "approve", Access: AccessAdmin, Handle: b.cbApproveRequest},
		{Prefix: "adminreq", Action: "revoke", Access: AccessAdmin, Handle: b.cbRevokeRequest},
	}
}

func callbackID(payload string) (int64, error) {
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("callback id %q: %w", payload, domain.ErrNotFound)
	}
	return id, nil
}

// finish replaces the button message with the outcome and acknowledges
// the tap.
func (b *Bot) finish(ctx context.Context, req *Request, text, ack string) error {
	ref := transport.MessageRef{ChatID: req.ChatID, MessageID: req.MessageID}
	if err := b.adapter.EditText(ctx, ref, text, nil); err != nil {
		req.Logger.Debug("edit after callback failed", logx.Err(err))
	}
	return b.adapter.AnswerCallback(ctx, req.CallbackID, ack)
}

func (b *Bot) cbAppealStatus(status domain.AppealStatus) func(ctx context.Context, req *Request, payload string) error {
	return func(ctx context.Context, req *Request, payload string) error {
		id, err := callbackID(payload)
		if err != nil {
			return err
		}
		a, err := b.svc.UpdateAppealStatus(ctx, id, status)
		if err != nil {
			return err
		}
		return b.finish(ctx, req, formatAppeal(a), "Status: "+status.Label())
	}
}

func (b *Bot) cbApproveRequest(ctx context.Context, req *Request, payload string) error {
	id, err := callbackID(payload)
	if err != nil {
		return err
	}
	r, err := b.svc.UpdateAdminRequestStatus(ctx, id, domain.AdminRequestApproved, "")
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Request #%d\nPosition: %s\nStatus: %s", r.ID, r.Position, r.Status.Label())
	return b.finish(ctx, req, text, "Approved")
}

func (b *Bot) cbRevokeRequest(ctx context.Context, req *Request, payload string) error {
	id, err := callbackID(payload)
	if err != nil {
		return err
	}
	if err := b.svc.RevokeAdminRequest(ctx, id); err != nil {
		return err
	}
	return b.finish(ctx, req, fmt.Sprintf("Request #%d revoked.", id), "Revoked")
}
