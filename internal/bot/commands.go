package bot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"appealbot/internal/domain"
	"appealbot/internal/storage"
	"appealbot/internal/transport"
	"appealbot/internal/workflow"
	logx "appealbot/pkg/logx"
)

const listLimit = 10

var errFileTooLarge = errors.New("the attached file is too large")

func (b *Bot) builtinCommands() []Command {
	return []Command{
		{Name: "start", Description: "Register and open the menu", Handle: b.cmdStart},
		{Name: "help", Description: "List commands", Handle: b.cmdHelp},
		{Name: "token", Aliases: []string{"webapp", "account"}, Description: "Open your personal account", Handle: b.cmdToken},
		{Name: "logout", Description: "Sign out of the web app", Handle: b.cmdLogout},
		{Name: "commissions", Description: "List commissions", Handle: b.cmdCommissions},
		{Name: "myappeals", Description: "Show your appeals", Handle: b.cmdMyAppeals},
		{
			Name:        "appeal",
			Usage:       "/appeal [#commission] [contact] <text> (attach a file with the command as caption)",
			Description: "Submit an appeal",
			Timeout:     time.Minute,
			Handle:      b.cmdAppeal,
		},
		{Name: "deleteappeal", Usage: "/deleteappeal <id>", Description: "Delete one of your appeals", Handle: b.cmdDeleteAppeal},
		{Name: "adminrequest", Usage: "/adminrequest <position>", Description: "Apply for admin rights", Handle: b.cmdAdminRequest},

		{Name: "pending", Description: "New appeals awaiting a decision", Access: AccessAdmin, Handle: b.cmdPending},
		{Name: "requests", Usage: "/requests [pending|approved|rejected]", Description: "Admin requests", Access: AccessAdmin, Handle: b.cmdRequests},
		{Name: "reject", Usage: "/reject <request id> <comment>", Description: "Reject an admin request", Access: AccessAdmin, Handle: b.cmdReject},
	}
}

func (b *Bot) reply(ctx context.Context, req *Request, text string, opt *transport.SendOptions) error {
	_, err := b.adapter.Send(ctx, req.ChatID, text, opt)
	return err
}

func (b *Bot) cmdStart(ctx context.Context, req *Request) error {
	text := fmt.Sprintf("Hello, %s! This bot accepts citizen appeals.\nUse /appeal to write one and /help to see every command.", req.User.DisplayName())
	var opt *transport.SendOptions
	if b.cfg.WebAppURL != "" {
		opt = &transport.SendOptions{Keyboard: [][]transport.Button{{{Text: "Open personal account", WebAppURL: b.cfg.WebAppURL}}}}
	}
	return b.reply(ctx, req, text, opt)
}

func (b *Bot) cmdHelp(ctx context.Context, req *Request) error {
	admin := b.isAdmin(req)
	var sb strings.Builder
	sb.WriteString("Commands:\n")
	for _, c := range b.commands {
		if c.Access == AccessAdmin && !admin {
			continue
		}
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		fmt.Fprintf(&sb, "%s - %s\n", usage, c.Description)
	}
	return b.reply(ctx, req, strings.TrimRight(sb.String(), "\n"), &transport.SendOptions{DisablePreview: true})
}

// cmdToken issues (or reuses) the bridging token and links the web app.
func (b *Bot) cmdToken(ctx context.Context, req *Request) error {
	tok, err := b.issuer.Issue(ctx, req.User.TelegramID)
	if err != nil {
		return err
	}
	if b.cfg.WebAppURL == "" {
		return b.reply(ctx, req, "Your access token (valid for a limited time):\n"+tok, nil)
	}
	link, err := webAppLink(b.cfg.WebAppURL, tok)
	if err != nil {
		return err
	}
	return b.reply(ctx, req, "Tap the button below to open your personal account.", &transport.SendOptions{
		Keyboard: [][]transport.Button{{{Text: "Personal account", WebAppURL: link}}},
	})
}

func webAppLink(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("webapp url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (b *Bot) cmdLogout(ctx context.Context, req *Request) error {
	if err := b.issuer.Revoke(ctx, req.User.TelegramID); err != nil {
		return err
	}
	return b.reply(ctx, req, "You have been signed out of the web app.", nil)
}

func (b *Bot) cmdCommissions(ctx context.Context, req *Request) error {
	list, err := b.store.ListCommissions(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return b.reply(ctx, req, "No commissions yet.", nil)
	}
	var sb strings.Builder
	for _, c := range list {
		fmt.Fprintf(&sb, "#%d %s", c.ID, c.Name)
		if c.Description != "" {
			sb.WriteString(" - " + c.Description)
		}
		sb.WriteByte('\n')
	}
	return b.reply(ctx, req, strings.TrimRight(sb.String(), "\n"), nil)
}

func (b *Bot) cmdMyAppeals(ctx context.Context, req *Request) error {
	list, err := b.store.ListAppeals(ctx, storage.AppealFilter{UserID: req.User.ID, Limit: listLimit})
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return b.reply(ctx, req, "You have no appeals yet. Use /appeal to write one.", nil)
	}
	var sb strings.Builder
	for _, a := range list {
		sb.WriteString(formatAppeal(a))
		sb.WriteString("\n\n")
	}
	return b.reply(ctx, req, strings.TrimSpace(sb.String()), nil)
}

func formatAppeal(a domain.Appeal) string {
	commission := a.CommissionName
	if commission == "" {
		commission = "not specified"
	}
	s := fmt.Sprintf("Appeal #%d (%s)\nStatus: %s\nCommission: %s\n%s",
		a.ID, a.CreatedAt.Format("2006-01-02 15:04"), a.Status.Label(), commission, a.Text)
	if a.ContactInfo != "" {
		s += "\nContact: " + a.ContactInfo
	}
	if a.FilePath != "" {
		s += "\nAttachment: yes"
	}
	return s
}

// parseAppealArgs reads the optional "#<commission>" and contact words in
// front of the appeal text.
func parseAppealArgs(args []string) (commission *int64, contact, text string, err error) {
	if len(args) > 0 && strings.HasPrefix(args[0], "#") {
		id, perr := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
		if perr != nil || id <= 0 {
			return nil, "", "", fmt.Errorf("commission %q: %w", args[0], domain.ErrNotFound)
		}
		commission = &id
		args = args[1:]
	}
	if len(args) > 0 && (strings.HasPrefix(args[0], "+") || strings.Contains(args[0], "@")) {
		contact = args[0]
		args = args[1:]
	}
	return commission, contact, strings.Join(args, " "), nil
}

func (b *Bot) cmdAppeal(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return usageError(b.byName["appeal"].Usage)
	}
	commission, contact, text, err := parseAppealArgs(req.Args)
	if err != nil {
		return err
	}

	var rel string
	if doc := req.Document; doc != nil {
		if doc.Size > b.cfg.MaxUploadBytes {
			return errFileTooLarge
		}
		rel = b.files.NewPath(doc.FileName)
		if err := b.adapter.Download(ctx, doc.FileID, b.files.Abs(rel)); err != nil {
			_ = b.files.Remove(rel)
			return fmt.Errorf("download attachment: %w", err)
		}
	}

	a, err := b.svc.SubmitAppeal(ctx, workflow.AppealInput{
		UserID:       req.User.ID,
		CommissionID: commission,
		Text:         text,
		ContactInfo:  contact,
		FilePath:     rel,
	})
	if err != nil {
		if rel != "" {
			_ = b.files.Remove(rel)
		}
		return err
	}
	return b.reply(ctx, req, fmt.Sprintf("Your appeal #%d has been registered. You will be notified when its status changes.", a.ID), nil)
}

func (b *Bot) cmdDeleteAppeal(ctx context.Context, req *Request) error {
	id, err := parseID(req.Args, b.byName["deleteappeal"].Usage)
	if err != nil {
		return err
	}
	actor := req.User
	actor.IsAdmin = b.isAdmin(req)
	if err := b.svc.DeleteAppeal(ctx, id, actor); err != nil {
		return err
	}
	return b.reply(ctx, req, fmt.Sprintf("Appeal #%d deleted.", id), nil)
}

func (b *Bot) cmdAdminRequest(ctx context.Context, req *Request) error {
	if req.ArgText == "" {
		return usageError(b.byName["adminrequest"].Usage)
	}
	r, err := b.svc.SubmitAdminRequest(ctx, req.User.ID, req.ArgText)
	if err != nil {
		return err
	}
	return b.reply(ctx, req, fmt.Sprintf("Your request #%d is pending review.", r.ID), nil)
}

func (b *Bot) cmdPending(ctx context.Context, req *Request) error {
	list, err := b.store.ListAppeals(ctx, storage.AppealFilter{Status: domain.AppealNew, Limit: listLimit})
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return b.reply(ctx, req, "No new appeals.", nil)
	}
	for _, a := range list {
		opt := &transport.SendOptions{Keyboard: appealKeyboard(a.ID)}
		if err := b.reply(ctx, req, formatAppeal(a), opt); err != nil {
			return err
		}
	}
	return nil
}

func appealKeyboard(id int64) [][]transport.Button {
	sid := strconv.FormatInt(id, 10)
	return [][]transport.Button{{
		{Text: "✅ Processed", Data: "appeal:processed:" + sid},
		{Text: "❌ Reject", Data: "appeal:rejected:" + sid},
	}}
}

func (b *Bot) cmdRequests(ctx context.Context, req *Request) error {
	status := domain.AdminRequestPending
	if len(req.Args) > 0 {
		status = domain.AdminRequestStatus(strings.ToLower(req.Args[0]))
		if !status.Valid() {
			return usageError(b.byName["requests"].Usage)
		}
	}
	list, err := b.store.ListAdminRequests(ctx, status)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return b.reply(ctx, req, "No "+string(status)+" admin requests.", nil)
	}
	if len(list) > listLimit {
		list = list[:listLimit]
	}
	for _, r := range list {
		who := "user #" + strconv.FormatInt(r.UserID, 10)
		if u, err := b.store.GetUser(ctx, r.UserID); err == nil {
			who = u.DisplayName()
		} else {
			req.Logger.Warn("admin request user lookup failed", logx.Int64("request_id", r.ID), logx.Err(err))
		}
		text := fmt.Sprintf("Request #%d from %s\nPosition: %s\nStatus: %s", r.ID, who, r.Position, r.Status.Label())
		if r.Comment != "" {
			text += "\nComment: " + r.Comment
		}
		if err := b.reply(ctx, req, text, &transport.SendOptions{Keyboard: adminRequestKeyboard(r)}); err != nil {
			return err
		}
	}
	return nil
}

func adminRequestKeyboard(r domain.AdminRequest) [][]transport.Button {
	sid := strconv.FormatInt(r.ID, 10)
	switch r.Status {
	case domain.AdminRequestPending:
		return [][]transport.Button{{{Text: "✅ Approve", Data: "adminreq:approve:" + sid}}}
	case domain.AdminRequestApproved:
		return [][]transport.Button{{{Text: "🚫 Revoke", Data: "adminreq:revoke:" + sid}}}
	}
	return nil
}

func (b *Bot) cmdReject(ctx context.Context, req *Request) error {
	usage := b.byName["reject"].Usage
	id, err := parseID(req.Args, usage)
	if err != nil {
		return err
	}
	_, comment, _ := strings.Cut(req.ArgText, req.Args[0])
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return domain.ErrCommentRequired
	}
	if _, err := b.svc.UpdateAdminRequestStatus(ctx, id, domain.AdminRequestRejected, comment); err != nil {
		return err
	}
	return b.reply(ctx, req, fmt.Sprintf("Request #%d rejected.", id), nil)
}

func parseID(args []string, usage string) (int64, error) {
	if len(args) == 0 {
		return 0, usageError(usage)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, usageError(usage)
	}
	return id, nil
}
