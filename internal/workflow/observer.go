// Package workflow owns every status mutation. Each one runs in a single
// transaction that reads the persisted previous status, writes the new one
// and lets the Observer queue a notification for the owner.
package workflow

import (
	"context"

	"appealbot/internal/domain"
	"appealbot/internal/metrics"
	"appealbot/internal/storage"
	logx "appealbot/pkg/logx"
)

// Observer turns persisted status transitions into notification rows.
type Observer struct {
	log     logx.Logger
	metrics *metrics.Metrics
}

func NewObserver(log logx.Logger, m *metrics.Metrics) *Observer {
	return &Observer{log: log, metrics: m}
}

// OnStatusChanged queues one notification when prev differs from the
// entity's current status. entity is a domain.Appeal or
// domain.AdminRequest already carrying the new status.
//
// The insert runs in a savepoint: if it fails the error is logged and the
// caller's status write still commits. The returned notification is nil
// when nothing was queued.
func (o *Observer) OnStatusChanged(ctx context.Context, q *storage.Queries, entity any, prev string) *domain.Notification {
	var (
		n      domain.Notification
		source string
	)
	switch e := entity.(type) {
	case domain.Appeal:
		if string(e.Status) == prev {
			return nil
		}
		id := e.ID
		n = domain.Notification{UserID: e.UserID, AppealID: &id, Message: appealMessage(e)}
		source = metrics.SourceAppeal
	case domain.AdminRequest:
		if string(e.Status) == prev {
			return nil
		}
		id := e.ID
		n = domain.Notification{UserID: e.UserID, AdminRequestID: &id, Message: adminRequestMessage(e)}
		source = metrics.SourceAdminRequest
	default:
		o.log.Warn("status change for unsupported entity", logx.Any("entity", entity))
		return nil
	}
	return o.create(ctx, q, n, source)
}

// OnRevoked queues the revocation notice. It must run before the request
// row is deleted.
func (o *Observer) OnRevoked(ctx context.Context, q *storage.Queries, r domain.AdminRequest) *domain.Notification {
	id := r.ID
	return o.create(ctx, q, domain.Notification{UserID: r.UserID, AdminRequestID: &id, Message: revokeMessage(r)}, metrics.SourceRevoke)
}

func (o *Observer) create(ctx context.Context, q *storage.Queries, n domain.Notification, source string) *domain.Notification {
	var created domain.Notification
	err := q.Savepoint(ctx, "notify", func(sq *storage.Queries) error {
		var err error
		created, err = sq.CreateNotification(ctx, n)
		return err
	})
	if err != nil {
		o.log.Error("notification not queued",
			logx.Int64("user_id", n.UserID),
			logx.String("source", source),
			logx.Err(err),
		)
		return nil
	}
	o.metrics.NotificationCreated(source)
	o.log.Debug("notification queued", logx.Int64("id", created.ID), logx.String("source", source))
	return &created
}
