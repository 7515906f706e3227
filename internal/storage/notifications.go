package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"appealbot/internal/domain"
)

const notificationColumns = `n.id, n.user_id, n.appeal_id, n.admin_request_id, n.message, n.sent, n.created_at, n.updated_at`

func scanNotification(r rowScanner, extra ...any) (domain.Notification, error) {
	var (
		n                   domain.Notification
		appealID, requestID sql.NullInt64
		created, updated    int64
	)
	dest := append([]any{&n.ID, &n.UserID, &appealID, &requestID, &n.Message, &n.Sent, &created, &updated}, extra...)
	err := r.Scan(dest...)
	n.AppealID, n.AdminRequestID = ptrInt(appealID), ptrInt(requestID)
	n.CreatedAt, n.UpdatedAt = fromMS(created), fromMS(updated)
	return n, err
}

// CreateNotification inserts an unsent notification. CreatedAt is taken
// from n when set, otherwise from the store clock.
func (q *Queries) CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = q.now()
	}
	n.UpdatedAt = n.CreatedAt
	err := q.queryRow(ctx,
		`INSERT INTO notifications(user_id, appeal_id, admin_request_id, message, sent, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		n.UserID, nullInt(n.AppealID), nullInt(n.AdminRequestID), n.Message, n.Sent,
		toMS(n.CreatedAt), toMS(n.UpdatedAt),
	).Scan(&n.ID)
	return n, mapErr(err, "create notification")
}

// ListUnsentNotifications returns up to limit unsent notifications with
// id > afterID, each with the recipient's chat id, in id order. Callers
// page through the backlog by passing the last id seen.
func (q *Queries) ListUnsentNotifications(ctx context.Context, afterID int64, limit int) ([]domain.PendingNotification, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := q.query(ctx,
		`SELECT `+notificationColumns+`, u.telegram_id
		 FROM notifications n JOIN users u ON u.id = n.user_id
		 WHERE n.sent = ? AND n.id > ? ORDER BY n.id LIMIT ?`,
		false, afterID, limit)
	if err != nil {
		return nil, mapErr(err, "list unsent notifications")
	}
	defer rows.Close()
	var out []domain.PendingNotification
	for rows.Next() {
		var p domain.PendingNotification
		n, err := scanNotification(rows, &p.ChatID)
		if err != nil {
			return nil, mapErr(err, "scan notification")
		}
		p.Notification = n
		out = append(out, p)
	}
	return out, mapErr(rows.Err(), "list unsent notifications")
}

func (q *Queries) ListNotificationsByUser(ctx context.Context, userID int64) ([]domain.Notification, error) {
	rows, err := q.query(ctx,
		`SELECT `+notificationColumns+` FROM notifications n WHERE n.user_id = ? ORDER BY n.id`, userID)
	if err != nil {
		return nil, mapErr(err, "list notifications")
	}
	defer rows.Close()
	var out []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, mapErr(err, "scan notification")
		}
		out = append(out, n)
	}
	return out, mapErr(rows.Err(), "list notifications")
}

func (q *Queries) GetNotification(ctx context.Context, id int64) (domain.Notification, error) {
	n, err := scanNotification(q.queryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications n WHERE n.id = ?`, id))
	return n, mapErr(err, "get notification")
}

// MarkNotificationSent flips sent to true. A row that is already sent is
// left untouched and is not an error; a missing row is domain.ErrNotFound.
func (q *Queries) MarkNotificationSent(ctx context.Context, id int64) error {
	res, err := q.exec(ctx, `UPDATE notifications SET sent = ?, updated_at = ? WHERE id = ? AND sent = ?`,
		true, toMS(q.now()), id, false)
	if err != nil {
		return mapErr(err, "mark notification sent")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	if n > 0 {
		return nil
	}
	var sent bool
	err = q.queryRow(ctx, `SELECT sent FROM notifications WHERE id = ?`, id).Scan(&sent)
	return mapErr(err, "mark notification sent")
}

func (q *Queries) DeleteNotification(ctx context.Context, id int64) error {
	res, err := q.exec(ctx, `DELETE FROM notifications WHERE id = ?`, id)
	if err != nil {
		return mapErr(err, "delete notification")
	}
	return affected(res, "delete notification")
}

// DeleteSentNotificationsBefore removes sent notifications created before
// cutoff and reports how many went. Unsent rows are never touched.
func (q *Queries) DeleteSentNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.exec(ctx, `DELETE FROM notifications WHERE sent = ? AND created_at < ?`, true, toMS(cutoff))
	if err != nil {
		return 0, mapErr(err, "purge notifications")
	}
	n, err := res.RowsAffected()
	return n, mapErr(err, "purge notifications")
}

// CountUnsentNotifications reports the current backlog.
func (q *Queries) CountUnsentNotifications(ctx context.Context) (int64, error) {
	var n int64
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE sent = ?`, false).Scan(&n)
	return n, mapErr(err, "count unsent notifications")
}
