package storage

import (
	"context"

	"appealbot/internal/domain"
)

const adminRequestColumns = `id, user_id, position, status, comment, created_at, updated_at`

func scanAdminRequest(r rowScanner) (domain.AdminRequest, error) {
	var (
		ar               domain.AdminRequest
		status           string
		created, updated int64
	)
	err := r.Scan(&ar.ID, &ar.UserID, &ar.Position, &status, &ar.Comment, &created, &updated)
	ar.Status = domain.AdminRequestStatus(status)
	ar.CreatedAt, ar.UpdatedAt = fromMS(created), fromMS(updated)
	return ar, err
}

// CreateAdminRequest inserts a pending request. A second request for the
// same user fails with domain.ErrConflict.
func (q *Queries) CreateAdminRequest(ctx context.Context, userID int64, position string) (domain.AdminRequest, error) {
	now := toMS(q.now())
	ar, err := scanAdminRequest(q.queryRow(ctx,
		`INSERT INTO admin_requests(user_id, position, status, comment, created_at, updated_at)
		 VALUES(?, ?, ?, '', ?, ?) RETURNING `+adminRequestColumns,
		userID, position, string(domain.AdminRequestPending), now, now,
	))
	return ar, mapErr(err, "create admin request")
}

func (q *Queries) GetAdminRequest(ctx context.Context, id int64) (domain.AdminRequest, error) {
	ar, err := scanAdminRequest(q.queryRow(ctx,
		`SELECT `+adminRequestColumns+` FROM admin_requests WHERE id = ?`+q.forUpdate(), id))
	return ar, mapErr(err, "get admin request")
}

func (q *Queries) GetAdminRequestByUser(ctx context.Context, userID int64) (domain.AdminRequest, error) {
	ar, err := scanAdminRequest(q.queryRow(ctx,
		`SELECT `+adminRequestColumns+` FROM admin_requests WHERE user_id = ?`+q.forUpdate(), userID))
	return ar, mapErr(err, "get admin request by user")
}

// ListAdminRequests returns requests with the given status (all when
// empty), oldest first.
func (q *Queries) ListAdminRequests(ctx context.Context, status domain.AdminRequestStatus) ([]domain.AdminRequest, error) {
	query := `SELECT ` + adminRequestColumns + ` FROM admin_requests`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	rows, err := q.query(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, mapErr(err, "list admin requests")
	}
	defer rows.Close()
	var out []domain.AdminRequest
	for rows.Next() {
		ar, err := scanAdminRequest(rows)
		if err != nil {
			return nil, mapErr(err, "scan admin request")
		}
		out = append(out, ar)
	}
	return out, mapErr(rows.Err(), "list admin requests")
}

func (q *Queries) SetAdminRequestStatus(ctx context.Context, id int64, status domain.AdminRequestStatus, comment string) error {
	res, err := q.exec(ctx,
		`UPDATE admin_requests SET status = ?, comment = ?, updated_at = ? WHERE id = ?`,
		string(status), comment, toMS(q.now()), id)
	if err != nil {
		return mapErr(err, "set admin request status")
	}
	return affected(res, "set admin request status")
}

// DeleteAdminRequest removes the row. Notifications that referenced it
// keep their text and lose the link.
func (q *Queries) DeleteAdminRequest(ctx context.Context, id int64) error {
	res, err := q.exec(ctx, `DELETE FROM admin_requests WHERE id = ?`, id)
	if err != nil {
		return mapErr(err, "delete admin request")
	}
	return affected(res, "delete admin request")
}
