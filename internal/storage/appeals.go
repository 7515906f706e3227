package storage

import (
	"context"
	"database/sql"
	"strings"

	"appealbot/internal/domain"
)

const appealSelect = `SELECT a.id, a.user_id, a.commission_id, COALESCE(c.name, ''), a.text, a.contact_info,
	a.file_path, a.status, a.created_at, a.updated_at
	FROM appeals a LEFT JOIN commissions c ON c.id = a.commission_id`

func scanAppeal(r rowScanner) (domain.Appeal, error) {
	var (
		a                domain.Appeal
		commission       sql.NullInt64
		status           string
		created, updated int64
	)
	err := r.Scan(&a.ID, &a.UserID, &commission, &a.CommissionName, &a.Text, &a.ContactInfo,
		&a.FilePath, &status, &created, &updated)
	a.CommissionID = ptrInt(commission)
	a.Status = domain.AppealStatus(status)
	a.CreatedAt, a.UpdatedAt = fromMS(created), fromMS(updated)
	return a, err
}

// CreateAppeal inserts a new appeal. Status defaults to new.
func (q *Queries) CreateAppeal(ctx context.Context, a domain.Appeal) (domain.Appeal, error) {
	if a.Status == "" {
		a.Status = domain.AppealNew
	}
	now := q.now()
	err := q.queryRow(ctx,
		`INSERT INTO appeals(user_id, commission_id, text, contact_info, file_path, status, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		a.UserID, nullInt(a.CommissionID), a.Text, a.ContactInfo, a.FilePath, string(a.Status), toMS(now), toMS(now),
	).Scan(&a.ID)
	if err != nil {
		return domain.Appeal{}, mapErr(err, "create appeal")
	}
	return q.GetAppeal(ctx, a.ID)
}

func (q *Queries) GetAppeal(ctx context.Context, id int64) (domain.Appeal, error) {
	a, err := scanAppeal(q.queryRow(ctx, appealSelect+` WHERE a.id = ?`, id))
	return a, mapErr(err, "get appeal")
}

// GetAppealForUpdate reads an appeal and, inside a transaction on
// Postgres, locks the row until commit.
func (q *Queries) GetAppealForUpdate(ctx context.Context, id int64) (domain.Appeal, error) {
	lock := ""
	if q.forUpdate() != "" {
		lock = " FOR UPDATE OF a"
	}
	a, err := scanAppeal(q.queryRow(ctx, appealSelect+` WHERE a.id = ?`+lock, id))
	return a, mapErr(err, "get appeal")
}

// AppealFilter narrows ListAppeals. Zero fields are ignored.
type AppealFilter struct {
	UserID int64
	Status domain.AppealStatus
	Limit  int
	Offset int
}

// ListAppeals returns the newest appeals first.
func (q *Queries) ListAppeals(ctx context.Context, f AppealFilter) ([]domain.Appeal, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != 0 {
		where = append(where, "a.user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "a.status = ?")
		args = append(args, string(f.Status))
	}
	query := appealSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY a.id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, max(f.Offset, 0))

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "list appeals")
	}
	defer rows.Close()
	var out []domain.Appeal
	for rows.Next() {
		a, err := scanAppeal(rows)
		if err != nil {
			return nil, mapErr(err, "scan appeal")
		}
		out = append(out, a)
	}
	return out, mapErr(rows.Err(), "list appeals")
}

func (q *Queries) SetAppealStatus(ctx context.Context, id int64, status domain.AppealStatus) error {
	res, err := q.exec(ctx, `UPDATE appeals SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toMS(q.now()), id)
	if err != nil {
		return mapErr(err, "set appeal status")
	}
	return affected(res, "set appeal status")
}

// DeleteAppeal removes the appeal and its notifications and returns the
// attachment path, if any.
func (q *Queries) DeleteAppeal(ctx context.Context, id int64) (string, error) {
	var path string
	err := q.queryRow(ctx, `DELETE FROM appeals WHERE id = ? RETURNING file_path`, id).Scan(&path)
	return path, mapErr(err, "delete appeal")
}
