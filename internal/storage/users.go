package storage

import (
	"context"

	"appealbot/internal/domain"
)

const userColumns = `id, telegram_id, username, first_name, last_name, is_admin, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (domain.User, error) {
	var (
		u                domain.User
		created, updated int64
	)
	err := r.Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName, &u.IsAdmin, &created, &updated)
	u.CreatedAt, u.UpdatedAt = fromMS(created), fromMS(updated)
	return u, err
}

// UpsertUser records a Telegram sender, refreshing the profile fields of
// a known user. The admin flag is left untouched.
func (q *Queries) UpsertUser(ctx context.Context, p domain.TelegramProfile) (domain.User, error) {
	now := toMS(q.now())
	u, err := scanUser(q.queryRow(ctx,
		`INSERT INTO users(telegram_id, username, first_name, last_name, is_admin, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(telegram_id) DO UPDATE SET
		   username = excluded.username,
		   first_name = excluded.first_name,
		   last_name = excluded.last_name,
		   updated_at = excluded.updated_at
		 RETURNING `+userColumns,
		p.ID, p.Username, p.FirstName, p.LastName, false, now, now,
	))
	return u, mapErr(err, "upsert user")
}

func (q *Queries) GetUser(ctx context.Context, id int64) (domain.User, error) {
	u, err := scanUser(q.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`+q.forUpdate(), id))
	return u, mapErr(err, "get user")
}

func (q *Queries) GetUserByTelegramID(ctx context.Context, telegramID int64) (domain.User, error) {
	u, err := scanUser(q.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = ?`, telegramID))
	return u, mapErr(err, "get user by telegram id")
}

func (q *Queries) SetUserAdmin(ctx context.Context, id int64, admin bool) error {
	res, err := q.exec(ctx, `UPDATE users SET is_admin = ?, updated_at = ? WHERE id = ?`, admin, toMS(q.now()), id)
	if err != nil {
		return mapErr(err, "set user admin")
	}
	return affected(res, "set user admin")
}

// ListAdmins returns users with the admin flag, ordered by id.
func (q *Queries) ListAdmins(ctx context.Context) ([]domain.User, error) {
	return q.listUsers(ctx, `SELECT `+userColumns+` FROM users WHERE is_admin = ? ORDER BY id`, true)
}

func (q *Queries) ListUsers(ctx context.Context, limit, offset int) ([]domain.User, error) {
	if limit <= 0 {
		limit = 100
	}
	return q.listUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY id LIMIT ? OFFSET ?`, limit, max(offset, 0))
}

func (q *Queries) listUsers(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "list users")
	}
	defer rows.Close()
	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, mapErr(err, "scan user")
		}
		out = append(out, u)
	}
	return out, mapErr(rows.Err(), "list users")
}

// DeleteUser removes a user together with their appeals, admin request and
// notifications. It returns the file paths of the deleted appeals so the
// caller can remove the attachments.
func (q *Queries) DeleteUser(ctx context.Context, id int64) ([]string, error) {
	rows, err := q.query(ctx, `SELECT file_path FROM appeals WHERE user_id = ? AND file_path <> ''`, id)
	if err != nil {
		return nil, mapErr(err, "delete user")
	}
	var files []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, mapErr(err, "delete user")
		}
		files = append(files, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapErr(err, "delete user")
	}

	res, err := q.exec(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return nil, mapErr(err, "delete user")
	}
	return files, affected(res, "delete user")
}
