package storage

import (
	"context"

	"appealbot/internal/domain"
)

func (q *Queries) CreateCommission(ctx context.Context, name, description string) (domain.Commission, error) {
	c := domain.Commission{Name: name, Description: description}
	err := q.queryRow(ctx,
		`INSERT INTO commissions(name, description) VALUES(?, ?) RETURNING id`,
		name, description,
	).Scan(&c.ID)
	return c, mapErr(err, "create commission")
}

func (q *Queries) GetCommission(ctx context.Context, id int64) (domain.Commission, error) {
	var c domain.Commission
	err := q.queryRow(ctx, `SELECT id, name, description FROM commissions WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Description)
	return c, mapErr(err, "get commission")
}

func (q *Queries) ListCommissions(ctx context.Context) ([]domain.Commission, error) {
	rows, err := q.query(ctx, `SELECT id, name, description FROM commissions ORDER BY name`)
	if err != nil {
		return nil, mapErr(err, "list commissions")
	}
	defer rows.Close()
	var out []domain.Commission
	for rows.Next() {
		var c domain.Commission
		if err := rows.Scan(&c.ID, &c.Name, &c.Description); err != nil {
			return nil, mapErr(err, "scan commission")
		}
		out = append(out, c)
	}
	return out, mapErr(rows.Err(), "list commissions")
}

// DeleteCommission detaches the commission from its appeals.
func (q *Queries) DeleteCommission(ctx context.Context, id int64) error {
	res, err := q.exec(ctx, `DELETE FROM commissions WHERE id = ?`, id)
	if err != nil {
		return mapErr(err, "delete commission")
	}
	return affected(res, "delete commission")
}
