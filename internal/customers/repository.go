package customers

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-dms/meridian-dms/internal/shared"
)

// Repository exposes the customer store consumed by the order pipeline.
type Repository interface {
	Get(ctx context.Context, id int64) (*Customer, error)
	IncrementOrderCount(ctx context.Context, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a pgx-backed customer repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Get(ctx context.Context, id int64) (*Customer, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, email, phone, address, order_count, is_active, created_at, updated_at
FROM customers WHERE id = $1`, id)

	var c Customer
	var email, phone, address pgtype.Text
	var createdAt, updatedAt pgtype.Timestamptz
	err := row.Scan(&c.ID, &c.Name, &email, &phone, &address, &c.OrderCount, &c.IsActive, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if email.Valid {
		c.Email = &email.String
	}
	if phone.Valid {
		c.Phone = &phone.String
	}
	if address.Valid {
		c.Address = &address.String
	}
	if createdAt.Valid {
		c.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		c.UpdatedAt = updatedAt.Time
	}
	return &c, nil
}

func (r *repository) IncrementOrderCount(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE customers SET order_count = order_count + 1, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
