package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-dms/meridian-dms/internal/shared"
)

// Repository exposes the item store and customer agreements.
type Repository interface {
	GetItem(ctx context.Context, id int64) (*Item, error)
	ListItemsByIDs(ctx context.Context, ids []int64) ([]Item, error)
	GetAgreementByCustomer(ctx context.Context, customerID int64) (*Agreement, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a pgx-backed catalog repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const itemColumns = `id, name, description, item_code, category, unit_price, unit, tax_rate, status, created_at, updated_at`

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	var description, itemCode, category pgtype.Text
	var createdAt, updatedAt pgtype.Timestamptz
	err := row.Scan(&it.ID, &it.Name, &description, &itemCode, &category, &it.UnitPrice, &it.Unit, &it.TaxRate, &it.Status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if description.Valid {
		it.Description = &description.String
	}
	if itemCode.Valid {
		it.ItemCode = &itemCode.String
	}
	if category.Valid {
		it.Category = &category.String
	}
	if createdAt.Valid {
		it.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		it.UpdatedAt = updatedAt.Time
	}
	return &it, nil
}

func (r *repository) GetItem(ctx context.Context, id int64) (*Item, error) {
	it, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return it, nil
}

func (r *repository) ListItemsByIDs(ctx context.Context, ids []int64) ([]Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func (r *repository) GetAgreementByCustomer(ctx context.Context, customerID int64) (*Agreement, error) {
	var a Agreement
	var createdAt, updatedAt pgtype.Timestamptz
	err := r.pool.QueryRow(ctx, `SELECT id, customer_id, created_at, updated_at FROM customer_item_agreements WHERE customer_id = $1`, customerID).
		Scan(&a.ID, &a.CustomerID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if createdAt.Valid {
		a.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		a.UpdatedAt = updatedAt.Time
	}

	rows, err := r.pool.Query(ctx, `SELECT item_id, price, discount FROM customer_item_agreement_entries WHERE agreement_id = $1 ORDER BY item_id`, a.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e AgreementEntry
		if err := rows.Scan(&e.ItemID, &e.Price, &e.Discount); err != nil {
			return nil, err
		}
		a.Entries = append(a.Entries, e)
	}
	return &a, rows.Err()
}
