package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-dms/meridian-dms/internal/platform/db"
	"github.com/meridian-dms/meridian-dms/internal/shared"
)

// Repository defines data access for orders.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*Order, error)
	List(ctx context.Context, req ListOrdersRequest) ([]Order, int, error)
	Create(ctx context.Context, o Order) (int64, error)
	InsertItem(ctx context.Context, item OrderItem) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status OrderStatus, notes *string, deliveryDate *time.Time) error
	UpdateItemDispatch(ctx context.Context, itemID int64, dispatchQty, subtotal float64) error
	UpdateTotal(ctx context.Context, id int64, total float64) error
	NextOrderNumber(ctx context.Context) (string, error)
	IncrementCustomerOrderCount(ctx context.Context, customerID int64) error
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository builds a pgx-backed order repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const orderColumns = `id, order_number, customer_id, total_amount, status, order_date, delivery_date, notes, created_by, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var deliveryDate pgtype.Timestamptz
	var notes pgtype.Text
	var orderDate, createdAt, updatedAt pgtype.Timestamptz
	err := row.Scan(&o.ID, &o.OrderNumber, &o.CustomerID, &o.TotalAmount, &o.Status,
		&orderDate, &deliveryDate, &notes, &o.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if orderDate.Valid {
		o.OrderDate = orderDate.Time
	}
	if deliveryDate.Valid {
		val := deliveryDate.Time
		o.DeliveryDate = &val
	}
	if notes.Valid {
		val := notes.String
		o.Notes = &val
	}
	if createdAt.Valid {
		o.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		o.UpdatedAt = updatedAt.Time
	}
	return &o, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}

	rows, err := r.db.Query(ctx, `SELECT id, order_id, item_id, item_name, quantity, dispatch_quantity, price, discount, final_price, subtotal, position
FROM order_items WHERE order_id = $1 ORDER BY position ASC, id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ItemID, &it.ItemName, &it.Quantity,
			&it.DispatchQuantity, &it.Price, &it.Discount, &it.FinalPrice, &it.Subtotal, &it.Position); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *repository) List(ctx context.Context, req ListOrdersRequest) ([]Order, int, error) {
	conditions := []string{"TRUE"}
	var args []interface{}
	argPos := 1

	if req.CustomerID != nil {
		conditions = append(conditions, fmt.Sprintf("customer_id = $%d", argPos))
		args = append(args, *req.CustomerID)
		argPos++
	}
	if req.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *req.Status)
		argPos++
	}

	whereClause := "WHERE " + conditions[0]
	for i := 1; i < len(conditions); i++ {
		whereClause += " AND " + conditions[i]
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM orders "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM orders %s ORDER BY order_date DESC, id DESC LIMIT $%d OFFSET $%d`,
		orderColumns, whereClause, argPos, argPos+1)
	args = append(args, limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *o)
	}
	return out, total, rows.Err()
}

func (r *repository) Create(ctx context.Context, o Order) (int64, error) {
	var notes pgtype.Text
	if o.Notes != nil {
		notes = pgtype.Text{String: *o.Notes, Valid: true}
	}
	var deliveryDate pgtype.Timestamptz
	if o.DeliveryDate != nil {
		deliveryDate = pgtype.Timestamptz{Time: *o.DeliveryDate, Valid: true}
	}

	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO orders (order_number, customer_id, total_amount, status, order_date, delivery_date, notes, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		o.OrderNumber, o.CustomerID, o.TotalAmount, o.Status, o.OrderDate, deliveryDate, notes, o.CreatedBy).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repository) InsertItem(ctx context.Context, item OrderItem) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO order_items (order_id, item_id, item_name, quantity, dispatch_quantity, price, discount, final_price, subtotal, position)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		item.OrderID, item.ItemID, item.ItemName, item.Quantity, item.DispatchQuantity,
		item.Price, item.Discount, item.FinalPrice, item.Subtotal, item.Position).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, status OrderStatus, notes *string, deliveryDate *time.Time) error {
	query := "UPDATE orders SET status = $1, updated_at = NOW()"
	args := []interface{}{status}
	argPos := 2

	if notes != nil {
		query += fmt.Sprintf(", notes = $%d", argPos)
		args = append(args, *notes)
		argPos++
	}
	if deliveryDate != nil {
		query += fmt.Sprintf(", delivery_date = $%d", argPos)
		args = append(args, *deliveryDate)
		argPos++
	}
	query += fmt.Sprintf(" WHERE id = $%d", argPos)
	args = append(args, id)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) UpdateItemDispatch(ctx context.Context, itemID int64, dispatchQty, subtotal float64) error {
	_, err := r.db.Exec(ctx, `UPDATE order_items SET dispatch_quantity = $1, subtotal = $2 WHERE id = $3`,
		dispatchQty, subtotal, itemID)
	return err
}

func (r *repository) UpdateTotal(ctx context.Context, id int64, total float64) error {
	_, err := r.db.Exec(ctx, `UPDATE orders SET total_amount = $1, updated_at = NOW() WHERE id = $2`, total, id)
	return err
}

// NextOrderNumber allocates the next global order sequence with a single
// atomic upsert so concurrent allocations never collide. Run inside the
// transaction that persists the order; rollback releases the number.
func (r *repository) NextOrderNumber(ctx context.Context) (string, error) {
	var seq int64
	err := r.db.QueryRow(ctx, `INSERT INTO document_counters (doc_type, year, last_value) VALUES ('ORD', 0, 1)
ON CONFLICT (doc_type, year) DO UPDATE SET last_value = document_counters.last_value + 1
RETURNING last_value`).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD%06d", seq), nil
}

func (r *repository) IncrementCustomerOrderCount(ctx context.Context, customerID int64) error {
	_, err := r.db.Exec(ctx, `UPDATE customers SET order_count = order_count + 1, updated_at = NOW() WHERE id = $1`, customerID)
	return err
}
