package billing

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

// ErrDuplicateDocument signals that a concurrent writer already created the
// document for the same key; callers fetch and return the winner.
var ErrDuplicateDocument = errors.New("document already exists")

// Repository defines data access for billing documents.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	NextNumber(ctx context.Context, docType DocType, year int) (int64, error)
	GetOrderSnapshot(ctx context.Context, orderID int64) (*OrderSnapshot, error)

	GetProforma(ctx context.Context, id int64) (*Proforma, error)
	GetProformaByOrder(ctx context.Context, orderID int64) (*Proforma, error)
	InsertProforma(ctx context.Context, p Proforma) (*Proforma, error)
	MarkProformaConverted(ctx context.Context, proformaID, invoiceID int64, at time.Time) (bool, error)
	ExpirePending(ctx context.Context, asOf time.Time) (int64, error)

	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	GetInvoiceByOrder(ctx context.Context, orderID int64) (*Invoice, error)
	GetInvoiceByProforma(ctx context.Context, proformaID int64) (*Invoice, error)
	InsertInvoice(ctx context.Context, inv Invoice) (*Invoice, error)
	UpdateInvoicePayment(ctx context.Context, id int64, paidAmount *float64, status *PaymentStatus, method *string) error
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

// NewRepository builds a pgx-backed billing repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

// NextNumber allocates the next sequence for a (docType, year) numbering
// space with a single atomic upsert. Run inside the transaction that
// persists the document so a failed commit releases the number.
func (r *repository) NextNumber(ctx context.Context, docType DocType, year int) (int64, error) {
	var seq int64
	err := r.db.QueryRow(ctx, `INSERT INTO document_counters (doc_type, year, last_value) VALUES ($1, $2, 1)
ON CONFLICT (doc_type, year) DO UPDATE SET last_value = document_counters.last_value + 1
RETURNING last_value`, string(docType), year).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// GetOrderSnapshot reads the order with its lines, left-joining live item
// data so the transformer can resolve names and codes when available.
func (r *repository) GetOrderSnapshot(ctx context.Context, orderID int64) (*OrderSnapshot, error) {
	var snap OrderSnapshot
	var notes pgtype.Text
	err := r.db.QueryRow(ctx, `SELECT id, order_number, customer_id, total_amount, notes FROM orders WHERE id = $1`, orderID).
		Scan(&snap.ID, &snap.OrderNumber, &snap.CustomerID, &snap.TotalAmount, &notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if notes.Valid {
		val := notes.String
		snap.Notes = &val
	}

	rows, err := r.db.Query(ctx, `SELECT oi.item_id, oi.item_name, oi.quantity, oi.price, oi.discount, oi.final_price, oi.subtotal,
       i.id, i.name, i.item_code
FROM order_items oi
LEFT JOIN items i ON oi.item_id = i.id
WHERE oi.order_id = $1
ORDER BY oi.position ASC, oi.id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var it OrderItemSnapshot
		var itemID pgtype.Int8
		var itemName pgtype.Text
		var price, finalPrice, subtotal pgtype.Float8
		var refID pgtype.Int8
		var refName, refCode pgtype.Text

		if err := rows.Scan(&itemID, &itemName, &it.Quantity, &price, &it.Discount, &finalPrice, &subtotal,
			&refID, &refName, &refCode); err != nil {
			return nil, err
		}
		if itemID.Valid {
			it.ItemID = &itemID.Int64
		}
		if itemName.Valid {
			it.ItemName = itemName.String
		}
		if price.Valid {
			it.Price = &price.Float64
		}
		if finalPrice.Valid {
			it.FinalPrice = &finalPrice.Float64
		}
		if subtotal.Valid {
			it.Subtotal = &subtotal.Float64
		}
		if refID.Valid {
			ref := ItemRef{ID: refID.Int64, Name: refName.String}
			if refCode.Valid {
				ref.Code = &refCode.String
			}
			it.Item = &ref
		}
		snap.Items = append(snap.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &snap, nil
}

const proformaColumns = `id, proforma_number, order_id, customer_id, total_amount, status, valid_until, converted_to_invoice_id, converted_date, notes, created_at, updated_at`

func scanProforma(row pgx.Row) (*Proforma, error) {
	var p Proforma
	var convertedID pgtype.Int8
	var convertedDate, validUntil, createdAt, updatedAt pgtype.Timestamptz
	var notes pgtype.Text
	err := row.Scan(&p.ID, &p.ProformaNumber, &p.OrderID, &p.CustomerID, &p.TotalAmount, &p.Status,
		&validUntil, &convertedID, &convertedDate, &notes, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if validUntil.Valid {
		p.ValidUntil = validUntil.Time
	}
	if convertedID.Valid {
		p.ConvertedToInvoiceID = &convertedID.Int64
	}
	if convertedDate.Valid {
		val := convertedDate.Time
		p.ConvertedDate = &val
	}
	if notes.Valid {
		val := notes.String
		p.Notes = &val
	}
	if createdAt.Valid {
		p.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		p.UpdatedAt = updatedAt.Time
	}
	return &p, nil
}

func (r *repository) loadDocumentLines(ctx context.Context, table string, docColumn string, docID int64) ([]DocumentLineItem, error) {
	rows, err := r.db.Query(ctx, `SELECT id, item_id, item_name, item_code, quantity, price, discount, subtotal
FROM `+table+` WHERE `+docColumn+` = $1 ORDER BY id ASC`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []DocumentLineItem
	for rows.Next() {
		var l DocumentLineItem
		var itemID pgtype.Int8
		var itemCode pgtype.Text
		if err := rows.Scan(&l.ID, &itemID, &l.ItemName, &itemCode, &l.Quantity, &l.Price, &l.Discount, &l.Subtotal); err != nil {
			return nil, err
		}
		if itemID.Valid {
			l.ItemID = &itemID.Int64
		}
		if itemCode.Valid {
			l.ItemCode = &itemCode.String
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *repository) getProformaWhere(ctx context.Context, where string, arg any) (*Proforma, error) {
	p, err := scanProforma(r.db.QueryRow(ctx, `SELECT `+proformaColumns+` FROM proformas WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	p.Items, err = r.loadDocumentLines(ctx, "proforma_items", "proforma_id", p.ID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *repository) GetProforma(ctx context.Context, id int64) (*Proforma, error) {
	return r.getProformaWhere(ctx, "id = $1", id)
}

func (r *repository) GetProformaByOrder(ctx context.Context, orderID int64) (*Proforma, error) {
	return r.getProformaWhere(ctx, "order_id = $1", orderID)
}

func (r *repository) InsertProforma(ctx context.Context, p Proforma) (*Proforma, error) {
	var notes pgtype.Text
	if p.Notes != nil {
		notes = pgtype.Text{String: *p.Notes, Valid: true}
	}
	err := r.db.QueryRow(ctx, `INSERT INTO proformas (proforma_number, order_id, customer_id, total_amount, status, valid_until, notes)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at, updated_at`,
		p.ProformaNumber, p.OrderID, p.CustomerID, p.TotalAmount, p.Status, p.ValidUntil, notes).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateDocument
		}
		return nil, err
	}

	for i := range p.Items {
		line := &p.Items[i]
		if err := r.insertDocumentLine(ctx, "proforma_items", "proforma_id", p.ID, line); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// MarkProformaConverted performs the conditional update that makes a
// conversion exclusive; zero rows affected means a concurrent conversion won.
func (r *repository) MarkProformaConverted(ctx context.Context, proformaID, invoiceID int64, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE proformas SET status = $1, converted_to_invoice_id = $2, converted_date = $3, updated_at = NOW()
WHERE id = $4 AND status <> $1`, ProformaStatusConverted, invoiceID, at, proformaID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) ExpirePending(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE proformas SET status = $1, updated_at = NOW()
WHERE status = $2 AND valid_until < $3`, ProformaStatusExpired, ProformaStatusPending, asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const invoiceColumns = `id, invoice_number, proforma_id, order_id, customer_id, total_amount, paid_amount, payment_status, due_date, payment_method, notes, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var proformaID pgtype.Int8
	var dueDate, createdAt, updatedAt pgtype.Timestamptz
	var method, notes pgtype.Text
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &proformaID, &inv.OrderID, &inv.CustomerID,
		&inv.TotalAmount, &inv.PaidAmount, &inv.PaymentStatus, &dueDate, &method, &notes, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if proformaID.Valid {
		inv.ProformaID = &proformaID.Int64
	}
	if dueDate.Valid {
		inv.DueDate = dueDate.Time
	}
	if method.Valid {
		val := method.String
		inv.PaymentMethod = &val
	}
	if notes.Valid {
		val := notes.String
		inv.Notes = &val
	}
	if createdAt.Valid {
		inv.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		inv.UpdatedAt = updatedAt.Time
	}
	return &inv, nil
}

func (r *repository) getInvoiceWhere(ctx context.Context, where string, arg any) (*Invoice, error) {
	inv, err := scanInvoice(r.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	inv.Items, err = r.loadDocumentLines(ctx, "invoice_items", "invoice_id", inv.ID)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *repository) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return r.getInvoiceWhere(ctx, "id = $1", id)
}

func (r *repository) GetInvoiceByOrder(ctx context.Context, orderID int64) (*Invoice, error) {
	return r.getInvoiceWhere(ctx, "order_id = $1", orderID)
}

func (r *repository) GetInvoiceByProforma(ctx context.Context, proformaID int64) (*Invoice, error) {
	return r.getInvoiceWhere(ctx, "proforma_id = $1", proformaID)
}

func (r *repository) InsertInvoice(ctx context.Context, inv Invoice) (*Invoice, error) {
	var proformaID pgtype.Int8
	if inv.ProformaID != nil {
		proformaID = pgtype.Int8{Int64: *inv.ProformaID, Valid: true}
	}
	var method, notes pgtype.Text
	if inv.PaymentMethod != nil {
		method = pgtype.Text{String: *inv.PaymentMethod, Valid: true}
	}
	if inv.Notes != nil {
		notes = pgtype.Text{String: *inv.Notes, Valid: true}
	}

	err := r.db.QueryRow(ctx, `INSERT INTO invoices (invoice_number, proforma_id, order_id, customer_id, total_amount, paid_amount, payment_status, due_date, payment_method, notes)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id, created_at, updated_at`,
		inv.InvoiceNumber, proformaID, inv.OrderID, inv.CustomerID, inv.TotalAmount, inv.PaidAmount,
		inv.PaymentStatus, inv.DueDate, method, notes).
		Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateDocument
		}
		return nil, err
	}

	for i := range inv.Items {
		line := &inv.Items[i]
		if err := r.insertDocumentLine(ctx, "invoice_items", "invoice_id", inv.ID, line); err != nil {
			return nil, err
		}
	}
	return &inv, nil
}

func (r *repository) UpdateInvoicePayment(ctx context.Context, id int64, paidAmount *float64, status *PaymentStatus, method *string) error {
	query := "UPDATE invoices SET updated_at = NOW()"
	var args []interface{}
	argPos := 1

	if paidAmount != nil {
		query += fmt.Sprintf(", paid_amount = $%d", argPos)
		args = append(args, *paidAmount)
		argPos++
	}
	if status != nil {
		query += fmt.Sprintf(", payment_status = $%d", argPos)
		args = append(args, *status)
		argPos++
	}
	if method != nil {
		query += fmt.Sprintf(", payment_method = $%d", argPos)
		args = append(args, *method)
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

func (r *repository) insertDocumentLine(ctx context.Context, table, docColumn string, docID int64, line *DocumentLineItem) error {
	var itemID pgtype.Int8
	if line.ItemID != nil {
		itemID = pgtype.Int8{Int64: *line.ItemID, Valid: true}
	}
	var itemCode pgtype.Text
	if line.ItemCode != nil {
		itemCode = pgtype.Text{String: *line.ItemCode, Valid: true}
	}
	return r.db.QueryRow(ctx, `INSERT INTO `+table+` (`+docColumn+`, item_id, item_name, item_code, quantity, price, discount, subtotal)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		docID, itemID, line.ItemName, itemCode, line.Quantity, line.Price, line.Discount, line.Subtotal).
		Scan(&line.ID)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
