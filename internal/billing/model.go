package billing

import "time"

// ProformaStatus enumerates pro-forma invoice statuses.
type ProformaStatus string

const (
	ProformaStatusDraft     ProformaStatus = "draft"
	ProformaStatusPending   ProformaStatus = "pending"
	ProformaStatusConverted ProformaStatus = "converted"
	ProformaStatusCancelled ProformaStatus = "cancelled"
	ProformaStatusExpired   ProformaStatus = "expired"
)

// PaymentStatus enumerates invoice payment states.
type PaymentStatus string

const (
	PaymentStatusUnpaid  PaymentStatus = "unpaid"
	PaymentStatusPartial PaymentStatus = "partial"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusUnpaid, PaymentStatusPartial, PaymentStatusPaid:
		return true
	}
	return false
}

// DerivePaymentStatus computes the payment state from an authoritative paid
// amount against the invoice total.
func DerivePaymentStatus(paidAmount, totalAmount float64) PaymentStatus {
	switch {
	case paidAmount == 0:
		return PaymentStatusUnpaid
	case paidAmount >= totalAmount:
		return PaymentStatusPaid
	default:
		return PaymentStatusPartial
	}
}

// DocumentLineItem is a frozen copy of order-line data at generation time.
// Later changes to the item or order never alter an issued document.
type DocumentLineItem struct {
	ID       int64   `json:"id,omitempty"`
	ItemID   *int64  `json:"item_id,omitempty"`
	ItemName string  `json:"item_name"`
	ItemCode *string `json:"item_code,omitempty"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Discount float64 `json:"discount"`
	Subtotal float64 `json:"subtotal"`
}

// Proforma is the non-binding preliminary bill derived from an order,
// at most one per order.
type Proforma struct {
	ID                   int64              `json:"id"`
	ProformaNumber       string             `json:"proforma_number"`
	OrderID              int64              `json:"order_id"`
	CustomerID           int64              `json:"customer_id"`
	Items                []DocumentLineItem `json:"items"`
	TotalAmount          float64            `json:"total_amount"`
	Status               ProformaStatus     `json:"status"`
	ValidUntil           time.Time          `json:"valid_until"`
	ConvertedToInvoiceID *int64             `json:"converted_to_invoice_id,omitempty"`
	ConvertedDate        *time.Time         `json:"converted_date,omitempty"`
	Notes                *string            `json:"notes,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Invoice is the binding billing document, at most one per order.
// ProformaID is set only when the invoice was created by conversion.
type Invoice struct {
	ID            int64              `json:"id"`
	InvoiceNumber string             `json:"invoice_number"`
	ProformaID    *int64             `json:"proforma_id,omitempty"`
	OrderID       int64              `json:"order_id"`
	CustomerID    int64              `json:"customer_id"`
	Items         []DocumentLineItem `json:"items"`
	TotalAmount   float64            `json:"total_amount"`
	PaidAmount    float64            `json:"paid_amount"`
	PaymentStatus PaymentStatus      `json:"payment_status"`
	DueDate       time.Time          `json:"due_date"`
	PaymentMethod *string            `json:"payment_method,omitempty"`
	Notes         *string            `json:"notes,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// ItemRef is an expanded item reference attached to an order line when the
// catalog join resolves.
type ItemRef struct {
	ID   int64
	Name string
	Code *string
}

// OrderItemSnapshot is a raw order line as read for document generation.
// Lines written before newer fields existed may lack the optional ones.
type OrderItemSnapshot struct {
	ItemID     *int64
	Item       *ItemRef
	ItemName   string
	Quantity   float64
	Price      *float64
	Discount   float64
	FinalPrice *float64
	Subtotal   *float64
}

// OrderSnapshot is the order state captured for document generation.
type OrderSnapshot struct {
	ID          int64
	OrderNumber string
	CustomerID  int64
	TotalAmount float64
	Notes       *string
	Items       []OrderItemSnapshot
}
