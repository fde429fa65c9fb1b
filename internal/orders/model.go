package orders

import (
	"fmt"
	"time"

	"github.com/meridian-dms/meridian-dms/internal/shared"
)

// OrderStatus enumerates order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// ValidateTransition checks an explicit status update. Transitions are
// operator-driven, so movement between non-terminal states is permitted in
// either direction; terminal states accept no further updates and cancelled
// is reachable from any non-terminal state.
func ValidateTransition(from, to OrderStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", shared.ErrValidation, to)
	}
	if from == to {
		return nil
	}
	if from.Terminal() {
		return fmt.Errorf("%w: order is already %s", shared.ErrValidation, from)
	}
	return nil
}

// Order is the root aggregate of the order-to-document pipeline.
type Order struct {
	ID           int64       `json:"id"`
	OrderNumber  string      `json:"order_number"`
	CustomerID   int64       `json:"customer_id"`
	Items        []OrderItem `json:"items"`
	TotalAmount  float64     `json:"total_amount"`
	Status       OrderStatus `json:"status"`
	OrderDate    time.Time   `json:"order_date"`
	DeliveryDate *time.Time  `json:"delivery_date,omitempty"`
	Notes        *string     `json:"notes,omitempty"`
	CreatedBy    int64       `json:"created_by"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// OrderItem is one priced line of an order. DispatchQuantity starts equal to
// Quantity and drives the billed subtotal once dispatch is recorded.
type OrderItem struct {
	ID               int64   `json:"id"`
	OrderID          int64   `json:"order_id"`
	ItemID           int64   `json:"item_id"`
	ItemName         string  `json:"item_name"`
	Quantity         float64 `json:"quantity"`
	DispatchQuantity float64 `json:"dispatch_quantity"`
	Price            float64 `json:"price"`
	Discount         float64 `json:"discount"`
	FinalPrice       float64 `json:"final_price"`
	Subtotal         float64 `json:"subtotal"`
	Position         int     `json:"position"`
}
