package orders

import "time"

// CreateOrderRequest carries a new purchase order.
type CreateOrderRequest struct {
	CustomerID       int64                  `json:"customer_id" validate:"required,gt=0"`
	Items            []CreateOrderItemReq   `json:"items" validate:"required,min=1,dive"`
	OrderDate        *time.Time             `json:"order_date,omitempty"`
	Notes            *string                `json:"notes,omitempty"`
	AutoGenerateDocs *bool                  `json:"auto_generate_docs,omitempty"`
}

// AutoGenerate reports whether document generation should run after the
// order is persisted. Defaults to true when the field is omitted.
func (r CreateOrderRequest) AutoGenerate() bool {
	return r.AutoGenerateDocs == nil || *r.AutoGenerateDocs
}

// CreateOrderItemReq is one requested order line.
type CreateOrderItemReq struct {
	ItemID   int64   `json:"item_id" validate:"required,gt=0"`
	Quantity float64 `json:"quantity" validate:"required,gte=1"`
	Price    float64 `json:"price" validate:"gte=0"`
	Discount float64 `json:"discount" validate:"gte=0,lte=100"`
}

// UpdateStatusRequest drives an explicit status transition. Notes and
// delivery date may be updated alongside the status in the same call.
type UpdateStatusRequest struct {
	Status       OrderStatus `json:"status" validate:"required"`
	Notes        *string     `json:"notes,omitempty"`
	DeliveryDate *time.Time  `json:"delivery_date,omitempty"`
}

// DispatchUpdate targets one order line by index.
type DispatchUpdate struct {
	ItemIndex        int     `json:"item_index" validate:"gte=0"`
	DispatchQuantity float64 `json:"dispatch_quantity" validate:"gte=0"`
}

// UpdateDispatchRequest records fulfilled quantities for a batch of lines.
type UpdateDispatchRequest struct {
	Updates []DispatchUpdate `json:"updates" validate:"required,min=1,dive"`
}

// ListOrdersRequest filters the order listing.
type ListOrdersRequest struct {
	CustomerID *int64       `json:"customer_id,omitempty"`
	Status     *OrderStatus `json:"status,omitempty"`
	Limit      int          `json:"limit" validate:"gte=0,lte=1000"`
	Offset     int          `json:"offset" validate:"gte=0"`
}

// DocumentsGenerated reports which downstream documents a status change or
// order creation actually produced.
type DocumentsGenerated struct {
	Proforma bool `json:"proforma"`
	Invoice  bool `json:"invoice"`
}
