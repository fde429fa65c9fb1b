package billing

import "time"

// ConvertProformaRequest carries the optional invoice parameters supplied at
// conversion time. Omitted fields use the service defaults.
type ConvertProformaRequest struct {
	DueDate       *time.Time `json:"due_date"`
	PaymentMethod *string    `json:"payment_method" validate:"omitempty,max=50"`
	Notes         *string    `json:"notes" validate:"omitempty,max=2000"`
}

// UpdatePaymentRequest updates an invoice's payment state. When PaidAmount is
// present the payment status is derived from it and an explicit PaymentStatus
// is ignored.
type UpdatePaymentRequest struct {
	PaidAmount    *float64       `json:"paid_amount" validate:"omitempty,gte=0"`
	PaymentStatus *PaymentStatus `json:"payment_status"`
	PaymentMethod *string        `json:"payment_method" validate:"omitempty,max=50"`
}
