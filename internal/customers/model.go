package customers

import "time"

// Customer is reference data owned by customer management. The order
// pipeline only reads it and bumps the per-customer order counter.
type Customer struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Email      *string   `json:"email,omitempty"`
	Phone      *string   `json:"phone,omitempty"`
	Address    *string   `json:"address,omitempty"`
	OrderCount int       `json:"order_count"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
