package catalog

import "time"

// ItemStatus enumerates catalog item statuses.
type ItemStatus string

const (
	ItemStatusActive   ItemStatus = "active"
	ItemStatusInactive ItemStatus = "inactive"
)

// Item is immutable reference data owned by catalog management. TaxRate and
// ItemCode are opaque pass-through fields.
type Item struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	ItemCode    *string    `json:"item_code,omitempty"`
	Category    *string    `json:"category,omitempty"`
	UnitPrice   float64    `json:"unit_price"`
	Unit        string     `json:"unit"`
	TaxRate     float64    `json:"tax_rate"`
	Status      ItemStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AgreementEntry is one negotiated price/discount pair for an item.
type AgreementEntry struct {
	ItemID   int64   `json:"item_id"`
	Price    float64 `json:"price"`
	Discount float64 `json:"discount"`
}

// Agreement holds a customer's negotiated pricing, unique per customer.
type Agreement struct {
	ID         int64            `json:"id"`
	CustomerID int64            `json:"customer_id"`
	Entries    []AgreementEntry `json:"entries"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// CatalogEntry merges live item attributes with customer-specific pricing
// for the self-service catalog.
type CatalogEntry struct {
	ItemID     int64   `json:"item_id"`
	ItemName   string  `json:"item_name"`
	ItemCode   *string `json:"item_code,omitempty"`
	Category   *string `json:"category,omitempty"`
	Unit       string  `json:"unit"`
	TaxRate    float64 `json:"tax_rate"`
	Price      float64 `json:"price"`
	Discount   float64 `json:"discount"`
	FinalPrice float64 `json:"final_price"`
}
