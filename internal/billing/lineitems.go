package billing

import (
	"fmt"

	"github.com/meridian-dms/meridian-dms/internal/shared"
)

// unknownItemName is the last-resort line name for order lines whose item
// reference no longer resolves and whose own name was never stored.
const unknownItemName = "Unknown Item"

// TransformLineItems maps order lines into frozen document line items. Lines
// may predate newer order fields, so every optional field falls back rather
// than failing; only a missing quantity or price is an error.
func TransformLineItems(items []OrderItemSnapshot) ([]DocumentLineItem, error) {
	lines := make([]DocumentLineItem, 0, len(items))
	for i, it := range items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d: quantity is required", shared.ErrValidation, i)
		}
		if it.Price == nil {
			return nil, fmt.Errorf("%w: line %d: price is required", shared.ErrValidation, i)
		}

		line := DocumentLineItem{
			Quantity: it.Quantity,
			Price:    *it.Price,
			Discount: it.Discount,
		}

		switch {
		case it.Item != nil && it.Item.Name != "":
			line.ItemName = it.Item.Name
		case it.ItemName != "":
			line.ItemName = it.ItemName
		default:
			line.ItemName = unknownItemName
		}
		if it.Item != nil {
			line.ItemCode = it.Item.Code
			if it.ItemID == nil {
				id := it.Item.ID
				line.ItemID = &id
			}
		}
		if it.ItemID != nil {
			line.ItemID = it.ItemID
		}

		switch {
		case it.Subtotal != nil:
			line.Subtotal = *it.Subtotal
		case it.FinalPrice != nil:
			line.Subtotal = *it.FinalPrice * it.Quantity
		default:
			line.Subtotal = *it.Price * it.Quantity
		}

		lines = append(lines, line)
	}
	return lines, nil
}

// SumLineItems totals frozen line subtotals for a document.
func SumLineItems(lines []DocumentLineItem) float64 {
	var total float64
	for _, l := range lines {
		total += l.Subtotal
	}
	return total
}
