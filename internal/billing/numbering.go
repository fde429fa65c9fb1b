package billing

import "fmt"

// DocType is the prefix of a year-scoped document numbering space.
type DocType string

const (
	// DocTypeProforma numbers pro-forma invoices (PI-YYYY-NNNN).
	DocTypeProforma DocType = "PI"
	// DocTypeInvoice numbers sale invoices (INV-YYYY-NNNN).
	DocTypeInvoice DocType = "INV"
)

// FormatNumber renders a document number from its numbering space and
// sequence, e.g. "PI-2026-0001". The sequence restarts each calendar year.
func FormatNumber(docType DocType, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%04d", docType, year, seq)
}
