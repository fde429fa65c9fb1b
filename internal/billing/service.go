package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/meridian-dms/meridian-dms/internal/shared"
)

const (
	proformaValidity = 30 * 24 * time.Hour
	invoiceDueIn     = 15 * 24 * time.Hour

	autoGeneratedNotes = "Auto-generated from order"
)

// Service implements document generation, conversion and payment tracking.
type Service struct {
	logger *slog.Logger
	repo   Repository
	audit  *shared.AuditLogger
	now    func() time.Time
}

// NewService builds the billing service. audit may be nil.
func NewService(logger *slog.Logger, repo Repository, audit *shared.AuditLogger) *Service {
	return &Service{
		logger: logger,
		repo:   repo,
		audit:  audit,
		now:    time.Now,
	}
}

// WithNow overrides the service clock.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// GetProforma returns a pro-forma with its line items.
func (s *Service) GetProforma(ctx context.Context, id int64) (*Proforma, error) {
	return s.repo.GetProforma(ctx, id)
}

// GetInvoice returns an invoice with its line items.
func (s *Service) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// EnsureProforma creates the order's pro-forma if it does not exist yet and
// returns the existing one otherwise. Safe to call concurrently: losers of an
// insert race fetch and return the winner.
func (s *Service) EnsureProforma(ctx context.Context, orderID int64) (*Proforma, bool, error) {
	existing, err := s.repo.GetProformaByOrder(ctx, orderID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, false, err
	}

	snap, err := s.repo.GetOrderSnapshot(ctx, orderID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, false, fmt.Errorf("order %d: %w", orderID, shared.ErrNotFound)
		}
		return nil, false, err
	}

	p, err := s.createProforma(ctx, snap)
	if err != nil {
		if errors.Is(err, ErrDuplicateDocument) {
			winner, getErr := s.repo.GetProformaByOrder(ctx, orderID)
			if getErr != nil {
				return nil, false, getErr
			}
			return winner, false, nil
		}
		return nil, false, err
	}

	s.logger.Info("proforma generated",
		slog.Int64("order_id", orderID),
		slog.String("proforma_number", p.ProformaNumber))
	s.recordAudit(ctx, "proforma.generate", "proforma", p.ID, map[string]any{
		"order_id": orderID,
		"number":   p.ProformaNumber,
	})
	return p, true, nil
}

// EnsureInvoice creates the order's direct sale invoice if none exists yet
// and returns the existing one otherwise.
func (s *Service) EnsureInvoice(ctx context.Context, orderID int64) (*Invoice, bool, error) {
	existing, err := s.repo.GetInvoiceByOrder(ctx, orderID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, false, err
	}

	snap, err := s.repo.GetOrderSnapshot(ctx, orderID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, false, fmt.Errorf("order %d: %w", orderID, shared.ErrNotFound)
		}
		return nil, false, err
	}

	inv, err := s.createInvoice(ctx, snap, nil, nil, nil, nil)
	if err != nil {
		if errors.Is(err, ErrDuplicateDocument) {
			winner, getErr := s.repo.GetInvoiceByOrder(ctx, orderID)
			if getErr != nil {
				return nil, false, getErr
			}
			return winner, false, nil
		}
		return nil, false, err
	}

	s.logger.Info("invoice generated",
		slog.Int64("order_id", orderID),
		slog.String("invoice_number", inv.InvoiceNumber))
	s.recordAudit(ctx, "invoice.generate", "invoice", inv.ID, map[string]any{
		"order_id": orderID,
		"number":   inv.InvoiceNumber,
	})
	return inv, true, nil
}

// GenerateForOrder ensures both documents exist for the order. Used by the
// regenerate endpoint; already-issued documents are returned untouched.
func (s *Service) GenerateForOrder(ctx context.Context, orderID int64) (*Proforma, *Invoice, error) {
	p, _, err := s.EnsureProforma(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	inv, _, err := s.EnsureInvoice(ctx, orderID)
	if err != nil {
		return p, nil, err
	}
	return p, inv, nil
}

// GenerateProformaExplicit creates a pro-forma on explicit request. Unlike
// EnsureProforma it reports an existing document as a conflict, carrying the
// existing id so clients can navigate to it.
func (s *Service) GenerateProformaExplicit(ctx context.Context, orderID int64) (*Proforma, error) {
	if existing, err := s.repo.GetProformaByOrder(ctx, orderID); err == nil {
		return nil, shared.NewConflict("proforma already exists for order", "proforma", existing.ID)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	if existing, err := s.repo.GetInvoiceByOrder(ctx, orderID); err == nil {
		return nil, shared.NewConflict("order already invoiced", "invoice", existing.ID)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	snap, err := s.repo.GetOrderSnapshot(ctx, orderID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("order %d: %w", orderID, shared.ErrNotFound)
		}
		return nil, err
	}

	p, err := s.createProforma(ctx, snap)
	if err != nil {
		if errors.Is(err, ErrDuplicateDocument) {
			winner, getErr := s.repo.GetProformaByOrder(ctx, orderID)
			if getErr != nil {
				return nil, getErr
			}
			return nil, shared.NewConflict("proforma already exists for order", "proforma", winner.ID)
		}
		return nil, err
	}

	s.logger.Info("proforma generated",
		slog.Int64("order_id", orderID),
		slog.String("proforma_number", p.ProformaNumber))
	s.recordAudit(ctx, "proforma.generate", "proforma", p.ID, map[string]any{
		"order_id": orderID,
		"number":   p.ProformaNumber,
	})
	return p, nil
}

// Convert turns a pending pro-forma into a sale invoice. The invoice insert
// and the pro-forma status flip commit atomically; a pro-forma converts at
// most once no matter how many converters race.
func (s *Service) Convert(ctx context.Context, proformaID int64, req ConvertProformaRequest) (*Invoice, error) {
	p, err := s.repo.GetProforma(ctx, proformaID)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case ProformaStatusConverted:
		var existingID int64
		if p.ConvertedToInvoiceID != nil {
			existingID = *p.ConvertedToInvoiceID
		}
		return nil, shared.NewConflict("proforma already converted", "invoice", existingID)
	case ProformaStatusCancelled:
		return nil, fmt.Errorf("%w: cannot convert a cancelled proforma", shared.ErrValidation)
	case ProformaStatusExpired:
		return nil, fmt.Errorf("%w: cannot convert an expired proforma", shared.ErrValidation)
	}

	if existing, err := s.repo.GetInvoiceByOrder(ctx, p.OrderID); err == nil {
		return nil, shared.NewConflict("order already invoiced", "invoice", existing.ID)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	dueDate := now.Add(invoiceDueIn)
	if req.DueDate != nil {
		dueDate = *req.DueDate
	}

	var inv *Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		seq, err := tx.NextNumber(ctx, DocTypeInvoice, now.Year())
		if err != nil {
			return err
		}
		candidate := Invoice{
			InvoiceNumber: FormatNumber(DocTypeInvoice, now.Year(), seq),
			ProformaID:    &p.ID,
			OrderID:       p.OrderID,
			CustomerID:    p.CustomerID,
			Items:         cloneLines(p.Items),
			TotalAmount:   p.TotalAmount,
			PaidAmount:    0,
			PaymentStatus: PaymentStatusUnpaid,
			DueDate:       dueDate,
			PaymentMethod: req.PaymentMethod,
			Notes:         req.Notes,
		}

		created, err := tx.InsertInvoice(ctx, candidate)
		if err != nil {
			return err
		}

		flipped, err := tx.MarkProformaConverted(ctx, p.ID, created.ID, now)
		if err != nil {
			return err
		}
		if !flipped {
			return ErrDuplicateDocument
		}
		inv = created
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateDocument) {
			return nil, s.conversionConflict(ctx, p.ID, p.OrderID)
		}
		return nil, err
	}

	s.logger.Info("proforma converted",
		slog.Int64("proforma_id", p.ID),
		slog.String("invoice_number", inv.InvoiceNumber))
	s.recordAudit(ctx, "proforma.convert", "invoice", inv.ID, map[string]any{
		"proforma_id": p.ID,
		"order_id":    p.OrderID,
		"number":      inv.InvoiceNumber,
	})
	return inv, nil
}

// conversionConflict resolves which invoice won a conversion race so the
// conflict response can point at it.
func (s *Service) conversionConflict(ctx context.Context, proformaID, orderID int64) error {
	if p, err := s.repo.GetProforma(ctx, proformaID); err == nil && p.ConvertedToInvoiceID != nil {
		return shared.NewConflict("proforma already converted", "invoice", *p.ConvertedToInvoiceID)
	}
	if existing, err := s.repo.GetInvoiceByOrder(ctx, orderID); err == nil {
		return shared.NewConflict("order already invoiced", "invoice", existing.ID)
	}
	return shared.NewConflict("proforma already converted", "invoice", 0)
}

// UpdatePayment records a payment against an invoice. A supplied paid amount
// is authoritative and the payment status is derived from it.
func (s *Service) UpdatePayment(ctx context.Context, invoiceID int64, req UpdatePaymentRequest) (*Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	var status *PaymentStatus
	switch {
	case req.PaidAmount != nil:
		derived := DerivePaymentStatus(*req.PaidAmount, inv.TotalAmount)
		status = &derived
	case req.PaymentStatus != nil:
		if !req.PaymentStatus.Valid() {
			return nil, fmt.Errorf("%w: unknown payment status %q", shared.ErrValidation, *req.PaymentStatus)
		}
		status = req.PaymentStatus
	case req.PaymentMethod == nil:
		return nil, fmt.Errorf("%w: no payment fields to update", shared.ErrValidation)
	}

	if err := s.repo.UpdateInvoicePayment(ctx, invoiceID, req.PaidAmount, status, req.PaymentMethod); err != nil {
		return nil, err
	}

	updated, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("invoice payment updated",
		slog.Int64("invoice_id", invoiceID),
		slog.String("payment_status", string(updated.PaymentStatus)),
		slog.Float64("paid_amount", updated.PaidAmount))
	s.recordAudit(ctx, "invoice.payment", "invoice", invoiceID, map[string]any{
		"payment_status": string(updated.PaymentStatus),
		"paid_amount":    updated.PaidAmount,
	})
	return updated, nil
}

// ExpireStale marks pending pro-formas past their validity as expired and
// returns how many were flipped.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	count, err := s.repo.ExpirePending(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info("expired stale proformas", slog.Int64("count", count))
	}
	return count, nil
}

func (s *Service) createProforma(ctx context.Context, snap *OrderSnapshot) (*Proforma, error) {
	lines, err := TransformLineItems(snap.Items)
	if err != nil {
		return nil, err
	}

	now := s.now()
	notes := documentNotes(snap)
	var created *Proforma
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		seq, err := tx.NextNumber(ctx, DocTypeProforma, now.Year())
		if err != nil {
			return err
		}
		p, err := tx.InsertProforma(ctx, Proforma{
			ProformaNumber: FormatNumber(DocTypeProforma, now.Year(), seq),
			OrderID:        snap.ID,
			CustomerID:     snap.CustomerID,
			Items:          lines,
			TotalAmount:    snap.TotalAmount,
			Status:         ProformaStatusPending,
			ValidUntil:     now.Add(proformaValidity),
			Notes:          &notes,
		})
		if err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Service) createInvoice(ctx context.Context, snap *OrderSnapshot, proformaID *int64, dueDate *time.Time, method, notes *string) (*Invoice, error) {
	lines, err := TransformLineItems(snap.Items)
	if err != nil {
		return nil, err
	}

	now := s.now()
	due := now.Add(invoiceDueIn)
	if dueDate != nil {
		due = *dueDate
	}
	if notes == nil {
		auto := documentNotes(snap)
		notes = &auto
	}

	var created *Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		seq, err := tx.NextNumber(ctx, DocTypeInvoice, now.Year())
		if err != nil {
			return err
		}
		inv, err := tx.InsertInvoice(ctx, Invoice{
			InvoiceNumber: FormatNumber(DocTypeInvoice, now.Year(), seq),
			ProformaID:    proformaID,
			OrderID:       snap.ID,
			CustomerID:    snap.CustomerID,
			Items:         lines,
			TotalAmount:   snap.TotalAmount,
			PaidAmount:    0,
			PaymentStatus: PaymentStatusUnpaid,
			DueDate:       due,
			PaymentMethod: method,
			Notes:         notes,
		})
		if err != nil {
			return err
		}
		created = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Service) recordAudit(ctx context.Context, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}

// documentNotes carries the order's notes onto its documents, falling back
// to the auto-generation marker.
func documentNotes(snap *OrderSnapshot) string {
	if snap.Notes != nil && *snap.Notes != "" {
		return *snap.Notes
	}
	return autoGeneratedNotes
}

func cloneLines(lines []DocumentLineItem) []DocumentLineItem {
	out := make([]DocumentLineItem, len(lines))
	copy(out, lines)
	for i := range out {
		out[i].ID = 0
	}
	return out
}
