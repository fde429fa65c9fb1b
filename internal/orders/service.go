package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/meridian-dms/meridian-dms/internal/billing"
	"github.com/meridian-dms/meridian-dms/internal/catalog"
	"github.com/meridian-dms/meridian-dms/internal/customers"
	"github.com/meridian-dms/meridian-dms/internal/pricing"
	"github.com/meridian-dms/meridian-dms/internal/shared"
)

// CustomerStore is the slice of the customer repository the order service
// consumes.
type CustomerStore interface {
	Get(ctx context.Context, id int64) (*customers.Customer, error)
}

// ItemStore is the slice of the catalog repository the order service
// consumes.
type ItemStore interface {
	ListItemsByIDs(ctx context.Context, ids []int64) ([]catalog.Item, error)
}

// DocumentGenerator produces billing documents for an order. Implemented by
// the billing service; generation failures never roll back order writes.
type DocumentGenerator interface {
	EnsureProforma(ctx context.Context, orderID int64) (*billing.Proforma, bool, error)
	EnsureInvoice(ctx context.Context, orderID int64) (*billing.Invoice, bool, error)
}

// Service implements order creation, the status state machine and dispatch
// recalculation.
type Service struct {
	logger    *slog.Logger
	repo      Repository
	customers CustomerStore
	items     ItemStore
	docs      DocumentGenerator
	audit     *shared.AuditLogger
	now       func() time.Time
}

// NewService builds the order service. docs and audit may be nil.
func NewService(logger *slog.Logger, repo Repository, customerStore CustomerStore, itemStore ItemStore, docs DocumentGenerator, audit *shared.AuditLogger) *Service {
	return &Service{
		logger:    logger,
		repo:      repo,
		customers: customerStore,
		items:     itemStore,
		docs:      docs,
		audit:     audit,
		now:       time.Now,
	}
}

// WithNow overrides the service clock.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Get returns an order with its items.
func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	return s.repo.Get(ctx, id)
}

// List returns orders matching the filter, without items.
func (s *Service) List(ctx context.Context, req ListOrdersRequest) ([]Order, int, error) {
	return s.repo.List(ctx, req)
}

// Create validates, prices and persists a new order, then generates its
// pro-forma unless the caller opted out. Generation is best-effort: the
// order commit stands even when the document write fails.
func (s *Service) Create(ctx context.Context, req CreateOrderRequest) (*Order, *billing.Proforma, DocumentsGenerated, error) {
	var generated DocumentsGenerated

	if _, err := s.customers.Get(ctx, req.CustomerID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil, generated, fmt.Errorf("customer %d: %w", req.CustomerID, shared.ErrNotFound)
		}
		return nil, nil, generated, err
	}

	itemIDs := make([]int64, 0, len(req.Items))
	for _, line := range req.Items {
		itemIDs = append(itemIDs, line.ItemID)
	}
	known, err := s.items.ListItemsByIDs(ctx, itemIDs)
	if err != nil {
		return nil, nil, generated, err
	}
	byID := make(map[int64]catalog.Item, len(known))
	for _, it := range known {
		byID[it.ID] = it
	}

	now := s.now()
	orderDate := now
	if req.OrderDate != nil {
		orderDate = *req.OrderDate
	}

	var items []OrderItem
	var total float64
	for i, line := range req.Items {
		item, ok := byID[line.ItemID]
		if !ok {
			return nil, nil, generated, fmt.Errorf("item %d: %w", line.ItemID, shared.ErrNotFound)
		}
		finalPrice, err := pricing.Resolve(line.Price, line.Discount)
		if err != nil {
			return nil, nil, generated, fmt.Errorf("item %d: %w", line.ItemID, err)
		}
		subtotal := finalPrice * line.Quantity
		items = append(items, OrderItem{
			ItemID:           line.ItemID,
			ItemName:         item.Name,
			Quantity:         line.Quantity,
			DispatchQuantity: line.Quantity,
			Price:            line.Price,
			Discount:         line.Discount,
			FinalPrice:       finalPrice,
			Subtotal:         subtotal,
			Position:         i,
		})
		total += subtotal
	}

	var orderID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		number, err := tx.NextOrderNumber(ctx)
		if err != nil {
			return err
		}
		orderID, err = tx.Create(ctx, Order{
			OrderNumber: number,
			CustomerID:  req.CustomerID,
			TotalAmount: total,
			Status:      OrderStatusPending,
			OrderDate:   orderDate,
			Notes:       req.Notes,
			CreatedBy:   shared.ActorFromContext(ctx),
		})
		if err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = orderID
			if _, err := tx.InsertItem(ctx, items[i]); err != nil {
				return err
			}
		}
		return tx.IncrementCustomerOrderCount(ctx, req.CustomerID)
	})
	if err != nil {
		return nil, nil, generated, err
	}

	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, nil, generated, err
	}

	s.logger.Info("order created",
		slog.Int64("order_id", orderID),
		slog.String("order_number", order.OrderNumber),
		slog.Float64("total", total))
	s.recordAudit(ctx, "order.create", orderID, map[string]any{
		"number": order.OrderNumber,
		"total":  total,
	})

	var proforma *billing.Proforma
	if req.AutoGenerate() && s.docs != nil {
		p, created, err := s.docs.EnsureProforma(ctx, orderID)
		if err != nil {
			s.logger.Warn("proforma generation failed",
				slog.Any("error", err), slog.Int64("order_id", orderID))
		} else {
			proforma = p
			generated.Proforma = created
		}
	}
	return order, proforma, generated, nil
}

// UpdateStatus applies an explicit status transition and runs its document
// side effects. Document generation is best-effort; the status update stands
// regardless.
func (s *Service) UpdateStatus(ctx context.Context, id int64, req UpdateStatusRequest) (*Order, DocumentsGenerated, error) {
	var generated DocumentsGenerated

	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, generated, err
	}
	if err := ValidateTransition(order.Status, req.Status); err != nil {
		return nil, generated, err
	}

	if err := s.repo.UpdateStatus(ctx, id, req.Status, req.Notes, req.DeliveryDate); err != nil {
		return nil, generated, err
	}

	if req.Status != order.Status {
		switch req.Status {
		case OrderStatusProcessing:
			generated.Proforma = s.ensureProforma(ctx, id)
			generated.Invoice = s.ensureInvoice(ctx, id)
		case OrderStatusCompleted:
			generated.Invoice = s.ensureInvoice(ctx, id)
		}
	}

	updated, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, generated, err
	}

	s.logger.Info("order status updated",
		slog.Int64("order_id", id),
		slog.String("from", string(order.Status)),
		slog.String("to", string(req.Status)))
	s.recordAudit(ctx, "order.status", id, map[string]any{
		"from": string(order.Status),
		"to":   string(req.Status),
	})
	return updated, generated, nil
}

// UpdateDispatch records fulfilled quantities and recomputes line subtotals
// and the order total. Entries pointing at an out-of-range line index are
// skipped; over-dispatch beyond the ordered quantity is allowed.
func (s *Service) UpdateDispatch(ctx context.Context, id int64, req UpdateDispatchRequest) (*Order, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	for _, u := range req.Updates {
		if u.DispatchQuantity < 0 {
			return nil, fmt.Errorf("%w: dispatch quantity must not be negative", shared.ErrValidation)
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		for _, u := range req.Updates {
			if u.ItemIndex < 0 || u.ItemIndex >= len(order.Items) {
				continue
			}
			item := &order.Items[u.ItemIndex]
			subtotal := item.Price * (1 - item.Discount/100) * u.DispatchQuantity
			if err := tx.UpdateItemDispatch(ctx, item.ID, u.DispatchQuantity, subtotal); err != nil {
				return err
			}
			item.DispatchQuantity = u.DispatchQuantity
			item.Subtotal = subtotal
		}

		var total float64
		for _, item := range order.Items {
			total += item.Subtotal
		}
		return tx.UpdateTotal(ctx, id, total)
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order dispatch updated",
		slog.Int64("order_id", id),
		slog.Float64("total", updated.TotalAmount))
	s.recordAudit(ctx, "order.dispatch", id, map[string]any{
		"total": updated.TotalAmount,
	})
	return updated, nil
}

func (s *Service) ensureProforma(ctx context.Context, orderID int64) bool {
	if s.docs == nil {
		return false
	}
	_, created, err := s.docs.EnsureProforma(ctx, orderID)
	if err != nil {
		s.logger.Warn("proforma generation failed",
			slog.Any("error", err), slog.Int64("order_id", orderID))
		return false
	}
	return created
}

func (s *Service) ensureInvoice(ctx context.Context, orderID int64) bool {
	if s.docs == nil {
		return false
	}
	_, created, err := s.docs.EnsureInvoice(ctx, orderID)
	if err != nil {
		s.logger.Warn("invoice generation failed",
			slog.Any("error", err), slog.Int64("order_id", orderID))
		return false
	}
	return created
}

func (s *Service) recordAudit(ctx context.Context, action string, orderID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "order",
		EntityID: strconv.FormatInt(orderID, 10),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}
