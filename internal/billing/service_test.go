package billing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-dms/meridian-dms/internal/shared"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	mu sync.Mutex

	counters  map[string]int64
	orders    map[int64]*OrderSnapshot
	proformas map[int64]*Proforma
	invoices  map[int64]*Invoice

	nextProformaID int64
	nextInvoiceID  int64

	// Error injection
	flipFail bool
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		counters:       make(map[string]int64),
		orders:         make(map[int64]*OrderSnapshot),
		proformas:      make(map[int64]*Proforma),
		invoices:       make(map[int64]*Invoice),
		nextProformaID: 1,
		nextInvoiceID:  1,
	}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	tx := &mockTxRepo{mockRepository: m}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (m *mockRepository) NextNumber(ctx context.Context, docType DocType, year int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s-%d", docType, year)
	m.counters[key]++
	return m.counters[key], nil
}

func (m *mockRepository) GetOrderSnapshot(ctx context.Context, orderID int64) (*OrderSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.orders[orderID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	val := *snap
	return &val, nil
}

func (m *mockRepository) GetProforma(ctx context.Context, id int64) (*Proforma, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proformas[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	val := *p
	return &val, nil
}

func (m *mockRepository) GetProformaByOrder(ctx context.Context, orderID int64) (*Proforma, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.proformas {
		if p.OrderID == orderID {
			val := *p
			return &val, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *mockRepository) InsertProforma(ctx context.Context, p Proforma) (*Proforma, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.proformas {
		if existing.OrderID == p.OrderID {
			return nil, ErrDuplicateDocument
		}
	}
	p.ID = m.nextProformaID
	m.nextProformaID++
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	stored := p
	m.proformas[p.ID] = &stored
	return &p, nil
}

func (m *mockRepository) MarkProformaConverted(ctx context.Context, proformaID, invoiceID int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flipFail {
		return false, nil
	}
	p, ok := m.proformas[proformaID]
	if !ok || p.Status == ProformaStatusConverted {
		return false, nil
	}
	p.Status = ProformaStatusConverted
	p.ConvertedToInvoiceID = &invoiceID
	converted := at
	p.ConvertedDate = &converted
	return true, nil
}

func (m *mockRepository) ExpirePending(ctx context.Context, asOf time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, p := range m.proformas {
		if p.Status == ProformaStatusPending && p.ValidUntil.Before(asOf) {
			p.Status = ProformaStatusExpired
			count++
		}
	}
	return count, nil
}

func (m *mockRepository) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	val := *inv
	return &val, nil
}

func (m *mockRepository) GetInvoiceByOrder(ctx context.Context, orderID int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.OrderID == orderID {
			val := *inv
			return &val, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *mockRepository) GetInvoiceByProforma(ctx context.Context, proformaID int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.ProformaID != nil && *inv.ProformaID == proformaID {
			val := *inv
			return &val, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *mockRepository) InsertInvoice(ctx context.Context, inv Invoice) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.invoices {
		if existing.OrderID == inv.OrderID {
			return nil, ErrDuplicateDocument
		}
		if inv.ProformaID != nil && existing.ProformaID != nil && *existing.ProformaID == *inv.ProformaID {
			return nil, ErrDuplicateDocument
		}
	}
	inv.ID = m.nextInvoiceID
	m.nextInvoiceID++
	inv.CreatedAt = time.Now()
	inv.UpdatedAt = inv.CreatedAt
	stored := inv
	m.invoices[inv.ID] = &stored
	return &inv, nil
}

func (m *mockRepository) UpdateInvoicePayment(ctx context.Context, id int64, paidAmount *float64, status *PaymentStatus, method *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return shared.ErrNotFound
	}
	if paidAmount != nil {
		inv.PaidAmount = *paidAmount
	}
	if status != nil {
		inv.PaymentStatus = *status
	}
	if method != nil {
		inv.PaymentMethod = method
	}
	return nil
}

// mockTxRepo tracks inserts so a failed transaction can undo them.
type mockTxRepo struct {
	*mockRepository
	insertedProformas []int64
	insertedInvoices  []int64
}

func (t *mockTxRepo) InsertProforma(ctx context.Context, p Proforma) (*Proforma, error) {
	created, err := t.mockRepository.InsertProforma(ctx, p)
	if err != nil {
		return nil, err
	}
	t.insertedProformas = append(t.insertedProformas, created.ID)
	return created, nil
}

func (t *mockTxRepo) InsertInvoice(ctx context.Context, inv Invoice) (*Invoice, error) {
	created, err := t.mockRepository.InsertInvoice(ctx, inv)
	if err != nil {
		return nil, err
	}
	t.insertedInvoices = append(t.insertedInvoices, created.ID)
	return created, nil
}

func (t *mockTxRepo) rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.insertedProformas {
		delete(t.proformas, id)
	}
	for _, id := range t.insertedInvoices {
		delete(t.invoices, id)
	}
}

// ============================================================================
// FIXTURES
// ============================================================================

var testNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func newTestService(repo Repository) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(logger, repo, nil).WithNow(func() time.Time { return testNow })
}

func seedOrder(m *mockRepository, orderID int64) {
	m.orders[orderID] = &OrderSnapshot{
		ID:          orderID,
		OrderNumber: fmt.Sprintf("ORD%06d", orderID),
		CustomerID:  5,
		TotalAmount: 230,
		Items: []OrderItemSnapshot{
			{ItemID: i64(1), ItemName: "Widget", Quantity: 10, Price: f64(10), Discount: 10, FinalPrice: f64(9), Subtotal: f64(90)},
			{ItemID: i64(2), ItemName: "Gadget", Quantity: 7, Price: f64(20), Discount: 0, FinalPrice: f64(20), Subtotal: f64(140)},
		},
	}
}

// ============================================================================
// PROFORMA GENERATION
// ============================================================================

func TestEnsureProformaGeneratesDocument(t *testing.T) {
	repo := newMockRepository()
	seedOrder(repo, 1)
	svc := newTestService(repo)

	p, created, err := svc.EnsureProforma(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, created)

	assert.Equal(t, "PI-2026-0001", p.ProformaNumber)
	assert.Equal(t, ProformaStatusPending, p.Status)
	assert.Equal(t, int64(1), p.OrderID)
	assert.Equal(t, int64(5), p.CustomerID)
	assert.Equal(t, 230.0, p.TotalAmount)
	assert.Equal(t, testNow.Add(30*24*time.Hour), p.ValidUntil)
	require.NotNil(t, p.Notes)
	assert.Equal(t, "Auto-generated from order", *p.Notes)

	require.Len(t, p.Items, 2)
	assert.Equal(t, "Widget", p.Items[0].ItemName)
	assert.Equal(t, 90.0, p.Items[0].Subtotal)
	assert.Equal(t, 140.0, p.Items[1].Subtotal)
}

func TestEnsureProformaIdempotent(t *testing.T) {
	repo := newMockRepository()
	seedOrder(repo, 1)
	svc := newTestService(repo)

	first, created, err := svc.EnsureProforma(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := svc.EnsureProforma(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repo.proformas, 1)
}

func TestEnsureProformaConcurrent(t *testing.T) {
	repo := newMockRepository()
	seedOrder(repo, 1)
	svc := newTestService(repo)

	const workers = 8
	var wg sync.WaitGroup
	ids := make([]int64, workers)
	createdCount := make([]bool, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, created, err := svc.EnsureProforma(context.Background(), 1)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = p.ID
			createdCount[i] = created
		}(i)
	}
	wg.Wait()

	var winners int
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i], "every caller must see the same proforma")
		if createdCount[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.Len(t, repo.proformas, 1)
}

func TestEnsureProformaOrderMissing(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)

	_, _, err := svc.EnsureProforma(context.Background(), 404)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestProformaNumberingPerYear(t *testing.T) {
	repo := newMockRepository()
	seedOrder(repo, 1)
	seedOrder(repo, 2)
	seedOrder(repo, 3)
	svc := newTestService(repo)

	p1, _, err := svc.EnsureProforma(context.Background(), 1)
	require.NoError(t, err)
	p2, _, err := svc.EnsureProforma(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "PI-2026-0001", p1.ProformaNumber)
	assert.Equal(t, "PI-2026-0002", p2.ProformaNumber)

	svc.WithNow(func() time.Time { return testNow.AddDate(1, 0, 0) })
	p3, _, err := svc.EnsureProforma(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "PI-2027-0001", p3.ProformaNumber, "sequence restarts each year")
}

// ============================================================================
// INVOICE GENERATION
// ============================================================================

func TestEnsureInvoiceDefaults(t *testing.T) {
	repo := newMockRepository()
	seedOrder(repo, 1)
	svc := newTestService(repo)

	inv, created, err := svc.EnsureInvoice(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, created)

	assert.Equal(t, "INV-2026-0001", inv.InvoiceNumber)
	assert.Nil(t, inv.ProformaID, "a direct invoice references no proforma")
	assert.Equal(t, 230.0, inv.TotalAmount)
	assert.Equal(t, 0.0, inv.PaidAmount)
	assert.Equal(t, PaymentStatusUnpaid, inv.PaymentStatus)
	assert.Equal(t, testNow.Add(15*24*time.Hour), inv.DueDate)
	require.Len(t, inv.Items, 2)
}

func TestGenerateForOrderIdempotent(t *testing.T) {
	repo := newMockRepository()
	seedOrder(repo, 1)
	svc := newTestService(repo)

	p1, inv1, err := svc.GenerateForOrder(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, p1)
	require.NotNil(t, inv1)

	p2, inv2, err := svc.GenerateForOrder(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID)
	assert.Equal(t, inv1.ID, inv2.ID)
	assert.Len(t, repo.proformas, 1)
	assert.Len(t, repo.invoices, 1)
}

func TestGenerateProformaExplicitConflicts(t *testing.T) {
	repo := newMockRepository()
	seedOrder(repo, 1)
	seedOrder(repo, 2)
	svc := newTestService(repo)

	existing, _, err := svc.EnsureProforma(context.Background(), 1)
	require.NoError(t, err)

	_, err = svc.GenerateProformaExplicit(context.Background(), 1)
	ce, ok := shared.AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, existing.ID, ce.ExistingID)
	assert.Equal(t, "proforma", ce.Entity)

	inv, _, err := svc.EnsureInvoice(context.Background(), 2)
	require.NoError(t, err)
	_, err = svc.GenerateProformaExplicit(context.Background(), 2)
	ce, ok = shared.AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, inv.ID, ce.ExistingID)
	assert.Equal(t, "invoice", ce.Entity)
}

// ============================================================================
// CONVERSION
// ============================================================================

func TestConvertProforma(t *testing.T) {
	repo := newMockRepository()
	seedOrder(repo, 1)
	svc := newTestService(repo)

	p, _, err := svc.EnsureProforma(context.Background(), 1)
	require.NoError(t, err)

	inv, err := svc.Convert(context.Background(), p.ID, ConvertProformaRequest{})
	require.NoError(t, err)

	assert.Equal(t, "INV-2026-0001", inv.InvoiceNumber)
	require.NotNil(t, inv.ProformaID)
	assert.Equal(t, p.ID, *inv.ProformaID)
	assert.Equal(t, p.OrderID, inv.OrderID)
	assert.Equal(t, p.TotalAmount, inv.TotalAmount)
	assert.Equal(t, PaymentStatusUnpaid, inv.PaymentStatus)
	assert.Equal(t, testNow.Add(15*24*time.Hour), inv.DueDate)
	require.Len(t, inv.Items, 2)
	assert.Equal(t, p.Items[0].Subtotal, inv.Items[0].Subtotal)

	flipped, err := repo.GetProforma(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, ProformaStatusConverted, flipped.Status)
	require.NotNil(t, flipped.ConvertedToInvoiceID)
	assert.Equal(t, inv.ID, *flipped.ConvertedToInvoiceID)
	require.NotNil(t, flipped.ConvertedDate)
	assert.Equal(t, testNow, *flipped.ConvertedDate)
}

func TestConvertOnlyOnce(t *testing.T) {
	repo := newMockRepository()
	seedOrder(repo, 1)
	svc := newTestService(repo)

	p, _, err := svc.EnsureProforma(context.Background(), 1)
	require.NoError(t, err)
	inv, err := svc.Convert(context.Background(), p.ID, ConvertProformaRequest{})
	require.NoError(t, err)

	_, err = svc.Convert(context.Background(), p.ID, ConvertProformaRequest{})
	ce, ok := shared.AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, inv.ID, ce.ExistingID)
	assert.Len(t, repo.invoices, 1)
}

func TestConvertRejectsDeadProformas(t *testing.T) {
	repo := newMockRepository()
	seedOrder(repo, 1)
	svc := newTestService(repo)

	p, _, err := svc.EnsureProforma(context.Background(), 1)
	require.NoError(t, err)

	for _, status := range []ProformaStatus{ProformaStatusCancelled, ProformaStatusExpired} {
		repo.proformas[p.ID].Status = status
		_, err = svc.Convert(context.Background(), p.ID, ConvertProformaRequest{})
		assert.ErrorIs(t, err, shared.ErrValidation, "status %s", status)
	}
}

func TestConvertWhenOrderAlreadyInvoiced(t *testing.T) {
	repo := newMockRepository()
	seedOrder(repo, 1)
	svc := newTestService(repo)

	p, _, err := svc.EnsureProforma(context.Background(), 1)
	require.NoError(t, err)
	direct, _, err := svc.EnsureInvoice(context.Background(), 1)
	require.NoError(t, err)

	_, err = svc.Convert(context.Background(), p.ID, ConvertProformaRequest{})
	ce, ok := shared.AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, direct.ID, ce.ExistingID)
}

func TestConvertLostFlipRollsBack(t *testing.T) {
	repo := newMockRepository()
	seedOrder(repo, 1)
	svc := newTestService(repo)

	p, _, err := svc.EnsureProforma(context.Background(), 1)
	require.NoError(t, err)

	repo.flipFail = true
	_, err = svc.Convert(context.Background(), p.ID, ConvertProformaRequest{})
	_, ok := shared.AsConflict(err)
	require.True(t, ok)
	assert.Empty(t, repo.invoices, "losing conversion must not leave an invoice behind")
}

func TestConvertHonorsRequestOverrides(t *testing.T) {
	repo := newMockRepository()
	seedOrder(repo, 1)
	svc := newTestService(repo)

	p, _, err := svc.EnsureProforma(context.Background(), 1)
	require.NoError(t, err)

	due := testNow.AddDate(0, 2, 0)
	method := "bank_transfer"
	inv, err := svc.Convert(context.Background(), p.ID, ConvertProformaRequest{
		DueDate:       &due,
		PaymentMethod: &method,
	})
	require.NoError(t, err)
	assert.Equal(t, due, inv.DueDate)
	require.NotNil(t, inv.PaymentMethod)
	assert.Equal(t, "bank_transfer", *inv.PaymentMethod)
}

// ============================================================================
// PAYMENTS
// ============================================================================

func TestUpdatePaymentDerivesStatus(t *testing.T) {
	repo := newMockRepository()
	seedOrder(repo, 1)
	svc := newTestService(repo)

	inv, _, err := svc.EnsureInvoice(context.Background(), 1)
	require.NoError(t, err)

	tests := []struct {
		paid float64
		want PaymentStatus
	}{
		{0, PaymentStatusUnpaid},
		{100, PaymentStatusPartial},
		{230, PaymentStatusPaid},
		{250, PaymentStatusPaid},
	}
	for _, tt := range tests {
		updated, err := svc.UpdatePayment(context.Background(), inv.ID, UpdatePaymentRequest{PaidAmount: f64(tt.paid)})
		require.NoError(t, err)
		assert.Equal(t, tt.want, updated.PaymentStatus, "paid %v", tt.paid)
		assert.Equal(t, tt.paid, updated.PaidAmount)
	}
}

func TestUpdatePaymentExplicitStatus(t *testing.T) {
	repo := newMockRepository()
	seedOrder(repo, 1)
	svc := newTestService(repo)

	inv, _, err := svc.EnsureInvoice(context.Background(), 1)
	require.NoError(t, err)

	paid := PaymentStatusPaid
	updated, err := svc.UpdatePayment(context.Background(), inv.ID, UpdatePaymentRequest{PaymentStatus: &paid})
	require.NoError(t, err)
	assert.Equal(t, PaymentStatusPaid, updated.PaymentStatus)

	bogus := PaymentStatus("settled")
	_, err = svc.UpdatePayment(context.Background(), inv.ID, UpdatePaymentRequest{PaymentStatus: &bogus})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdatePaymentRequiresFields(t *testing.T) {
	repo := newMockRepository()
	seedOrder(repo, 1)
	svc := newTestService(repo)

	inv, _, err := svc.EnsureInvoice(context.Background(), 1)
	require.NoError(t, err)

	_, err = svc.UpdatePayment(context.Background(), inv.ID, UpdatePaymentRequest{})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

// ============================================================================
// EXPIRY SWEEP
// ============================================================================

func TestExpireStale(t *testing.T) {
	repo := newMockRepository()
	seedOrder(repo, 1)
	seedOrder(repo, 2)
	svc := newTestService(repo)

	stale, _, err := svc.EnsureProforma(context.Background(), 1)
	require.NoError(t, err)
	fresh, _, err := svc.EnsureProforma(context.Background(), 2)
	require.NoError(t, err)

	repo.proformas[stale.ID].ValidUntil = testNow.Add(-time.Hour)

	count, err := svc.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	expired, err := repo.GetProforma(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, ProformaStatusExpired, expired.Status)

	untouched, err := repo.GetProforma(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, ProformaStatusPending, untouched.Status)

	count, err = svc.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count, "sweep is idempotent")
}
