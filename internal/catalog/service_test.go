package catalog

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-dms/meridian-dms/internal/shared"
)

type mockRepository struct {
	items      map[int64]*Item
	agreements map[int64]*Agreement

	agreementCalls int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		items:      make(map[int64]*Item),
		agreements: make(map[int64]*Agreement),
	}
}

func (m *mockRepository) GetItem(ctx context.Context, id int64) (*Item, error) {
	it, ok := m.items[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return it, nil
}

func (m *mockRepository) ListItemsByIDs(ctx context.Context, ids []int64) ([]Item, error) {
	var out []Item
	for _, id := range ids {
		if it, ok := m.items[id]; ok {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (m *mockRepository) GetAgreementByCustomer(ctx context.Context, customerID int64) (*Agreement, error) {
	m.agreementCalls++
	a, ok := m.agreements[customerID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return a, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func strPtr(s string) *string { return &s }

func seedRepo() *mockRepository {
	repo := newMockRepository()
	repo.items[1] = &Item{ID: 1, Name: "Widget", ItemCode: strPtr("WID-01"), Unit: "pcs", UnitPrice: 120, TaxRate: 18, Status: ItemStatusActive}
	repo.items[2] = &Item{ID: 2, Name: "Gadget", Unit: "pcs", UnitPrice: 80, TaxRate: 12, Status: ItemStatusInactive}
	repo.agreements[7] = &Agreement{
		ID:         1,
		CustomerID: 7,
		Entries: []AgreementEntry{
			{ItemID: 1, Price: 100, Discount: 10},
			{ItemID: 2, Price: 70, Discount: 5},
			{ItemID: 99, Price: 10, Discount: 0}, // item no longer in catalog
		},
	}
	return repo
}

func TestListAgreementItems(t *testing.T) {
	ctx := context.Background()

	t.Run("merges agreement pricing with active items only", func(t *testing.T) {
		repo := seedRepo()
		svc := NewService(testLogger(), repo, nil)

		entries, err := svc.ListAgreementItems(ctx, 7)
		require.NoError(t, err)
		require.Len(t, entries, 1)

		e := entries[0]
		assert.Equal(t, int64(1), e.ItemID)
		assert.Equal(t, "Widget", e.ItemName)
		require.NotNil(t, e.ItemCode)
		assert.Equal(t, "WID-01", *e.ItemCode)
		assert.Equal(t, 100.0, e.Price)
		assert.Equal(t, 10.0, e.Discount)
		assert.Equal(t, 90.0, e.FinalPrice)
		assert.Equal(t, 18.0, e.TaxRate)
	})

	t.Run("customer without agreement gets empty catalog", func(t *testing.T) {
		svc := NewService(testLogger(), newMockRepository(), nil)
		entries, err := svc.ListAgreementItems(ctx, 42)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("serves repeated reads from cache", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		repo := seedRepo()
		svc := NewService(testLogger(), repo, client)

		first, err := svc.ListAgreementItems(ctx, 7)
		require.NoError(t, err)
		second, err := svc.ListAgreementItems(ctx, 7)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, repo.agreementCalls)
		assert.True(t, mr.Exists("catalog:agreement:7"))
	})

	t.Run("cache expiry rebuilds from store", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		repo := seedRepo()
		svc := NewService(testLogger(), repo, client)

		_, err := svc.ListAgreementItems(ctx, 7)
		require.NoError(t, err)
		mr.FastForward(catalogCacheTTL * 2)

		_, err = svc.ListAgreementItems(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, 2, repo.agreementCalls)
	})

	t.Run("invalid stored discount surfaces validation error", func(t *testing.T) {
		repo := seedRepo()
		repo.agreements[7].Entries[0].Discount = 120
		svc := NewService(testLogger(), repo, nil)

		_, err := svc.ListAgreementItems(ctx, 7)
		require.ErrorIs(t, err, shared.ErrValidation)
	})
}
