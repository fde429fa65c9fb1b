package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-dms/meridian-dms/internal/pricing"
	"github.com/meridian-dms/meridian-dms/internal/shared"
)

const catalogCacheTTL = 5 * time.Minute

// Service resolves customer agreements against live item data.
type Service struct {
	logger *slog.Logger
	repo   Repository
	cache  *redis.Client
	group  singleflight.Group
}

// NewService builds the catalog service. The redis client is optional; a nil
// client disables caching.
func NewService(logger *slog.Logger, repo Repository, cache *redis.Client) *Service {
	return &Service{logger: logger, repo: repo, cache: cache}
}

// GetItem returns a catalog item by id.
func (s *Service) GetItem(ctx context.Context, id int64) (*Item, error) {
	return s.repo.GetItem(ctx, id)
}

// ListItemsByIDs returns catalog items for the given ids.
func (s *Service) ListItemsByIDs(ctx context.Context, ids []int64) ([]Item, error) {
	return s.repo.ListItemsByIDs(ctx, ids)
}

// ListAgreementItems resolves a customer's agreement entries against live
// item data, filtering to active items and merging the customer-specific
// price/discount with the resolved final price. Customers without an
// agreement get an empty catalog.
func (s *Service) ListAgreementItems(ctx context.Context, customerID int64) ([]CatalogEntry, error) {
	key := fmt.Sprintf("catalog:agreement:%d", customerID)

	if entries, ok := s.cacheGet(ctx, key); ok {
		return entries, nil
	}

	result, err, _ := s.group.Do(key, func() (any, error) {
		entries, err := s.buildAgreementCatalog(ctx, customerID)
		if err != nil {
			return nil, err
		}
		s.cacheSet(ctx, key, entries)
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]CatalogEntry), nil
}

func (s *Service) buildAgreementCatalog(ctx context.Context, customerID int64) ([]CatalogEntry, error) {
	agreement, err := s.repo.GetAgreementByCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return []CatalogEntry{}, nil
		}
		return nil, fmt.Errorf("get agreement: %w", err)
	}

	ids := make([]int64, 0, len(agreement.Entries))
	for _, e := range agreement.Entries {
		ids = append(ids, e.ItemID)
	}
	items, err := s.repo.ListItemsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve agreement items: %w", err)
	}
	byID := make(map[int64]Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	entries := make([]CatalogEntry, 0, len(agreement.Entries))
	for _, e := range agreement.Entries {
		it, ok := byID[e.ItemID]
		if !ok || it.Status != ItemStatusActive {
			continue
		}
		finalPrice, err := pricing.Resolve(e.Price, e.Discount)
		if err != nil {
			return nil, fmt.Errorf("agreement entry for item %d: %w", e.ItemID, err)
		}
		entries = append(entries, CatalogEntry{
			ItemID:     it.ID,
			ItemName:   it.Name,
			ItemCode:   it.ItemCode,
			Category:   it.Category,
			Unit:       it.Unit,
			TaxRate:    it.TaxRate,
			Price:      e.Price,
			Discount:   e.Discount,
			FinalPrice: finalPrice,
		})
	}
	return entries, nil
}

func (s *Service) cacheGet(ctx context.Context, key string) ([]CatalogEntry, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("catalog cache read failed", slog.Any("error", err))
		}
		return nil, false
	}
	var entries []CatalogEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}
	return entries, true
}

func (s *Service) cacheSet(ctx context.Context, key string, entries []CatalogEntry) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, catalogCacheTTL).Err(); err != nil {
		s.logger.Warn("catalog cache write failed", slog.Any("error", err))
	}
}
