package service

import (
	"context"
	"errors"
	"fmt"

	"transfer-service/internal/models"
	"transfer-service/internal/store"
	"transfer-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LevelStore is the persistence surface the ledger needs.
type LevelStore interface {
	GetLevel(ctx context.Context, q store.Queryer, variantID, locationID string) (*models.InventoryLevel, error)
	GetLevelByID(ctx context.Context, q store.Queryer, id string) (*models.InventoryLevel, error)
	CreateLevel(ctx context.Context, q store.Queryer, level *models.InventoryLevel) error
	SaveLevel(ctx context.Context, q store.Queryer, level *models.InventoryLevel) error
	ListLevelsByLocation(ctx context.Context, q store.Queryer, locationID string) ([]models.InventoryLevel, error)
}

// LevelCache mirrors committed levels into a read model and serves them back
// for callers that tolerate slightly stale counters.
type LevelCache interface {
	CacheLevel(ctx context.Context, level *models.InventoryLevel) error
	GetCachedLevel(ctx context.Context, variantID, locationID string) (onHand, available, incoming int, err error)
}

// LedgerService maintains the per-(variant, location) counters. All
// mutations go through a load-mutate-save cycle with a version
// compare-and-swap, retried on conflict so concurrent writers against the
// same row stay safe.
type LedgerService struct {
	store      LevelStore
	cache      LevelCache
	logger     *zap.Logger
	maxRetries int
}

// NewLedgerService creates a new ledger service
func NewLedgerService(levelStore LevelStore, cache LevelCache, maxRetries int) *LedgerService {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &LedgerService{
		store:      levelStore,
		cache:      cache,
		logger:     util.GetLogger(),
		maxRetries: maxRetries,
	}
}

// GetOrCreate returns the ledger row for a (variant, location) pair,
// creating a zeroed row on first use.
func (ls *LedgerService) GetOrCreate(ctx context.Context, q store.Queryer, variantID, locationID string) (*models.InventoryLevel, error) {
	level, err := ls.store.GetLevel(ctx, q, variantID, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load inventory level: %w", err)
	}
	if level != nil {
		return level, nil
	}

	level = &models.InventoryLevel{
		ID:         uuid.New().String(),
		VariantID:  variantID,
		LocationID: locationID,
	}
	if err := ls.store.CreateLevel(ctx, q, level); err != nil {
		return nil, fmt.Errorf("failed to create inventory level: %w", err)
	}

	// A concurrent creator may have won the insert; re-read either way.
	level, err = ls.store.GetLevel(ctx, q, variantID, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload inventory level: %w", err)
	}
	if level == nil {
		return nil, fmt.Errorf("inventory level vanished after create: %s at %s", variantID, locationID)
	}
	return level, nil
}

// mutate applies fn to the level and saves it, retrying on version conflict.
// fn returns the names of counters it clamped at zero.
func (ls *LedgerService) mutate(ctx context.Context, q store.Queryer, variantID, locationID string, fn func(*models.InventoryLevel) []string) (*models.InventoryLevel, error) {
	for attempt := 0; attempt < ls.maxRetries; attempt++ {
		level, err := ls.GetOrCreate(ctx, q, variantID, locationID)
		if err != nil {
			return nil, err
		}

		clamped := fn(level)

		err = ls.store.SaveLevel(ctx, q, level)
		if errors.Is(err, store.ErrVersionConflict) {
			util.LedgerCASConflictsTotal.Inc()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to save inventory level: %w", err)
		}

		for _, field := range clamped {
			util.LedgerClampsTotal.WithLabelValues(field).Inc()
			ls.logger.Warn("Ledger decrement clamped at zero",
				zap.String("variant_id", variantID),
				zap.String("location_id", locationID),
				zap.String("field", field))
		}
		return level, nil
	}

	return nil, fmt.Errorf("inventory level contention for %s at %s: retries exhausted", variantID, locationID)
}

// ReserveAtOrigin removes qty units from sellable availability at the origin
// by parking them in the unavailable "other" bucket. Entries whose origin has
// no ledger row yet are skipped, matching the tolerated gap in the admin
// workflow; the returned level is nil in that case.
func (ls *LedgerService) ReserveAtOrigin(ctx context.Context, q store.Queryer, variantID, locationID string, qty int) (*models.InventoryLevel, error) {
	existing, err := ls.store.GetLevel(ctx, q, variantID, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load inventory level: %w", err)
	}
	if existing == nil {
		ls.logger.Warn("No ledger row at origin, skipping reservation",
			zap.String("variant_id", variantID),
			zap.String("location_id", locationID))
		return nil, nil
	}

	return ls.mutate(ctx, q, variantID, locationID, func(l *models.InventoryLevel) []string {
		l.Reserve(qty)
		return nil
	})
}

// ReleaseAndShip undoes the transfer reservation and removes the shipped
// units from on-hand at the origin.
func (ls *LedgerService) ReleaseAndShip(ctx context.Context, q store.Queryer, variantID, originID string, qty int) (*models.InventoryLevel, error) {
	return ls.mutate(ctx, q, variantID, originID, func(l *models.InventoryLevel) []string {
		return l.ReleaseAndShip(qty)
	})
}

// IncreaseIncoming records qty units en route to the destination, creating
// its ledger row if missing.
func (ls *LedgerService) IncreaseIncoming(ctx context.Context, q store.Queryer, variantID, destinationID string, qty int) (*models.InventoryLevel, error) {
	return ls.mutate(ctx, q, variantID, destinationID, func(l *models.InventoryLevel) []string {
		l.AddIncoming(qty)
		return nil
	})
}

// ReceivePartial books accepted units into on-hand at the destination and
// clears processed units from incoming. Rejected units leave the ledger.
func (ls *LedgerService) ReceivePartial(ctx context.Context, q store.Queryer, variantID, destinationID string, accepted, processed int) (*models.InventoryLevel, error) {
	return ls.mutate(ctx, q, variantID, destinationID, func(l *models.InventoryLevel) []string {
		return l.Receive(accepted, processed)
	})
}

// ReleaseReservation undoes a transfer reservation at the origin without
// moving stock, used on cancellation from ready_to_ship.
func (ls *LedgerService) ReleaseReservation(ctx context.Context, q store.Queryer, variantID, originID string, qty int) (*models.InventoryLevel, error) {
	return ls.mutate(ctx, q, variantID, originID, func(l *models.InventoryLevel) []string {
		return l.ReleaseReservation(qty)
	})
}

// ReturnToOrigin books qty units back into on-hand at the origin, used on
// cancellation from in_progress.
func (ls *LedgerService) ReturnToOrigin(ctx context.Context, q store.Queryer, variantID, originID string, qty int) (*models.InventoryLevel, error) {
	return ls.mutate(ctx, q, variantID, originID, func(l *models.InventoryLevel) []string {
		l.ReturnToStock(qty)
		return nil
	})
}

// DropIncoming clears qty units from incoming at the destination, used on
// cancellation from in_progress.
func (ls *LedgerService) DropIncoming(ctx context.Context, q store.Queryer, variantID, destinationID string, qty int) (*models.InventoryLevel, error) {
	return ls.mutate(ctx, q, variantID, destinationID, func(l *models.InventoryLevel) []string {
		return l.DropIncoming(qty)
	})
}

// AdjustRequest carries a manual ledger correction. Nil fields are left
// untouched; available is always recomputed, never settable.
type AdjustRequest struct {
	OnHand         *int `json:"onHand"`
	Committed      *int `json:"committed"`
	Damaged        *int `json:"damaged"`
	QualityControl *int `json:"qualityControl"`
	SafetyStock    *int `json:"safetyStock"`
	Other          *int `json:"other"`
	Incoming       *int `json:"incoming"`
}

// Adjust applies a manual correction to a ledger row by id, bypassing the
// transfer workflow.
func (ls *LedgerService) Adjust(ctx context.Context, q store.Queryer, levelID string, req *AdjustRequest) (*models.InventoryLevel, error) {
	fields := map[string]*int{
		"onHand":         req.OnHand,
		"committed":      req.Committed,
		"damaged":        req.Damaged,
		"qualityControl": req.QualityControl,
		"safetyStock":    req.SafetyStock,
		"other":          req.Other,
		"incoming":       req.Incoming,
	}
	for name, v := range fields {
		if v != nil && *v < 0 {
			return nil, validationf("%s must not be negative", name)
		}
	}

	for attempt := 0; attempt < ls.maxRetries; attempt++ {
		level, err := ls.store.GetLevelByID(ctx, q, levelID)
		if err != nil {
			return nil, fmt.Errorf("failed to load inventory level: %w", err)
		}
		if level == nil {
			return nil, notFoundf("inventory level not found: %s", levelID)
		}

		if req.OnHand != nil {
			level.OnHand = *req.OnHand
		}
		if req.Committed != nil {
			level.Committed = *req.Committed
		}
		if req.Damaged != nil {
			level.Unavailable.Damaged = *req.Damaged
		}
		if req.QualityControl != nil {
			level.Unavailable.QualityControl = *req.QualityControl
		}
		if req.SafetyStock != nil {
			level.Unavailable.SafetyStock = *req.SafetyStock
		}
		if req.Other != nil {
			level.Unavailable.Other = *req.Other
		}
		if req.Incoming != nil {
			level.Incoming = *req.Incoming
		}
		level.Recompute()

		err = ls.store.SaveLevel(ctx, q, level)
		if errors.Is(err, store.ErrVersionConflict) {
			util.LedgerCASConflictsTotal.Inc()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to save inventory level: %w", err)
		}

		ls.Mirror(ctx, level)
		return level, nil
	}

	return nil, fmt.Errorf("inventory level contention for %s: retries exhausted", levelID)
}

// ListByLocation retrieves all ledger rows at a location.
func (ls *LedgerService) ListByLocation(ctx context.Context, q store.Queryer, locationID string) ([]models.InventoryLevel, error) {
	return ls.store.ListLevelsByLocation(ctx, q, locationID)
}

// CachedCounters reads the mirrored counters for one (variant, location)
// pair. A pair that was never mirrored, or a cache miss, reads as not found;
// Postgres via ListByLocation stays the authoritative path.
func (ls *LedgerService) CachedCounters(ctx context.Context, variantID, locationID string) (onHand, available, incoming int, err error) {
	if ls.cache == nil {
		return 0, 0, 0, notFoundf("no cached counters for %s at %s", variantID, locationID)
	}
	onHand, available, incoming, err = ls.cache.GetCachedLevel(ctx, variantID, locationID)
	if err != nil {
		return 0, 0, 0, notFoundf("no cached counters for %s at %s", variantID, locationID)
	}
	return onHand, available, incoming, nil
}

// Mirror pushes committed levels into the read cache, best effort.
func (ls *LedgerService) Mirror(ctx context.Context, levels ...*models.InventoryLevel) {
	if ls.cache == nil {
		return
	}
	for _, level := range levels {
		if level == nil {
			continue
		}
		if err := ls.cache.CacheLevel(ctx, level); err != nil {
			ls.logger.Warn("Failed to mirror level to cache",
				zap.String("variant_id", level.VariantID),
				zap.String("location_id", level.LocationID),
				zap.Error(err))
		}
	}
}
