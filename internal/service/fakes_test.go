package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"transfer-service/internal/models"
	"transfer-service/internal/store"

	"github.com/jmoiron/sqlx"
)

// fakeStore is an in-memory stand-in for store.Store. Reads hand out copies
// so the CAS retry path behaves like the real load-then-save cycle.
type fakeStore struct {
	levels    map[string]*models.InventoryLevel // keyed by variant|location
	levelIdx  map[string]string                 // level id -> pair key
	transfers map[string]*models.Transfer
	entries   map[string][]models.TransferEntry
	shipments map[string]*models.Shipment

	// forceConflicts makes the next N SaveLevel calls fail with a version
	// conflict regardless of the stored version.
	forceConflicts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		levels:    make(map[string]*models.InventoryLevel),
		levelIdx:  make(map[string]string),
		transfers: make(map[string]*models.Transfer),
		entries:   make(map[string][]models.TransferEntry),
		shipments: make(map[string]*models.Shipment),
	}
}

func pairKey(variantID, locationID string) string {
	return variantID + "|" + locationID
}

func (f *fakeStore) seedLevel(level models.InventoryLevel) {
	if level.Version == 0 {
		level.Version = 1
	}
	level.Recompute()
	f.levels[pairKey(level.VariantID, level.LocationID)] = &level
	f.levelIdx[level.ID] = pairKey(level.VariantID, level.LocationID)
}

func (f *fakeStore) level(variantID, locationID string) *models.InventoryLevel {
	return f.levels[pairKey(variantID, locationID)]
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
}

func (f *fakeStore) GetLevel(_ context.Context, _ store.Queryer, variantID, locationID string) (*models.InventoryLevel, error) {
	l, ok := f.levels[pairKey(variantID, locationID)]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (f *fakeStore) GetLevelByID(_ context.Context, _ store.Queryer, id string) (*models.InventoryLevel, error) {
	key, ok := f.levelIdx[id]
	if !ok {
		return nil, nil
	}
	cp := *f.levels[key]
	return &cp, nil
}

func (f *fakeStore) CreateLevel(_ context.Context, _ store.Queryer, level *models.InventoryLevel) error {
	key := pairKey(level.VariantID, level.LocationID)
	if _, ok := f.levels[key]; ok {
		return nil
	}
	cp := *level
	cp.Version = 1
	f.levels[key] = &cp
	f.levelIdx[cp.ID] = key
	return nil
}

func (f *fakeStore) SaveLevel(_ context.Context, _ store.Queryer, level *models.InventoryLevel) error {
	if f.forceConflicts > 0 {
		f.forceConflicts--
		return store.ErrVersionConflict
	}
	key, ok := f.levelIdx[level.ID]
	if !ok {
		return store.ErrVersionConflict
	}
	cur := f.levels[key]
	if cur.Version != level.Version {
		return store.ErrVersionConflict
	}
	cp := *level
	cp.Version++
	f.levels[key] = &cp
	level.Version++
	return nil
}

func (f *fakeStore) ListLevelsByLocation(_ context.Context, _ store.Queryer, locationID string) ([]models.InventoryLevel, error) {
	var out []models.InventoryLevel
	for _, l := range f.levels {
		if l.LocationID == locationID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out, nil
}

func (f *fakeStore) CreateTransfer(_ context.Context, _ store.Queryer, transfer *models.Transfer) error {
	cp := *transfer
	f.transfers[transfer.ID] = &cp
	return nil
}

func (f *fakeStore) GetTransferByID(_ context.Context, _ store.Queryer, id string) (*models.Transfer, error) {
	t, ok := f.transfers[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) ListTransfersByStore(_ context.Context, _ store.Queryer, storeID string) ([]models.Transfer, error) {
	var out []models.Transfer
	for _, t := range f.transfers {
		if t.StoreID == storeID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) UpdateTransfer(_ context.Context, _ store.Queryer, transfer *models.Transfer) error {
	cp := *transfer
	f.transfers[transfer.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateTransferStatus(_ context.Context, _ store.Queryer, transferID, status string) error {
	if t, ok := f.transfers[transferID]; ok {
		t.Status = status
		t.UpdatedAt = time.Now()
	}
	return nil
}

func (f *fakeStore) DeleteTransfer(_ context.Context, _ store.Queryer, transferID string) error {
	delete(f.transfers, transferID)
	delete(f.entries, transferID)
	return nil
}

func (f *fakeStore) CreateTransferEntry(_ context.Context, _ store.Queryer, entry *models.TransferEntry) error {
	f.entries[entry.TransferID] = append(f.entries[entry.TransferID], *entry)
	return nil
}

func (f *fakeStore) GetEntriesByTransferID(_ context.Context, _ store.Queryer, transferID string) ([]models.TransferEntry, error) {
	return append([]models.TransferEntry(nil), f.entries[transferID]...), nil
}

func (f *fakeStore) CreateShipment(_ context.Context, _ store.Queryer, shipment *models.Shipment) error {
	cp := *shipment
	f.shipments[shipment.ID] = &cp
	return nil
}

func (f *fakeStore) GetShipmentByID(_ context.Context, _ store.Queryer, id string) (*models.Shipment, error) {
	s, ok := f.shipments[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) GetLatestShipmentByTransferID(_ context.Context, _ store.Queryer, transferID string) (*models.Shipment, error) {
	var latest *models.Shipment
	for _, s := range f.shipments {
		if s.TransferID != transferID {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeStore) UpdateShipment(_ context.Context, _ store.Queryer, shipment *models.Shipment) error {
	cp := *shipment
	f.shipments[shipment.ID] = &cp
	return nil
}

func (f *fakeStore) DeleteShipment(_ context.Context, _ store.Queryer, id string) error {
	delete(f.shipments, id)
	return nil
}

func (f *fakeStore) HasOpenShipment(_ context.Context, _ store.Queryer, transferID string) (bool, error) {
	for _, s := range f.shipments {
		if s.TransferID == transferID && !models.TerminalShipmentStatus(s.Status) {
			return true, nil
		}
	}
	return false, nil
}

// fakeCache is an in-memory TransitionCache.
type fakeCache struct {
	m     map[string]string
	locks map[string]bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{m: make(map[string]string), locks: make(map[string]bool)}
}

func (c *fakeCache) GetIdempotencyKey(_ context.Context, key string) (string, error) {
	return c.m[key], nil
}

func (c *fakeCache) SetIdempotencyKey(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.m[key] = value.(string)
	return nil
}

func (c *fakeCache) AcquireLock(_ context.Context, lockKey string, _ time.Duration) (bool, error) {
	if c.locks[lockKey] {
		return false, nil
	}
	c.locks[lockKey] = true
	return true, nil
}

func (c *fakeCache) ReleaseLock(_ context.Context, lockKey string) error {
	delete(c.locks, lockKey)
	return nil
}

// fakeLevelCache is an in-memory LevelCache.
type fakeLevelCache struct {
	m map[string]*models.InventoryLevel
}

func newFakeLevelCache() *fakeLevelCache {
	return &fakeLevelCache{m: make(map[string]*models.InventoryLevel)}
}

func (c *fakeLevelCache) CacheLevel(_ context.Context, level *models.InventoryLevel) error {
	cp := *level
	c.m[pairKey(level.VariantID, level.LocationID)] = &cp
	return nil
}

func (c *fakeLevelCache) GetCachedLevel(_ context.Context, variantID, locationID string) (int, int, int, error) {
	l, ok := c.m[pairKey(variantID, locationID)]
	if !ok {
		return 0, 0, 0, fmt.Errorf("level not cached for %s at %s", variantID, locationID)
	}
	return l.OnHand, l.Available, l.Incoming, nil
}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	ready      []*models.TransferReadyEvent
	dispatched []*models.TransferDispatchedEvent
	received   []*models.TransferReceivedEvent
	cancelled  []*models.TransferCancelledEvent
}

func (p *recordingPublisher) PublishTransferReady(_ context.Context, e *models.TransferReadyEvent) error {
	p.ready = append(p.ready, e)
	return nil
}

func (p *recordingPublisher) PublishTransferDispatched(_ context.Context, e *models.TransferDispatchedEvent) error {
	p.dispatched = append(p.dispatched, e)
	return nil
}

func (p *recordingPublisher) PublishTransferReceived(_ context.Context, e *models.TransferReceivedEvent) error {
	p.received = append(p.received, e)
	return nil
}

func (p *recordingPublisher) PublishTransferCancelled(_ context.Context, e *models.TransferCancelledEvent) error {
	p.cancelled = append(p.cancelled, e)
	return nil
}
