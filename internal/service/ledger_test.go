package service

import (
	"context"
	"testing"

	"transfer-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreate(t *testing.T) {
	f := newFakeStore()
	ls := NewLedgerService(f, nil, 3)
	ctx := context.Background()

	level, err := ls.GetOrCreate(ctx, nil, "variant-1", "loc-1")
	require.NoError(t, err)
	require.NotNil(t, level)
	assert.Equal(t, 0, level.OnHand)
	assert.Equal(t, 0, level.Available)
	assert.Equal(t, 0, level.Incoming)

	again, err := ls.GetOrCreate(ctx, nil, "variant-1", "loc-1")
	require.NoError(t, err)
	assert.Equal(t, level.ID, again.ID)
}

func TestReserveAtOriginSkipsMissingRow(t *testing.T) {
	f := newFakeStore()
	ls := NewLedgerService(f, nil, 3)

	level, err := ls.ReserveAtOrigin(context.Background(), nil, "variant-1", "loc-1", 10)
	require.NoError(t, err)
	assert.Nil(t, level, "missing origin row skips the reservation")
	assert.Nil(t, f.level("variant-1", "loc-1"), "skip must not create a row")
}

func TestReserveAtOrigin(t *testing.T) {
	f := newFakeStore()
	f.seedLevel(models.InventoryLevel{ID: "lvl-1", VariantID: "variant-1", LocationID: "loc-1", OnHand: 50})
	ls := NewLedgerService(f, nil, 3)

	level, err := ls.ReserveAtOrigin(context.Background(), nil, "variant-1", "loc-1", 10)
	require.NoError(t, err)
	require.NotNil(t, level)
	assert.Equal(t, 10, level.Unavailable.Other)
	assert.Equal(t, 40, level.Available)
	assert.Equal(t, 50, level.OnHand)
}

func TestMutateRetriesOnVersionConflict(t *testing.T) {
	f := newFakeStore()
	f.seedLevel(models.InventoryLevel{ID: "lvl-1", VariantID: "variant-1", LocationID: "loc-1", OnHand: 50})
	f.forceConflicts = 2
	ls := NewLedgerService(f, nil, 3)

	level, err := ls.ReserveAtOrigin(context.Background(), nil, "variant-1", "loc-1", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, level.Unavailable.Other, "the delta applies exactly once despite retries")
	assert.Equal(t, 10, f.level("variant-1", "loc-1").Unavailable.Other)
}

func TestMutateExhaustsRetries(t *testing.T) {
	f := newFakeStore()
	f.seedLevel(models.InventoryLevel{ID: "lvl-1", VariantID: "variant-1", LocationID: "loc-1", OnHand: 50})
	f.forceConflicts = 10
	ls := NewLedgerService(f, nil, 3)

	_, err := ls.ReserveAtOrigin(context.Background(), nil, "variant-1", "loc-1", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries exhausted")
	assert.Equal(t, 0, f.level("variant-1", "loc-1").Unavailable.Other)
}

func TestReceivePartialLedger(t *testing.T) {
	f := newFakeStore()
	f.seedLevel(models.InventoryLevel{ID: "lvl-1", VariantID: "variant-1", LocationID: "loc-2", Incoming: 10})
	ls := NewLedgerService(f, nil, 3)

	level, err := ls.ReceivePartial(context.Background(), nil, "variant-1", "loc-2", 7, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, level.Incoming)
	assert.Equal(t, 7, level.OnHand)
	assert.Equal(t, 7, level.Available)
}

func TestAdjust(t *testing.T) {
	f := newFakeStore()
	f.seedLevel(models.InventoryLevel{ID: "lvl-1", VariantID: "variant-1", LocationID: "loc-1", OnHand: 20})
	ls := NewLedgerService(f, nil, 3)
	ctx := context.Background()

	onHand := 35
	damaged := 5
	level, err := ls.Adjust(ctx, nil, "lvl-1", &AdjustRequest{OnHand: &onHand, Damaged: &damaged})
	require.NoError(t, err)
	assert.Equal(t, 35, level.OnHand)
	assert.Equal(t, 5, level.Unavailable.Damaged)
	assert.Equal(t, 30, level.Available, "available is always recomputed, never set")
}

func TestAdjustRejectsNegative(t *testing.T) {
	f := newFakeStore()
	f.seedLevel(models.InventoryLevel{ID: "lvl-1", VariantID: "variant-1", LocationID: "loc-1"})
	ls := NewLedgerService(f, nil, 3)

	bad := -1
	_, err := ls.Adjust(context.Background(), nil, "lvl-1", &AdjustRequest{OnHand: &bad})
	assert.IsType(t, &ValidationError{}, err)
}

func TestMirrorAndCachedCounters(t *testing.T) {
	f := newFakeStore()
	f.seedLevel(models.InventoryLevel{ID: "lvl-1", VariantID: "variant-1", LocationID: "loc-1", OnHand: 50})
	cache := newFakeLevelCache()
	ls := NewLedgerService(f, cache, 3)
	ctx := context.Background()

	level, err := ls.ReserveAtOrigin(ctx, nil, "variant-1", "loc-1", 10)
	require.NoError(t, err)
	ls.Mirror(ctx, level)

	onHand, available, incoming, err := ls.CachedCounters(ctx, "variant-1", "loc-1")
	require.NoError(t, err)
	assert.Equal(t, 50, onHand)
	assert.Equal(t, 40, available)
	assert.Equal(t, 0, incoming)

	_, _, _, err = ls.CachedCounters(ctx, "variant-2", "loc-1")
	assert.IsType(t, &NotFoundError{}, err, "unmirrored pairs read as not found")
}

func TestAdjustNotFound(t *testing.T) {
	f := newFakeStore()
	ls := NewLedgerService(f, nil, 3)

	onHand := 10
	_, err := ls.Adjust(context.Background(), nil, "missing", &AdjustRequest{OnHand: &onHand})
	assert.IsType(t, &NotFoundError{}, err)
}
