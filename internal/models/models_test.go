package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSaturatingSub(t *testing.T) {
	v, clamped := SaturatingSub(10, 3)
	assert.Equal(t, 7, v)
	assert.False(t, clamped)

	v, clamped = SaturatingSub(3, 10)
	assert.Equal(t, 0, v)
	assert.True(t, clamped)

	v, clamped = SaturatingSub(5, 5)
	assert.Equal(t, 0, v)
	assert.False(t, clamped)
}

func TestRecomputeAvailable(t *testing.T) {
	level := InventoryLevel{
		OnHand:    100,
		Committed: 20,
		Unavailable: UnavailableBreakdown{
			Damaged:     5,
			SafetyStock: 10,
			Other:       15,
		},
	}
	level.Recompute()
	assert.Equal(t, 50, level.Available)

	// Over-committed rows clamp at zero instead of going negative.
	level.Committed = 200
	level.Recompute()
	assert.Equal(t, 0, level.Available)
}

func TestReserveThenReleaseAndShip(t *testing.T) {
	level := InventoryLevel{OnHand: 40, Unavailable: UnavailableBreakdown{Other: 3}}
	level.Recompute()
	assert.Equal(t, 37, level.Available)

	level.Reserve(10)
	assert.Equal(t, 13, level.Unavailable.Other)
	assert.Equal(t, 27, level.Available)
	assert.Equal(t, 40, level.OnHand)

	clamped := level.ReleaseAndShip(10)
	assert.Empty(t, clamped)
	assert.Equal(t, 3, level.Unavailable.Other, "reservation returns to pre-reserve value")
	assert.Equal(t, 30, level.OnHand, "on-hand drops by exactly the shipped quantity")
	assert.Equal(t, 27, level.Available)
}

func TestReleaseAndShipClampsAtZero(t *testing.T) {
	level := InventoryLevel{OnHand: 4}
	level.Recompute()

	clamped := level.ReleaseAndShip(10)
	assert.ElementsMatch(t, []string{"unavailable_other", "on_hand"}, clamped)
	assert.Equal(t, 0, level.OnHand)
	assert.Equal(t, 0, level.Unavailable.Other)
	assert.Equal(t, 0, level.Available)
}

func TestReceivePartial(t *testing.T) {
	level := InventoryLevel{Incoming: 10}

	clamped := level.Receive(7, 10)
	assert.Empty(t, clamped)
	assert.Equal(t, 0, level.Incoming)
	assert.Equal(t, 7, level.OnHand)
	assert.Equal(t, 7, level.Available)
}

func TestReceiveClampsIncoming(t *testing.T) {
	level := InventoryLevel{Incoming: 2}

	clamped := level.Receive(5, 5)
	assert.Equal(t, []string{"incoming"}, clamped)
	assert.Equal(t, 0, level.Incoming)
	assert.Equal(t, 5, level.OnHand)
}

func TestCountersNeverNegative(t *testing.T) {
	level := InventoryLevel{OnHand: 5, Committed: 2, Incoming: 1}
	level.Recompute()

	ops := []func(){
		func() { level.ReleaseAndShip(100) },
		func() { level.Receive(0, 100) },
		func() { level.ReleaseReservation(100) },
		func() { level.DropIncoming(100) },
		func() { level.Reserve(3) },
		func() { level.ReleaseAndShip(50) },
	}

	for _, op := range ops {
		op()
		assert.GreaterOrEqual(t, level.OnHand, 0)
		assert.GreaterOrEqual(t, level.Committed, 0)
		assert.GreaterOrEqual(t, level.Incoming, 0)
		assert.GreaterOrEqual(t, level.Available, 0)
		assert.GreaterOrEqual(t, level.Unavailable.Damaged, 0)
		assert.GreaterOrEqual(t, level.Unavailable.QualityControl, 0)
		assert.GreaterOrEqual(t, level.Unavailable.SafetyStock, 0)
		assert.GreaterOrEqual(t, level.Unavailable.Other, 0)

		want := level.OnHand - level.Committed - level.Unavailable.Total()
		if want < 0 {
			want = 0
		}
		assert.Equal(t, want, level.Available, "available must track the derivation formula")
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{TransferStatusDraft, TransferStatusReadyToShip, true},
		{TransferStatusDraft, TransferStatusCancelled, true},
		{TransferStatusDraft, TransferStatusTransferred, false},
		{TransferStatusReadyToShip, TransferStatusInProgress, true},
		{TransferStatusReadyToShip, TransferStatusDraft, false},
		{TransferStatusInProgress, TransferStatusTransferred, true},
		{TransferStatusInProgress, TransferStatusCancelled, true},
		{TransferStatusTransferred, TransferStatusCancelled, false},
		{TransferStatusCancelled, TransferStatusDraft, false},
		{TransferStatusDraft, TransferStatusDraft, true},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestValidTransferStatus(t *testing.T) {
	assert.True(t, ValidTransferStatus(TransferStatusDraft))
	assert.True(t, ValidTransferStatus(TransferStatusCancelled))
	assert.False(t, ValidTransferStatus("shipped"))
	assert.False(t, ValidTransferStatus(""))
}

func TestDeletable(t *testing.T) {
	transfer := Transfer{Status: TransferStatusDraft}
	assert.True(t, transfer.Deletable())

	for _, status := range []string{
		TransferStatusReadyToShip, TransferStatusInProgress,
		TransferStatusTransferred, TransferStatusCancelled,
	} {
		transfer.Status = status
		assert.False(t, transfer.Deletable(), status)
	}
}

func TestTerminalShipmentStatus(t *testing.T) {
	assert.True(t, TerminalShipmentStatus(ShipmentStatusReceived))
	assert.True(t, TerminalShipmentStatus(ShipmentStatusCancelled))
	assert.False(t, TerminalShipmentStatus(ShipmentStatusPending))
	assert.False(t, TerminalShipmentStatus(ShipmentStatusInTransit))
	assert.False(t, TerminalShipmentStatus(ShipmentStatusDelivered))
}
