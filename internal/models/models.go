package models

import (
	"time"

	"github.com/lib/pq"
)

// UnavailableBreakdown splits on-hand units that are excluded from
// availability by reason. "Other" carries transfer reservations.
type UnavailableBreakdown struct {
	Damaged        int `db:"damaged" json:"damaged"`
	QualityControl int `db:"quality_control" json:"qualityControl"`
	SafetyStock    int `db:"safety_stock" json:"safetyStock"`
	Other          int `db:"other" json:"other"`
}

// Total returns the sum of all unavailable counters.
func (u UnavailableBreakdown) Total() int {
	return u.Damaged + u.QualityControl + u.SafetyStock + u.Other
}

// InventoryLevel is the ledger row for one (variant, location) pair.
// Available is derived and recomputed on every mutation; Version backs
// the conditional update on save.
type InventoryLevel struct {
	ID          string               `db:"id" json:"id"`
	VariantID   string               `db:"variant_id" json:"variantId"`
	LocationID  string               `db:"location_id" json:"locationId"`
	OnHand      int                  `db:"on_hand" json:"onHand"`
	Committed   int                  `db:"committed" json:"committed"`
	Unavailable UnavailableBreakdown `db:"unavailable" json:"unavailable"`
	Available   int                  `db:"available" json:"available"`
	Incoming    int                  `db:"incoming" json:"incoming"`
	Version     int64                `db:"version" json:"-"`
	UpdatedAt   time.Time            `db:"updated_at" json:"updatedAt"`
}

// SaturatingSub returns max(0, a-b) and whether the result was clamped.
// Decrements never underflow; clamps are surfaced so callers can count them.
func SaturatingSub(a, b int) (int, bool) {
	if b > a {
		return 0, true
	}
	return a - b, false
}

// Recompute derives Available from the other counters.
func (l *InventoryLevel) Recompute() {
	available := l.OnHand - l.Committed - l.Unavailable.Total()
	if available < 0 {
		available = 0
	}
	l.Available = available
}

// Reserve marks qty units as reserved for an outbound transfer
// (unavailable "other" bucket) and recomputes availability.
func (l *InventoryLevel) Reserve(qty int) {
	l.Unavailable.Other += qty
	l.Recompute()
}

// ReleaseAndShip undoes a transfer reservation and removes the units from
// on-hand because they have physically left the location. Returns the names
// of counters that were clamped at zero.
func (l *InventoryLevel) ReleaseAndShip(qty int) []string {
	var clamped []string

	var c bool
	l.Unavailable.Other, c = SaturatingSub(l.Unavailable.Other, qty)
	if c {
		clamped = append(clamped, "unavailable_other")
	}

	l.OnHand, c = SaturatingSub(l.OnHand, qty)
	if c {
		clamped = append(clamped, "on_hand")
	}

	l.Recompute()
	return clamped
}

// AddIncoming records qty units en route to this location.
func (l *InventoryLevel) AddIncoming(qty int) {
	l.Incoming += qty
}

// Receive books accepted units into on-hand and clears processed units from
// incoming. Rejected units (processed - accepted) leave the ledger entirely.
func (l *InventoryLevel) Receive(accepted, processed int) []string {
	var clamped []string

	var c bool
	l.Incoming, c = SaturatingSub(l.Incoming, processed)
	if c {
		clamped = append(clamped, "incoming")
	}

	l.OnHand += accepted
	l.Recompute()
	return clamped
}

// ReturnToStock books qty units back into on-hand, used when an in-transit
// transfer is cancelled and goods come back to the origin.
func (l *InventoryLevel) ReturnToStock(qty int) {
	l.OnHand += qty
	l.Recompute()
}

// ReleaseReservation undoes a transfer reservation without moving stock,
// used when a ready-to-ship transfer is cancelled.
func (l *InventoryLevel) ReleaseReservation(qty int) []string {
	var clamped []string

	var c bool
	l.Unavailable.Other, c = SaturatingSub(l.Unavailable.Other, qty)
	if c {
		clamped = append(clamped, "unavailable_other")
	}

	l.Recompute()
	return clamped
}

// DropIncoming clears qty units from incoming, used when an in-transit
// transfer is cancelled before receipt.
func (l *InventoryLevel) DropIncoming(qty int) []string {
	var clamped []string

	var c bool
	l.Incoming, c = SaturatingSub(l.Incoming, qty)
	if c {
		clamped = append(clamped, "incoming")
	}

	return clamped
}

// Transfer statuses
const (
	TransferStatusDraft       = "draft"
	TransferStatusReadyToShip = "ready_to_ship"
	TransferStatusInProgress  = "in_progress"
	TransferStatusTransferred = "transferred"
	TransferStatusCancelled   = "cancelled"
)

// Shipment statuses
const (
	ShipmentStatusPending   = "pending"
	ShipmentStatusInTransit = "in_transit"
	ShipmentStatusDelivered = "delivered"
	ShipmentStatusReceived  = "received"
	ShipmentStatusCancelled = "cancelled"
)

// Transfer represents a planned movement of stock between two locations.
type Transfer struct {
	ID                    string         `db:"id" json:"id"`
	StoreID               string         `db:"store_id" json:"storeId"`
	OriginLocationID      string         `db:"origin_location_id" json:"originLocationId"`
	DestinationLocationID string         `db:"destination_location_id" json:"destinationLocationId"`
	ReferenceName         string         `db:"reference_name" json:"referenceName,omitempty"`
	Note                  string         `db:"note" json:"note,omitempty"`
	Tags                  pq.StringArray `db:"tags" json:"tags"`
	Status                string         `db:"status" json:"status"`
	TransferDate          *time.Time     `db:"transfer_date" json:"transferDate,omitempty"`
	ReceivedDate          *time.Time     `db:"received_date" json:"receivedDate,omitempty"`
	CreatedAt             time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt             time.Time      `db:"updated_at" json:"updatedAt"`
}

// TransferEntry is one line of a transfer. Immutable once created; duplicate
// (transfer, variant) pairs are allowed and additive.
type TransferEntry struct {
	ID         string `db:"id" json:"id"`
	TransferID string `db:"transfer_id" json:"transferId"`
	VariantID  string `db:"variant_id" json:"variantId"`
	Quantity   int    `db:"quantity" json:"quantity"`
}

// Shipment is one physical dispatch attempt for a transfer. The newest
// shipment by creation time is authoritative.
type Shipment struct {
	ID                   string     `db:"id" json:"id"`
	TransferID           string     `db:"transfer_id" json:"transferId"`
	TrackingNumber       string     `db:"tracking_number" json:"trackingNumber,omitempty"`
	Carrier              string     `db:"carrier" json:"carrier,omitempty"`
	EstimatedArrivalDate *time.Time `db:"estimated_arrival_date" json:"estimatedArrivalDate,omitempty"`
	ShippedDate          time.Time  `db:"shipped_date" json:"shippedDate"`
	ReceivedDate         *time.Time `db:"received_date" json:"receivedDate,omitempty"`
	Status               string     `db:"status" json:"status"`
	CreatedAt            time.Time  `db:"created_at" json:"createdAt"`
}

var transferStatuses = map[string]bool{
	TransferStatusDraft:       true,
	TransferStatusReadyToShip: true,
	TransferStatusInProgress:  true,
	TransferStatusTransferred: true,
	TransferStatusCancelled:   true,
}

// ValidTransferStatus reports whether s is a known transfer status.
func ValidTransferStatus(s string) bool {
	return transferStatuses[s]
}

var transferTransitions = map[string][]string{
	TransferStatusDraft:       {TransferStatusReadyToShip, TransferStatusCancelled},
	TransferStatusReadyToShip: {TransferStatusInProgress, TransferStatusCancelled},
	TransferStatusInProgress:  {TransferStatusTransferred, TransferStatusCancelled},
}

// CanTransition reports whether a transfer may move from one status to
// another. Same-status writes are permitted as no-ops.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, next := range transferTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Deletable reports whether a transfer may be hard-deleted. Only drafts are;
// everything else must be cancelled.
func (t *Transfer) Deletable() bool {
	return t.Status == TransferStatusDraft
}

// TerminalShipmentStatus reports whether a shipment status is final.
func TerminalShipmentStatus(s string) bool {
	return s == ShipmentStatusReceived || s == ShipmentStatusCancelled
}
