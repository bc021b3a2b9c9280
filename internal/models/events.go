package models

import "time"

// Event types
const (
	EventTypeTransferReady      = "transfer.ready_to_ship"
	EventTypeTransferDispatched = "transfer.dispatched"
	EventTypeTransferReceived   = "transfer.received"
	EventTypeTransferCancelled  = "transfer.cancelled"
)

// BaseEvent contains fields common to all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// EntryData is a transfer line carried in event payloads
type EntryData struct {
	EntryID   string `json:"entry_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// ReceiptLineData is a per-line receipt outcome carried in receive events
type ReceiptLineData struct {
	EntryID   string `json:"entry_id"`
	VariantID string `json:"variant_id"`
	Accepted  int    `json:"accepted"`
	Rejected  int    `json:"rejected"`
}

// TransferReadyEvent is published when a transfer is marked ready to ship
type TransferReadyEvent struct {
	BaseEvent
	TransferID       string      `json:"transfer_id"`
	StoreID          string      `json:"store_id"`
	OriginLocationID string      `json:"origin_location_id"`
	Entries          []EntryData `json:"entries"`
}

// TransferDispatchedEvent is published when a shipment goes in transit
type TransferDispatchedEvent struct {
	BaseEvent
	TransferID            string      `json:"transfer_id"`
	ShipmentID            string      `json:"shipment_id"`
	OriginLocationID      string      `json:"origin_location_id"`
	DestinationLocationID string      `json:"destination_location_id"`
	Entries               []EntryData `json:"entries"`
}

// TransferReceivedEvent is published when a shipment is received
type TransferReceivedEvent struct {
	BaseEvent
	TransferID            string            `json:"transfer_id"`
	ShipmentID            string            `json:"shipment_id"`
	DestinationLocationID string            `json:"destination_location_id"`
	Lines                 []ReceiptLineData `json:"lines"`
}

// TransferCancelledEvent is published when a transfer is cancelled
type TransferCancelledEvent struct {
	BaseEvent
	TransferID            string      `json:"transfer_id"`
	FromStatus            string      `json:"from_status"`
	OriginLocationID      string      `json:"origin_location_id"`
	DestinationLocationID string      `json:"destination_location_id"`
	Entries               []EntryData `json:"entries"`
}
