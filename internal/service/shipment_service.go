package service

import (
	"context"
	"fmt"
	"time"

	"transfer-service/internal/models"
	"transfer-service/internal/store"
	"transfer-service/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ShipmentStore is the persistence surface the shipment workflow needs.
type ShipmentStore interface {
	WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
	GetTransferByID(ctx context.Context, q store.Queryer, id string) (*models.Transfer, error)
	GetEntriesByTransferID(ctx context.Context, q store.Queryer, transferID string) ([]models.TransferEntry, error)
	UpdateTransferStatus(ctx context.Context, q store.Queryer, transferID, status string) error
	UpdateTransfer(ctx context.Context, q store.Queryer, transfer *models.Transfer) error
	CreateShipment(ctx context.Context, q store.Queryer, shipment *models.Shipment) error
	GetShipmentByID(ctx context.Context, q store.Queryer, id string) (*models.Shipment, error)
	GetLatestShipmentByTransferID(ctx context.Context, q store.Queryer, transferID string) (*models.Shipment, error)
	UpdateShipment(ctx context.Context, q store.Queryer, shipment *models.Shipment) error
	DeleteShipment(ctx context.Context, q store.Queryer, id string) error
}

// ShipmentEventPublisher publishes shipment lifecycle events.
type ShipmentEventPublisher interface {
	PublishTransferDispatched(ctx context.Context, event *models.TransferDispatchedEvent) error
	PublishTransferReceived(ctx context.Context, event *models.TransferReceivedEvent) error
}

// ShipmentService owns the shipment record and drives the dispatch and
// receive transitions against the ledger.
type ShipmentService struct {
	store     ShipmentStore
	ledger    *LedgerService
	publisher ShipmentEventPublisher
	idem      TransitionCache
	idemTTL   time.Duration
	logger    *zap.Logger
}

// NewShipmentService creates a new shipment service
func NewShipmentService(
	shipmentStore ShipmentStore,
	ledger *LedgerService,
	publisher ShipmentEventPublisher,
	idem TransitionCache,
	idemTTL time.Duration,
) *ShipmentService {
	return &ShipmentService{
		store:     shipmentStore,
		ledger:    ledger,
		publisher: publisher,
		idem:      idem,
		idemTTL:   idemTTL,
		logger:    util.GetLogger(),
	}
}

// CreateShipmentRequest represents a request to create a shipment
type CreateShipmentRequest struct {
	TransferID           string     `json:"transferId" binding:"required"`
	TrackingNumber       string     `json:"trackingNumber"`
	Carrier              string     `json:"carrier"`
	EstimatedArrivalDate *time.Time `json:"estimatedArrivalDate"`
}

// UpdateShipmentRequest represents a partial shipment metadata update
type UpdateShipmentRequest struct {
	TrackingNumber       *string    `json:"trackingNumber"`
	Carrier              *string    `json:"carrier"`
	EstimatedArrivalDate *time.Time `json:"estimatedArrivalDate"`
	Status               *string    `json:"status"`
}

// ReceiveLine carries the per-entry accept/reject counts for a receipt
type ReceiveLine struct {
	EntryID string `json:"entryId" binding:"required"`
	Accept  int    `json:"accept"`
	Reject  int    `json:"reject"`
}

// Create records a new shipment for an existing transfer. ShippedDate
// defaults to now.
func (ss *ShipmentService) Create(ctx context.Context, req *CreateShipmentRequest) (*models.Shipment, error) {
	ctx, span := util.StartSpan(ctx, "ShipmentService.Create")
	defer span.End()

	transfer, err := ss.store.GetTransferByID(ctx, nil, req.TransferID)
	if err != nil {
		return nil, err
	}
	if transfer == nil {
		return nil, notFoundf("transfer not found: %s", req.TransferID)
	}

	shipment := &models.Shipment{
		ID:                   uuid.New().String(),
		TransferID:           req.TransferID,
		TrackingNumber:       req.TrackingNumber,
		Carrier:              req.Carrier,
		EstimatedArrivalDate: req.EstimatedArrivalDate,
		ShippedDate:          time.Now(),
		Status:               models.ShipmentStatusPending,
		CreatedAt:            time.Now(),
	}

	if err := ss.store.CreateShipment(ctx, nil, shipment); err != nil {
		return nil, fmt.Errorf("failed to create shipment: %w", err)
	}

	ss.logger.Info("Shipment created",
		zap.String("shipment_id", shipment.ID),
		zap.String("transfer_id", req.TransferID))

	return shipment, nil
}

// Get retrieves a shipment by id
func (ss *ShipmentService) Get(ctx context.Context, shipmentID string) (*models.Shipment, error) {
	shipment, err := ss.store.GetShipmentByID(ctx, nil, shipmentID)
	if err != nil {
		return nil, err
	}
	if shipment == nil {
		return nil, notFoundf("shipment not found: %s", shipmentID)
	}
	return shipment, nil
}

// GetLatestForTransfer retrieves the authoritative (newest) shipment for a
// transfer.
func (ss *ShipmentService) GetLatestForTransfer(ctx context.Context, transferID string) (*models.Shipment, error) {
	shipment, err := ss.store.GetLatestShipmentByTransferID(ctx, nil, transferID)
	if err != nil {
		return nil, err
	}
	if shipment == nil {
		return nil, notFoundf("no shipment for transfer: %s", transferID)
	}
	return shipment, nil
}

// MarkInTransit dispatches a pending shipment: every entry quantity leaves
// the origin's on-hand (reservation released) and shows up as incoming at
// the destination. The whole entry loop commits or rolls back as one unit.
func (ss *ShipmentService) MarkInTransit(ctx context.Context, shipmentID, idemKey string) (*models.Shipment, error) {
	ctx, span := util.StartSpan(ctx, "ShipmentService.MarkInTransit")
	defer span.End()

	start := time.Now()
	defer func() {
		util.DispatchLatency.Observe(time.Since(start).Seconds())
	}()

	if done, err := ss.alreadyApplied(ctx, "in-transit", shipmentID, idemKey); err != nil {
		return nil, err
	} else if done {
		return ss.Get(ctx, shipmentID)
	}

	release, err := lockTransition(ctx, ss.idem, "shipment", shipmentID)
	if err != nil {
		return nil, err
	}
	defer release()

	shipment, err := ss.store.GetShipmentByID(ctx, nil, shipmentID)
	if err != nil {
		return nil, err
	}
	if shipment == nil {
		return nil, notFoundf("shipment not found: %s", shipmentID)
	}
	if shipment.Status != models.ShipmentStatusPending {
		util.TransfersFailedTotal.WithLabelValues("illegal_transition").Inc()
		return nil, illegalTransitionf("shipment %s is %s, dispatch requires pending",
			shipmentID, shipment.Status)
	}

	transfer, err := ss.store.GetTransferByID(ctx, nil, shipment.TransferID)
	if err != nil {
		return nil, err
	}
	if transfer == nil {
		return nil, notFoundf("transfer not found: %s", shipment.TransferID)
	}
	if transfer.OriginLocationID == "" || transfer.DestinationLocationID == "" {
		return nil, validationf("transfer %s is missing origin or destination location", transfer.ID)
	}
	if transfer.Status != models.TransferStatusReadyToShip {
		util.TransfersFailedTotal.WithLabelValues("illegal_transition").Inc()
		return nil, illegalTransitionf("transfer %s is %s, dispatch requires ready_to_ship",
			transfer.ID, transfer.Status)
	}

	entries, err := ss.store.GetEntriesByTransferID(ctx, nil, transfer.ID)
	if err != nil {
		return nil, err
	}

	var touched []*models.InventoryLevel
	err = ss.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, entry := range entries {
			origin, err := ss.ledger.ReleaseAndShip(ctx, tx, entry.VariantID, transfer.OriginLocationID, entry.Quantity)
			if err != nil {
				return fmt.Errorf("failed to ship variant %s: %w", entry.VariantID, err)
			}
			dest, err := ss.ledger.IncreaseIncoming(ctx, tx, entry.VariantID, transfer.DestinationLocationID, entry.Quantity)
			if err != nil {
				return fmt.Errorf("failed to record incoming for variant %s: %w", entry.VariantID, err)
			}
			touched = append(touched, origin, dest)
		}

		shipment.Status = models.ShipmentStatusInTransit
		if err := ss.store.UpdateShipment(ctx, tx, shipment); err != nil {
			return fmt.Errorf("failed to update shipment: %w", err)
		}
		return ss.store.UpdateTransferStatus(ctx, tx, transfer.ID, models.TransferStatusInProgress)
	})
	if err != nil {
		util.TransfersFailedTotal.WithLabelValues("dispatch_failed").Inc()
		shipment.Status = models.ShipmentStatusPending
		return nil, err
	}

	ss.ledger.Mirror(ctx, touched...)
	ss.rememberApplied(ctx, "in-transit", shipmentID, idemKey, shipment.Status)

	util.TransfersDispatchedTotal.Inc()
	ss.logger.Info("Shipment dispatched",
		zap.String("shipment_id", shipmentID),
		zap.String("transfer_id", transfer.ID),
		zap.Int("entries", len(entries)))

	if ss.publisher != nil {
		event := &models.TransferDispatchedEvent{
			BaseEvent:             newBaseEvent(models.EventTypeTransferDispatched),
			TransferID:            transfer.ID,
			ShipmentID:            shipmentID,
			OriginLocationID:      transfer.OriginLocationID,
			DestinationLocationID: transfer.DestinationLocationID,
			Entries:               entryData(entries),
		}
		if err := ss.publisher.PublishTransferDispatched(ctx, event); err != nil {
			ss.logger.Error("Failed to publish TransferDispatched event", zap.Error(err))
		}
	}

	return shipment, nil
}

// Receive books an in-transit shipment at the destination. Lines are summed
// per entry first, so duplicate lines cannot book more than the entry
// quantity. For each entry, processed = min(quantity, accept+reject) units
// leave incoming and min(accept, processed) units are booked into on-hand;
// the rest is rejected and dropped from the ledger. Lines naming entries
// that do not belong to the transfer are ignored.
func (ss *ShipmentService) Receive(ctx context.Context, shipmentID string, lines []ReceiveLine, idemKey string) (*models.Shipment, error) {
	ctx, span := util.StartSpan(ctx, "ShipmentService.Receive")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ReceiveLatency.Observe(time.Since(start).Seconds())
	}()

	if done, err := ss.alreadyApplied(ctx, "receive", shipmentID, idemKey); err != nil {
		return nil, err
	} else if done {
		return ss.Get(ctx, shipmentID)
	}

	for _, line := range lines {
		if line.Accept < 0 || line.Reject < 0 {
			return nil, validationf("accept and reject counts must not be negative for entry %s", line.EntryID)
		}
	}

	release, err := lockTransition(ctx, ss.idem, "shipment", shipmentID)
	if err != nil {
		return nil, err
	}
	defer release()

	shipment, err := ss.store.GetShipmentByID(ctx, nil, shipmentID)
	if err != nil {
		return nil, err
	}
	if shipment == nil {
		return nil, notFoundf("shipment not found: %s", shipmentID)
	}
	if shipment.Status != models.ShipmentStatusInTransit && shipment.Status != models.ShipmentStatusDelivered {
		util.TransfersFailedTotal.WithLabelValues("illegal_transition").Inc()
		return nil, illegalTransitionf("shipment %s is %s, receive requires in_transit",
			shipmentID, shipment.Status)
	}

	transfer, err := ss.store.GetTransferByID(ctx, nil, shipment.TransferID)
	if err != nil {
		return nil, err
	}
	if transfer == nil {
		return nil, notFoundf("transfer not found: %s", shipment.TransferID)
	}
	if transfer.DestinationLocationID == "" {
		return nil, validationf("transfer %s is missing destination location", transfer.ID)
	}
	if transfer.Status != models.TransferStatusInProgress {
		util.TransfersFailedTotal.WithLabelValues("illegal_transition").Inc()
		return nil, illegalTransitionf("transfer %s is %s, receive requires in_progress",
			transfer.ID, transfer.Status)
	}

	entries, err := ss.store.GetEntriesByTransferID(ctx, nil, transfer.ID)
	if err != nil {
		return nil, err
	}
	entryByID := make(map[string]models.TransferEntry, len(entries))
	for _, e := range entries {
		entryByID[e.ID] = e
	}

	type receiptCount struct {
		accept int
		reject int
	}
	counts := make(map[string]receiptCount, len(lines))
	for _, line := range lines {
		if _, ok := entryByID[line.EntryID]; !ok {
			ss.logger.Warn("Receive line for unknown entry, ignoring",
				zap.String("shipment_id", shipmentID),
				zap.String("entry_id", line.EntryID))
			continue
		}
		c := counts[line.EntryID]
		c.accept += line.Accept
		c.reject += line.Reject
		counts[line.EntryID] = c
	}

	now := time.Now()
	var eventLines []models.ReceiptLineData
	var touched []*models.InventoryLevel
	err = ss.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, entry := range entries {
			count, ok := counts[entry.ID]
			if !ok {
				continue
			}

			processed := count.accept + count.reject
			if processed > entry.Quantity {
				processed = entry.Quantity
			}
			accepted := count.accept
			if accepted > processed {
				accepted = processed
			}

			level, err := ss.ledger.ReceivePartial(ctx, tx, entry.VariantID, transfer.DestinationLocationID, accepted, processed)
			if err != nil {
				return fmt.Errorf("failed to receive variant %s: %w", entry.VariantID, err)
			}
			touched = append(touched, level)

			eventLines = append(eventLines, models.ReceiptLineData{
				EntryID:   entry.ID,
				VariantID: entry.VariantID,
				Accepted:  accepted,
				Rejected:  processed - accepted,
			})
		}

		shipment.Status = models.ShipmentStatusReceived
		shipment.ReceivedDate = &now
		if err := ss.store.UpdateShipment(ctx, tx, shipment); err != nil {
			return fmt.Errorf("failed to update shipment: %w", err)
		}

		transfer.Status = models.TransferStatusTransferred
		transfer.ReceivedDate = &now
		return ss.store.UpdateTransfer(ctx, tx, transfer)
	})
	if err != nil {
		util.TransfersFailedTotal.WithLabelValues("receive_failed").Inc()
		return nil, err
	}

	ss.ledger.Mirror(ctx, touched...)
	ss.rememberApplied(ctx, "receive", shipmentID, idemKey, shipment.Status)

	util.TransfersReceivedTotal.Inc()
	ss.logger.Info("Shipment received",
		zap.String("shipment_id", shipmentID),
		zap.String("transfer_id", transfer.ID),
		zap.Int("lines", len(eventLines)))

	if ss.publisher != nil {
		event := &models.TransferReceivedEvent{
			BaseEvent:             newBaseEvent(models.EventTypeTransferReceived),
			TransferID:            transfer.ID,
			ShipmentID:            shipmentID,
			DestinationLocationID: transfer.DestinationLocationID,
			Lines:                 eventLines,
		}
		if err := ss.publisher.PublishTransferReceived(ctx, event); err != nil {
			ss.logger.Error("Failed to publish TransferReceived event", zap.Error(err))
		}
	}

	return shipment, nil
}

// Update applies plain field edits to a shipment. No ledger compensation.
func (ss *ShipmentService) Update(ctx context.Context, shipmentID string, req *UpdateShipmentRequest) (*models.Shipment, error) {
	shipment, err := ss.store.GetShipmentByID(ctx, nil, shipmentID)
	if err != nil {
		return nil, err
	}
	if shipment == nil {
		return nil, notFoundf("shipment not found: %s", shipmentID)
	}

	if req.Status != nil {
		switch *req.Status {
		case models.ShipmentStatusPending, models.ShipmentStatusInTransit,
			models.ShipmentStatusDelivered, models.ShipmentStatusReceived,
			models.ShipmentStatusCancelled:
		default:
			return nil, validationf("invalid shipment status: %s", *req.Status)
		}
		if *req.Status != shipment.Status && *req.Status != models.ShipmentStatusDelivered {
			return nil, illegalTransitionf(
				"shipment status cannot be changed directly from %s to %s, use the transition endpoints",
				shipment.Status, *req.Status)
		}
		shipment.Status = *req.Status
	}
	if req.TrackingNumber != nil {
		shipment.TrackingNumber = *req.TrackingNumber
	}
	if req.Carrier != nil {
		shipment.Carrier = *req.Carrier
	}
	if req.EstimatedArrivalDate != nil {
		shipment.EstimatedArrivalDate = req.EstimatedArrivalDate
	}

	if err := ss.store.UpdateShipment(ctx, nil, shipment); err != nil {
		return nil, fmt.Errorf("failed to update shipment: %w", err)
	}

	return shipment, nil
}

// Delete hard-deletes a shipment. Ledger effects already applied by dispatch
// stay applied; cancelling the transfer is the compensating path.
func (ss *ShipmentService) Delete(ctx context.Context, shipmentID string) error {
	shipment, err := ss.store.GetShipmentByID(ctx, nil, shipmentID)
	if err != nil {
		return err
	}
	if shipment == nil {
		return notFoundf("shipment not found: %s", shipmentID)
	}

	if err := ss.store.DeleteShipment(ctx, nil, shipmentID); err != nil {
		return fmt.Errorf("failed to delete shipment: %w", err)
	}

	ss.logger.Info("Shipment deleted", zap.String("shipment_id", shipmentID))
	return nil
}

func (ss *ShipmentService) alreadyApplied(ctx context.Context, op, shipmentID, idemKey string) (bool, error) {
	if ss.idem == nil || idemKey == "" {
		return false, nil
	}
	val, err := ss.idem.GetIdempotencyKey(ctx, fmt.Sprintf("%s:%s:%s", op, shipmentID, idemKey))
	if err != nil {
		ss.logger.Warn("Idempotency lookup failed", zap.Error(err))
		return false, nil
	}
	return val != "", nil
}

func (ss *ShipmentService) rememberApplied(ctx context.Context, op, shipmentID, idemKey, outcome string) {
	if ss.idem == nil || idemKey == "" {
		return
	}
	key := fmt.Sprintf("%s:%s:%s", op, shipmentID, idemKey)
	if err := ss.idem.SetIdempotencyKey(ctx, key, outcome, ss.idemTTL); err != nil {
		ss.logger.Warn("Failed to store idempotency key", zap.Error(err))
	}
}
