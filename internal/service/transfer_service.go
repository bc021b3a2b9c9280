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
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// TransferStore is the persistence surface the transfer workflow needs.
type TransferStore interface {
	WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
	CreateTransfer(ctx context.Context, q store.Queryer, transfer *models.Transfer) error
	GetTransferByID(ctx context.Context, q store.Queryer, id string) (*models.Transfer, error)
	ListTransfersByStore(ctx context.Context, q store.Queryer, storeID string) ([]models.Transfer, error)
	UpdateTransfer(ctx context.Context, q store.Queryer, transfer *models.Transfer) error
	UpdateTransferStatus(ctx context.Context, q store.Queryer, transferID, status string) error
	DeleteTransfer(ctx context.Context, q store.Queryer, transferID string) error
	CreateTransferEntry(ctx context.Context, q store.Queryer, entry *models.TransferEntry) error
	GetEntriesByTransferID(ctx context.Context, q store.Queryer, transferID string) ([]models.TransferEntry, error)
	GetLatestShipmentByTransferID(ctx context.Context, q store.Queryer, transferID string) (*models.Shipment, error)
	UpdateShipment(ctx context.Context, q store.Queryer, shipment *models.Shipment) error
	HasOpenShipment(ctx context.Context, q store.Queryer, transferID string) (bool, error)
}

// TransitionCache deduplicates transition requests by idempotency key and
// serializes concurrent transitions on the same aggregate.
type TransitionCache interface {
	GetIdempotencyKey(ctx context.Context, key string) (string, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// TransferEventPublisher publishes transfer lifecycle events.
type TransferEventPublisher interface {
	PublishTransferReady(ctx context.Context, event *models.TransferReadyEvent) error
	PublishTransferCancelled(ctx context.Context, event *models.TransferCancelledEvent) error
}

// TransferService owns the transfer aggregate and its state machine.
type TransferService struct {
	store     TransferStore
	ledger    *LedgerService
	publisher TransferEventPublisher
	idem      TransitionCache
	idemTTL   time.Duration
	logger    *zap.Logger
}

// NewTransferService creates a new transfer service
func NewTransferService(
	transferStore TransferStore,
	ledger *LedgerService,
	publisher TransferEventPublisher,
	idem TransitionCache,
	idemTTL time.Duration,
) *TransferService {
	return &TransferService{
		store:     transferStore,
		ledger:    ledger,
		publisher: publisher,
		idem:      idem,
		idemTTL:   idemTTL,
		logger:    util.GetLogger(),
	}
}

// CreateTransferRequest represents a request to create a transfer
type CreateTransferRequest struct {
	StoreID               string                 `json:"storeId" binding:"required"`
	OriginLocationID      string                 `json:"originLocationId" binding:"required"`
	DestinationLocationID string                 `json:"destinationLocationId" binding:"required"`
	ReferenceName         string                 `json:"referenceName"`
	Note                  string                 `json:"note"`
	Tags                  []string               `json:"tags"`
	TransferDate          *time.Time             `json:"transferDate"`
	Entries               []TransferEntryRequest `json:"entries" binding:"required,min=1"`
}

// TransferEntryRequest represents one line of a transfer
type TransferEntryRequest struct {
	VariantID string `json:"variantId" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

// UpdateTransferRequest represents a partial metadata update. Nil fields are
// left untouched. Status is validated but read-only here; the guarded
// transition endpoints are the only write path for it.
type UpdateTransferRequest struct {
	ReferenceName *string    `json:"referenceName"`
	Note          *string    `json:"note"`
	Tags          *[]string  `json:"tags"`
	Status        *string    `json:"status"`
	TransferDate  *time.Time `json:"transferDate"`
	ReceivedDate  *time.Time `json:"receivedDate"`
}

// TransferWithEntries is a transfer aggregate with its line items
type TransferWithEntries struct {
	Transfer *models.Transfer       `json:"transfer"`
	Entries  []models.TransferEntry `json:"entries"`
}

// Create creates a transfer in draft with its entries. No ledger effect.
func (ts *TransferService) Create(ctx context.Context, req *CreateTransferRequest) (*TransferWithEntries, error) {
	ctx, span := util.StartSpan(ctx, "TransferService.Create")
	defer span.End()

	if req.OriginLocationID == req.DestinationLocationID {
		util.TransfersFailedTotal.WithLabelValues("same_location").Inc()
		return nil, validationf("origin and destination locations must differ")
	}
	if len(req.Entries) == 0 {
		return nil, validationf("transfer requires at least one entry")
	}
	for _, entry := range req.Entries {
		if entry.Quantity <= 0 {
			util.TransfersFailedTotal.WithLabelValues("bad_quantity").Inc()
			return nil, validationf("entry quantity must be positive for variant %s", entry.VariantID)
		}
	}

	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}

	transfer := &models.Transfer{
		ID:                    uuid.New().String(),
		StoreID:               req.StoreID,
		OriginLocationID:      req.OriginLocationID,
		DestinationLocationID: req.DestinationLocationID,
		ReferenceName:         req.ReferenceName,
		Note:                  req.Note,
		Tags:                  pq.StringArray(tags),
		Status:                models.TransferStatusDraft,
		TransferDate:          req.TransferDate,
		CreatedAt:             time.Now(),
		UpdatedAt:             time.Now(),
	}

	entries := make([]models.TransferEntry, 0, len(req.Entries))
	err := ts.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := ts.store.CreateTransfer(ctx, tx, transfer); err != nil {
			return fmt.Errorf("failed to create transfer: %w", err)
		}
		for _, er := range req.Entries {
			entry := models.TransferEntry{
				ID:         uuid.New().String(),
				TransferID: transfer.ID,
				VariantID:  er.VariantID,
				Quantity:   er.Quantity,
			}
			if err := ts.store.CreateTransferEntry(ctx, tx, &entry); err != nil {
				return fmt.Errorf("failed to create transfer entry: %w", err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		util.TransfersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, err
	}

	util.TransfersCreatedTotal.Inc()
	ts.logger.Info("Transfer created",
		zap.String("transfer_id", transfer.ID),
		zap.String("store_id", transfer.StoreID),
		zap.Int("entries", len(entries)))

	return &TransferWithEntries{Transfer: transfer, Entries: entries}, nil
}

// Get retrieves a transfer with its entries
func (ts *TransferService) Get(ctx context.Context, transferID string) (*TransferWithEntries, error) {
	transfer, err := ts.store.GetTransferByID(ctx, nil, transferID)
	if err != nil {
		return nil, err
	}
	if transfer == nil {
		return nil, notFoundf("transfer not found: %s", transferID)
	}

	entries, err := ts.store.GetEntriesByTransferID(ctx, nil, transferID)
	if err != nil {
		return nil, err
	}

	return &TransferWithEntries{Transfer: transfer, Entries: entries}, nil
}

// ListByStore retrieves all transfers for a store, newest first
func (ts *TransferService) ListByStore(ctx context.Context, storeID string) ([]models.Transfer, error) {
	return ts.store.ListTransfersByStore(ctx, nil, storeID)
}

// Update applies a partial metadata update. Status writes outside the guarded
// transitions are rejected; the admin UI must use the transition endpoints.
func (ts *TransferService) Update(ctx context.Context, transferID string, req *UpdateTransferRequest) (*models.Transfer, error) {
	ctx, span := util.StartSpan(ctx, "TransferService.Update")
	defer span.End()

	transfer, err := ts.store.GetTransferByID(ctx, nil, transferID)
	if err != nil {
		return nil, err
	}
	if transfer == nil {
		return nil, notFoundf("transfer not found: %s", transferID)
	}

	if req.Status != nil {
		if !models.ValidTransferStatus(*req.Status) {
			return nil, validationf("invalid transfer status: %s", *req.Status)
		}
		if *req.Status != transfer.Status {
			return nil, illegalTransitionf(
				"status cannot be changed directly from %s to %s, use the transition endpoints",
				transfer.Status, *req.Status)
		}
	}

	if req.ReferenceName != nil {
		transfer.ReferenceName = *req.ReferenceName
	}
	if req.Note != nil {
		transfer.Note = *req.Note
	}
	if req.Tags != nil {
		transfer.Tags = pq.StringArray(*req.Tags)
	}
	if req.TransferDate != nil {
		transfer.TransferDate = req.TransferDate
	}
	if req.ReceivedDate != nil {
		transfer.ReceivedDate = req.ReceivedDate
	}
	transfer.UpdatedAt = time.Now()

	if err := ts.store.UpdateTransfer(ctx, nil, transfer); err != nil {
		return nil, fmt.Errorf("failed to update transfer: %w", err)
	}

	return transfer, nil
}

// Delete hard-deletes a draft transfer and its entries. Any other status, or
// an open shipment, refuses the delete.
func (ts *TransferService) Delete(ctx context.Context, transferID string) error {
	ctx, span := util.StartSpan(ctx, "TransferService.Delete")
	defer span.End()

	transfer, err := ts.store.GetTransferByID(ctx, nil, transferID)
	if err != nil {
		return err
	}
	if transfer == nil {
		return notFoundf("transfer not found: %s", transferID)
	}
	if !transfer.Deletable() {
		return illegalTransitionf("transfer %s is %s and cannot be deleted, cancel it instead",
			transferID, transfer.Status)
	}

	open, err := ts.store.HasOpenShipment(ctx, nil, transferID)
	if err != nil {
		return err
	}
	if open {
		return illegalTransitionf("transfer %s has an open shipment and cannot be deleted", transferID)
	}

	err = ts.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return ts.store.DeleteTransfer(ctx, tx, transferID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete transfer: %w", err)
	}

	ts.logger.Info("Transfer deleted", zap.String("transfer_id", transferID))
	return nil
}

// MarkReadyToShip moves a draft transfer to ready_to_ship, reserving every
// entry quantity at the origin. The entry loop runs in one transaction.
func (ts *TransferService) MarkReadyToShip(ctx context.Context, transferID, idemKey string) (*TransferWithEntries, error) {
	ctx, span := util.StartSpan(ctx, "TransferService.MarkReadyToShip")
	defer span.End()

	if done, err := ts.alreadyApplied(ctx, "ready-to-ship", transferID, idemKey); err != nil {
		return nil, err
	} else if done {
		return ts.Get(ctx, transferID)
	}

	release, err := lockTransition(ctx, ts.idem, "transfer", transferID)
	if err != nil {
		return nil, err
	}
	defer release()

	transfer, err := ts.store.GetTransferByID(ctx, nil, transferID)
	if err != nil {
		return nil, err
	}
	if transfer == nil {
		return nil, notFoundf("transfer not found: %s", transferID)
	}
	if transfer.Status != models.TransferStatusDraft {
		util.TransfersFailedTotal.WithLabelValues("illegal_transition").Inc()
		return nil, illegalTransitionf("transfer %s is %s, ready-to-ship requires draft",
			transferID, transfer.Status)
	}

	entries, err := ts.store.GetEntriesByTransferID(ctx, nil, transferID)
	if err != nil {
		return nil, err
	}

	var touched []*models.InventoryLevel
	err = ts.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, entry := range entries {
			level, err := ts.ledger.ReserveAtOrigin(ctx, tx, entry.VariantID, transfer.OriginLocationID, entry.Quantity)
			if err != nil {
				return fmt.Errorf("failed to reserve variant %s: %w", entry.VariantID, err)
			}
			touched = append(touched, level)
		}
		return ts.store.UpdateTransferStatus(ctx, tx, transferID, models.TransferStatusReadyToShip)
	})
	if err != nil {
		util.TransfersFailedTotal.WithLabelValues("reservation_failed").Inc()
		return nil, err
	}

	transfer.Status = models.TransferStatusReadyToShip
	ts.ledger.Mirror(ctx, touched...)
	ts.rememberApplied(ctx, "ready-to-ship", transferID, idemKey, transfer.Status)

	util.TransfersReadyTotal.Inc()
	ts.logger.Info("Transfer marked ready to ship",
		zap.String("transfer_id", transferID),
		zap.Int("entries", len(entries)))

	if ts.publisher != nil {
		event := &models.TransferReadyEvent{
			BaseEvent:        newBaseEvent(models.EventTypeTransferReady),
			TransferID:       transferID,
			StoreID:          transfer.StoreID,
			OriginLocationID: transfer.OriginLocationID,
			Entries:          entryData(entries),
		}
		if err := ts.publisher.PublishTransferReady(ctx, event); err != nil {
			ts.logger.Error("Failed to publish TransferReady event", zap.Error(err))
		}
	}

	return &TransferWithEntries{Transfer: transfer, Entries: entries}, nil
}

// Cancel moves a non-terminal transfer to cancelled, reversing any ledger
// effect its current status carries. From ready_to_ship the origin
// reservation is released; from in_progress the in-transit units are cleared
// from the destination's incoming and booked back into on-hand at the origin.
func (ts *TransferService) Cancel(ctx context.Context, transferID, idemKey string) (*TransferWithEntries, error) {
	ctx, span := util.StartSpan(ctx, "TransferService.Cancel")
	defer span.End()

	if done, err := ts.alreadyApplied(ctx, "cancel", transferID, idemKey); err != nil {
		return nil, err
	} else if done {
		return ts.Get(ctx, transferID)
	}

	release, err := lockTransition(ctx, ts.idem, "transfer", transferID)
	if err != nil {
		return nil, err
	}
	defer release()

	transfer, err := ts.store.GetTransferByID(ctx, nil, transferID)
	if err != nil {
		return nil, err
	}
	if transfer == nil {
		return nil, notFoundf("transfer not found: %s", transferID)
	}

	fromStatus := transfer.Status
	if !models.CanTransition(fromStatus, models.TransferStatusCancelled) || fromStatus == models.TransferStatusCancelled {
		util.TransfersFailedTotal.WithLabelValues("illegal_transition").Inc()
		return nil, illegalTransitionf("transfer %s is %s and cannot be cancelled", transferID, fromStatus)
	}

	entries, err := ts.store.GetEntriesByTransferID(ctx, nil, transferID)
	if err != nil {
		return nil, err
	}

	var touched []*models.InventoryLevel
	err = ts.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, entry := range entries {
			switch fromStatus {
			case models.TransferStatusReadyToShip:
				level, err := ts.ledger.ReleaseReservation(ctx, tx, entry.VariantID, transfer.OriginLocationID, entry.Quantity)
				if err != nil {
					return fmt.Errorf("failed to release reservation for variant %s: %w", entry.VariantID, err)
				}
				touched = append(touched, level)
			case models.TransferStatusInProgress:
				dest, err := ts.ledger.DropIncoming(ctx, tx, entry.VariantID, transfer.DestinationLocationID, entry.Quantity)
				if err != nil {
					return fmt.Errorf("failed to drop incoming for variant %s: %w", entry.VariantID, err)
				}
				origin, err := ts.ledger.ReturnToOrigin(ctx, tx, entry.VariantID, transfer.OriginLocationID, entry.Quantity)
				if err != nil {
					return fmt.Errorf("failed to return stock for variant %s: %w", entry.VariantID, err)
				}
				touched = append(touched, dest, origin)
			}
		}

		shipment, err := ts.store.GetLatestShipmentByTransferID(ctx, tx, transferID)
		if err != nil {
			return err
		}
		if shipment != nil && !models.TerminalShipmentStatus(shipment.Status) {
			shipment.Status = models.ShipmentStatusCancelled
			if err := ts.store.UpdateShipment(ctx, tx, shipment); err != nil {
				return fmt.Errorf("failed to cancel shipment: %w", err)
			}
		}

		return ts.store.UpdateTransferStatus(ctx, tx, transferID, models.TransferStatusCancelled)
	})
	if err != nil {
		util.TransfersFailedTotal.WithLabelValues("cancel_failed").Inc()
		return nil, err
	}

	transfer.Status = models.TransferStatusCancelled
	ts.ledger.Mirror(ctx, touched...)
	ts.rememberApplied(ctx, "cancel", transferID, idemKey, transfer.Status)

	util.TransfersCancelledTotal.Inc()
	ts.logger.Info("Transfer cancelled",
		zap.String("transfer_id", transferID),
		zap.String("from_status", fromStatus))

	if ts.publisher != nil {
		event := &models.TransferCancelledEvent{
			BaseEvent:             newBaseEvent(models.EventTypeTransferCancelled),
			TransferID:            transferID,
			FromStatus:            fromStatus,
			OriginLocationID:      transfer.OriginLocationID,
			DestinationLocationID: transfer.DestinationLocationID,
			Entries:               entryData(entries),
		}
		if err := ts.publisher.PublishTransferCancelled(ctx, event); err != nil {
			ts.logger.Error("Failed to publish TransferCancelled event", zap.Error(err))
		}
	}

	return &TransferWithEntries{Transfer: transfer, Entries: entries}, nil
}

const transitionLockTTL = 30 * time.Second

// lockTransition serializes transitions on one aggregate. The returned
// release func is a no-op when no cache is configured; a redis failure
// degrades to unlocked rather than blocking the transition.
func lockTransition(ctx context.Context, cache TransitionCache, kind, id string) (func(), error) {
	if cache == nil {
		return func() {}, nil
	}
	key := fmt.Sprintf("%s:%s", kind, id)
	ok, err := cache.AcquireLock(ctx, key, transitionLockTTL)
	if err != nil {
		util.GetLogger().Warn("Transition lock unavailable, proceeding",
			zap.String("key", key), zap.Error(err))
		return func() {}, nil
	}
	if !ok {
		return nil, illegalTransitionf("another transition for %s %s is in progress", kind, id)
	}
	return func() {
		if err := cache.ReleaseLock(ctx, key); err != nil {
			util.GetLogger().Warn("Failed to release transition lock",
				zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (ts *TransferService) alreadyApplied(ctx context.Context, op, transferID, idemKey string) (bool, error) {
	if ts.idem == nil || idemKey == "" {
		return false, nil
	}
	val, err := ts.idem.GetIdempotencyKey(ctx, fmt.Sprintf("%s:%s:%s", op, transferID, idemKey))
	if err != nil {
		ts.logger.Warn("Idempotency lookup failed", zap.Error(err))
		return false, nil
	}
	return val != "", nil
}

func (ts *TransferService) rememberApplied(ctx context.Context, op, transferID, idemKey, outcome string) {
	if ts.idem == nil || idemKey == "" {
		return
	}
	key := fmt.Sprintf("%s:%s:%s", op, transferID, idemKey)
	if err := ts.idem.SetIdempotencyKey(ctx, key, outcome, ts.idemTTL); err != nil {
		ts.logger.Warn("Failed to store idempotency key", zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func entryData(entries []models.TransferEntry) []models.EntryData {
	data := make([]models.EntryData, 0, len(entries))
	for _, e := range entries {
		data = append(data, models.EntryData{
			EntryID:   e.ID,
			VariantID: e.VariantID,
			Quantity:  e.Quantity,
		})
	}
	return data
}
