package store

import (
	"context"
	"database/sql"

	"transfer-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateTransfer inserts a new transfer
func (s *Store) CreateTransfer(ctx context.Context, q Queryer, transfer *models.Transfer) error {
	q = s.queryer(q)
	_, err := q.ExecContext(ctx, `
		INSERT INTO transfers (
			id, store_id, origin_location_id, destination_location_id,
			reference_name, note, tags, status, transfer_date, received_date,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())`,
		transfer.ID, transfer.StoreID, transfer.OriginLocationID,
		transfer.DestinationLocationID, transfer.ReferenceName, transfer.Note,
		transfer.Tags, transfer.Status, transfer.TransferDate,
		transfer.ReceivedDate)
	return err
}

// GetTransferByID retrieves a transfer, returning nil when absent
func (s *Store) GetTransferByID(ctx context.Context, q Queryer, id string) (*models.Transfer, error) {
	q = s.queryer(q)
	var transfer models.Transfer
	err := sqlx.GetContext(ctx, q, &transfer,
		"SELECT * FROM transfers WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

// ListTransfersByStore retrieves transfers for a store, newest first
func (s *Store) ListTransfersByStore(ctx context.Context, q Queryer, storeID string) ([]models.Transfer, error) {
	q = s.queryer(q)
	var transfers []models.Transfer
	err := sqlx.SelectContext(ctx, q, &transfers,
		"SELECT * FROM transfers WHERE store_id = $1 ORDER BY created_at DESC", storeID)
	return transfers, err
}

// UpdateTransfer persists transfer metadata and status
func (s *Store) UpdateTransfer(ctx context.Context, q Queryer, transfer *models.Transfer) error {
	q = s.queryer(q)
	_, err := q.ExecContext(ctx, `
		UPDATE transfers SET
			reference_name = $1, note = $2, tags = $3, status = $4,
			transfer_date = $5, received_date = $6, updated_at = NOW()
		WHERE id = $7`,
		transfer.ReferenceName, transfer.Note, transfer.Tags,
		transfer.Status, transfer.TransferDate, transfer.ReceivedDate,
		transfer.ID)
	return err
}

// UpdateTransferStatus updates only the transfer status
func (s *Store) UpdateTransferStatus(ctx context.Context, q Queryer, transferID, status string) error {
	q = s.queryer(q)
	_, err := q.ExecContext(ctx,
		"UPDATE transfers SET status = $1, updated_at = NOW() WHERE id = $2",
		status, transferID)
	return err
}

// DeleteTransfer hard-deletes a transfer and its entries
func (s *Store) DeleteTransfer(ctx context.Context, q Queryer, transferID string) error {
	q = s.queryer(q)
	if _, err := q.ExecContext(ctx,
		"DELETE FROM transfer_entries WHERE transfer_id = $1", transferID); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, "DELETE FROM transfers WHERE id = $1", transferID)
	return err
}

// CreateTransferEntry inserts a transfer line item
func (s *Store) CreateTransferEntry(ctx context.Context, q Queryer, entry *models.TransferEntry) error {
	q = s.queryer(q)
	_, err := q.ExecContext(ctx, `
		INSERT INTO transfer_entries (id, transfer_id, variant_id, quantity)
		VALUES ($1, $2, $3, $4)`,
		entry.ID, entry.TransferID, entry.VariantID, entry.Quantity)
	return err
}

// GetEntriesByTransferID retrieves all line items for a transfer
func (s *Store) GetEntriesByTransferID(ctx context.Context, q Queryer, transferID string) ([]models.TransferEntry, error) {
	q = s.queryer(q)
	var entries []models.TransferEntry
	err := sqlx.SelectContext(ctx, q, &entries,
		"SELECT * FROM transfer_entries WHERE transfer_id = $1 ORDER BY id", transferID)
	return entries, err
}

// CreateShipment inserts a new shipment
func (s *Store) CreateShipment(ctx context.Context, q Queryer, shipment *models.Shipment) error {
	q = s.queryer(q)
	_, err := q.ExecContext(ctx, `
		INSERT INTO shipments (
			id, transfer_id, tracking_number, carrier, estimated_arrival_date,
			shipped_date, received_date, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		shipment.ID, shipment.TransferID, shipment.TrackingNumber,
		shipment.Carrier, shipment.EstimatedArrivalDate, shipment.ShippedDate,
		shipment.ReceivedDate, shipment.Status)
	return err
}

// GetShipmentByID retrieves a shipment, returning nil when absent
func (s *Store) GetShipmentByID(ctx context.Context, q Queryer, id string) (*models.Shipment, error) {
	q = s.queryer(q)
	var shipment models.Shipment
	err := sqlx.GetContext(ctx, q, &shipment,
		"SELECT * FROM shipments WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

// GetLatestShipmentByTransferID retrieves the newest shipment for a transfer
func (s *Store) GetLatestShipmentByTransferID(ctx context.Context, q Queryer, transferID string) (*models.Shipment, error) {
	q = s.queryer(q)
	var shipment models.Shipment
	err := sqlx.GetContext(ctx, q, &shipment,
		"SELECT * FROM shipments WHERE transfer_id = $1 ORDER BY created_at DESC LIMIT 1",
		transferID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

// UpdateShipment persists shipment metadata and status
func (s *Store) UpdateShipment(ctx context.Context, q Queryer, shipment *models.Shipment) error {
	q = s.queryer(q)
	_, err := q.ExecContext(ctx, `
		UPDATE shipments SET
			tracking_number = $1, carrier = $2, estimated_arrival_date = $3,
			shipped_date = $4, received_date = $5, status = $6
		WHERE id = $7`,
		shipment.TrackingNumber, shipment.Carrier, shipment.EstimatedArrivalDate,
		shipment.ShippedDate, shipment.ReceivedDate, shipment.Status,
		shipment.ID)
	return err
}

// DeleteShipment hard-deletes a shipment
func (s *Store) DeleteShipment(ctx context.Context, q Queryer, id string) error {
	q = s.queryer(q)
	_, err := q.ExecContext(ctx, "DELETE FROM shipments WHERE id = $1", id)
	return err
}

// HasOpenShipment reports whether a transfer has any non-terminal shipment
func (s *Store) HasOpenShipment(ctx context.Context, q Queryer, transferID string) (bool, error) {
	q = s.queryer(q)
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM shipments
			WHERE transfer_id = $1 AND status NOT IN ($2, $3)
		)`,
		transferID, models.ShipmentStatusReceived, models.ShipmentStatusCancelled)
	return exists, err
}
