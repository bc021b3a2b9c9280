package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"transfer-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrVersionConflict is returned when a conditional level update loses the
// race against a concurrent writer.
var ErrVersionConflict = errors.New("inventory level version conflict")

// Queryer is satisfied by both *sqlx.DB and *sqlx.Tx so the same query
// methods serve transactional and non-transactional callers.
type Queryer interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database handle
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error. Transition entry loops run through this so a mid-loop failure leaves
// no partial ledger effect.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// queryer returns the store's own handle when callers pass nil, so the same
// methods serve both transactional and direct access.
func (s *Store) queryer(q Queryer) Queryer {
	if q == nil {
		return s.db
	}
	return q
}

// levelColumns aliases the unavailable counters into the nested struct the
// mapper expects.
const levelColumns = `
	id, variant_id, location_id, on_hand, committed,
	unavailable_damaged AS "unavailable.damaged",
	unavailable_quality_control AS "unavailable.quality_control",
	unavailable_safety_stock AS "unavailable.safety_stock",
	unavailable_other AS "unavailable.other",
	available, incoming, version, updated_at`

// GetLevelByID retrieves an inventory level by row id
func (s *Store) GetLevelByID(ctx context.Context, q Queryer, id string) (*models.InventoryLevel, error) {
	q = s.queryer(q)
	var level models.InventoryLevel
	err := sqlx.GetContext(ctx, q, &level,
		"SELECT"+levelColumns+" FROM inventory_levels WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &level, nil
}

// GetLevel retrieves the inventory level for a (variant, location) pair,
// returning nil when no row exists yet.
func (s *Store) GetLevel(ctx context.Context, q Queryer, variantID, locationID string) (*models.InventoryLevel, error) {
	q = s.queryer(q)
	var level models.InventoryLevel
	err := sqlx.GetContext(ctx, q, &level,
		"SELECT"+levelColumns+" FROM inventory_levels WHERE variant_id = $1 AND location_id = $2",
		variantID, locationID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &level, nil
}

// CreateLevel inserts a zeroed inventory level row. A concurrent insert for
// the same pair is tolerated; callers re-read after conflict.
func (s *Store) CreateLevel(ctx context.Context, q Queryer, level *models.InventoryLevel) error {
	q = s.queryer(q)
	_, err := q.ExecContext(ctx, `
		INSERT INTO inventory_levels (
			id, variant_id, location_id, on_hand, committed,
			unavailable_damaged, unavailable_quality_control,
			unavailable_safety_stock, unavailable_other,
			available, incoming, version, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, NOW())
		ON CONFLICT (variant_id, location_id) DO NOTHING`,
		level.ID, level.VariantID, level.LocationID, level.OnHand, level.Committed,
		level.Unavailable.Damaged, level.Unavailable.QualityControl,
		level.Unavailable.SafetyStock, level.Unavailable.Other,
		level.Available, level.Incoming)
	return err
}

// SaveLevel persists a mutated level with a compare-and-swap on version.
// Returns ErrVersionConflict when a concurrent writer got there first.
func (s *Store) SaveLevel(ctx context.Context, q Queryer, level *models.InventoryLevel) error {
	q = s.queryer(q)
	res, err := q.ExecContext(ctx, `
		UPDATE inventory_levels SET
			on_hand = $1, committed = $2,
			unavailable_damaged = $3, unavailable_quality_control = $4,
			unavailable_safety_stock = $5, unavailable_other = $6,
			available = $7, incoming = $8,
			version = version + 1, updated_at = NOW()
		WHERE id = $9 AND version = $10`,
		level.OnHand, level.Committed,
		level.Unavailable.Damaged, level.Unavailable.QualityControl,
		level.Unavailable.SafetyStock, level.Unavailable.Other,
		level.Available, level.Incoming,
		level.ID, level.Version)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	level.Version++
	return nil
}

// ListLevelsByLocation retrieves all inventory levels at a location
func (s *Store) ListLevelsByLocation(ctx context.Context, q Queryer, locationID string) ([]models.InventoryLevel, error) {
	q = s.queryer(q)
	var levels []models.InventoryLevel
	err := sqlx.SelectContext(ctx, q, &levels,
		"SELECT"+levelColumns+" FROM inventory_levels WHERE location_id = $1 ORDER BY variant_id",
		locationID)
	return levels, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
