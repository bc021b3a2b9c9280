package worker

import (
	"context"
	"log"

	"transfer-service/internal/broker"
	"transfer-service/internal/models"
	"transfer-service/internal/redisclient"
	"transfer-service/internal/store"
)

// LevelCacheWorker consumes transfer lifecycle events and refreshes the
// redis read model for every (variant, location) pair an event touched.
// Events are deduplicated through the processed_events table so replays
// after a consumer-group rebalance are harmless.
type LevelCacheWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        *store.Store
	redis        *redisclient.Client
}

// NewLevelCacheWorker creates a new level cache worker
func NewLevelCacheWorker(
	consumer *broker.Consumer,
	st *store.Store,
	redis *redisclient.Client,
) *LevelCacheWorker {
	w := &LevelCacheWorker{
		consumer: consumer,
		store:    st,
		redis:    redis,
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnTransferReady(func(ctx context.Context, e *models.TransferReadyEvent) error {
		return w.refresh(ctx, e.BaseEvent, entryPairs(e.Entries, e.OriginLocationID))
	})
	eventHandler.OnTransferDispatched(func(ctx context.Context, e *models.TransferDispatchedEvent) error {
		pairs := entryPairs(e.Entries, e.OriginLocationID)
		pairs = append(pairs, entryPairs(e.Entries, e.DestinationLocationID)...)
		return w.refresh(ctx, e.BaseEvent, pairs)
	})
	eventHandler.OnTransferReceived(func(ctx context.Context, e *models.TransferReceivedEvent) error {
		pairs := make([]levelPair, 0, len(e.Lines))
		for _, line := range e.Lines {
			pairs = append(pairs, levelPair{variantID: line.VariantID, locationID: e.DestinationLocationID})
		}
		return w.refresh(ctx, e.BaseEvent, pairs)
	})
	eventHandler.OnTransferCancelled(func(ctx context.Context, e *models.TransferCancelledEvent) error {
		pairs := entryPairs(e.Entries, e.OriginLocationID)
		pairs = append(pairs, entryPairs(e.Entries, e.DestinationLocationID)...)
		return w.refresh(ctx, e.BaseEvent, pairs)
	})
	w.eventHandler = eventHandler

	return w
}

type levelPair struct {
	variantID  string
	locationID string
}

func entryPairs(entries []models.EntryData, locationID string) []levelPair {
	pairs := make([]levelPair, 0, len(entries))
	for _, e := range entries {
		pairs = append(pairs, levelPair{variantID: e.VariantID, locationID: locationID})
	}
	return pairs
}

func (w *LevelCacheWorker) refresh(ctx context.Context, base models.BaseEvent, pairs []levelPair) error {
	processed, err := w.store.IsEventProcessed(ctx, base.EventID)
	if err != nil {
		return err
	}
	if processed {
		log.Printf("Event already processed: %s", base.EventID)
		return nil
	}

	for _, pair := range pairs {
		level, err := w.store.GetLevel(ctx, nil, pair.variantID, pair.locationID)
		if err != nil {
			return err
		}
		if level == nil {
			continue
		}
		if err := w.redis.CacheLevel(ctx, level); err != nil {
			log.Printf("Failed to cache level %s at %s: %v", pair.variantID, pair.locationID, err)
		}
	}

	return w.store.MarkEventProcessed(ctx, base.EventID, base.EventType)
}

// Start starts the worker
func (w *LevelCacheWorker) Start(ctx context.Context) error {
	log.Println("Starting level cache worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *LevelCacheWorker) Stop() error {
	log.Println("Stopping level cache worker...")
	return w.consumer.Close()
}
