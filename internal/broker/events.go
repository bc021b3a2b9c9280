package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"transfer-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing transfer lifecycle events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishTransferReady publishes a TransferReady event
func (ep *EventPublisher) PublishTransferReady(ctx context.Context, event *models.TransferReadyEvent) error {
	return ep.producer.PublishEvent(ctx, transferKey(event.TransferID), event)
}

// PublishTransferDispatched publishes a TransferDispatched event
func (ep *EventPublisher) PublishTransferDispatched(ctx context.Context, event *models.TransferDispatchedEvent) error {
	return ep.producer.PublishEvent(ctx, transferKey(event.TransferID), event)
}

// PublishTransferReceived publishes a TransferReceived event
func (ep *EventPublisher) PublishTransferReceived(ctx context.Context, event *models.TransferReceivedEvent) error {
	return ep.producer.PublishEvent(ctx, transferKey(event.TransferID), event)
}

// PublishTransferCancelled publishes a TransferCancelled event
func (ep *EventPublisher) PublishTransferCancelled(ctx context.Context, event *models.TransferCancelledEvent) error {
	return ep.producer.PublishEvent(ctx, transferKey(event.TransferID), event)
}

func transferKey(transferID string) string {
	return fmt.Sprintf("transfer-%s", transferID)
}

// EventHandler routes consumed transfer events to registered callbacks
type EventHandler struct {
	onDispatched func(context.Context, *models.TransferDispatchedEvent) error
	onReceived   func(context.Context, *models.TransferReceivedEvent) error
	onReady      func(context.Context, *models.TransferReadyEvent) error
	onCancelled  func(context.Context, *models.TransferCancelledEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnTransferReady registers a handler for TransferReady events
func (eh *EventHandler) OnTransferReady(handler func(context.Context, *models.TransferReadyEvent) error) {
	eh.onReady = handler
}

// OnTransferDispatched registers a handler for TransferDispatched events
func (eh *EventHandler) OnTransferDispatched(handler func(context.Context, *models.TransferDispatchedEvent) error) {
	eh.onDispatched = handler
}

// OnTransferReceived registers a handler for TransferReceived events
func (eh *EventHandler) OnTransferReceived(handler func(context.Context, *models.TransferReceivedEvent) error) {
	eh.onReceived = handler
}

// OnTransferCancelled registers a handler for TransferCancelled events
func (eh *EventHandler) OnTransferCancelled(handler func(context.Context, *models.TransferCancelledEvent) error) {
	eh.onCancelled = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	log.Printf("Handling event: type=%s, id=%s", baseEvent.EventType, baseEvent.EventID)

	switch baseEvent.EventType {
	case models.EventTypeTransferReady:
		if eh.onReady != nil {
			var event models.TransferReadyEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal TransferReady event: %w", err)
			}
			return eh.onReady(ctx, &event)
		}

	case models.EventTypeTransferDispatched:
		if eh.onDispatched != nil {
			var event models.TransferDispatchedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal TransferDispatched event: %w", err)
			}
			return eh.onDispatched(ctx, &event)
		}

	case models.EventTypeTransferReceived:
		if eh.onReceived != nil {
			var event models.TransferReceivedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal TransferReceived event: %w", err)
			}
			return eh.onReceived(ctx, &event)
		}

	case models.EventTypeTransferCancelled:
		if eh.onCancelled != nil {
			var event models.TransferCancelledEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal TransferCancelled event: %w", err)
			}
			return eh.onCancelled(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
