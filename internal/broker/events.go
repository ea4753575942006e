package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"stock-ledger-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing stock domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishStockAdjusted publishes StockAdjusted event
func (ep *EventPublisher) PublishStockAdjusted(ctx context.Context, event *models.StockAdjustedEvent) error {
	key := fmt.Sprintf("product-%d", event.ProductID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishAlertRaised publishes StockAlertRaised event
func (ep *EventPublisher) PublishAlertRaised(ctx context.Context, event *models.StockAlertRaisedEvent) error {
	key := fmt.Sprintf("product-%d", event.ProductID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishAlertResolved publishes StockAlertResolved event
func (ep *EventPublisher) PublishAlertResolved(ctx context.Context, event *models.StockAlertResolvedEvent) error {
	key := fmt.Sprintf("product-%d", event.ProductID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishPurchaseOrderCreated publishes PurchaseOrderCreated event
func (ep *EventPublisher) PublishPurchaseOrderCreated(ctx context.Context, event *models.PurchaseOrderCreatedEvent) error {
	key := fmt.Sprintf("purchase-order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishPurchaseOrderReceived publishes PurchaseOrderReceived event
func (ep *EventPublisher) PublishPurchaseOrderReceived(ctx context.Context, event *models.PurchaseOrderReceivedEvent) error {
	key := fmt.Sprintf("purchase-order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishAuditCompleted publishes AuditCompleted event
func (ep *EventPublisher) PublishAuditCompleted(ctx context.Context, event *models.AuditCompletedEvent) error {
	key := fmt.Sprintf("audit-%d", event.AuditID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes inbound storefront events
type EventHandler struct {
	onSaleCompleted  func(context.Context, *models.SaleCompletedEvent) error
	onReturnAccepted func(context.Context, *models.ReturnAcceptedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnSaleCompleted registers a handler for SaleCompleted events
func (eh *EventHandler) OnSaleCompleted(handler func(context.Context, *models.SaleCompletedEvent) error) {
	eh.onSaleCompleted = handler
}

// OnReturnAccepted registers a handler for ReturnAccepted events
func (eh *EventHandler) OnReturnAccepted(handler func(context.Context, *models.ReturnAcceptedEvent) error) {
	eh.onReturnAccepted = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeSaleCompleted:
		if eh.onSaleCompleted != nil {
			var event models.SaleCompletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SaleCompleted event: %w", err)
			}
			return eh.onSaleCompleted(ctx, &event)
		}

	case models.EventTypeReturnAccepted:
		if eh.onReturnAccepted != nil {
			var event models.ReturnAcceptedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ReturnAccepted event: %w", err)
			}
			return eh.onReturnAccepted(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
