package worker

import (
	"context"
	"errors"
	"fmt"
	"log"

	"stock-ledger-service/internal/broker"
	"stock-ledger-service/internal/models"
	"stock-ledger-service/internal/service"
	"stock-ledger-service/internal/store"
	"stock-ledger-service/internal/util"

	"go.uber.org/zap"
)

// StockEventWorker consumes storefront events (completed sales, accepted
// returns) and applies them through the ledger core. Stock mutations are
// not idempotent, so every event is deduped against processed_events
// before it is applied.
type StockEventWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	applier      *EventApplier
}

// NewStockEventWorker creates a new stock event worker
func NewStockEventWorker(consumer *broker.Consumer, applier *EventApplier) *StockEventWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnSaleCompleted(applier.HandleSaleCompleted)
	eventHandler.OnReturnAccepted(applier.HandleReturnAccepted)

	return &StockEventWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		applier:      applier,
	}
}

// Start starts the worker
func (w *StockEventWorker) Start(ctx context.Context) error {
	log.Println("Starting stock event worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *StockEventWorker) Stop() error {
	log.Println("Stopping stock event worker...")
	return w.consumer.Close()
}

// EventApplier turns inbound storefront events into ledger transactions.
type EventApplier struct {
	store  store.Store
	ledger *service.LedgerService
	logger *zap.Logger
}

// NewEventApplier creates a new event applier
func NewEventApplier(st store.Store, ledger *service.LedgerService) *EventApplier {
	return &EventApplier{
		store:  st,
		ledger: ledger,
		logger: util.GetLogger(),
	}
}

// HandleSaleCompleted applies one SALE transaction per sold line.
func (ea *EventApplier) HandleSaleCompleted(ctx context.Context, event *models.SaleCompletedEvent) error {
	return ea.apply(ctx, &event.BaseEvent, event.OrderRef, event.ActorID, event.Items, models.TxTypeSale, -1)
}

// HandleReturnAccepted applies one RETURN transaction per returned line.
func (ea *EventApplier) HandleReturnAccepted(ctx context.Context, event *models.ReturnAcceptedEvent) error {
	return ea.apply(ctx, &event.BaseEvent, event.OrderRef, event.ActorID, event.Items, models.TxTypeReturn, 1)
}

func (ea *EventApplier) apply(ctx context.Context, base *models.BaseEvent, orderRef, actorID string, items []models.StockLineData, txType string, sign int) error {
	processed, err := ea.store.IsEventProcessed(ctx, base.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		ea.logger.Info("Event already processed", zap.String("event_id", base.EventID))
		util.InboundEventsTotal.WithLabelValues(base.EventType, "duplicate").Inc()
		return nil
	}

	reason := fmt.Sprintf("storefront order %s", orderRef)
	var createdBy *string
	if actorID != "" {
		createdBy = &actorID
	}

	for _, line := range items {
		// Lines commit in separate transactions, so dedupe per line as
		// well: a redelivery after a mid-event failure must not reapply
		// the lines that already committed.
		lineKey := fmt.Sprintf("%s:%d", base.EventID, line.ProductID)
		done, err := ea.store.IsEventProcessed(ctx, lineKey)
		if err != nil {
			return fmt.Errorf("failed to check line processed: %w", err)
		}
		if done {
			continue
		}

		_, err = ea.ledger.ApplyTransaction(ctx, &service.ApplyTransactionRequest{
			ProductID:      line.ProductID,
			QuantityChange: sign * line.Quantity,
			Type:           txType,
			Reason:         &reason,
			CreatedBy:      createdBy,
		})
		if err != nil {
			// An oversold line cannot succeed on redelivery; record the
			// failure loudly and keep the event from looping forever.
			// Persistence failures are transient and worth the retry.
			if errors.Is(err, store.ErrInsufficientStock) || errors.Is(err, store.ErrProductNotFound) {
				ea.logger.Error("Inbound stock event rejected by ledger",
					zap.String("event_id", base.EventID),
					zap.String("order_ref", orderRef),
					zap.Int64("product_id", line.ProductID),
					zap.Error(err))
				util.InboundEventsTotal.WithLabelValues(base.EventType, "rejected").Inc()
				continue
			}
			util.InboundEventsTotal.WithLabelValues(base.EventType, "error").Inc()
			return fmt.Errorf("failed to apply %s for product %d: %w", txType, line.ProductID, err)
		}

		if err := ea.store.MarkEventProcessed(ctx, lineKey, base.EventType); err != nil {
			return fmt.Errorf("failed to mark line processed: %w", err)
		}
	}

	if err := ea.store.MarkEventProcessed(ctx, base.EventID, base.EventType); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	util.InboundEventsTotal.WithLabelValues(base.EventType, "applied").Inc()
	return nil
}
