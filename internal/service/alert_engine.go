package service

import (
	"context"
	"errors"
	"time"

	"stock-ledger-service/internal/broker"
	"stock-ledger-service/internal/models"
	"stock-ledger-service/internal/store"
	"stock-ledger-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertEngine derives stock alerts from a product's thresholds. Each
// (product, alert_type) pair behaves as a two-state machine: INACTIVE
// becomes ACTIVE when the condition holds, ACTIVE is refreshed in place
// while it keeps holding, and is resolved, never deleted, when it clears.
type AlertEngine struct {
	store          store.Store
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
}

// NewAlertEngine creates a new alert engine. eventPublisher may be nil
// when the service runs without a broker (dev mode, tests).
func NewAlertEngine(st store.Store, eventPublisher *broker.EventPublisher) *AlertEngine {
	return &AlertEngine{
		store:          st,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// AlertChanges lists what one evaluation raised and resolved.
type AlertChanges struct {
	Raised   []models.StockAlert
	Resolved []models.StockAlert
}

// Evaluate compares currentQuantity against the product's thresholds and
// reconciles the active alerts. Called synchronously after every committed
// stock mutation.
func (ae *AlertEngine) Evaluate(ctx context.Context, productID int64, currentQuantity int) (*AlertChanges, error) {
	ctx, span := util.StartSpan(ctx, "AlertEngine.Evaluate")
	defer span.End()

	product, err := ae.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	// Desired condition per alert type. OUT_OF_STOCK wins over LOW_STOCK:
	// a product at zero gets exactly one of the two.
	desired := map[string]int{} // alert type -> threshold value
	if product.ReorderLevel != nil {
		if currentQuantity == 0 {
			desired[models.AlertOutOfStock] = 0
		} else if currentQuantity <= *product.ReorderLevel {
			desired[models.AlertLowStock] = *product.ReorderLevel
		}
	}
	if product.MaxStockLevel != nil && currentQuantity > *product.MaxStockLevel {
		desired[models.AlertOverstocked] = *product.MaxStockLevel
	}

	changes := &AlertChanges{}
	for _, alertType := range []string{models.AlertOutOfStock, models.AlertLowStock, models.AlertOverstocked} {
		active, err := ae.store.GetActiveAlert(ctx, productID, alertType)
		if err != nil {
			return nil, err
		}

		threshold, wanted := desired[alertType]
		switch {
		case wanted && active == nil:
			alert := &models.StockAlert{
				ProductID:      productID,
				AlertType:      alertType,
				ThresholdValue: threshold,
				CurrentValue:   currentQuantity,
			}
			if err := ae.store.CreateAlert(ctx, alert); err != nil {
				// A concurrent evaluation created the alert between our
				// read and the insert; refresh it instead of failing.
				if errors.Is(err, store.ErrAlertExists) {
					existing, gerr := ae.store.GetActiveAlert(ctx, productID, alertType)
					if gerr != nil {
						return nil, gerr
					}
					if existing != nil {
						if uerr := ae.store.UpdateAlertValues(ctx, existing.ID, currentQuantity, threshold); uerr != nil {
							return nil, uerr
						}
					}
					continue
				}
				return nil, err
			}
			changes.Raised = append(changes.Raised, *alert)
			util.AlertsRaisedTotal.WithLabelValues(alertType).Inc()
			ae.publishRaised(ctx, alert)

		case wanted && active != nil:
			// Still active: refresh the values, keep created_at.
			if err := ae.store.UpdateAlertValues(ctx, active.ID, currentQuantity, threshold); err != nil {
				return nil, err
			}

		case !wanted && active != nil:
			if err := ae.store.ResolveAlert(ctx, active.ID, time.Now().UTC()); err != nil {
				return nil, err
			}
			changes.Resolved = append(changes.Resolved, *active)
			util.AlertsResolvedTotal.WithLabelValues(alertType).Inc()
			ae.publishResolved(ctx, productID, alertType)
		}
	}

	return changes, nil
}

func (ae *AlertEngine) publishRaised(ctx context.Context, alert *models.StockAlert) {
	if ae.eventPublisher == nil {
		return
	}
	event := &models.StockAlertRaisedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeStockAlertRaised,
			Timestamp: time.Now(),
		},
		ProductID:      alert.ProductID,
		AlertType:      alert.AlertType,
		ThresholdValue: alert.ThresholdValue,
		CurrentValue:   alert.CurrentValue,
	}
	if err := ae.eventPublisher.PublishAlertRaised(ctx, event); err != nil {
		ae.logger.Error("Failed to publish StockAlertRaised event",
			zap.Int64("product_id", alert.ProductID),
			zap.String("alert_type", alert.AlertType),
			zap.Error(err))
	}
}

func (ae *AlertEngine) publishResolved(ctx context.Context, productID int64, alertType string) {
	if ae.eventPublisher == nil {
		return
	}
	event := &models.StockAlertResolvedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeStockAlertResolved,
			Timestamp: time.Now(),
		},
		ProductID: productID,
		AlertType: alertType,
	}
	if err := ae.eventPublisher.PublishAlertResolved(ctx, event); err != nil {
		ae.logger.Error("Failed to publish StockAlertResolved event",
			zap.Int64("product_id", productID),
			zap.String("alert_type", alertType),
			zap.Error(err))
	}
}
