package service

import (
	"context"
	"time"

	"stock-ledger-service/internal/broker"
	"stock-ledger-service/internal/models"
	"stock-ledger-service/internal/store"
	"stock-ledger-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditService records physical-count reconciliation passes. An audit
// never mutates stock itself; applying a counted correction goes back
// through the ledger core as an explicit ADJUSTMENT.
type AuditService struct {
	store          store.Store
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
}

// NewAuditService creates a new audit service
func NewAuditService(st store.Store, eventPublisher *broker.EventPublisher) *AuditService {
	return &AuditService{
		store:          st,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// StartAudit opens a new audit in IN_PROGRESS state.
func (as *AuditService) StartAudit(ctx context.Context, auditedBy, notes string) (*models.InventoryAudit, error) {
	ctx, span := util.StartSpan(ctx, "AuditService.StartAudit")
	defer span.End()

	audit := &models.InventoryAudit{
		AuditDate: time.Now().UTC(),
		AuditedBy: auditedBy,
		Status:    models.AuditStatusInProgress,
		Notes:     notes,
	}
	if err := as.store.CreateAudit(ctx, audit); err != nil {
		return nil, err
	}

	util.AuditsStartedTotal.Inc()
	as.logger.Info("Inventory audit started",
		zap.Int64("audit_id", audit.ID),
		zap.String("audited_by", auditedBy))
	return audit, nil
}

// RecordCount snapshots the product's system quantity at the moment of
// counting, computes the difference and its value using the product's
// current unit price, and stores the item. Counting the same product
// twice within one audit overwrites the earlier count.
func (as *AuditService) RecordCount(ctx context.Context, auditID, productID int64, countedQuantity int) (*models.InventoryAuditItem, error) {
	ctx, span := util.StartSpan(ctx, "AuditService.RecordCount")
	defer span.End()

	audit, _, err := as.store.GetAudit(ctx, auditID)
	if err != nil {
		return nil, err
	}
	if audit.Status != models.AuditStatusInProgress {
		return nil, store.ErrAuditClosed
	}

	product, err := as.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	difference := countedQuantity - product.Quantity
	item := &models.InventoryAuditItem{
		AuditID:         auditID,
		ProductID:       productID,
		SystemQuantity:  product.Quantity,
		CountedQuantity: countedQuantity,
		Difference:      difference,
		UnitCost:        product.UnitPrice,
		ValueDifference: float64(difference) * product.UnitPrice,
	}
	if err := as.store.UpsertAuditItem(ctx, item); err != nil {
		return nil, err
	}

	as.logger.Info("Audit count recorded",
		zap.Int64("audit_id", auditID),
		zap.Int64("product_id", productID),
		zap.Int("system_quantity", item.SystemQuantity),
		zap.Int("counted_quantity", countedQuantity),
		zap.Int("difference", difference))
	return item, nil
}

// CloseAudit derives the aggregates from the recorded items and completes
// the audit. Closing with zero items is valid and yields zero aggregates.
func (as *AuditService) CloseAudit(ctx context.Context, auditID int64) (*models.InventoryAudit, error) {
	ctx, span := util.StartSpan(ctx, "AuditService.CloseAudit")
	defer span.End()

	audit, err := as.store.CloseAudit(ctx, auditID, models.AuditStatusCompleted)
	if err != nil {
		return nil, err
	}

	util.AuditsClosedTotal.WithLabelValues(models.AuditStatusCompleted).Inc()
	as.logger.Info("Inventory audit completed",
		zap.Int64("audit_id", auditID),
		zap.Int("total_products", audit.TotalProducts),
		zap.Int("discrepancies_found", audit.DiscrepanciesFound),
		zap.Float64("total_value_difference", audit.TotalValueDifference))

	as.publishCompleted(ctx, audit)
	return audit, nil
}

// CancelAudit abandons an in-progress audit.
func (as *AuditService) CancelAudit(ctx context.Context, auditID int64) (*models.InventoryAudit, error) {
	ctx, span := util.StartSpan(ctx, "AuditService.CancelAudit")
	defer span.End()

	audit, err := as.store.CloseAudit(ctx, auditID, models.AuditStatusCancelled)
	if err != nil {
		return nil, err
	}

	util.AuditsClosedTotal.WithLabelValues(models.AuditStatusCancelled).Inc()
	as.logger.Info("Inventory audit cancelled", zap.Int64("audit_id", auditID))
	return audit, nil
}

// GetAudit retrieves an audit with its items
func (as *AuditService) GetAudit(ctx context.Context, auditID int64) (*models.InventoryAudit, []models.InventoryAuditItem, error) {
	return as.store.GetAudit(ctx, auditID)
}

func (as *AuditService) publishCompleted(ctx context.Context, audit *models.InventoryAudit) {
	if as.eventPublisher == nil {
		return
	}
	event := &models.AuditCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeAuditCompleted,
			Timestamp: time.Now(),
		},
		AuditID:              audit.ID,
		TotalProducts:        audit.TotalProducts,
		DiscrepanciesFound:   audit.DiscrepanciesFound,
		TotalValueDifference: audit.TotalValueDifference,
	}
	if err := as.eventPublisher.PublishAuditCompleted(ctx, event); err != nil {
		as.logger.Error("Failed to publish AuditCompleted event",
			zap.Int64("audit_id", audit.ID),
			zap.Error(err))
	}
}
