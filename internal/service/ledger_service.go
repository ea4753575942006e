package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stock-ledger-service/internal/broker"
	"stock-ledger-service/internal/models"
	"stock-ledger-service/internal/redisclient"
	"stock-ledger-service/internal/store"
	"stock-ledger-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LedgerService is the stock ledger core: it applies a signed quantity
// delta to a product and appends the immutable transaction record in one
// atomic unit, then evaluates alerts synchronously before returning.
type LedgerService struct {
	store          store.Store
	cache          *redisclient.Client
	eventPublisher *broker.EventPublisher
	alertEngine    *AlertEngine
	logger         *zap.Logger
}

// NewLedgerService creates a new ledger service. cache and eventPublisher
// may be nil; both are best-effort side channels.
func NewLedgerService(
	st store.Store,
	cache *redisclient.Client,
	eventPublisher *broker.EventPublisher,
	alertEngine *AlertEngine,
) *LedgerService {
	return &LedgerService{
		store:          st,
		cache:          cache,
		eventPublisher: eventPublisher,
		alertEngine:    alertEngine,
		logger:         util.GetLogger(),
	}
}

// ApplyTransactionRequest describes one stock mutation.
type ApplyTransactionRequest struct {
	ProductID      int64    `json:"product_id" binding:"required"`
	QuantityChange int      `json:"quantity_change" binding:"required"`
	Type           string   `json:"type" binding:"required"`
	UnitCost       *float64 `json:"unit_cost,omitempty"`
	SupplierID     *int64   `json:"supplier_id,omitempty"`
	Reason         *string  `json:"reason,omitempty"`
	CreatedBy      *string  `json:"created_by,omitempty"`
}

// ApplyTransaction mutates a product's quantity and records the mutation.
// The quantity update and the record insert commit together or not at
// all. A SALE that would drive the quantity negative fails with
// InsufficientStock and leaves the quantity untouched; only ADJUSTMENT
// may produce a negative result (in-flight corrections).
func (s *LedgerService) ApplyTransaction(ctx context.Context, req *ApplyTransactionRequest) (*models.InventoryTransaction, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.ApplyTransaction")
	defer span.End()

	return s.apply(ctx, req, func(ctx context.Context, rec *models.InventoryTransaction, allowNegative bool) error {
		return s.store.ApplyStockDelta(ctx, rec, allowNegative)
	})
}

// ApplyReceipt is ApplyTransaction for a purchase order line: the item's
// received_quantity advance and the PURCHASE record commit as one unit, so
// a failed ledger write never strands units that were physically received.
func (s *LedgerService) ApplyReceipt(ctx context.Context, orderID int64, req *ApplyTransactionRequest) (*models.InventoryTransaction, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.ApplyReceipt")
	defer span.End()

	return s.apply(ctx, req, func(ctx context.Context, rec *models.InventoryTransaction, allowNegative bool) error {
		return s.store.ReceiveOrderLine(ctx, orderID, rec)
	})
}

// stockDeltaFunc is the storage operation an apply commits through.
type stockDeltaFunc func(ctx context.Context, rec *models.InventoryTransaction, allowNegative bool) error

func (s *LedgerService) apply(ctx context.Context, req *ApplyTransactionRequest, deltaFn stockDeltaFunc) (*models.InventoryTransaction, error) {
	start := time.Now()
	defer func() {
		util.StockApplyLatency.Observe(time.Since(start).Seconds())
	}()

	if !models.ValidTxType(req.Type) {
		util.StockTransactionsFailed.WithLabelValues("invalid_type").Inc()
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidTransactionType, req.Type)
	}
	if req.QuantityChange == 0 {
		util.StockTransactionsFailed.WithLabelValues("zero_change").Inc()
		return nil, store.ErrInvalidQuantityChange
	}

	rec := &models.InventoryTransaction{
		ProductID:      req.ProductID,
		Type:           req.Type,
		QuantityChange: req.QuantityChange,
		UnitCost:       req.UnitCost,
		SupplierID:     req.SupplierID,
		Reason:         req.Reason,
		CreatedBy:      req.CreatedBy,
	}

	allowNegative := req.Type == models.TxTypeAdjustment
	if err := deltaFn(ctx, rec, allowNegative); err != nil {
		util.StockTransactionsFailed.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	util.StockTransactionsTotal.WithLabelValues(req.Type).Inc()
	s.logger.Info("Stock transaction committed",
		zap.Int64("product_id", rec.ProductID),
		zap.String("type", rec.Type),
		zap.Int("change", rec.QuantityChange),
		zap.Int("new_quantity", rec.NewQuantity))

	// Alert evaluation is synchronous: callers observe the alert state
	// produced by their own mutation.
	changes, err := s.alertEngine.Evaluate(ctx, rec.ProductID, rec.NewQuantity)
	if err != nil {
		// The ledger mutation is already committed and must not be
		// reported as failed; the alert state heals on the next mutation.
		s.logger.Error("Alert evaluation failed after commit",
			zap.Int64("product_id", rec.ProductID),
			zap.Error(err))
	}

	s.refreshMirror(ctx, rec.ProductID, rec.NewQuantity, changes)
	s.publishStockAdjusted(ctx, rec)

	return rec, nil
}

// GetTransactionHistory returns ledger records for the admin dashboards.
func (s *LedgerService) GetTransactionHistory(ctx context.Context, filter models.TransactionFilter) ([]models.InventoryTransaction, error) {
	if filter.Type != "" && !models.ValidTxType(filter.Type) {
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidTransactionType, filter.Type)
	}
	return s.store.GetTransactionHistory(ctx, filter)
}

// GetLowStockProducts returns products with an active LOW_STOCK or
// OUT_OF_STOCK alert, most urgent first. Served from the Redis report
// cache when fresh.
func (s *LedgerService) GetLowStockProducts(ctx context.Context) ([]models.LowStockProduct, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.GetLowStockProducts")
	defer span.End()

	if s.cache != nil {
		rows, found, err := s.cache.GetLowStockReport(ctx)
		if err != nil {
			s.logger.Warn("Low stock cache read failed, falling back to store", zap.Error(err))
		} else if found {
			return rows, nil
		}
	}

	rows, err := s.store.GetLowStockProducts(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.CacheLowStockReport(ctx, rows); err != nil {
			s.logger.Warn("Failed to cache low stock report", zap.Error(err))
		}
	}
	return rows, nil
}

// refreshMirror pushes the committed quantity into Redis and drops the
// low-stock report cache when the alert set changed. Failures are logged;
// the mirror never gates ledger correctness.
func (s *LedgerService) refreshMirror(ctx context.Context, productID int64, quantity int, changes *AlertChanges) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetQuantity(ctx, productID, quantity); err != nil {
		s.logger.Warn("Failed to mirror quantity to Redis",
			zap.Int64("product_id", productID),
			zap.Error(err))
	}
	if changes != nil && (len(changes.Raised) > 0 || len(changes.Resolved) > 0) {
		if err := s.cache.InvalidateLowStockReport(ctx); err != nil {
			s.logger.Warn("Failed to invalidate low stock report cache", zap.Error(err))
		}
	}
}

func (s *LedgerService) publishStockAdjusted(ctx context.Context, rec *models.InventoryTransaction) {
	if s.eventPublisher == nil {
		return
	}
	event := &models.StockAdjustedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeStockAdjusted,
			Timestamp: time.Now(),
		},
		ProductID:        rec.ProductID,
		TransactionID:    rec.ID,
		TransactionType:  rec.Type,
		QuantityChange:   rec.QuantityChange,
		PreviousQuantity: rec.PreviousQuantity,
		NewQuantity:      rec.NewQuantity,
	}
	if err := s.eventPublisher.PublishStockAdjusted(ctx, event); err != nil {
		s.logger.Error("Failed to publish StockAdjusted event",
			zap.Int64("product_id", rec.ProductID),
			zap.Error(err))
	}
}

// failureReason maps a store error onto a metric label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, store.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, store.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, store.ErrOverReceipt):
		return "over_receipt"
	default:
		return "persistence_error"
	}
}
