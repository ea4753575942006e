package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stock-ledger-service/internal/broker"
	"stock-ledger-service/internal/models"
	"stock-ledger-service/internal/store"
	"stock-ledger-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PurchaseService handles the purchase order workflow: atomic creation of
// multi-line orders and the receiving operation that feeds quantity
// increases back into the ledger core.
type PurchaseService struct {
	store          store.Store
	ledger         *LedgerService
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
}

// NewPurchaseService creates a new purchase service
func NewPurchaseService(st store.Store, ledger *LedgerService, eventPublisher *broker.EventPublisher) *PurchaseService {
	return &PurchaseService{
		store:          st,
		ledger:         ledger,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// CreatePurchaseOrderRequest describes a new multi-line purchase order.
type CreatePurchaseOrderRequest struct {
	SupplierID           int64              `json:"supplier_id" binding:"required"`
	Items                []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	ExpectedDeliveryDate *time.Time         `json:"expected_delivery_date,omitempty"`
	Notes                string             `json:"notes,omitempty"`
	CreatedBy            *string            `json:"created_by,omitempty"`
}

// OrderItemRequest is one line of a purchase order request.
type OrderItemRequest struct {
	ProductID int64   `json:"product_id" binding:"required"`
	Quantity  int     `json:"quantity" binding:"required,min=1"`
	UnitCost  float64 `json:"unit_cost" binding:"min=0"`
}

// CreatePurchaseOrder generates a globally unique order number, computes
// the order total from its lines, and inserts the order plus all items as
// one atomic unit. Either everything exists afterwards or nothing does.
func (ps *PurchaseService) CreatePurchaseOrder(ctx context.Context, req *CreatePurchaseOrderRequest) (*models.PurchaseOrder, []models.PurchaseOrderItem, error) {
	ctx, span := util.StartSpan(ctx, "PurchaseService.CreatePurchaseOrder")
	defer span.End()

	if len(req.Items) == 0 {
		util.PurchaseOrdersFailedTotal.WithLabelValues("no_items").Inc()
		return nil, nil, fmt.Errorf("purchase order must have at least one item")
	}

	items := make([]models.PurchaseOrderItem, 0, len(req.Items))
	var totalAmount float64
	for _, line := range req.Items {
		if line.Quantity <= 0 {
			util.PurchaseOrdersFailedTotal.WithLabelValues("invalid_quantity").Inc()
			return nil, nil, fmt.Errorf("item quantity must be positive for product %d", line.ProductID)
		}
		if line.UnitCost < 0 {
			util.PurchaseOrdersFailedTotal.WithLabelValues("invalid_cost").Inc()
			return nil, nil, fmt.Errorf("item unit cost must be non-negative for product %d", line.ProductID)
		}
		if _, err := ps.store.GetProduct(ctx, line.ProductID); err != nil {
			util.PurchaseOrdersFailedTotal.WithLabelValues("product_not_found").Inc()
			return nil, nil, err
		}

		totalCost := float64(line.Quantity) * line.UnitCost
		totalAmount += totalCost
		items = append(items, models.PurchaseOrderItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitCost:  line.UnitCost,
			TotalCost: totalCost,
		})
	}

	order := &models.PurchaseOrder{
		SupplierID:           req.SupplierID,
		OrderNumber:          generateOrderNumber(),
		Status:               models.POStatusPending,
		OrderDate:            time.Now().UTC(),
		ExpectedDeliveryDate: req.ExpectedDeliveryDate,
		TotalAmount:          totalAmount,
		Notes:                req.Notes,
		CreatedBy:            req.CreatedBy,
	}

	// A collision on the generated number is a hard failure, not a
	// silent retry.
	if err := ps.store.CreatePurchaseOrder(ctx, order, items); err != nil {
		util.PurchaseOrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, nil, err
	}

	util.PurchaseOrdersCreatedTotal.Inc()
	ps.logger.Info("Purchase order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Float64("total_amount", order.TotalAmount),
		zap.Int("items", len(items)))

	ps.publishCreated(ctx, order, len(items))
	return order, items, nil
}

// ReceiptLine is one received quantity within a receiving operation.
type ReceiptLine struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// ReceiveItems advances received_quantity on the given lines and emits a
// PURCHASE ledger transaction per line. Receiving beyond an item's ordered
// quantity is rejected with OverReceipt before anything is applied. When
// every item of the order is fully received the order moves to RECEIVED.
func (ps *PurchaseService) ReceiveItems(ctx context.Context, orderID int64, receipts []ReceiptLine, receivedBy *string) (*models.PurchaseOrder, error) {
	ctx, span := util.StartSpan(ctx, "PurchaseService.ReceiveItems")
	defer span.End()

	order, items, err := ps.store.GetPurchaseOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == models.POStatusCancelled || order.Status == models.POStatusReceived {
		return nil, fmt.Errorf("purchase order %s is %s and cannot receive goods", order.OrderNumber, order.Status)
	}

	itemsByProduct := make(map[int64]models.PurchaseOrderItem, len(items))
	for _, item := range items {
		itemsByProduct[item.ProductID] = item
	}

	// Validate the whole receipt before touching anything.
	for _, r := range receipts {
		item, ok := itemsByProduct[r.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: order %d has no line for product %d", store.ErrOverReceipt, orderID, r.ProductID)
		}
		if r.Quantity <= 0 {
			return nil, fmt.Errorf("received quantity must be positive for product %d", r.ProductID)
		}
		if item.ReceivedQuantity+r.Quantity > item.Quantity {
			return nil, fmt.Errorf("%w: order %d, product %d, ordered %d, already received %d, receiving %d",
				store.ErrOverReceipt, orderID, r.ProductID, item.Quantity, item.ReceivedQuantity, r.Quantity)
		}
	}

	reason := fmt.Sprintf("purchase order %s receipt", order.OrderNumber)
	for _, r := range receipts {
		item := itemsByProduct[r.ProductID]
		unitCost := item.UnitCost
		supplierID := order.SupplierID
		// One atomic unit per line: the received_quantity advance and the
		// PURCHASE record commit together or not at all.
		if _, err := ps.ledger.ApplyReceipt(ctx, orderID, &ApplyTransactionRequest{
			ProductID:      r.ProductID,
			QuantityChange: r.Quantity,
			Type:           models.TxTypePurchase,
			UnitCost:       &unitCost,
			SupplierID:     &supplierID,
			Reason:         &reason,
			CreatedBy:      receivedBy,
		}); err != nil {
			return nil, fmt.Errorf("failed to apply purchase transaction for product %d: %w", r.ProductID, err)
		}
	}

	order, items, err = ps.store.GetPurchaseOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	fullyReceived := true
	for _, item := range items {
		if item.ReceivedQuantity < item.Quantity {
			fullyReceived = false
			break
		}
	}
	if fullyReceived && order.Status != models.POStatusReceived {
		if err := ps.store.UpdatePurchaseOrderStatus(ctx, orderID, models.POStatusReceived); err != nil {
			return nil, err
		}
		order.Status = models.POStatusReceived
	}

	util.PurchaseOrdersReceivedTotal.Inc()
	ps.logger.Info("Purchase order goods received",
		zap.Int64("order_id", orderID),
		zap.String("order_number", order.OrderNumber),
		zap.Bool("fully_received", fullyReceived))

	ps.publishReceived(ctx, order, fullyReceived)
	return order, nil
}

// GetPurchaseOrder retrieves an order with its items
func (ps *PurchaseService) GetPurchaseOrder(ctx context.Context, orderID int64) (*models.PurchaseOrder, []models.PurchaseOrderItem, error) {
	return ps.store.GetPurchaseOrder(ctx, orderID)
}

// generateOrderNumber builds a time-based token with a random suffix.
// Uniqueness is still enforced by the store; this only makes collisions
// astronomically unlikely, not impossible.
func generateOrderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("PO-%s-%s", time.Now().UTC().Format("20060102"), suffix)
}

func (ps *PurchaseService) publishCreated(ctx context.Context, order *models.PurchaseOrder, itemCount int) {
	if ps.eventPublisher == nil {
		return
	}
	event := &models.PurchaseOrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePurchaseOrderCreated,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		SupplierID:  order.SupplierID,
		TotalAmount: order.TotalAmount,
		ItemCount:   itemCount,
	}
	if err := ps.eventPublisher.PublishPurchaseOrderCreated(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PurchaseOrderCreated event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}

func (ps *PurchaseService) publishReceived(ctx context.Context, order *models.PurchaseOrder, fullyReceived bool) {
	if ps.eventPublisher == nil {
		return
	}
	event := &models.PurchaseOrderReceivedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePurchaseOrderReceived,
			Timestamp: time.Now(),
		},
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		FullyReceived: fullyReceived,
	}
	if err := ps.eventPublisher.PublishPurchaseOrderReceived(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PurchaseOrderReceived event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}
