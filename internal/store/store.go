package store

import (
	"context"
	"errors"
	"time"

	"stock-ledger-service/internal/models"
)

// Typed failures surfaced by every Store implementation. Callers match
// with errors.Is; none of these are retried internally.
var (
	ErrProductNotFound        = errors.New("product not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrInvalidQuantityChange  = errors.New("quantity change must be non-zero")
	ErrOrderNumberCollision   = errors.New("order number collision")
	ErrAlertExists            = errors.New("active alert already exists")
	ErrOverReceipt            = errors.New("received quantity exceeds ordered quantity")
	ErrOrderNotFound          = errors.New("purchase order not found")
	ErrAuditNotFound          = errors.New("audit not found")
	ErrAuditClosed            = errors.New("audit is not in progress")
	ErrPersistence            = errors.New("persistence failure")
)

// DefaultHistoryLimit caps GetTransactionHistory when no limit is given.
const DefaultHistoryLimit = 100

// Store is the persistence boundary of the ledger. Every method that
// touches more than one row is all-or-nothing: implementations must never
// leave a partial write observable. The services hold no database handle
// of their own; this interface is injected.
type Store interface {
	// GetProduct returns the catalog fields the ledger reads.
	GetProduct(ctx context.Context, productID int64) (*models.Product, error)

	// ApplyStockDelta atomically adds rec.QuantityChange to the product's
	// quantity and appends the transaction record in one unit. The
	// arithmetic happens at the storage layer so concurrent callers can
	// never lose an update. When allowNegative is false the delta is
	// rejected with ErrInsufficientStock if it would drive the quantity
	// below zero. On success rec.ID, rec.PreviousQuantity, rec.NewQuantity
	// and rec.CreatedAt are populated from the committed row.
	ApplyStockDelta(ctx context.Context, rec *models.InventoryTransaction, allowNegative bool) error

	// GetTransactionHistory returns ledger records matching the filter,
	// newest first.
	GetTransactionHistory(ctx context.Context, filter models.TransactionFilter) ([]models.InventoryTransaction, error)

	// Alerts. GetActiveAlert returns nil (no error) when none is active.
	// CreateAlert fails with ErrAlertExists when an active alert for the
	// same (product, type) already exists; a concurrent evaluation won.
	GetActiveAlert(ctx context.Context, productID int64, alertType string) (*models.StockAlert, error)
	CreateAlert(ctx context.Context, alert *models.StockAlert) error
	UpdateAlertValues(ctx context.Context, alertID int64, currentValue, thresholdValue int) error
	ResolveAlert(ctx context.Context, alertID int64, resolvedAt time.Time) error
	GetLowStockProducts(ctx context.Context) ([]models.LowStockProduct, error)

	// Purchase orders. CreatePurchaseOrder inserts the order and all its
	// items atomically, populating order.ID and each item's ID.
	CreatePurchaseOrder(ctx context.Context, order *models.PurchaseOrder, items []models.PurchaseOrderItem) error
	GetPurchaseOrder(ctx context.Context, orderID int64) (*models.PurchaseOrder, []models.PurchaseOrderItem, error)
	// ReceiveOrderLine advances received_quantity on one item by
	// rec.QuantityChange and applies the same delta to the product through
	// the ledger, all in one unit: received_quantity never advances without
	// its PURCHASE transaction committing alongside. Fails with
	// ErrOverReceipt if the increment would exceed the ordered quantity.
	ReceiveOrderLine(ctx context.Context, orderID int64, rec *models.InventoryTransaction) error
	UpdatePurchaseOrderStatus(ctx context.Context, orderID int64, status string) error

	// Audits. UpsertAuditItem replaces any prior count for the same
	// product within the audit (last count wins). CloseAudit derives the
	// aggregate fields from the items and sets the final status in one
	// unit, returning the closed audit.
	CreateAudit(ctx context.Context, audit *models.InventoryAudit) error
	GetAudit(ctx context.Context, auditID int64) (*models.InventoryAudit, []models.InventoryAuditItem, error)
	UpsertAuditItem(ctx context.Context, item *models.InventoryAuditItem) error
	CloseAudit(ctx context.Context, auditID int64, status string) (*models.InventoryAudit, error)

	// Event idempotency for the inbound worker.
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}
