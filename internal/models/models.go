package models

import "time"

// Product is owned by the catalog service; the ledger touches only the
// quantity, threshold and pricing fields below.
type Product struct {
	ID            int64   `db:"id" json:"id"`
	Quantity      int     `db:"quantity" json:"quantity"`
	ReorderLevel  *int    `db:"reorder_level" json:"reorder_level,omitempty"`
	MaxStockLevel *int    `db:"max_stock_level" json:"max_stock_level,omitempty"`
	UnitPrice     float64 `db:"unit_price" json:"unit_price"`
}

// Transaction types
const (
	TxTypePurchase   = "PURCHASE"
	TxTypeSale       = "SALE"
	TxTypeAdjustment = "ADJUSTMENT"
	TxTypeReturn     = "RETURN"
	TxTypeTransfer   = "TRANSFER"
)

// ValidTxType reports whether t is one of the five transaction types.
func ValidTxType(t string) bool {
	switch t {
	case TxTypePurchase, TxTypeSale, TxTypeAdjustment, TxTypeReturn, TxTypeTransfer:
		return true
	}
	return false
}

// InventoryTransaction is the append-only audit trail of every stock
// mutation. Rows are never updated or deleted.
type InventoryTransaction struct {
	ID               int64     `db:"id" json:"id"`
	ProductID        int64     `db:"product_id" json:"product_id"`
	Type             string    `db:"type" json:"type"`
	QuantityChange   int       `db:"quantity_change" json:"quantity_change"`
	PreviousQuantity int       `db:"previous_quantity" json:"previous_quantity"`
	NewQuantity      int       `db:"new_quantity" json:"new_quantity"`
	UnitCost         *float64  `db:"unit_cost" json:"unit_cost,omitempty"`
	SupplierID       *int64    `db:"supplier_id" json:"supplier_id,omitempty"`
	Reason           *string   `db:"reason" json:"reason,omitempty"`
	CreatedBy        *string   `db:"created_by" json:"created_by,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// Alert types
const (
	AlertLowStock    = "LOW_STOCK"
	AlertOutOfStock  = "OUT_OF_STOCK"
	AlertOverstocked = "OVERSTOCKED"
)

// StockAlert is an active or historical threshold alert. At most one active
// alert exists per (product_id, alert_type); resolved alerts are kept as
// history rather than deleted.
type StockAlert struct {
	ID             int64      `db:"id" json:"id"`
	ProductID      int64      `db:"product_id" json:"product_id"`
	AlertType      string     `db:"alert_type" json:"alert_type"`
	ThresholdValue int        `db:"threshold_value" json:"threshold_value"`
	CurrentValue   int        `db:"current_value" json:"current_value"`
	IsActive       bool       `db:"is_active" json:"is_active"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt     *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// Purchase order statuses
const (
	POStatusPending   = "PENDING"
	POStatusConfirmed = "CONFIRMED"
	POStatusShipped   = "SHIPPED"
	POStatusReceived  = "RECEIVED"
	POStatusCancelled = "CANCELLED"
)

// PurchaseOrder is a replenishment order against a supplier.
type PurchaseOrder struct {
	ID                   int64      `db:"id" json:"id"`
	SupplierID           int64      `db:"supplier_id" json:"supplier_id"`
	OrderNumber          string     `db:"order_number" json:"order_number"`
	Status               string     `db:"status" json:"status"`
	OrderDate            time.Time  `db:"order_date" json:"order_date"`
	ExpectedDeliveryDate *time.Time `db:"expected_delivery_date" json:"expected_delivery_date,omitempty"`
	TotalAmount          float64    `db:"total_amount" json:"total_amount"`
	Notes                string     `db:"notes" json:"notes"`
	CreatedBy            *string    `db:"created_by" json:"created_by,omitempty"`
}

// PurchaseOrderItem is one line of a purchase order. TotalCost is always
// Quantity*UnitCost and ReceivedQuantity never exceeds Quantity.
type PurchaseOrderItem struct {
	ID               int64   `db:"id" json:"id"`
	PurchaseOrderID  int64   `db:"purchase_order_id" json:"purchase_order_id"`
	ProductID        int64   `db:"product_id" json:"product_id"`
	Quantity         int     `db:"quantity" json:"quantity"`
	UnitCost         float64 `db:"unit_cost" json:"unit_cost"`
	TotalCost        float64 `db:"total_cost" json:"total_cost"`
	ReceivedQuantity int     `db:"received_quantity" json:"received_quantity"`
}

// Audit statuses
const (
	AuditStatusInProgress = "IN_PROGRESS"
	AuditStatusCompleted  = "COMPLETED"
	AuditStatusCancelled  = "CANCELLED"
)

// InventoryAudit is one physical-count reconciliation pass. The aggregate
// fields are derived from its items when the audit is closed.
type InventoryAudit struct {
	ID                   int64     `db:"id" json:"id"`
	AuditDate            time.Time `db:"audit_date" json:"audit_date"`
	AuditedBy            string    `db:"audited_by" json:"audited_by"`
	TotalProducts        int       `db:"total_products" json:"total_products"`
	DiscrepanciesFound   int       `db:"discrepancies_found" json:"discrepancies_found"`
	TotalValueDifference float64   `db:"total_value_difference" json:"total_value_difference"`
	Status               string    `db:"status" json:"status"`
	Notes                string    `db:"notes" json:"notes"`
}

// InventoryAuditItem records one product's count within an audit.
// Difference = CountedQuantity - SystemQuantity and ValueDifference =
// Difference * UnitCost, both fixed at count time.
type InventoryAuditItem struct {
	ID              int64   `db:"id" json:"id"`
	AuditID         int64   `db:"audit_id" json:"audit_id"`
	ProductID       int64   `db:"product_id" json:"product_id"`
	SystemQuantity  int     `db:"system_quantity" json:"system_quantity"`
	CountedQuantity int     `db:"counted_quantity" json:"counted_quantity"`
	Difference      int     `db:"difference" json:"difference"`
	UnitCost        float64 `db:"unit_cost" json:"unit_cost"`
	ValueDifference float64 `db:"value_difference" json:"value_difference"`
}

// LowStockProduct is a row of the low-stock report: a product with an
// active LOW_STOCK or OUT_OF_STOCK alert, most urgent first.
type LowStockProduct struct {
	ProductID      int64  `db:"product_id" json:"product_id"`
	Quantity       int    `db:"quantity" json:"quantity"`
	AlertType      string `db:"alert_type" json:"alert_type"`
	ThresholdValue int    `db:"threshold_value" json:"threshold_value"`
}

// TransactionFilter narrows GetTransactionHistory results. Zero values
// mean "no filter"; Limit 0 falls back to the store default.
type TransactionFilter struct {
	ProductID int64
	Type      string
	From      time.Time
	To        time.Time
	Limit     int
}

// ProcessedEvent dedupes inbound broker events; stock mutations are not
// idempotent so the worker must not apply the same event twice.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
