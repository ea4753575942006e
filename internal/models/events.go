package models

import "time"

// Event types
const (
	// Outbound events published by this service.
	EventTypeStockAdjusted         = "STOCK_ADJUSTED"
	EventTypeStockAlertRaised      = "STOCK_ALERT_RAISED"
	EventTypeStockAlertResolved    = "STOCK_ALERT_RESOLVED"
	EventTypePurchaseOrderCreated  = "PURCHASE_ORDER_CREATED"
	EventTypePurchaseOrderReceived = "PURCHASE_ORDER_RECEIVED"
	EventTypeAuditCompleted        = "AUDIT_COMPLETED"

	// Inbound events from the storefront, applied through the ledger.
	EventTypeSaleCompleted  = "SALE_COMPLETED"
	EventTypeReturnAccepted = "RETURN_ACCEPTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// StockAdjustedEvent published after every committed ledger transaction
type StockAdjustedEvent struct {
	BaseEvent
	ProductID        int64  `json:"product_id"`
	TransactionID    int64  `json:"transaction_id"`
	TransactionType  string `json:"transaction_type"`
	QuantityChange   int    `json:"quantity_change"`
	PreviousQuantity int    `json:"previous_quantity"`
	NewQuantity      int    `json:"new_quantity"`
}

// StockAlertRaisedEvent published when a threshold alert becomes active
type StockAlertRaisedEvent struct {
	BaseEvent
	ProductID      int64  `json:"product_id"`
	AlertType      string `json:"alert_type"`
	ThresholdValue int    `json:"threshold_value"`
	CurrentValue   int    `json:"current_value"`
}

// StockAlertResolvedEvent published when an alert condition clears
type StockAlertResolvedEvent struct {
	BaseEvent
	ProductID int64  `json:"product_id"`
	AlertType string `json:"alert_type"`
}

// PurchaseOrderCreatedEvent published when an order and its items commit
type PurchaseOrderCreatedEvent struct {
	BaseEvent
	OrderID     int64   `json:"order_id"`
	OrderNumber string  `json:"order_number"`
	SupplierID  int64   `json:"supplier_id"`
	TotalAmount float64 `json:"total_amount"`
	ItemCount   int     `json:"item_count"`
}

// PurchaseOrderReceivedEvent published after a receiving operation
type PurchaseOrderReceivedEvent struct {
	BaseEvent
	OrderID       int64  `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	FullyReceived bool   `json:"fully_received"`
}

// AuditCompletedEvent published when an audit is closed
type AuditCompletedEvent struct {
	BaseEvent
	AuditID              int64   `json:"audit_id"`
	TotalProducts        int     `json:"total_products"`
	DiscrepanciesFound   int     `json:"discrepancies_found"`
	TotalValueDifference float64 `json:"total_value_difference"`
}

// SaleCompletedEvent consumed from the storefront; each line becomes a
// SALE ledger transaction
type SaleCompletedEvent struct {
	BaseEvent
	OrderRef string         `json:"order_ref"`
	ActorID  string         `json:"actor_id"`
	Items    []StockLineData `json:"items"`
}

// ReturnAcceptedEvent consumed from the storefront; each line becomes a
// RETURN ledger transaction
type ReturnAcceptedEvent struct {
	BaseEvent
	OrderRef string         `json:"order_ref"`
	ActorID  string         `json:"actor_id"`
	Items    []StockLineData `json:"items"`
}

// StockLineData represents one product line in an inbound event
type StockLineData struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}
