package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"stock-ledger-service/internal/models"
	"stock-ledger-service/internal/store"
)

// Store is a mutex-guarded in-memory implementation of store.Store, used
// by unit tests and dev mode. The single lock gives every operation the
// same all-or-nothing visibility the PostgreSQL implementation gets from
// transactions.
type Store struct {
	mu sync.Mutex

	products     map[int64]*models.Product
	transactions []models.InventoryTransaction
	alerts       []models.StockAlert
	orders       map[int64]*models.PurchaseOrder
	orderItems   map[int64][]models.PurchaseOrderItem
	audits       map[int64]*models.InventoryAudit
	auditItems   map[int64][]models.InventoryAuditItem
	orderNumbers map[string]bool
	processed    map[string]string

	nextTxID     int64
	nextAlertID  int64
	nextOrderID  int64
	nextItemID   int64
	nextAuditID  int64
	nextCountID  int64

	// failTxErr, when set, makes the failTxAt-th upcoming stock delta fail
	// after its guards pass, without committing either side. Tests use it
	// to verify that no orphan mutation survives a mid-operation failure.
	failTxErr error
	failTxAt  int
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		products:     make(map[int64]*models.Product),
		orders:       make(map[int64]*models.PurchaseOrder),
		orderItems:   make(map[int64][]models.PurchaseOrderItem),
		audits:       make(map[int64]*models.InventoryAudit),
		auditItems:   make(map[int64][]models.InventoryAuditItem),
		orderNumbers: make(map[string]bool),
		processed:    make(map[string]string),
	}
}

// SeedProduct registers a product the ledger can mutate
func (s *Store) SeedProduct(p models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.products[p.ID] = &cp
}

// FailNextTransaction forces the next stock delta to fail with err.
func (s *Store) FailNextTransaction(err error) {
	s.FailTransaction(1, err)
}

// FailTransaction forces the nth upcoming stock delta (1-based) to fail
// with err; deltas before it succeed normally.
func (s *Store) FailTransaction(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTxErr = err
	s.failTxAt = n
}

// GetProduct returns a copy of the product
func (s *Store) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", store.ErrProductNotFound, productID)
	}
	cp := *p
	return &cp, nil
}

// ApplyStockDelta applies the delta and appends the record under one lock
func (s *Store) ApplyStockDelta(ctx context.Context, rec *models.InventoryTransaction, allowNegative bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyDeltaLocked(rec, allowNegative)
}

// applyDeltaLocked holds the guards and the mutation; callers must hold mu.
func (s *Store) applyDeltaLocked(rec *models.InventoryTransaction, allowNegative bool) error {
	p, ok := s.products[rec.ProductID]
	if !ok {
		return fmt.Errorf("%w: %d", store.ErrProductNotFound, rec.ProductID)
	}
	if !allowNegative && p.Quantity+rec.QuantityChange < 0 {
		return fmt.Errorf("%w: product %d, change %d", store.ErrInsufficientStock, rec.ProductID, rec.QuantityChange)
	}
	if s.failTxErr != nil {
		s.failTxAt--
		if s.failTxAt <= 0 {
			err := s.failTxErr
			s.failTxErr = nil
			return fmt.Errorf("%w: %v", store.ErrPersistence, err)
		}
	}

	rec.PreviousQuantity = p.Quantity
	p.Quantity += rec.QuantityChange
	rec.NewQuantity = p.Quantity

	s.nextTxID++
	rec.ID = s.nextTxID
	rec.CreatedAt = time.Now().UTC()
	s.transactions = append(s.transactions, *rec)
	return nil
}

// GetTransactionHistory filters the ledger, newest first
func (s *Store) GetTransactionHistory(ctx context.Context, filter models.TransactionFilter) ([]models.InventoryTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = store.DefaultHistoryLimit
	}

	var out []models.InventoryTransaction
	for i := len(s.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		tx := s.transactions[i]
		if filter.ProductID != 0 && tx.ProductID != filter.ProductID {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if !filter.From.IsZero() && tx.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && tx.CreatedAt.After(filter.To) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

// GetActiveAlert returns a copy of the active alert, or nil
func (s *Store) GetActiveAlert(ctx context.Context, productID int64, alertType string) (*models.StockAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		a := s.alerts[i]
		if a.ProductID == productID && a.AlertType == alertType && a.IsActive {
			cp := a
			return &cp, nil
		}
	}
	return nil, nil
}

// CreateAlert inserts a new active alert, rejecting a duplicate active
// (product, type) pair the same way the database unique index does
func (s *Store) CreateAlert(ctx context.Context, alert *models.StockAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		a := s.alerts[i]
		if a.ProductID == alert.ProductID && a.AlertType == alert.AlertType && a.IsActive {
			return fmt.Errorf("%w: product %d, type %s", store.ErrAlertExists, alert.ProductID, alert.AlertType)
		}
	}
	s.nextAlertID++
	alert.ID = s.nextAlertID
	alert.IsActive = true
	alert.CreatedAt = time.Now().UTC()
	s.alerts = append(s.alerts, *alert)
	return nil
}

// UpdateAlertValues refreshes an active alert without touching created_at
func (s *Store) UpdateAlertValues(ctx context.Context, alertID int64, currentValue, thresholdValue int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID == alertID {
			s.alerts[i].CurrentValue = currentValue
			s.alerts[i].ThresholdValue = thresholdValue
			return nil
		}
	}
	return fmt.Errorf("%w: alert %d", store.ErrPersistence, alertID)
}

// ResolveAlert marks an alert inactive, keeping it as history
func (s *Store) ResolveAlert(ctx context.Context, alertID int64, resolvedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID == alertID {
			s.alerts[i].IsActive = false
			at := resolvedAt
			s.alerts[i].ResolvedAt = &at
			return nil
		}
	}
	return fmt.Errorf("%w: alert %d", store.ErrPersistence, alertID)
}

// GetLowStockProducts lists products with an active LOW_STOCK or
// OUT_OF_STOCK alert, ascending by quantity
func (s *Store) GetLowStockProducts(ctx context.Context) ([]models.LowStockProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.LowStockProduct
	for i := range s.alerts {
		a := s.alerts[i]
		if !a.IsActive || (a.AlertType != models.AlertLowStock && a.AlertType != models.AlertOutOfStock) {
			continue
		}
		p, ok := s.products[a.ProductID]
		if !ok {
			continue
		}
		out = append(out, models.LowStockProduct{
			ProductID:      a.ProductID,
			Quantity:       p.Quantity,
			AlertType:      a.AlertType,
			ThresholdValue: a.ThresholdValue,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Quantity < out[j].Quantity })
	return out, nil
}

// CreatePurchaseOrder inserts the order and all items under one lock
func (s *Store) CreatePurchaseOrder(ctx context.Context, order *models.PurchaseOrder, items []models.PurchaseOrderItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.orderNumbers[order.OrderNumber] {
		return fmt.Errorf("%w: %s", store.ErrOrderNumberCollision, order.OrderNumber)
	}

	s.nextOrderID++
	order.ID = s.nextOrderID
	cp := *order
	s.orders[order.ID] = &cp
	s.orderNumbers[order.OrderNumber] = true

	stored := make([]models.PurchaseOrderItem, 0, len(items))
	for i := range items {
		s.nextItemID++
		items[i].ID = s.nextItemID
		items[i].PurchaseOrderID = order.ID
		stored = append(stored, items[i])
	}
	s.orderItems[order.ID] = stored
	return nil
}

// GetPurchaseOrder returns copies of the order and its items
func (s *Store) GetPurchaseOrder(ctx context.Context, orderID int64) (*models.PurchaseOrder, []models.PurchaseOrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", store.ErrOrderNotFound, orderID)
	}
	cp := *o
	items := append([]models.PurchaseOrderItem(nil), s.orderItems[orderID]...)
	return &cp, items, nil
}

// ReceiveOrderLine advances received_quantity and applies the stock delta
// with its record under one lock; a failed delta leaves received_quantity
// untouched
func (s *Store) ReceiveOrderLine(ctx context.Context, orderID int64, rec *models.InventoryTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.orderItems[orderID]
	for i := range items {
		if items[i].ProductID != rec.ProductID {
			continue
		}
		if items[i].ReceivedQuantity+rec.QuantityChange > items[i].Quantity {
			return fmt.Errorf("%w: order %d, product %d, delta %d", store.ErrOverReceipt, orderID, rec.ProductID, rec.QuantityChange)
		}
		if err := s.applyDeltaLocked(rec, false); err != nil {
			return err
		}
		items[i].ReceivedQuantity += rec.QuantityChange
		return nil
	}
	return fmt.Errorf("%w: order %d, product %d, delta %d", store.ErrOverReceipt, orderID, rec.ProductID, rec.QuantityChange)
}

// UpdatePurchaseOrderStatus updates order status
func (s *Store) UpdatePurchaseOrderStatus(ctx context.Context, orderID int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %d", store.ErrOrderNotFound, orderID)
	}
	o.Status = status
	return nil
}

// CreateAudit inserts a new audit
func (s *Store) CreateAudit(ctx context.Context, audit *models.InventoryAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAuditID++
	audit.ID = s.nextAuditID
	cp := *audit
	s.audits[audit.ID] = &cp
	return nil
}

// GetAudit returns copies of the audit and its items
func (s *Store) GetAudit(ctx context.Context, auditID int64) (*models.InventoryAudit, []models.InventoryAuditItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.audits[auditID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", store.ErrAuditNotFound, auditID)
	}
	cp := *a
	items := append([]models.InventoryAuditItem(nil), s.auditItems[auditID]...)
	return &cp, items, nil
}

// UpsertAuditItem replaces any prior count for the same product
func (s *Store) UpsertAuditItem(ctx context.Context, item *models.InventoryAuditItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.audits[item.AuditID]; !ok {
		return fmt.Errorf("%w: %d", store.ErrAuditNotFound, item.AuditID)
	}

	items := s.auditItems[item.AuditID]
	for i := range items {
		if items[i].ProductID == item.ProductID {
			item.ID = items[i].ID
			items[i] = *item
			return nil
		}
	}
	s.nextCountID++
	item.ID = s.nextCountID
	s.auditItems[item.AuditID] = append(items, *item)
	return nil
}

// CloseAudit derives the aggregates and finalizes the audit
func (s *Store) CloseAudit(ctx context.Context, auditID int64, status string) (*models.InventoryAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.audits[auditID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", store.ErrAuditNotFound, auditID)
	}
	if a.Status != models.AuditStatusInProgress {
		return nil, fmt.Errorf("%w: %d", store.ErrAuditClosed, auditID)
	}

	a.TotalProducts = 0
	a.DiscrepanciesFound = 0
	a.TotalValueDifference = 0
	for _, item := range s.auditItems[auditID] {
		a.TotalProducts++
		if item.Difference != 0 {
			a.DiscrepanciesFound++
		}
		a.TotalValueDifference += item.ValueDifference
	}
	a.Status = status

	cp := *a
	return &cp, nil
}

// IsEventProcessed checks if an inbound event was already applied
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[eventID]
	return ok, nil
}

// MarkEventProcessed records an inbound event id
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[eventID] = eventType
	return nil
}
