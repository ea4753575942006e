package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"stock-ledger-service/internal/models"
	"stock-ledger-service/internal/store"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

// Store is the PostgreSQL implementation of store.Store.
type Store struct {
	db *sqlx.DB
}

// NewStore connects to PostgreSQL and configures the pool
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// wrapPersistence tags unexpected driver errors so callers can match
// store.ErrPersistence without inspecting driver types.
func wrapPersistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", store.ErrPersistence, op, err)
}

// GetProduct retrieves the ledger-visible fields of a product
func (s *Store) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"SELECT id, quantity, reorder_level, max_stock_level, unit_price FROM products WHERE id = $1",
		productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", store.ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, wrapPersistence("get product", err)
	}
	return &product, nil
}

// ApplyStockDelta pushes the quantity arithmetic into a single UPDATE so
// concurrent callers can never lose an update, then appends the ledger
// record in the same transaction. The RETURNING row, not an application
// read, is what the record is built from.
func (s *Store) ApplyStockDelta(ctx context.Context, rec *models.InventoryTransaction, allowNegative bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapPersistence("begin", err)
	}
	defer tx.Rollback()

	if err := applyDeltaTx(ctx, tx, rec, allowNegative); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapPersistence("commit", err)
	}
	return nil
}

// applyDeltaTx runs the quantity UPDATE and the record insert inside the
// caller's transaction.
func applyDeltaTx(ctx context.Context, tx *sqlx.Tx, rec *models.InventoryTransaction, allowNegative bool) error {
	query := `
		UPDATE products
		SET quantity = quantity + $1
		WHERE id = $2`
	if !allowNegative {
		query += " AND quantity + $1 >= 0"
	}
	query += " RETURNING quantity"

	var newQuantity int
	err := tx.GetContext(ctx, &newQuantity, query, rec.QuantityChange, rec.ProductID)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the product does not exist or the guard rejected the
		// delta; disambiguate outside the UPDATE.
		var exists bool
		if exErr := tx.GetContext(ctx, &exists,
			"SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)", rec.ProductID); exErr != nil {
			return wrapPersistence("check product", exErr)
		}
		if !exists {
			return fmt.Errorf("%w: %d", store.ErrProductNotFound, rec.ProductID)
		}
		return fmt.Errorf("%w: product %d, change %d", store.ErrInsufficientStock, rec.ProductID, rec.QuantityChange)
	}
	if err != nil {
		return wrapPersistence("update quantity", err)
	}

	rec.PreviousQuantity = newQuantity - rec.QuantityChange
	rec.NewQuantity = newQuantity

	insert := `
		INSERT INTO inventory_transactions
			(product_id, type, quantity_change, previous_quantity, new_quantity,
			 unit_cost, supplier_id, reason, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err = tx.QueryRowxContext(ctx, insert,
		rec.ProductID, rec.Type, rec.QuantityChange, rec.PreviousQuantity, rec.NewQuantity,
		rec.UnitCost, rec.SupplierID, rec.Reason, rec.CreatedBy,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return wrapPersistence("insert transaction", err)
	}
	return nil
}

// GetTransactionHistory retrieves ledger records matching the filter
func (s *Store) GetTransactionHistory(ctx context.Context, filter models.TransactionFilter) ([]models.InventoryTransaction, error) {
	var conds []string
	var args []interface{}

	if filter.ProductID != 0 {
		args = append(args, filter.ProductID)
		conds = append(conds, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	query := "SELECT * FROM inventory_transactions"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = store.DefaultHistoryLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	var txs []models.InventoryTransaction
	if err := s.db.SelectContext(ctx, &txs, query, args...); err != nil {
		return nil, wrapPersistence("transaction history", err)
	}
	return txs, nil
}

// GetActiveAlert returns the active alert for (product, type), or nil
func (s *Store) GetActiveAlert(ctx context.Context, productID int64, alertType string) (*models.StockAlert, error) {
	var alert models.StockAlert
	err := s.db.GetContext(ctx, &alert,
		"SELECT * FROM stock_alerts WHERE product_id = $1 AND alert_type = $2 AND is_active",
		productID, alertType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPersistence("get active alert", err)
	}
	return &alert, nil
}

// CreateAlert inserts a new active alert
func (s *Store) CreateAlert(ctx context.Context, alert *models.StockAlert) error {
	query := `
		INSERT INTO stock_alerts (product_id, alert_type, threshold_value, current_value, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		RETURNING id, created_at`

	err := s.db.QueryRowxContext(ctx, query,
		alert.ProductID, alert.AlertType, alert.ThresholdValue, alert.CurrentValue,
	).Scan(&alert.ID, &alert.CreatedAt)
	if err != nil {
		// The partial unique index on active alerts fires when a
		// concurrent evaluation created the same alert first.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return fmt.Errorf("%w: product %d, type %s", store.ErrAlertExists, alert.ProductID, alert.AlertType)
		}
		return wrapPersistence("create alert", err)
	}
	alert.IsActive = true
	return nil
}

// UpdateAlertValues refreshes an active alert without touching created_at
func (s *Store) UpdateAlertValues(ctx context.Context, alertID int64, currentValue, thresholdValue int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE stock_alerts SET current_value = $1, threshold_value = $2 WHERE id = $3",
		currentValue, thresholdValue, alertID)
	if err != nil {
		return wrapPersistence("update alert", err)
	}
	return nil
}

// ResolveAlert marks an alert inactive, keeping the row as history
func (s *Store) ResolveAlert(ctx context.Context, alertID int64, resolvedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE stock_alerts SET is_active = FALSE, resolved_at = $1 WHERE id = $2",
		resolvedAt, alertID)
	if err != nil {
		return wrapPersistence("resolve alert", err)
	}
	return nil
}

// GetLowStockProducts lists products with an active LOW_STOCK or
// OUT_OF_STOCK alert, most urgent first
func (s *Store) GetLowStockProducts(ctx context.Context) ([]models.LowStockProduct, error) {
	query := `
		SELECT p.id AS product_id, p.quantity, a.alert_type, a.threshold_value
		FROM stock_alerts a
		JOIN products p ON p.id = a.product_id
		WHERE a.is_active AND a.alert_type IN ($1, $2)
		ORDER BY p.quantity ASC`

	var rows []models.LowStockProduct
	err := s.db.SelectContext(ctx, &rows, query, models.AlertLowStock, models.AlertOutOfStock)
	if err != nil {
		return nil, wrapPersistence("low stock products", err)
	}
	return rows, nil
}

// CreatePurchaseOrder inserts the order and all its items in one
// transaction; no item row survives a failed sibling insert.
func (s *Store) CreatePurchaseOrder(ctx context.Context, order *models.PurchaseOrder, items []models.PurchaseOrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapPersistence("begin", err)
	}
	defer tx.Rollback()

	orderQuery := `
		INSERT INTO purchase_orders
			(supplier_id, order_number, status, order_date, expected_delivery_date,
			 total_amount, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	err = tx.GetContext(ctx, &order.ID, orderQuery,
		order.SupplierID, order.OrderNumber, order.Status, order.OrderDate,
		order.ExpectedDeliveryDate, order.TotalAmount, order.Notes, order.CreatedBy)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return fmt.Errorf("%w: %s", store.ErrOrderNumberCollision, order.OrderNumber)
		}
		return wrapPersistence("insert purchase order", err)
	}

	itemQuery := `
		INSERT INTO purchase_order_items
			(purchase_order_id, product_id, quantity, unit_cost, total_cost, received_quantity)
		VALUES ($1, $2, $3, $4, $5, 0)
		RETURNING id`

	for i := range items {
		items[i].PurchaseOrderID = order.ID
		err = tx.GetContext(ctx, &items[i].ID, itemQuery,
			order.ID, items[i].ProductID, items[i].Quantity, items[i].UnitCost, items[i].TotalCost)
		if err != nil {
			return wrapPersistence("insert purchase order item", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapPersistence("commit", err)
	}
	return nil
}

// GetPurchaseOrder retrieves an order and its items
func (s *Store) GetPurchaseOrder(ctx context.Context, orderID int64) (*models.PurchaseOrder, []models.PurchaseOrderItem, error) {
	var order models.PurchaseOrder
	err := s.db.GetContext(ctx, &order, "SELECT * FROM purchase_orders WHERE id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %d", store.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, nil, wrapPersistence("get purchase order", err)
	}

	var items []models.PurchaseOrderItem
	err = s.db.SelectContext(ctx, &items,
		"SELECT * FROM purchase_order_items WHERE purchase_order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, nil, wrapPersistence("get purchase order items", err)
	}
	return &order, items, nil
}

// ReceiveOrderLine advances received_quantity (with the over-receipt guard
// inside the UPDATE itself) and applies the stock delta plus its ledger
// record in the same transaction. A failure on either side rolls back
// both: received_quantity never advances without the PURCHASE record.
func (s *Store) ReceiveOrderLine(ctx context.Context, orderID int64, rec *models.InventoryTransaction) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapPersistence("begin", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE purchase_order_items
		SET received_quantity = received_quantity + $1
		WHERE purchase_order_id = $2 AND product_id = $3
		  AND received_quantity + $1 <= quantity`,
		rec.QuantityChange, orderID, rec.ProductID)
	if err != nil {
		return wrapPersistence("advance received quantity", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapPersistence("advance received quantity", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: order %d, product %d, delta %d", store.ErrOverReceipt, orderID, rec.ProductID, rec.QuantityChange)
	}

	if err := applyDeltaTx(ctx, tx, rec, false); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapPersistence("commit", err)
	}
	return nil
}

// UpdatePurchaseOrderStatus updates order status
func (s *Store) UpdatePurchaseOrderStatus(ctx context.Context, orderID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE purchase_orders SET status = $1 WHERE id = $2", status, orderID)
	if err != nil {
		return wrapPersistence("update purchase order status", err)
	}
	return nil
}

// CreateAudit inserts a new audit in IN_PROGRESS state
func (s *Store) CreateAudit(ctx context.Context, audit *models.InventoryAudit) error {
	query := `
		INSERT INTO inventory_audits (audit_date, audited_by, status, notes)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	err := s.db.GetContext(ctx, &audit.ID, query,
		audit.AuditDate, audit.AuditedBy, audit.Status, audit.Notes)
	if err != nil {
		return wrapPersistence("create audit", err)
	}
	return nil
}

// GetAudit retrieves an audit and its items
func (s *Store) GetAudit(ctx context.Context, auditID int64) (*models.InventoryAudit, []models.InventoryAuditItem, error) {
	var audit models.InventoryAudit
	err := s.db.GetContext(ctx, &audit, "SELECT * FROM inventory_audits WHERE id = $1", auditID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %d", store.ErrAuditNotFound, auditID)
	}
	if err != nil {
		return nil, nil, wrapPersistence("get audit", err)
	}

	var items []models.InventoryAuditItem
	err = s.db.SelectContext(ctx, &items,
		"SELECT * FROM inventory_audit_items WHERE audit_id = $1 ORDER BY id", auditID)
	if err != nil {
		return nil, nil, wrapPersistence("get audit items", err)
	}
	return &audit, items, nil
}

// UpsertAuditItem replaces any prior count for the product within the
// audit; the unique (audit_id, product_id) constraint backs last-count-wins
func (s *Store) UpsertAuditItem(ctx context.Context, item *models.InventoryAuditItem) error {
	query := `
		INSERT INTO inventory_audit_items
			(audit_id, product_id, system_quantity, counted_quantity, difference, unit_cost, value_difference)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (audit_id, product_id) DO UPDATE SET
			system_quantity = EXCLUDED.system_quantity,
			counted_quantity = EXCLUDED.counted_quantity,
			difference = EXCLUDED.difference,
			unit_cost = EXCLUDED.unit_cost,
			value_difference = EXCLUDED.value_difference
		RETURNING id`

	err := s.db.GetContext(ctx, &item.ID, query,
		item.AuditID, item.ProductID, item.SystemQuantity, item.CountedQuantity,
		item.Difference, item.UnitCost, item.ValueDifference)
	if err != nil {
		return wrapPersistence("upsert audit item", err)
	}
	return nil
}

// CloseAudit derives the aggregates from the items and finalizes the
// audit in one transaction
func (s *Store) CloseAudit(ctx context.Context, auditID int64, status string) (*models.InventoryAudit, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrapPersistence("begin", err)
	}
	defer tx.Rollback()

	var audit models.InventoryAudit
	err = tx.GetContext(ctx, &audit,
		"SELECT * FROM inventory_audits WHERE id = $1 FOR UPDATE", auditID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", store.ErrAuditNotFound, auditID)
	}
	if err != nil {
		return nil, wrapPersistence("get audit", err)
	}
	if audit.Status != models.AuditStatusInProgress {
		return nil, fmt.Errorf("%w: %d", store.ErrAuditClosed, auditID)
	}

	query := `
		UPDATE inventory_audits SET
			status = $1,
			total_products = agg.total,
			discrepancies_found = agg.discrepancies,
			total_value_difference = agg.value_diff
		FROM (
			SELECT
				COUNT(*) AS total,
				COUNT(*) FILTER (WHERE difference <> 0) AS discrepancies,
				COALESCE(SUM(value_difference), 0) AS value_diff
			FROM inventory_audit_items WHERE audit_id = $2
		) agg
		WHERE id = $2
		RETURNING id, audit_date, audited_by, total_products, discrepancies_found,
		          total_value_difference, status, notes`

	if err := tx.GetContext(ctx, &audit, query, status, auditID); err != nil {
		return nil, wrapPersistence("close audit", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapPersistence("commit", err)
	}
	return &audit, nil
}

// IsEventProcessed checks if an inbound event has already been applied
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	if err != nil {
		return false, wrapPersistence("is event processed", err)
	}
	return exists, nil
}

// MarkEventProcessed records an inbound event id
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return wrapPersistence("mark event processed", err)
	}
	return nil
}
