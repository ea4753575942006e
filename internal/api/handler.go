package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"stock-ledger-service/internal/models"
	"stock-ledger-service/internal/service"
	"stock-ledger-service/internal/store"
	"stock-ledger-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	ledger    *service.LedgerService
	purchases *service.PurchaseService
	audits    *service.AuditService
}

// NewHandler creates a new HTTP handler
func NewHandler(ledger *service.LedgerService, purchases *service.PurchaseService, audits *service.AuditService) *Handler {
	return &Handler{
		ledger:    ledger,
		purchases: purchases,
		audits:    audits,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/stock/transactions", h.applyTransaction)
		v1.GET("/stock/transactions", h.getTransactionHistory)
		v1.GET("/stock/low", h.getLowStockProducts)

		v1.POST("/purchase-orders", h.createPurchaseOrder)
		v1.GET("/purchase-orders/:id", h.getPurchaseOrder)
		v1.POST("/purchase-orders/:id/receive", h.receivePurchaseOrder)

		v1.POST("/audits", h.startAudit)
		v1.GET("/audits/:id", h.getAudit)
		v1.POST("/audits/:id/counts", h.recordCount)
		v1.POST("/audits/:id/close", h.closeAudit)
		v1.POST("/audits/:id/cancel", h.cancelAudit)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// applyTransaction handles a stock mutation request
func (h *Handler) applyTransaction(c *gin.Context) {
	var req service.ApplyTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	rec, err := h.ledger.ApplyTransaction(c.Request.Context(), &req)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rec)
}

// getTransactionHistory handles ledger history queries for the admin
// dashboards and CSV export
func (h *Handler) getTransactionHistory(c *gin.Context) {
	var filter models.TransactionFilter

	if v := c.Query("product_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product_id"})
			return
		}
		filter.ProductID = id
	}
	filter.Type = c.Query("type")
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from timestamp, want RFC3339"})
			return
		}
		filter.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid to timestamp, want RFC3339"})
			return
		}
		filter.To = t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		filter.Limit = n
	}

	txs, err := h.ledger.GetTransactionHistory(c.Request.Context(), filter)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// getLowStockProducts handles the low-stock report
func (h *Handler) getLowStockProducts(c *gin.Context) {
	rows, err := h.ledger.GetLowStockProducts(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": rows})
}

// createPurchaseOrder handles purchase order creation
func (h *Handler) createPurchaseOrder(c *gin.Context) {
	var req service.CreatePurchaseOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, items, err := h.purchases.CreatePurchaseOrder(c.Request.Context(), &req)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"order": order, "items": items})
}

// getPurchaseOrder handles get purchase order by ID
func (h *Handler) getPurchaseOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, items, err := h.purchases.GetPurchaseOrder(c.Request.Context(), orderID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order, "items": items})
}

type receiveRequest struct {
	Receipts   []service.ReceiptLine `json:"receipts" binding:"required,min=1,dive"`
	ReceivedBy *string               `json:"received_by,omitempty"`
}

// receivePurchaseOrder handles a goods-received operation
func (h *Handler) receivePurchaseOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	var req receiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.purchases.ReceiveItems(c.Request.Context(), orderID, req.Receipts, req.ReceivedBy)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

type startAuditRequest struct {
	AuditedBy string `json:"audited_by" binding:"required"`
	Notes     string `json:"notes,omitempty"`
}

// startAudit handles opening a new audit
func (h *Handler) startAudit(c *gin.Context) {
	var req startAuditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	audit, err := h.audits.StartAudit(c.Request.Context(), req.AuditedBy, req.Notes)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, audit)
}

// getAudit handles get audit by ID
func (h *Handler) getAudit(c *gin.Context) {
	auditID, ok := pathID(c)
	if !ok {
		return
	}

	audit, items, err := h.audits.GetAudit(c.Request.Context(), auditID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"audit": audit, "items": items})
}

type recordCountRequest struct {
	ProductID       int64 `json:"product_id" binding:"required"`
	CountedQuantity *int  `json:"counted_quantity" binding:"required"`
}

// recordCount handles recording a physical count within an audit
func (h *Handler) recordCount(c *gin.Context) {
	auditID, ok := pathID(c)
	if !ok {
		return
	}

	var req recordCountRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.CountedQuantity == nil || *req.CountedQuantity < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	item, err := h.audits.RecordCount(c.Request.Context(), auditID, req.ProductID, *req.CountedQuantity)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

// closeAudit handles completing an audit
func (h *Handler) closeAudit(c *gin.Context) {
	auditID, ok := pathID(c)
	if !ok {
		return
	}

	audit, err := h.audits.CloseAudit(c.Request.Context(), auditID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, audit)
}

// cancelAudit handles abandoning an audit
func (h *Handler) cancelAudit(c *gin.Context) {
	auditID, ok := pathID(c)
	if !ok {
		return
	}

	audit, err := h.audits.CancelAudit(c.Request.Context(), auditID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, audit)
}

// pathID parses the :id path parameter, writing a 400 on failure
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

// abortWithError maps the ledger error taxonomy onto HTTP status codes.
// Every failure is surfaced to the caller; nothing is logged-only.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrProductNotFound),
		errors.Is(err, store.ErrOrderNotFound),
		errors.Is(err, store.ErrAuditNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrOverReceipt),
		errors.Is(err, store.ErrOrderNumberCollision),
		errors.Is(err, store.ErrAuditClosed):
		status = http.StatusConflict
	case errors.Is(err, store.ErrInvalidTransactionType),
		errors.Is(err, store.ErrInvalidQuantityChange):
		status = http.StatusBadRequest
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
