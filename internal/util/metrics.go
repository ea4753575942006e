package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StockTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_transactions_total",
		Help: "Total number of committed stock transactions",
	}, []string{"type"})

	StockTransactionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_transactions_failed_total",
		Help: "Total number of rejected stock transactions",
	}, []string{"reason"})

	StockApplyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_apply_latency_seconds",
		Help:    "Latency of ledger apply operations",
		Buckets: prometheus.DefBuckets,
	})

	AlertsRaisedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_alerts_raised_total",
		Help: "Total number of stock alerts raised",
	}, []string{"type"})

	AlertsResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_alerts_resolved_total",
		Help: "Total number of stock alerts resolved",
	}, []string{"type"})

	PurchaseOrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "purchase_orders_created_total",
		Help: "Total number of purchase orders created",
	})

	PurchaseOrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "purchase_orders_failed_total",
		Help: "Total number of failed purchase order operations",
	}, []string{"reason"})

	PurchaseOrdersReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "purchase_orders_received_total",
		Help: "Total number of purchase order receiving operations",
	})

	AuditsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_audits_started_total",
		Help: "Total number of inventory audits started",
	})

	AuditsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_audits_closed_total",
		Help: "Total number of inventory audits closed",
	}, []string{"status"})

	InboundEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inbound_stock_events_total",
		Help: "Total number of inbound stock events consumed",
	}, []string{"type", "outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
