package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stock-ledger-service/internal/models"

	"github.com/go-redis/redis/v8"
)

const lowStockKey = "reports:low-stock"

// Client mirrors ledger-derived read state into Redis for the admin
// dashboards. The mirror is best-effort: the PostgreSQL ledger stays the
// source of truth and callers treat every failure here as non-fatal.
type Client struct {
	rdb         *redis.Client
	lowStockTTL time.Duration
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int, lowStockTTL time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb, lowStockTTL: lowStockTTL}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// SetQuantity refreshes the mirrored quantity for a product
func (c *Client) SetQuantity(ctx context.Context, productID int64, quantity int) error {
	key := fmt.Sprintf("stock:%d", productID)
	return c.rdb.Set(ctx, key, quantity, 0).Err()
}

// GetQuantity reads the mirrored quantity for a product. Returns found=false
// when the mirror has no entry.
func (c *Client) GetQuantity(ctx context.Context, productID int64) (int, bool, error) {
	key := fmt.Sprintf("stock:%d", productID)
	val, err := c.rdb.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}

// CacheLowStockReport stores the low-stock report with a TTL
func (c *Client) CacheLowStockReport(ctx context.Context, rows []models.LowStockProduct) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to marshal low stock report: %w", err)
	}
	return c.rdb.Set(ctx, lowStockKey, data, c.lowStockTTL).Err()
}

// GetLowStockReport returns the cached report, or found=false on a miss
func (c *Client) GetLowStockReport(ctx context.Context) ([]models.LowStockProduct, bool, error) {
	data, err := c.rdb.Get(ctx, lowStockKey).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var rows []models.LowStockProduct
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal low stock report: %w", err)
	}
	return rows, true, nil
}

// InvalidateLowStockReport drops the cached report; the next read repopulates
// it from the store.
func (c *Client) InvalidateLowStockReport(ctx context.Context) error {
	return c.rdb.Del(ctx, lowStockKey).Err()
}
