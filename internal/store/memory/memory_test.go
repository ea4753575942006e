package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"stock-ledger-service/internal/models"
	"stock-ledger-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyStockDeltaPopulatesRecord(t *testing.T) {
	st := NewStore()
	st.SeedProduct(models.Product{ID: 1, Quantity: 5})
	ctx := context.Background()

	rec := &models.InventoryTransaction{
		ProductID:      1,
		Type:           models.TxTypePurchase,
		QuantityChange: 3,
	}
	require.NoError(t, st.ApplyStockDelta(ctx, rec, false))

	assert.NotZero(t, rec.ID)
	assert.Equal(t, 5, rec.PreviousQuantity)
	assert.Equal(t, 8, rec.NewQuantity)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestApplyStockDeltaGuards(t *testing.T) {
	st := NewStore()
	st.SeedProduct(models.Product{ID: 1, Quantity: 2})
	ctx := context.Background()

	err := st.ApplyStockDelta(ctx, &models.InventoryTransaction{
		ProductID:      1,
		Type:           models.TxTypeSale,
		QuantityChange: -3,
	}, false)
	assert.True(t, errors.Is(err, store.ErrInsufficientStock))

	err = st.ApplyStockDelta(ctx, &models.InventoryTransaction{
		ProductID:      404,
		Type:           models.TxTypeSale,
		QuantityChange: -1,
	}, false)
	assert.True(t, errors.Is(err, store.ErrProductNotFound))

	// allowNegative permits going below zero.
	err = st.ApplyStockDelta(ctx, &models.InventoryTransaction{
		ProductID:      1,
		Type:           models.TxTypeAdjustment,
		QuantityChange: -3,
	}, true)
	require.NoError(t, err)

	p, err := st.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, -1, p.Quantity)
}

func TestOrderNumberCollision(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	order := func() *models.PurchaseOrder {
		return &models.PurchaseOrder{
			SupplierID:  1,
			OrderNumber: "PO-20260828-DEADBEEF",
			Status:      models.POStatusPending,
			OrderDate:   time.Now().UTC(),
		}
	}
	items := []models.PurchaseOrderItem{
		{ProductID: 1, Quantity: 1, UnitCost: 1, TotalCost: 1},
	}

	require.NoError(t, st.CreatePurchaseOrder(ctx, order(), items))

	err := st.CreatePurchaseOrder(ctx, order(), items)
	assert.True(t, errors.Is(err, store.ErrOrderNumberCollision))
}

func TestReceiveOrderLineGuard(t *testing.T) {
	st := NewStore()
	st.SeedProduct(models.Product{ID: 1, Quantity: 0})
	ctx := context.Background()

	order := &models.PurchaseOrder{
		SupplierID:  1,
		OrderNumber: "PO-20260828-CAFEF00D",
		Status:      models.POStatusPending,
		OrderDate:   time.Now().UTC(),
	}
	require.NoError(t, st.CreatePurchaseOrder(ctx, order, []models.PurchaseOrderItem{
		{ProductID: 1, Quantity: 5, UnitCost: 1, TotalCost: 5},
	}))

	receive := func(qty int) error {
		return st.ReceiveOrderLine(ctx, order.ID, &models.InventoryTransaction{
			ProductID:      1,
			Type:           models.TxTypePurchase,
			QuantityChange: qty,
		})
	}

	require.NoError(t, receive(3))
	require.NoError(t, receive(2))

	err := receive(1)
	assert.True(t, errors.Is(err, store.ErrOverReceipt))

	_, items, err := st.GetPurchaseOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, items[0].ReceivedQuantity)

	p, err := st.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Quantity)
}

func TestReceiveOrderLineRollsBackOnFailedDelta(t *testing.T) {
	st := NewStore()
	st.SeedProduct(models.Product{ID: 1, Quantity: 0})
	ctx := context.Background()

	order := &models.PurchaseOrder{
		SupplierID:  1,
		OrderNumber: "PO-20260828-0BADF00D",
		Status:      models.POStatusPending,
		OrderDate:   time.Now().UTC(),
	}
	require.NoError(t, st.CreatePurchaseOrder(ctx, order, []models.PurchaseOrderItem{
		{ProductID: 1, Quantity: 2, UnitCost: 1, TotalCost: 2},
	}))

	st.FailNextTransaction(errors.New("connection reset"))
	err := st.ReceiveOrderLine(ctx, order.ID, &models.InventoryTransaction{
		ProductID:      1,
		Type:           models.TxTypePurchase,
		QuantityChange: 1,
	})
	assert.True(t, errors.Is(err, store.ErrPersistence))

	// Neither side committed.
	_, items, err := st.GetPurchaseOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, items[0].ReceivedQuantity)

	p, err := st.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Quantity)

	rows, err := st.GetTransactionHistory(ctx, models.TransactionFilter{ProductID: 1})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCreateAlertRejectsDuplicateActive(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	alert := func() *models.StockAlert {
		return &models.StockAlert{
			ProductID:      1,
			AlertType:      models.AlertLowStock,
			ThresholdValue: 5,
			CurrentValue:   2,
		}
	}

	first := alert()
	require.NoError(t, st.CreateAlert(ctx, first))

	err := st.CreateAlert(ctx, alert())
	assert.True(t, errors.Is(err, store.ErrAlertExists))

	// Resolving the active alert frees the slot again.
	require.NoError(t, st.ResolveAlert(ctx, first.ID, time.Now().UTC()))
	require.NoError(t, st.CreateAlert(ctx, alert()))
}

func TestTransactionHistoryTimeFilter(t *testing.T) {
	st := NewStore()
	st.SeedProduct(models.Product{ID: 1, Quantity: 100})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, st.ApplyStockDelta(ctx, &models.InventoryTransaction{
			ProductID:      1,
			Type:           models.TxTypeSale,
			QuantityChange: -1,
		}, false))
	}

	cutoff := time.Now().Add(time.Minute)
	rows, err := st.GetTransactionHistory(ctx, models.TransactionFilter{From: cutoff})
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = st.GetTransactionHistory(ctx, models.TransactionFilter{To: cutoff})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestEventProcessedRoundTrip(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	processed, err := st.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, st.MarkEventProcessed(ctx, "evt-1", models.EventTypeSaleCompleted))

	processed, err = st.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, processed)
}
