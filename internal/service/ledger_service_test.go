package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"stock-ledger-service/internal/models"
	"stock-ledger-service/internal/store"
	"stock-ledger-service/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func newTestLedger(t *testing.T, products ...models.Product) (*LedgerService, *memory.Store) {
	t.Helper()
	st := memory.NewStore()
	for _, p := range products {
		st.SeedProduct(p)
	}
	engine := NewAlertEngine(st, nil)
	return NewLedgerService(st, nil, nil, engine), st
}

func TestApplyTransactionLedgerConservation(t *testing.T) {
	ledger, st := newTestLedger(t, models.Product{ID: 1, Quantity: 10})
	ctx := context.Background()

	changes := []struct {
		txType string
		delta  int
	}{
		{models.TxTypePurchase, 20},
		{models.TxTypeSale, -5},
		{models.TxTypeAdjustment, -3},
		{models.TxTypeReturn, 2},
		{models.TxTypeSale, -10},
	}

	sum := 0
	for _, ch := range changes {
		_, err := ledger.ApplyTransaction(ctx, &ApplyTransactionRequest{
			ProductID:      1,
			QuantityChange: ch.delta,
			Type:           ch.txType,
		})
		require.NoError(t, err)
		sum += ch.delta
	}

	product, err := st.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10+sum, product.Quantity)

	history, err := ledger.GetTransactionHistory(ctx, models.TransactionFilter{ProductID: 1})
	require.NoError(t, err)
	require.Len(t, history, len(changes))

	// Records must form a consistent chain when ordered by commit.
	sort.Slice(history, func(i, j int) bool { return history[i].ID < history[j].ID })
	prev := 10
	for _, rec := range history {
		assert.Equal(t, prev, rec.PreviousQuantity)
		assert.Equal(t, rec.PreviousQuantity+rec.QuantityChange, rec.NewQuantity)
		prev = rec.NewQuantity
	}
	assert.Equal(t, 10+sum, prev)
}

func TestApplyTransactionSaleInsufficientStock(t *testing.T) {
	ledger, st := newTestLedger(t, models.Product{ID: 1, Quantity: 3})
	ctx := context.Background()

	_, err := ledger.ApplyTransaction(ctx, &ApplyTransactionRequest{
		ProductID:      1,
		QuantityChange: -5,
		Type:           models.TxTypeSale,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrInsufficientStock))

	product, err := st.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, product.Quantity)

	history, err := ledger.GetTransactionHistory(ctx, models.TransactionFilter{ProductID: 1})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestApplyTransactionAdjustmentMayGoNegative(t *testing.T) {
	ledger, st := newTestLedger(t, models.Product{ID: 1, Quantity: 3})
	ctx := context.Background()

	rec, err := ledger.ApplyTransaction(ctx, &ApplyTransactionRequest{
		ProductID:      1,
		QuantityChange: -5,
		Type:           models.TxTypeAdjustment,
	})
	require.NoError(t, err)
	assert.Equal(t, -2, rec.NewQuantity)

	product, err := st.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, -2, product.Quantity)
}

func TestApplyTransactionValidation(t *testing.T) {
	ledger, _ := newTestLedger(t, models.Product{ID: 1, Quantity: 3})
	ctx := context.Background()

	_, err := ledger.ApplyTransaction(ctx, &ApplyTransactionRequest{
		ProductID:      1,
		QuantityChange: 1,
		Type:           "DONATION",
	})
	assert.True(t, errors.Is(err, store.ErrInvalidTransactionType))

	_, err = ledger.ApplyTransaction(ctx, &ApplyTransactionRequest{
		ProductID:      1,
		QuantityChange: 0,
		Type:           models.TxTypeSale,
	})
	assert.True(t, errors.Is(err, store.ErrInvalidQuantityChange))

	_, err = ledger.ApplyTransaction(ctx, &ApplyTransactionRequest{
		ProductID:      99,
		QuantityChange: 1,
		Type:           models.TxTypePurchase,
	})
	assert.True(t, errors.Is(err, store.ErrProductNotFound))
}

func TestApplyTransactionAtomicRollback(t *testing.T) {
	ledger, st := newTestLedger(t, models.Product{ID: 1, Quantity: 7})
	ctx := context.Background()

	st.FailNextTransaction(errors.New("connection reset"))

	_, err := ledger.ApplyTransaction(ctx, &ApplyTransactionRequest{
		ProductID:      1,
		QuantityChange: 4,
		Type:           models.TxTypePurchase,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrPersistence))

	// No orphan mutation: quantity unchanged, no record written.
	product, err := st.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 7, product.Quantity)

	history, err := ledger.GetTransactionHistory(ctx, models.TransactionFilter{ProductID: 1})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestApplyTransactionConcurrentNoLostUpdates(t *testing.T) {
	ledger, st := newTestLedger(t, models.Product{ID: 1, Quantity: 0})
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := ledger.ApplyTransaction(ctx, &ApplyTransactionRequest{
				ProductID:      1,
				QuantityChange: 1,
				Type:           models.TxTypePurchase,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	product, err := st.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, workers, product.Quantity)

	history, err := ledger.GetTransactionHistory(ctx, models.TransactionFilter{ProductID: 1, Limit: workers * 2})
	require.NoError(t, err)
	require.Len(t, history, workers)

	sort.Slice(history, func(i, j int) bool { return history[i].ID < history[j].ID })
	prev := 0
	for _, rec := range history {
		assert.Equal(t, prev, rec.PreviousQuantity)
		assert.Equal(t, prev+1, rec.NewQuantity)
		prev = rec.NewQuantity
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	ledger, st := newTestLedger(t, models.Product{ID: 1, Quantity: 2})
	ctx := context.Background()

	const attempts = 3
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			_, err := ledger.ApplyTransaction(ctx, &ApplyTransactionRequest{
				ProductID:      1,
				QuantityChange: -1,
				Type:           models.TxTypeSale,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, failed := 0, 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, errors.Is(err, store.ErrInsufficientStock))
			failed++
		}
	}

	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 1, failed)

	product, err := st.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, product.Quantity)
}

func TestGetTransactionHistoryFilters(t *testing.T) {
	ledger, _ := newTestLedger(t,
		models.Product{ID: 1, Quantity: 100},
		models.Product{ID: 2, Quantity: 100},
	)
	ctx := context.Background()

	apply := func(productID int64, delta int, txType string) {
		_, err := ledger.ApplyTransaction(ctx, &ApplyTransactionRequest{
			ProductID:      productID,
			QuantityChange: delta,
			Type:           txType,
		})
		require.NoError(t, err)
	}

	apply(1, -1, models.TxTypeSale)
	apply(1, 5, models.TxTypePurchase)
	apply(2, -2, models.TxTypeSale)
	apply(2, 1, models.TxTypeReturn)

	byProduct, err := ledger.GetTransactionHistory(ctx, models.TransactionFilter{ProductID: 1})
	require.NoError(t, err)
	assert.Len(t, byProduct, 2)

	sales, err := ledger.GetTransactionHistory(ctx, models.TransactionFilter{Type: models.TxTypeSale})
	require.NoError(t, err)
	assert.Len(t, sales, 2)

	limited, err := ledger.GetTransactionHistory(ctx, models.TransactionFilter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, limited, 3)
	// Newest first.
	assert.Equal(t, models.TxTypeReturn, limited[0].Type)

	_, err = ledger.GetTransactionHistory(ctx, models.TransactionFilter{Type: "BOGUS"})
	assert.True(t, errors.Is(err, store.ErrInvalidTransactionType))
}
