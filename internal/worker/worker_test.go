package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"stock-ledger-service/internal/models"
	"stock-ledger-service/internal/service"
	"stock-ledger-service/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApplier(t *testing.T, products ...models.Product) (*EventApplier, *memory.Store) {
	t.Helper()
	st := memory.NewStore()
	for _, p := range products {
		st.SeedProduct(p)
	}
	engine := service.NewAlertEngine(st, nil)
	ledger := service.NewLedgerService(st, nil, nil, engine)
	return NewEventApplier(st, ledger), st
}

func saleEvent(id string, lines ...models.StockLineData) *models.SaleCompletedEvent {
	return &models.SaleCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   id,
			EventType: models.EventTypeSaleCompleted,
			Timestamp: time.Now(),
		},
		OrderRef: "web-1042",
		ActorID:  "checkout",
		Items:    lines,
	}
}

func TestHandleSaleCompletedAppliesSales(t *testing.T) {
	applier, st := newTestApplier(t,
		models.Product{ID: 1, Quantity: 10},
		models.Product{ID: 2, Quantity: 4},
	)
	ctx := context.Background()

	err := applier.HandleSaleCompleted(ctx, saleEvent("evt-1",
		models.StockLineData{ProductID: 1, Quantity: 3},
		models.StockLineData{ProductID: 2, Quantity: 1},
	))
	require.NoError(t, err)

	p1, err := st.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 7, p1.Quantity)

	p2, err := st.GetProduct(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, p2.Quantity)

	history, err := st.GetTransactionHistory(ctx, models.TransactionFilter{Type: models.TxTypeSale})
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestHandleSaleCompletedIsIdempotent(t *testing.T) {
	applier, st := newTestApplier(t, models.Product{ID: 1, Quantity: 10})
	ctx := context.Background()

	event := saleEvent("evt-dup", models.StockLineData{ProductID: 1, Quantity: 2})

	require.NoError(t, applier.HandleSaleCompleted(ctx, event))
	require.NoError(t, applier.HandleSaleCompleted(ctx, event))

	p, err := st.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 8, p.Quantity)

	history, err := st.GetTransactionHistory(ctx, models.TransactionFilter{ProductID: 1})
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestHandleSaleCompletedRedeliveryAppliesEachLineOnce(t *testing.T) {
	applier, st := newTestApplier(t,
		models.Product{ID: 1, Quantity: 10},
		models.Product{ID: 2, Quantity: 5},
	)
	ctx := context.Background()

	event := saleEvent("evt-retry",
		models.StockLineData{ProductID: 1, Quantity: 1},
		models.StockLineData{ProductID: 2, Quantity: 1},
	)

	// The second line fails transiently: the event comes back as an error
	// and is redelivered. The first line already committed and must not be
	// deducted a second time.
	st.FailTransaction(2, errors.New("connection reset"))
	err := applier.HandleSaleCompleted(ctx, event)
	require.Error(t, err)

	require.NoError(t, applier.HandleSaleCompleted(ctx, event))

	p1, err := st.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 9, p1.Quantity)

	p2, err := st.GetProduct(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, p2.Quantity)

	history, err := st.GetTransactionHistory(ctx, models.TransactionFilter{ProductID: 1})
	require.NoError(t, err)
	assert.Len(t, history, 1)

	processed, err := st.IsEventProcessed(ctx, "evt-retry")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestHandleSaleCompletedRejectedLineDoesNotLoop(t *testing.T) {
	applier, st := newTestApplier(t,
		models.Product{ID: 1, Quantity: 1},
		models.Product{ID: 2, Quantity: 5},
	)
	ctx := context.Background()

	// The first line oversells; redelivery cannot fix it, so the event
	// still completes and the valid line is applied.
	err := applier.HandleSaleCompleted(ctx, saleEvent("evt-oversell",
		models.StockLineData{ProductID: 1, Quantity: 3},
		models.StockLineData{ProductID: 2, Quantity: 2},
	))
	require.NoError(t, err)

	p1, err := st.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, p1.Quantity)

	p2, err := st.GetProduct(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, p2.Quantity)

	processed, err := st.IsEventProcessed(ctx, "evt-oversell")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestHandleReturnAcceptedRestocks(t *testing.T) {
	applier, st := newTestApplier(t, models.Product{ID: 1, Quantity: 2})
	ctx := context.Background()

	err := applier.HandleReturnAccepted(ctx, &models.ReturnAcceptedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-return",
			EventType: models.EventTypeReturnAccepted,
			Timestamp: time.Now(),
		},
		OrderRef: "web-900",
		Items:    []models.StockLineData{{ProductID: 1, Quantity: 2}},
	})
	require.NoError(t, err)

	p, err := st.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Quantity)

	history, err := st.GetTransactionHistory(ctx, models.TransactionFilter{Type: models.TxTypeReturn})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 2, history[0].QuantityChange)
}
