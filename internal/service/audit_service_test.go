package service

import (
	"context"
	"errors"
	"testing"

	"stock-ledger-service/internal/models"
	"stock-ledger-service/internal/store"
	"stock-ledger-service/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAudit(t *testing.T, products ...models.Product) (*AuditService, *memory.Store) {
	t.Helper()
	st := memory.NewStore()
	for _, p := range products {
		st.SeedProduct(p)
	}
	return NewAuditService(st, nil), st
}

func TestAuditRecordCountMath(t *testing.T) {
	as, _ := newTestAudit(t, models.Product{ID: 10, Quantity: 10, UnitPrice: 2.5})
	ctx := context.Background()

	audit, err := as.StartAudit(ctx, "auditor-7", "quarterly count")
	require.NoError(t, err)
	assert.Equal(t, models.AuditStatusInProgress, audit.Status)

	item, err := as.RecordCount(ctx, audit.ID, 10, 8)
	require.NoError(t, err)
	assert.Equal(t, 10, item.SystemQuantity)
	assert.Equal(t, 8, item.CountedQuantity)
	assert.Equal(t, -2, item.Difference)
	assert.InDelta(t, 2.5, item.UnitCost, 1e-9)
	assert.InDelta(t, -5.0, item.ValueDifference, 1e-9)

	closed, err := as.CloseAudit(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuditStatusCompleted, closed.Status)
	assert.Equal(t, 1, closed.TotalProducts)
	assert.Equal(t, 1, closed.DiscrepanciesFound)
	assert.InDelta(t, -5.0, closed.TotalValueDifference, 1e-9)
}

func TestAuditLastCountWins(t *testing.T) {
	as, _ := newTestAudit(t, models.Product{ID: 10, Quantity: 10, UnitPrice: 1.0})
	ctx := context.Background()

	audit, err := as.StartAudit(ctx, "auditor-7", "")
	require.NoError(t, err)

	_, err = as.RecordCount(ctx, audit.ID, 10, 6)
	require.NoError(t, err)
	_, err = as.RecordCount(ctx, audit.ID, 10, 9)
	require.NoError(t, err)

	_, items, err := as.GetAudit(ctx, audit.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 9, items[0].CountedQuantity)
	assert.Equal(t, -1, items[0].Difference)

	closed, err := as.CloseAudit(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, closed.TotalProducts)
	assert.Equal(t, 1, closed.DiscrepanciesFound)
	assert.InDelta(t, -1.0, closed.TotalValueDifference, 1e-9)
}

func TestAuditSnapshotsQuantityAtCountTime(t *testing.T) {
	st := memory.NewStore()
	st.SeedProduct(models.Product{ID: 10, Quantity: 10, UnitPrice: 1.0})
	engine := NewAlertEngine(st, nil)
	ledger := NewLedgerService(st, nil, nil, engine)
	as := NewAuditService(st, nil)
	ctx := context.Background()

	audit, err := as.StartAudit(ctx, "auditor-1", "")
	require.NoError(t, err)

	// Stock moves between audit start and counting; the snapshot is
	// taken at the moment of counting.
	_, err = ledger.ApplyTransaction(ctx, &ApplyTransactionRequest{
		ProductID:      10,
		QuantityChange: -4,
		Type:           models.TxTypeSale,
	})
	require.NoError(t, err)

	item, err := as.RecordCount(ctx, audit.ID, 10, 6)
	require.NoError(t, err)
	assert.Equal(t, 6, item.SystemQuantity)
	assert.Equal(t, 0, item.Difference)
}

func TestAuditCloseWithZeroItems(t *testing.T) {
	as, _ := newTestAudit(t)
	ctx := context.Background()

	audit, err := as.StartAudit(ctx, "auditor-2", "")
	require.NoError(t, err)

	closed, err := as.CloseAudit(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuditStatusCompleted, closed.Status)
	assert.Equal(t, 0, closed.TotalProducts)
	assert.Equal(t, 0, closed.DiscrepanciesFound)
	assert.Zero(t, closed.TotalValueDifference)
}

func TestAuditClosedRejectsFurtherActivity(t *testing.T) {
	as, _ := newTestAudit(t, models.Product{ID: 10, Quantity: 5, UnitPrice: 1.0})
	ctx := context.Background()

	audit, err := as.StartAudit(ctx, "auditor-3", "")
	require.NoError(t, err)

	_, err = as.CloseAudit(ctx, audit.ID)
	require.NoError(t, err)

	_, err = as.RecordCount(ctx, audit.ID, 10, 5)
	assert.True(t, errors.Is(err, store.ErrAuditClosed))

	_, err = as.CloseAudit(ctx, audit.ID)
	assert.True(t, errors.Is(err, store.ErrAuditClosed))
}

func TestAuditCancel(t *testing.T) {
	as, _ := newTestAudit(t, models.Product{ID: 10, Quantity: 5, UnitPrice: 1.0})
	ctx := context.Background()

	audit, err := as.StartAudit(ctx, "auditor-4", "")
	require.NoError(t, err)

	_, err = as.RecordCount(ctx, audit.ID, 10, 3)
	require.NoError(t, err)

	cancelled, err := as.CancelAudit(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuditStatusCancelled, cancelled.Status)
}

func TestAuditNotFound(t *testing.T) {
	as, _ := newTestAudit(t)
	ctx := context.Background()

	_, err := as.RecordCount(ctx, 42, 10, 5)
	assert.True(t, errors.Is(err, store.ErrAuditNotFound))

	_, err = as.CloseAudit(ctx, 42)
	assert.True(t, errors.Is(err, store.ErrAuditNotFound))
}
