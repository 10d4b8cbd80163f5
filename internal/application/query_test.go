package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_SalesAndDetail(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	applyAll(t, engine,
		tick(100),
		assetMsg(100, h1, 0, 7, "1"),
		paymentMsg(100, h2, 1, tokenX, 50, "0"),
		assetMsg(100, h2, 2, 9, "0"),
		tick(101),
	)

	query, err := NewQuery(store)
	require.NoError(t, err)

	page, err := query.ListSales(ctx, SaleQueryFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Sales, 1)
	assert.Equal(t, h1, page.Sales[0].ID)
	assert.Equal(t, h1, page.Next)

	page, err = query.ListSales(ctx, SaleQueryFilter{After: page.Next, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Sales, 1)
	assert.Equal(t, h2, page.Sales[0].ID)
	assert.Empty(t, page.Next)

	detail, ok, err := query.SaleDetail(ctx, h2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "WETH", detail.Sale.PaymentTokenName)
	require.Len(t, detail.PaymentTransfers, 1)
	assert.Equal(t, "50", detail.PaymentTransfers[0].Amount)
	require.Len(t, detail.AssetTransfers, 1)
	assert.Equal(t, "9", detail.AssetTransfers[0].AssetID)

	_, ok, err = query.SaleDetail(ctx, "0xmissing")
	require.NoError(t, err)
	assert.False(t, ok)

	state, err := query.ProcessState(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), state.NextPaymentTransferID)
	assert.Equal(t, uint64(2), state.NextAssetTransferID)
}

func TestQuery_EmptyState(t *testing.T) {
	_, store, _ := newTestEngine(t)
	query, err := NewQuery(store)
	require.NoError(t, err)

	state, err := query.ProcessState(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state.PendingTableIDs)
	assert.Nil(t, state.Cursor)
}
