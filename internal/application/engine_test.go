package application

import (
	"context"
	"math/big"
	"testing"

	"nftsales/internal/domain"
	"nftsales/internal/storage"
	"nftsales/internal/streaming"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	h1 = "0x00000000000000000000000000000000000000000000000000000000000000h1"
	h2 = "0x00000000000000000000000000000000000000000000000000000000000000h2"
	h3 = "0x00000000000000000000000000000000000000000000000000000000000000h3"
	h4 = "0x00000000000000000000000000000000000000000000000000000000000000h4"
	h5 = "0x00000000000000000000000000000000000000000000000000000000000000h5"
)

func TestEngine_NativeSaleIsImmediate(t *testing.T) {
	engine, store, observer := newTestEngine(t)
	ctx := context.Background()
	records := NewRecords(store)

	applyAll(t, engine, tick(50), assetMsg(50, h1, 0, 7, "1"))

	asset, err := records.AssetTransfer(ctx, "0")
	require.NoError(t, err)
	assert.Equal(t, "7", asset.AssetID)
	assert.Equal(t, "Punks", asset.ContractName)

	sale, ok, err := records.Sale(ctx, h1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, bob, sale.Buyer)
	assert.Equal(t, alice, sale.Seller)
	assert.Equal(t, nativeETH, sale.PaymentTokenAddress)
	assert.Equal(t, "ETH", sale.PaymentTokenName)
	assert.Equal(t, h1, sale.LookupTable)
	require.NotNil(t, sale.Counterparty)
	assert.Equal(t, market, *sale.Counterparty)

	table, ok, err := records.LookupTable(ctx, h1)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, table.NativeValue)
	assert.Equal(t, "1", *table.NativeValue)

	assert.Empty(t, readState(t, store).PendingTableIDs)
	require.Len(t, observer.recorded, 1)
	assert.NotNil(t, observer.recorded[0].Sale)
}

func TestEngine_DeferredSaleMatchedOnNextBlock(t *testing.T) {
	engine, store, observer := newTestEngine(t)
	ctx := context.Background()
	records := NewRecords(store)

	applyAll(t, engine,
		tick(100),
		paymentMsg(100, h2, 3, tokenX, 50, "0"),
		assetMsg(100, h2, 4, 9, "0"),
	)
	assert.Equal(t, []string{h2}, readState(t, store).PendingTableIDs)
	_, ok, err := records.Sale(ctx, h2)
	require.NoError(t, err)
	assert.False(t, ok)

	applyAll(t, engine, tick(101))

	sale, ok, err := records.Sale(ctx, h2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tokenX, sale.PaymentTokenAddress)
	assert.Equal(t, "WETH", sale.PaymentTokenName)
	assert.Equal(t, bob, sale.Buyer)
	assert.Equal(t, alice, sale.Seller)
	assert.Equal(t, uint64(100), sale.BlockNumber)

	assert.Equal(t, 1, store.Len(storage.EntityPaymentTransfer))
	assert.Equal(t, 1, store.Len(storage.EntityAssetTransfer))
	assert.Equal(t, 1, store.Len(storage.EntityLookupTable))
	assert.Empty(t, readState(t, store).PendingTableIDs)

	last := observer.finalized[len(observer.finalized)-1]
	assert.Len(t, last.Matched, 1)
	assert.Equal(t, 0, last.DeletedCount())
}

func TestEngine_MixedPaymentTokensDeleted(t *testing.T) {
	engine, store, observer := newTestEngine(t)
	ctx := context.Background()

	applyAll(t, engine,
		tick(200),
		paymentMsg(200, h3, 0, tokenX, 10, "0"),
		paymentMsg(200, h3, 1, tokenY, 20, "0"),
		assetMsg(200, h3, 2, 1, "0"),
		tick(201),
	)

	_, ok, err := NewRecords(store).Sale(ctx, h3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len(storage.EntityLookupTable))
	assert.Equal(t, 0, store.Len(storage.EntityPaymentTransfer))
	assert.Equal(t, 0, store.Len(storage.EntityAssetTransfer))

	last := observer.finalized[len(observer.finalized)-1]
	assert.Equal(t, 1, last.Deleted[MatchMixedPaymentTokens])
}

func TestEngine_PaymentOnlyDeleted(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	applyAll(t, engine, tick(300), paymentMsg(300, h4, 0, tokenX, 10, "0"), tick(301))

	assert.Equal(t, 0, store.Len(storage.EntityLookupTable))
	assert.Equal(t, 0, store.Len(storage.EntityPaymentTransfer))
	assert.Equal(t, 0, store.Len(storage.EntitySale))
	assert.Empty(t, readState(t, store).PendingTableIDs)
}

func TestEngine_SecondNativeAssetAppendsOnly(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	applyAll(t, engine,
		tick(400),
		assetMsg(400, h5, 0, 1, "5"),
		assetMsg(400, h5, 1, 2, "5"),
		tick(401),
	)

	assert.Equal(t, 1, store.Len(storage.EntitySale))
	table, ok, err := NewRecords(store).LookupTable(ctx, h5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"0", "1"}, table.AssetTransfers)
	assert.Empty(t, readState(t, store).PendingTableIDs)
}

func TestEngine_IDsStayMonotonicAcrossCleanup(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	applyAll(t, engine,
		tick(300),
		paymentMsg(300, h4, 0, tokenX, 10, "0"),
		tick(301),
		paymentMsg(301, h2, 0, tokenX, 10, "0"),
	)

	_, err := NewRecords(store).PaymentTransfer(ctx, "1")
	require.NoError(t, err)
	_, ok, err := store.Load(ctx, storage.EntityPaymentTransfer, "0")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(2), readState(t, store).NextPaymentTransferID)
}

func TestEngine_TableNotFinalizedInItsOwnBlock(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	applyAll(t, engine, paymentMsg(100, h2, 0, tokenX, 1, "0"), assetMsg(100, h2, 1, 1, "0"))

	result, err := engine.FinalizeBlock(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, result.Matched)
	assert.Equal(t, 1, result.Retained)
	assert.Equal(t, []string{h2}, readState(t, store).PendingTableIDs)

	result, err = engine.FinalizeBlock(ctx, 150)
	require.NoError(t, err)
	assert.Len(t, result.Matched, 1)
}

func TestEngine_ReplayedMessagesSkipped(t *testing.T) {
	engine, store, observer := newTestEngine(t)
	ctx := context.Background()

	msg := assetMsg(100, h2, 4, 9, "0")
	applyAll(t, engine, tick(100), msg)

	outcome, err := engine.Apply(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)

	outcome, err = engine.Apply(ctx, tick(100))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)

	assert.Equal(t, 1, store.Len(storage.EntityAssetTransfer))
	assert.Equal(t, 2, observer.skipped)
	assert.Equal(t, &domain.StreamPosition{BlockNumber: 100, Position: 5}, readState(t, store).Cursor)
}

func TestEngine_MissingPendingTableIsFatalAndRolledBack(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, NewRecords(store).SaveProcessState(ctx, domain.ProcessState{
		NextPaymentTransferID: 3,
		PendingTableIDs:       []string{"0xdead"},
	}))

	_, err := engine.Apply(ctx, tick(10))
	require.ErrorIs(t, err, ErrInvariant)

	state := readState(t, store)
	assert.Nil(t, state.Cursor)
	assert.Equal(t, []string{"0xdead"}, state.PendingTableIDs)
}

func TestEngine_InvalidAmountIsDecodeError(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	msg := paymentMsg(100, h2, 0, tokenX, 1, "0")
	msg.Amount = "12abc"
	_, err := engine.Apply(context.Background(), msg)
	require.ErrorIs(t, err, streaming.ErrInvalidMessage)
	assert.Equal(t, 0, store.Len(storage.EntityPaymentTransfer))
}

func TestEngine_UnknownContractNameAndMissingCounterparty(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	msg := paymentMsg(100, "0xABC", 0, "0x9999999999999999999999999999999999999999", 1, "")
	msg.TxTo = ""
	applyAll(t, engine, msg)

	records := NewRecords(store)
	payment, err := records.PaymentTransfer(ctx, "0")
	require.NoError(t, err)
	assert.Equal(t, "UNKNOWN", payment.ContractName)

	table, ok, err := records.LookupTable(ctx, "0xabc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, table.Counterparty)
	assert.Nil(t, table.NativeValue)
}

func TestEngine_RejectsMessagesFromAnotherChain(t *testing.T) {
	engine, store, observer := newTestEngine(t)
	ctx := context.Background()

	applyAll(t, engine, tick(500))

	foreign := assetMsg(100, h2, 0, 9, "0")
	foreign.ChainID = 137
	_, err := engine.Apply(ctx, foreign)
	require.ErrorIs(t, err, ErrChainMismatch)
	require.ErrorIs(t, err, ErrInvariant)

	state := readState(t, store)
	assert.Equal(t, uint64(1), state.ChainID)
	assert.Empty(t, state.PendingTableIDs)
	require.NotNil(t, state.Cursor)
	assert.Equal(t, domain.StreamPosition{BlockNumber: 500}, *state.Cursor)
	assert.Zero(t, observer.skipped)

	_, ok, err := NewRecords(store).LookupTable(ctx, h2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_DirectOperationsLeaveCursorAlone(t *testing.T) {
	engine, store, observer := newTestEngine(t)
	ctx := context.Background()
	tx := domain.TxContext{TxHash: h3, BlockNumber: 70, BlockTimestamp: 1_600_000_070, NativeValue: big.NewInt(0)}

	payment, err := engine.RecordPaymentTransfer(ctx, domain.PaymentTransferEvent{
		TxContext: tx, Contract: tokenX, From: bob, To: alice, Amount: big.NewInt(25),
	})
	require.NoError(t, err)
	assert.True(t, payment.Deferred)

	asset, err := engine.RecordAssetTransfer(ctx, domain.AssetTransferEvent{
		TxContext: tx, Contract: punks, From: alice, To: bob, AssetID: big.NewInt(3),
	})
	require.NoError(t, err)
	assert.False(t, asset.TableCreated)
	assert.Nil(t, asset.Sale)

	same, err := engine.FinalizeBlock(ctx, 70)
	require.NoError(t, err)
	assert.Empty(t, same.Matched)
	assert.Equal(t, 1, same.Retained)

	next, err := engine.FinalizeBlock(ctx, 71)
	require.NoError(t, err)
	require.Len(t, next.Matched, 1)
	assert.Equal(t, h3, next.Matched[0].ID)
	assert.Equal(t, "WETH", next.Matched[0].PaymentTokenName)

	state := readState(t, store)
	assert.Nil(t, state.Cursor)
	assert.Zero(t, state.ChainID)
	assert.Empty(t, state.PendingTableIDs)
	assert.Len(t, observer.recorded, 2)
	assert.Len(t, observer.finalized, 2)
}
