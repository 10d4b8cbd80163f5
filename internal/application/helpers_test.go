package application

import (
	"context"
	"strconv"
	"testing"

	"nftsales/internal/contracts"
	"nftsales/internal/domain"
	"nftsales/internal/storage"
	"nftsales/internal/storage/memory"
	"nftsales/internal/streaming"

	"github.com/stretchr/testify/require"
)

const (
	tokenX    = "0x1111111111111111111111111111111111111111"
	tokenY    = "0x2222222222222222222222222222222222222222"
	punks     = "0x3333333333333333333333333333333333333333"
	alice     = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	bob       = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	market    = "0xcccccccccccccccccccccccccccccccccccccccc"
	nativeETH = "0x0000000000000000000000000000000000000000"
)

func testRegistry(t *testing.T) *contracts.Registry {
	t.Helper()
	registry, err := contracts.New(contracts.File{
		Assets: []contracts.Contract{{Name: "Punks", Address: punks, StartBlock: 10}},
		Payments: []contracts.Contract{
			{Name: "WETH", Address: tokenX},
			{Name: "USDC", Address: tokenY},
		},
	})
	require.NoError(t, err)
	return registry
}

type recordingObserver struct {
	recorded  []RecordResult
	finalized []FinalizeResult
	skipped   int
}

func (o *recordingObserver) OnTransferRecorded(kind streaming.MessageType, result RecordResult) {
	o.recorded = append(o.recorded, result)
}

func (o *recordingObserver) OnBlockFinalized(result FinalizeResult) {
	o.finalized = append(o.finalized, result)
}

func (o *recordingObserver) OnMessageSkipped(msg streaming.Message) {
	o.skipped++
}

func newTestEngine(t *testing.T) (*Engine, *memory.Store, *recordingObserver) {
	t.Helper()
	store := memory.NewStore()
	observer := &recordingObserver{}
	engine, err := NewEngine(store, testRegistry(t), observer)
	require.NoError(t, err)
	return engine, store, observer
}

func tick(block uint64) streaming.Message {
	return streaming.Message{
		Type:           streaming.MessageTypeBlock,
		ChainID:        1,
		BlockNumber:    block,
		BlockTimestamp: 1_600_000_000 + block,
	}
}

func paymentMsg(block uint64, txHash string, logIndex uint64, contract string, amount int64, txValue string) streaming.Message {
	return streaming.Message{
		Type:           streaming.MessageTypePaymentTransfer,
		ChainID:        1,
		BlockNumber:    block,
		BlockTimestamp: 1_600_000_000 + block,
		TxHash:         txHash,
		TxTo:           market,
		TxValue:        txValue,
		LogIndex:       logIndex,
		Contract:       contract,
		From:           bob,
		To:             alice,
		Amount:         strconv.FormatInt(amount, 10),
	}
}

func assetMsg(block uint64, txHash string, logIndex uint64, assetID int64, txValue string) streaming.Message {
	return streaming.Message{
		Type:           streaming.MessageTypeAssetTransfer,
		ChainID:        1,
		BlockNumber:    block,
		BlockTimestamp: 1_600_000_000 + block,
		TxHash:         txHash,
		TxTo:           market,
		TxValue:        txValue,
		LogIndex:       logIndex,
		Contract:       punks,
		From:           alice,
		To:             bob,
		AssetID:        strconv.FormatInt(assetID, 10),
	}
}

func applyAll(t *testing.T, engine *Engine, msgs ...streaming.Message) {
	t.Helper()
	for _, msg := range msgs {
		outcome, err := engine.Apply(context.Background(), msg)
		require.NoError(t, err)
		require.Equal(t, OutcomeApplied, outcome)
	}
}

func readState(t *testing.T, store storage.Store) domain.ProcessState {
	t.Helper()
	state, ok, err := NewRecords(store).ProcessState(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	return state
}
