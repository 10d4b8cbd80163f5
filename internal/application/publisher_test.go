package application

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"testing"

	"nftsales/internal/domain"
	"nftsales/internal/streaming"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	latest     uint64
	logs       []domain.TransferLog
	timestamps map[uint64]uint64
	txs        map[string]domain.TransactionInfo
	txCalls    int
	fetchErr   error

	mu      sync.Mutex
	fetched [][2]uint64
}

func (f *fakeSource) ChainID(ctx context.Context) (uint64, error) { return 1, nil }

func (f *fakeSource) LatestBlockNumber(ctx context.Context) (uint64, error) { return f.latest, nil }

func (f *fakeSource) FetchTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]domain.TransferLog, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, [2]uint64{fromBlock, toBlock})
	f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []domain.TransferLog
	for _, log := range f.logs {
		if log.BlockNumber >= fromBlock && log.BlockNumber <= toBlock {
			out = append(out, log)
		}
	}
	return out, nil
}

func (f *fakeSource) BlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, bool, error) {
	ts, ok := f.timestamps[blockNumber]
	return ts, ok, nil
}

func (f *fakeSource) Transaction(ctx context.Context, txHash string) (domain.TransactionInfo, error) {
	f.txCalls++
	tx, ok := f.txs[txHash]
	if !ok {
		return domain.TransactionInfo{}, errors.New("not found")
	}
	return tx, nil
}

type fakeWriter struct {
	published []streaming.Message
}

func (w *fakeWriter) Publish(ctx context.Context, msgs []streaming.Message) error {
	w.published = append(w.published, msgs...)
	return nil
}

type fakeState struct {
	last   map[uint64]uint64
	onSave func()
}

func (s *fakeState) LastProcessedBlock(ctx context.Context, chainID uint64) (uint64, bool, error) {
	block, ok := s.last[chainID]
	return block, ok, nil
}

func (s *fakeState) SetLastProcessedBlock(ctx context.Context, chainID uint64, block uint64) error {
	if s.last == nil {
		s.last = make(map[uint64]uint64)
	}
	s.last[chainID] = block
	if s.onSave != nil {
		s.onSave()
	}
	return nil
}

func publisherSource() *fakeSource {
	to := market
	return &fakeSource{
		latest:     12,
		timestamps: map[uint64]uint64{10: 1000, 11: 1012, 12: 1024},
		logs: []domain.TransferLog{
			{Standard: domain.StandardERC721, BlockNumber: 11, TxHash: "0xT1", LogIndex: 5, Contract: punks, From: alice, To: bob, Value: big.NewInt(9)},
			{Standard: domain.StandardERC20, BlockNumber: 11, TxHash: "0xT1", LogIndex: 2, Contract: tokenX, From: bob, To: alice, Value: big.NewInt(50)},
			{Standard: domain.StandardERC20, BlockNumber: 11, TxHash: "0xT1", LogIndex: 3, Contract: punks, From: bob, To: alice, Value: big.NewInt(1)},
			{Standard: domain.StandardERC20, BlockNumber: 10, TxHash: "0xT0", LogIndex: 0, Contract: "0x4444444444444444444444444444444444444444", Value: big.NewInt(1)},
		},
		txs: map[string]domain.TransactionInfo{
			"0xT1": {Hash: "0xT1", To: &to, Value: big.NewInt(0)},
		},
	}
}

func TestPublisher_PublishRangeOrdersTicksBeforeTransfers(t *testing.T) {
	source := publisherSource()
	writer := &fakeWriter{}
	publisher, err := NewPublisher(source, writer, &fakeState{}, testRegistry(t), nil, PublisherConfig{})
	require.NoError(t, err)

	count, err := publisher.PublishRange(context.Background(), 1, 10, 11)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.Len(t, writer.published, 4)
	assert.Equal(t, streaming.MessageTypeBlock, writer.published[0].Type)
	assert.Equal(t, uint64(10), writer.published[0].BlockNumber)
	assert.Equal(t, streaming.MessageTypeBlock, writer.published[1].Type)
	assert.Equal(t, uint64(11), writer.published[1].BlockNumber)

	payment := writer.published[2]
	assert.Equal(t, streaming.MessageTypePaymentTransfer, payment.Type)
	assert.Equal(t, "50", payment.Amount)
	assert.Equal(t, "0xt1", payment.TxHash)
	assert.Equal(t, market, payment.TxTo)
	assert.Equal(t, "0", payment.TxValue)
	assert.Equal(t, uint64(1012), payment.BlockTimestamp)

	asset := writer.published[3]
	assert.Equal(t, streaming.MessageTypeAssetTransfer, asset.Type)
	assert.Equal(t, "9", asset.AssetID)
	assert.Equal(t, uint64(5), asset.LogIndex)

	assert.Equal(t, 1, source.txCalls)
	for _, msg := range writer.published {
		require.NoError(t, msg.Validate())
	}
}

func TestPublisher_MissingBlockIsUnavailable(t *testing.T) {
	source := publisherSource()
	delete(source.timestamps, 11)
	writer := &fakeWriter{}
	publisher, err := NewPublisher(source, writer, &fakeState{}, testRegistry(t), nil, PublisherConfig{})
	require.NoError(t, err)

	_, err = publisher.PublishRange(context.Background(), 1, 10, 11)
	require.ErrorIs(t, err, ErrBlockUnavailable)
	assert.Empty(t, writer.published)
}

func TestPublisher_RunRespectsConfirmationsAndState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := publisherSource()
	writer := &fakeWriter{}
	state := &fakeState{onSave: cancel}
	publisher, err := NewPublisher(source, writer, state, testRegistry(t), nil, PublisherConfig{
		StartBlock:    10,
		Confirmations: 1,
		BatchSize:     10,
	})
	require.NoError(t, err)

	err = publisher.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(11), state.last[1])
	assert.Equal(t, uint64(11), writer.published[len(writer.published)-1].BlockNumber)
}

func TestPublisher_PublishedStreamProducesSale(t *testing.T) {
	source := publisherSource()
	source.timestamps[13] = 1036
	source.latest = 13
	writer := &fakeWriter{}
	publisher, err := NewPublisher(source, writer, &fakeState{}, testRegistry(t), nil, PublisherConfig{})
	require.NoError(t, err)
	_, err = publisher.PublishRange(context.Background(), 1, 10, 12)
	require.NoError(t, err)

	engine, store, _ := newTestEngine(t)
	applyAll(t, engine, writer.published...)

	sale, ok, err := NewRecords(store).Sale(context.Background(), "0xt1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "WETH", sale.PaymentTokenName)
	assert.Equal(t, bob, sale.Buyer)
}

func TestPublisher_FetchesLogsInChunks(t *testing.T) {
	source := publisherSource()
	writer := &fakeWriter{}
	publisher, err := NewPublisher(source, writer, &fakeState{}, testRegistry(t), nil, PublisherConfig{
		LogFetchChunkSize: 2,
		LogFetchWorkers:   2,
	})
	require.NoError(t, err)

	count, err := publisher.PublishRange(context.Background(), 1, 10, 12)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	sort.Slice(source.fetched, func(a, b int) bool { return source.fetched[a][0] < source.fetched[b][0] })
	assert.Equal(t, [][2]uint64{{10, 11}, {12, 12}}, source.fetched)

	require.Len(t, writer.published, 5)
	assert.Equal(t, streaming.MessageTypePaymentTransfer, writer.published[2].Type)
	assert.Equal(t, streaming.MessageTypeAssetTransfer, writer.published[3].Type)
	assert.Equal(t, uint64(12), writer.published[4].BlockNumber)
}

func TestPublisher_ChunkFetchErrorPublishesNothing(t *testing.T) {
	source := publisherSource()
	source.fetchErr = errors.New("response too large")
	writer := &fakeWriter{}
	publisher, err := NewPublisher(source, writer, &fakeState{}, testRegistry(t), nil, PublisherConfig{
		LogFetchChunkSize: 1,
		LogFetchWorkers:   3,
	})
	require.NoError(t, err)

	_, err = publisher.PublishRange(context.Background(), 1, 10, 12)
	require.ErrorContains(t, err, "response too large")
	assert.Empty(t, writer.published)
}
