package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"nftsales/internal/domain"
	"nftsales/internal/streaming"

	"golang.org/x/sync/errgroup"
)

type TransferSource interface {
	ChainID(ctx context.Context) (uint64, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FetchTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]domain.TransferLog, error)
	BlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, bool, error)
	Transaction(ctx context.Context, txHash string) (domain.TransactionInfo, error)
}

type StreamWriter interface {
	Publish(ctx context.Context, msgs []streaming.Message) error
}

type StateRepository interface {
	LastProcessedBlock(ctx context.Context, chainID uint64) (uint64, bool, error)
	SetLastProcessedBlock(ctx context.Context, chainID uint64, block uint64) error
}

// ContractClassifier decides which stream a transfer log belongs to.
type ContractClassifier interface {
	IsAsset(address string) bool
	IsPayment(address string) bool
}

type PublisherObserver interface {
	OnLatestBlock(block uint64)
	OnBatchProcessed(fromBlock, toBlock uint64, transferCount int)
}

type PublisherConfig struct {
	StartBlock    uint64
	Confirmations uint64
	PollInterval  time.Duration
	BatchSize     uint64
	// LogFetchChunkSize splits a batch into eth_getLogs calls of at most
	// this many blocks. Zero fetches the whole batch at once.
	LogFetchChunkSize uint64
	LogFetchWorkers   int
}

// Publisher reads confirmed Transfer logs from the chain and publishes them
// in chain order. Every block gets a tick message ahead of its transfers.
type Publisher struct {
	source     TransferSource
	writer     StreamWriter
	state      StateRepository
	classifier ContractClassifier
	observer   PublisherObserver
	cfg        PublisherConfig
}

var ErrBlockUnavailable = errors.New("block unavailable")

func NewPublisher(source TransferSource, writer StreamWriter, state StateRepository, classifier ContractClassifier, observer PublisherObserver, cfg PublisherConfig) (*Publisher, error) {
	if source == nil || writer == nil || state == nil || classifier == nil {
		return nil, errors.New("publisher dependencies must not be nil")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.LogFetchWorkers <= 0 {
		cfg.LogFetchWorkers = 1
	}
	return &Publisher{source: source, writer: writer, state: state, classifier: classifier, observer: observer, cfg: cfg}, nil
}

func (p *Publisher) Run(ctx context.Context) error {
	chainID, err := p.source.ChainID(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		current := p.cfg.StartBlock
		if last, ok, err := p.state.LastProcessedBlock(ctx, chainID); err != nil {
			return err
		} else if ok {
			current = last + 1
		}

		latest, err := p.source.LatestBlockNumber(ctx)
		if err != nil {
			return err
		}
		if p.observer != nil {
			p.observer.OnLatestBlock(latest)
		}
		if latest < p.cfg.Confirmations {
			latest = 0
		} else {
			latest -= p.cfg.Confirmations
		}

		if current > latest {
			if err := p.wait(ctx); err != nil {
				return err
			}
			continue
		}

		toBlock := current + p.cfg.BatchSize - 1
		if toBlock > latest {
			toBlock = latest
		}

		count, err := p.PublishRange(ctx, chainID, current, toBlock)
		if err != nil {
			if errors.Is(err, ErrBlockUnavailable) {
				if err := p.wait(ctx); err != nil {
					return err
				}
				continue
			}
			return err
		}
		if err := p.state.SetLastProcessedBlock(ctx, chainID, toBlock); err != nil {
			return err
		}
		if p.observer != nil {
			p.observer.OnBatchProcessed(current, toBlock, count)
		}
	}
}

// PublishRange publishes blocks fromBlock..toBlock and returns the number of
// transfer messages written.
func (p *Publisher) PublishRange(ctx context.Context, chainID, fromBlock, toBlock uint64) (int, error) {
	if fromBlock > toBlock {
		return 0, nil
	}
	logs, err := p.fetchTransfers(ctx, fromBlock, toBlock)
	if err != nil {
		return 0, err
	}
	sort.Slice(logs, func(a, b int) bool {
		if logs[a].BlockNumber == logs[b].BlockNumber {
			return logs[a].LogIndex < logs[b].LogIndex
		}
		return logs[a].BlockNumber < logs[b].BlockNumber
	})

	byBlock := make(map[uint64][]domain.TransferLog)
	for _, log := range logs {
		byBlock[log.BlockNumber] = append(byBlock[log.BlockNumber], log)
	}

	txs := make(map[string]domain.TransactionInfo)
	msgs := make([]streaming.Message, 0, len(logs)+int(toBlock-fromBlock)+1)
	transfers := 0
	for block := fromBlock; block <= toBlock; block++ {
		timestamp, ok, err := p.source.BlockTimestamp(ctx, block)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("%w: %d", ErrBlockUnavailable, block)
		}
		msgs = append(msgs, streaming.Message{
			Type:           streaming.MessageTypeBlock,
			ChainID:        chainID,
			BlockNumber:    block,
			BlockTimestamp: timestamp,
		})
		for _, log := range byBlock[block] {
			kind, ok := p.classify(log)
			if !ok {
				continue
			}
			tx, err := p.transaction(ctx, txs, log.TxHash)
			if err != nil {
				return 0, err
			}
			msgs = append(msgs, transferMessage(kind, chainID, timestamp, log, tx))
			transfers++
		}
	}

	if err := p.writer.Publish(ctx, msgs); err != nil {
		return 0, fmt.Errorf("publish %d-%d: %w", fromBlock, toBlock, err)
	}
	slog.Debug("published range",
		"chain_id", chainID,
		"from", fromBlock,
		"to", toBlock,
		"transfers", transfers,
	)
	return transfers, nil
}

// fetchTransfers reads the range in chunks, up to LogFetchWorkers at a
// time. Results are returned unordered.
func (p *Publisher) fetchTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]domain.TransferLog, error) {
	chunk := p.cfg.LogFetchChunkSize
	if chunk == 0 || toBlock-fromBlock < chunk {
		logs, err := p.source.FetchTransfers(ctx, fromBlock, toBlock)
		if err != nil {
			return nil, fmt.Errorf("fetch transfers %d-%d: %w", fromBlock, toBlock, err)
		}
		return logs, nil
	}

	var ranges [][2]uint64
	for start := fromBlock; start <= toBlock; start += chunk {
		end := start + chunk - 1
		if end > toBlock || end < start {
			end = toBlock
		}
		ranges = append(ranges, [2]uint64{start, end})
		if end == toBlock {
			break
		}
	}

	results := make([][]domain.TransferLog, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.LogFetchWorkers)
	for i, r := range ranges {
		g.Go(func() error {
			logs, err := p.source.FetchTransfers(gctx, r[0], r[1])
			if err != nil {
				return fmt.Errorf("fetch transfers %d-%d: %w", r[0], r[1], err)
			}
			results[i] = logs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var logs []domain.TransferLog
	for _, part := range results {
		logs = append(logs, part...)
	}
	return logs, nil
}

func (p *Publisher) classify(log domain.TransferLog) (streaming.MessageType, bool) {
	switch {
	case log.Standard == domain.StandardERC721 && p.classifier.IsAsset(log.Contract):
		return streaming.MessageTypeAssetTransfer, true
	case log.Standard == domain.StandardERC20 && p.classifier.IsPayment(log.Contract):
		return streaming.MessageTypePaymentTransfer, true
	default:
		return "", false
	}
}

func (p *Publisher) transaction(ctx context.Context, cache map[string]domain.TransactionInfo, txHash string) (domain.TransactionInfo, error) {
	key := strings.ToLower(txHash)
	if tx, ok := cache[key]; ok {
		return tx, nil
	}
	tx, err := p.source.Transaction(ctx, txHash)
	if err != nil {
		return domain.TransactionInfo{}, fmt.Errorf("transaction %s: %w", txHash, err)
	}
	cache[key] = tx
	return tx, nil
}

func (p *Publisher) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.cfg.PollInterval):
		return nil
	}
}

func transferMessage(kind streaming.MessageType, chainID, timestamp uint64, log domain.TransferLog, tx domain.TransactionInfo) streaming.Message {
	msg := streaming.Message{
		Type:           kind,
		ChainID:        chainID,
		BlockNumber:    log.BlockNumber,
		BlockTimestamp: timestamp,
		TxHash:         strings.ToLower(log.TxHash),
		TxValue:        decimalString(tx.Value),
		LogIndex:       log.LogIndex,
		Contract:       strings.ToLower(log.Contract),
		From:           strings.ToLower(log.From),
		To:             strings.ToLower(log.To),
	}
	if tx.To != nil {
		msg.TxTo = strings.ToLower(*tx.To)
	}
	if kind == streaming.MessageTypeAssetTransfer {
		msg.AssetID = decimalString(log.Value)
	} else {
		msg.Amount = decimalString(log.Value)
	}
	return msg
}
