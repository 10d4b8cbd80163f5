package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"nftsales/internal/streaming"

	"github.com/segmentio/kafka-go"
)

// OffsetBatch collects Kafka messages whose effects are already committed to
// the store so their offsets can be committed together.
type OffsetBatch struct {
	messages    []kafka.Message
	counts      map[streaming.MessageType]int
	maxBlockNum map[uint64]uint64
	minOffset   map[int]int64
	maxOffset   map[int]int64
}

func NewOffsetBatch() *OffsetBatch {
	return &OffsetBatch{
		counts:      make(map[streaming.MessageType]int),
		maxBlockNum: make(map[uint64]uint64),
		minOffset:   make(map[int]int64),
		maxOffset:   make(map[int]int64),
	}
}

func (b *OffsetBatch) Add(msg streaming.Message, kafkaMsg kafka.Message) {
	b.messages = append(b.messages, kafkaMsg)
	b.counts[msg.Type]++

	if msg.BlockNumber > b.maxBlockNum[msg.ChainID] {
		b.maxBlockNum[msg.ChainID] = msg.BlockNumber
	}

	partition := kafkaMsg.Partition
	offset := kafkaMsg.Offset
	if min, ok := b.minOffset[partition]; !ok || offset < min {
		b.minOffset[partition] = offset
	}
	if max, ok := b.maxOffset[partition]; !ok || offset > max {
		b.maxOffset[partition] = offset
	}
}

func (b *OffsetBatch) Len() int {
	return len(b.messages)
}

// MaxBlock returns the highest block number added for chainID.
func (b *OffsetBatch) MaxBlock(chainID uint64) (uint64, bool) {
	block, ok := b.maxBlockNum[chainID]
	return block, ok
}

type Committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

func (b *OffsetBatch) Flush(ctx context.Context, committer Committer) error {
	if b.Len() == 0 {
		return nil
	}

	start := time.Now()
	if err := committer.CommitMessages(ctx, b.messages...); err != nil {
		return fmt.Errorf("failed to commit kafka messages: %w", err)
	}

	for partition, min := range b.minOffset {
		slog.Debug("committed offsets",
			"partition", partition,
			"from", min,
			"to", b.maxOffset[partition],
		)
	}
	slog.Info("flushed batch",
		"count", b.Len(),
		"payments", b.counts[streaming.MessageTypePaymentTransfer],
		"assets", b.counts[streaming.MessageTypeAssetTransfer],
		"blocks", b.counts[streaming.MessageTypeBlock],
		"duration", time.Since(start),
	)

	b.Reset()
	return nil
}

func (b *OffsetBatch) Reset() {
	b.messages = b.messages[:0]
	clear(b.counts)
	clear(b.maxBlockNum)
	clear(b.minOffset)
	clear(b.maxOffset)
}
