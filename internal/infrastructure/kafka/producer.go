package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"nftsales/internal/infrastructure/telemetry"
	"nftsales/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultTopicPrefix = "nftsales-transfers"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes stream messages to one topic per chain. Messages are keyed
// by chain id so a chain's stream keeps its order on a single partition.
type Producer struct {
	writer messageWriter
	prefix string
}

type ProducerConfig struct {
	Brokers     []string
	TopicPrefix string
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 500 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return newProducer(writer, cfg.TopicPrefix), nil
}

func newProducer(writer messageWriter, prefix string) *Producer {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultTopicPrefix
	}
	return &Producer{writer: writer, prefix: prefix}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) Publish(ctx context.Context, msgs []streaming.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tracer := otel.Tracer("nftsales/kafka")
	messages := make([]kafka.Message, 0, len(msgs))
	spans := make([]trace.Span, 0, len(msgs))
	endAll := func(err error) {
		for _, span := range spans {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}
	}

	for _, msg := range msgs {
		traceID, traceIDHex, ok := telemetry.NewTraceID()
		traceCtx := ctx
		if ok {
			if spanCtx, ok := telemetry.NewSpanContext(traceID); ok {
				traceCtx = trace.ContextWithSpanContext(ctx, spanCtx)
			}
			msg.TraceID = traceIDHex
		}
		traceCtx, span := tracer.Start(traceCtx, "ordering.publish_"+string(msg.Type), trace.WithSpanKind(trace.SpanKindProducer))
		span.SetAttributes(
			attribute.Int64("chain.id", int64(msg.ChainID)),
			attribute.Int64("block.number", int64(msg.BlockNumber)),
		)
		if msg.TxHash != "" {
			span.SetAttributes(
				attribute.String("tx.hash", msg.TxHash),
				attribute.Int64("log.index", int64(msg.LogIndex)),
			)
		}
		spans = append(spans, span)

		payload, err := streaming.Encode(msg)
		if err != nil {
			endAll(err)
			return err
		}
		headers := make([]kafka.Header, 0, 2)
		telemetry.InjectKafkaHeaders(traceCtx, &headers)
		messages = append(messages, kafka.Message{
			Topic:   TopicForChain(p.prefix, msg.ChainID),
			Key:     []byte(strconv.FormatUint(msg.ChainID, 10)),
			Value:   payload,
			Headers: headers,
		})
	}

	err := p.writer.WriteMessages(ctx, messages...)
	endAll(err)
	if err != nil {
		return fmt.Errorf("write %d messages: %w", len(messages), err)
	}
	return nil
}

func TopicForChain(prefix string, chainID uint64) string {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultTopicPrefix
	}
	return fmt.Sprintf("%s-%d", prefix, chainID)
}
