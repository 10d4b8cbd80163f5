package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"nftsales/internal/domain"
	"nftsales/internal/storage"
	"nftsales/internal/streaming"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped"
)

type EngineObserver interface {
	OnTransferRecorded(kind streaming.MessageType, result RecordResult)
	OnBlockFinalized(result FinalizeResult)
	OnMessageSkipped(msg streaming.Message)
}

// Engine applies stream messages to the store. Every message runs in its
// own store transaction; the stream cursor is written in the same
// transaction so replayed messages are dropped.
type Engine struct {
	store     storage.Transactor
	recorder  *Recorder
	finalizer *Finalizer
	observer  EngineObserver
}

func NewEngine(store storage.Transactor, names NameResolver, observer EngineObserver) (*Engine, error) {
	if store == nil {
		return nil, errors.New("engine store is required")
	}
	recorder, err := NewRecorder(names)
	if err != nil {
		return nil, err
	}
	return &Engine{store: store, recorder: recorder, finalizer: NewFinalizer(), observer: observer}, nil
}

func (e *Engine) Apply(ctx context.Context, msg streaming.Message) (Outcome, error) {
	ctx, span := otel.Tracer("nftsales/engine").Start(ctx, "engine.apply", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(
		attribute.String("message.type", string(msg.Type)),
		attribute.Int64("block.number", int64(msg.BlockNumber)),
	)
	if msg.TxHash != "" {
		span.SetAttributes(attribute.String("tx.hash", msg.TxHash))
	}

	block, position := msg.Position()
	at := domain.StreamPosition{BlockNumber: block, Position: position}

	var (
		outcome Outcome
		notify  func()
	)
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		outcome, notify = OutcomeApplied, nil
		records := NewRecords(tx)
		ledger, err := OpenLedger(ctx, records)
		if err != nil {
			return err
		}
		if msg.ChainID != 0 {
			if err := ledger.BindChain(msg.ChainID); err != nil {
				return err
			}
		}
		if cursor, ok := ledger.Cursor(); ok && !at.After(cursor) {
			outcome = OutcomeSkipped
			return nil
		}
		notify, err = e.dispatch(ctx, records, ledger, msg)
		if err != nil {
			return err
		}
		ledger.SetCursor(at)
		return ledger.Save(ctx)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	if outcome == OutcomeSkipped {
		slog.Info("skip replayed message",
			"type", msg.Type,
			"block_number", msg.BlockNumber,
			"log_index", msg.LogIndex,
			"tx_hash", msg.TxHash,
		)
		if e.observer != nil {
			e.observer.OnMessageSkipped(msg)
		}
	} else if notify != nil {
		notify()
	}
	span.SetAttributes(attribute.String("engine.outcome", string(outcome)))
	return outcome, nil
}

func (e *Engine) dispatch(ctx context.Context, records Records, ledger *Ledger, msg streaming.Message) (func(), error) {
	switch msg.Type {
	case streaming.MessageTypePaymentTransfer:
		event, err := MapToPaymentEvent(msg)
		if err != nil {
			return nil, err
		}
		result, err := e.recorder.RecordPaymentTransfer(ctx, records, ledger, event)
		if err != nil {
			return nil, err
		}
		return func() { e.recorded(msg.Type, result) }, nil
	case streaming.MessageTypeAssetTransfer:
		event, err := MapToAssetEvent(msg)
		if err != nil {
			return nil, err
		}
		result, err := e.recorder.RecordAssetTransfer(ctx, records, ledger, event)
		if err != nil {
			return nil, err
		}
		return func() { e.recorded(msg.Type, result) }, nil
	case streaming.MessageTypeBlock:
		result, err := e.finalizer.FinalizeBlock(ctx, records, ledger, MapToBlockTick(msg).BlockNumber)
		if err != nil {
			return nil, err
		}
		return func() { e.finalized(result) }, nil
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", streaming.ErrInvalidMessage, msg.Type)
	}
}

// RecordPaymentTransfer applies a payment transfer outside the stream,
// without touching the cursor.
func (e *Engine) RecordPaymentTransfer(ctx context.Context, event domain.PaymentTransferEvent) (RecordResult, error) {
	var result RecordResult
	err := e.run(ctx, func(ctx context.Context, records Records, ledger *Ledger) error {
		var err error
		result, err = e.recorder.RecordPaymentTransfer(ctx, records, ledger, event)
		return err
	})
	if err != nil {
		return RecordResult{}, err
	}
	e.recorded(streaming.MessageTypePaymentTransfer, result)
	return result, nil
}

func (e *Engine) RecordAssetTransfer(ctx context.Context, event domain.AssetTransferEvent) (RecordResult, error) {
	var result RecordResult
	err := e.run(ctx, func(ctx context.Context, records Records, ledger *Ledger) error {
		var err error
		result, err = e.recorder.RecordAssetTransfer(ctx, records, ledger, event)
		return err
	})
	if err != nil {
		return RecordResult{}, err
	}
	e.recorded(streaming.MessageTypeAssetTransfer, result)
	return result, nil
}

func (e *Engine) FinalizeBlock(ctx context.Context, blockNumber uint64) (FinalizeResult, error) {
	var result FinalizeResult
	err := e.run(ctx, func(ctx context.Context, records Records, ledger *Ledger) error {
		var err error
		result, err = e.finalizer.FinalizeBlock(ctx, records, ledger, blockNumber)
		return err
	})
	if err != nil {
		return FinalizeResult{}, err
	}
	e.finalized(result)
	return result, nil
}

func (e *Engine) run(ctx context.Context, fn func(ctx context.Context, records Records, ledger *Ledger) error) error {
	return e.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		records := NewRecords(tx)
		ledger, err := OpenLedger(ctx, records)
		if err != nil {
			return err
		}
		return fn(ctx, records, ledger)
	})
}

func (e *Engine) recorded(kind streaming.MessageType, result RecordResult) {
	if result.Sale != nil {
		slog.Info("native sale recorded",
			"tx_hash", result.Sale.ID,
			"buyer", result.Sale.Buyer,
			"seller", result.Sale.Seller,
			"block_number", result.Sale.BlockNumber,
		)
	}
	if e.observer != nil {
		e.observer.OnTransferRecorded(kind, result)
	}
}

func (e *Engine) finalized(result FinalizeResult) {
	if len(result.Matched) > 0 || result.DeletedCount() > 0 {
		slog.Info("block finalized",
			"block_number", result.BlockNumber,
			"matched", len(result.Matched),
			"deleted", result.DeletedCount(),
			"retained", result.Retained,
		)
	}
	for _, sale := range result.Matched {
		slog.Debug("sale matched",
			"tx_hash", sale.ID,
			"payment_token", sale.PaymentTokenName,
			"buyer", sale.Buyer,
			"seller", sale.Seller,
		)
	}
	if e.observer != nil {
		e.observer.OnBlockFinalized(result)
	}
}
