package application

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"nftsales/internal/domain"
)

// Ledger owns the ProcessState for the duration of one unit of work. It is
// opened inside a store transaction and saved after every mutation.
type Ledger struct {
	records Records
	state   domain.ProcessState
}

// OpenLedger loads the ProcessState, creating an empty one if absent.
func OpenLedger(ctx context.Context, records Records) (*Ledger, error) {
	state, ok, err := records.ProcessState(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		state = domain.ProcessState{PendingTableIDs: []string{}}
	}
	if state.PendingTableIDs == nil {
		state.PendingTableIDs = []string{}
	}
	return &Ledger{records: records, state: state}, nil
}

func (l *Ledger) NextPaymentTransferID() string {
	id := strconv.FormatUint(l.state.NextPaymentTransferID, 10)
	l.state.NextPaymentTransferID++
	return id
}

func (l *Ledger) NextAssetTransferID() string {
	id := strconv.FormatUint(l.state.NextAssetTransferID, 10)
	l.state.NextAssetTransferID++
	return id
}

// AddPending registers a lookup table for finalization. The pending list is
// an ordered set.
func (l *Ledger) AddPending(txHash string) {
	if slices.Contains(l.state.PendingTableIDs, txHash) {
		return
	}
	next := make([]string, len(l.state.PendingTableIDs), len(l.state.PendingTableIDs)+1)
	copy(next, l.state.PendingTableIDs)
	l.state.PendingTableIDs = append(next, txHash)
}

func (l *Ledger) Pending() []string {
	return slices.Clone(l.state.PendingTableIDs)
}

func (l *Ledger) ReplacePending(txHashes []string) {
	if txHashes == nil {
		txHashes = []string{}
	}
	l.state.PendingTableIDs = slices.Clone(txHashes)
}

// BindChain ties the state to chainID on first use and rejects any other
// chain afterwards.
func (l *Ledger) BindChain(chainID uint64) error {
	switch l.state.ChainID {
	case 0:
		l.state.ChainID = chainID
		return nil
	case chainID:
		return nil
	default:
		return fmt.Errorf("%w: state of chain %d, message from chain %d", ErrChainMismatch, l.state.ChainID, chainID)
	}
}

func (l *Ledger) Cursor() (domain.StreamPosition, bool) {
	if l.state.Cursor == nil {
		return domain.StreamPosition{}, false
	}
	return *l.state.Cursor, true
}

func (l *Ledger) SetCursor(position domain.StreamPosition) {
	l.state.Cursor = &position
}

func (l *Ledger) State() domain.ProcessState {
	state := l.state
	state.PendingTableIDs = slices.Clone(l.state.PendingTableIDs)
	return state
}

func (l *Ledger) Save(ctx context.Context) error {
	return l.records.SaveProcessState(ctx, l.state)
}
