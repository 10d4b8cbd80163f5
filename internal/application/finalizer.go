package application

import (
	"context"
	"log/slog"

	"nftsales/internal/domain"
)

// FinalizeResult summarizes one block finalization.
type FinalizeResult struct {
	BlockNumber uint64
	Matched     []domain.Sale
	Deleted     map[MatchOutcome]int
	Retained    int
}

func (r FinalizeResult) DeletedCount() int {
	total := 0
	for _, n := range r.Deleted {
		total += n
	}
	return total
}

// Finalizer settles pending lookup tables created before the current block.
type Finalizer struct{}

func NewFinalizer() *Finalizer {
	return &Finalizer{}
}

// FinalizeBlock matches or deletes every pending table whose block number is
// lower than blockNumber and keeps the rest pending.
func (f *Finalizer) FinalizeBlock(ctx context.Context, records Records, ledger *Ledger, blockNumber uint64) (FinalizeResult, error) {
	result := FinalizeResult{BlockNumber: blockNumber, Deleted: make(map[MatchOutcome]int)}
	pending := ledger.Pending()
	keep := make([]string, 0, len(pending))

	for _, txHash := range pending {
		table, err := records.PendingLookupTable(ctx, txHash)
		if err != nil {
			return FinalizeResult{}, err
		}
		if table.BlockNumber >= blockNumber {
			keep = append(keep, txHash)
			continue
		}

		payments, assets, err := loadChildren(ctx, records, table)
		if err != nil {
			return FinalizeResult{}, err
		}
		sale, outcome := MatchSale(table, payments, assets)
		if outcome == MatchAccepted {
			if err := records.CreateSale(ctx, sale); err != nil {
				return FinalizeResult{}, err
			}
			result.Matched = append(result.Matched, sale)
			continue
		}
		if err := removeLookupTable(ctx, records, table); err != nil {
			return FinalizeResult{}, err
		}
		result.Deleted[outcome]++
		slog.Debug("lookup table rejected", "tx_hash", txHash, "reason", outcome)
	}

	ledger.ReplacePending(keep)
	if err := ledger.Save(ctx); err != nil {
		return FinalizeResult{}, err
	}
	result.Retained = len(keep)
	return result, nil
}

func loadChildren(ctx context.Context, records Records, table domain.LookupTable) ([]domain.PaymentTransfer, []domain.AssetTransfer, error) {
	payments := make([]domain.PaymentTransfer, 0, len(table.PaymentTransfers))
	for _, id := range table.PaymentTransfers {
		payment, err := records.PaymentTransfer(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		payments = append(payments, payment)
	}
	assets := make([]domain.AssetTransfer, 0, len(table.AssetTransfers))
	for _, id := range table.AssetTransfers {
		asset, err := records.AssetTransfer(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		assets = append(assets, asset)
	}
	return payments, assets, nil
}

// removeLookupTable deletes the table before its children so an interrupted
// cleanup never leaves a table pointing at missing transfers.
func removeLookupTable(ctx context.Context, records Records, table domain.LookupTable) error {
	if err := records.DeleteLookupTable(ctx, table.ID); err != nil {
		return err
	}
	for _, id := range table.PaymentTransfers {
		if err := records.DeletePaymentTransfer(ctx, id); err != nil {
			return err
		}
	}
	for _, id := range table.AssetTransfers {
		if err := records.DeleteAssetTransfer(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
