package application

import (
	"context"

	"nftsales/internal/domain"
)

// loadOrCreateLookupTable returns the table for the transaction, or a new
// one carrying the transaction's block fields. The new table is not saved.
func loadOrCreateLookupTable(ctx context.Context, records Records, tx domain.TxContext) (domain.LookupTable, bool, error) {
	table, ok, err := records.LookupTable(ctx, tx.TxHash)
	if err != nil {
		return domain.LookupTable{}, false, err
	}
	if ok {
		return table, false, nil
	}
	return domain.NewLookupTable(tx.TxHash, tx.BlockNumber, tx.BlockTimestamp, tx.Counterparty), true, nil
}
