package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"nftsales/internal/contracts"
	"nftsales/internal/domain"
)

// NameResolver maps contract addresses to registry names.
type NameResolver interface {
	Name(address string) string
	Native() contracts.Contract
}

// RecordResult describes what recording one transfer changed.
type RecordResult struct {
	TransferID   string
	TxHash       string
	TableCreated bool
	Deferred     bool
	Sale         *domain.Sale
}

// Recorder ingests transfer events into lookup tables.
type Recorder struct {
	names NameResolver
}

func NewRecorder(names NameResolver) (*Recorder, error) {
	if names == nil {
		return nil, errors.New("name resolver is required")
	}
	return &Recorder{names: names}, nil
}

// RecordPaymentTransfer stores the transfer and appends it to its lookup
// table. Payment transfers are always settled by the block finalizer.
func (r *Recorder) RecordPaymentTransfer(ctx context.Context, records Records, ledger *Ledger, event domain.PaymentTransferEvent) (RecordResult, error) {
	tx := normalizeTx(event.TxContext)
	contract := strings.ToLower(event.Contract)
	transfer := domain.PaymentTransfer{
		ID:              ledger.NextPaymentTransferID(),
		ContractAddress: contract,
		ContractName:    r.names.Name(contract),
		From:            strings.ToLower(event.From),
		To:              strings.ToLower(event.To),
		Amount:          decimalString(event.Amount),
	}
	if err := records.CreatePaymentTransfer(ctx, transfer); err != nil {
		return RecordResult{}, err
	}

	table, created, err := loadOrCreateLookupTable(ctx, records, tx)
	if err != nil {
		return RecordResult{}, err
	}
	table = table.AppendPayment(transfer.ID)
	if err := records.SaveLookupTable(ctx, table); err != nil {
		return RecordResult{}, err
	}
	if created {
		ledger.AddPending(table.ID)
	}
	if err := ledger.Save(ctx); err != nil {
		return RecordResult{}, err
	}

	slog.Debug("payment transfer recorded",
		"id", transfer.ID,
		"tx_hash", tx.TxHash,
		"contract", transfer.ContractName,
		"table_created", created,
	)
	return RecordResult{TransferID: transfer.ID, TxHash: tx.TxHash, TableCreated: created, Deferred: created}, nil
}

// RecordAssetTransfer stores the transfer and appends it to its lookup
// table. When native currency moved with the transaction the first asset
// transfer settles the sale immediately; otherwise the table waits for the
// next block.
func (r *Recorder) RecordAssetTransfer(ctx context.Context, records Records, ledger *Ledger, event domain.AssetTransferEvent) (RecordResult, error) {
	tx := normalizeTx(event.TxContext)
	contract := strings.ToLower(event.Contract)
	transfer := domain.AssetTransfer{
		ID:              ledger.NextAssetTransferID(),
		ContractAddress: contract,
		ContractName:    r.names.Name(contract),
		From:            strings.ToLower(event.From),
		To:              strings.ToLower(event.To),
		AssetID:         decimalString(event.AssetID),
	}
	if err := records.CreateAssetTransfer(ctx, transfer); err != nil {
		return RecordResult{}, err
	}

	table, created, err := loadOrCreateLookupTable(ctx, records, tx)
	if err != nil {
		return RecordResult{}, err
	}
	table = table.AppendAsset(transfer.ID)

	native := tx.HasNativeValue()
	if native {
		value := tx.NativeValue.String()
		table.NativeValue = &value
	}
	if err := records.SaveLookupTable(ctx, table); err != nil {
		return RecordResult{}, err
	}

	result := RecordResult{TransferID: transfer.ID, TxHash: tx.TxHash, TableCreated: created}
	switch {
	case native && created:
		sale := r.nativeSale(table, transfer)
		if err := records.CreateSale(ctx, sale); err != nil {
			return RecordResult{}, err
		}
		result.Sale = &sale
	case created:
		ledger.AddPending(table.ID)
		result.Deferred = true
	}
	if err := ledger.Save(ctx); err != nil {
		return RecordResult{}, err
	}

	slog.Debug("asset transfer recorded",
		"id", transfer.ID,
		"tx_hash", tx.TxHash,
		"contract", transfer.ContractName,
		"native", native,
		"table_created", created,
	)
	return result, nil
}

func (r *Recorder) nativeSale(table domain.LookupTable, transfer domain.AssetTransfer) domain.Sale {
	native := r.names.Native()
	return domain.Sale{
		ID:                  table.ID,
		BlockNumber:         table.BlockNumber,
		BlockTimestamp:      table.BlockTimestamp,
		Counterparty:        table.Counterparty,
		Buyer:               transfer.To,
		Seller:              transfer.From,
		PaymentTokenAddress: native.Address,
		PaymentTokenName:    native.Name,
		LookupTable:         table.ID,
	}
}

func normalizeTx(tx domain.TxContext) domain.TxContext {
	tx.TxHash = strings.ToLower(tx.TxHash)
	if tx.Counterparty != nil {
		counterparty := strings.ToLower(*tx.Counterparty)
		tx.Counterparty = &counterparty
	}
	return tx
}
