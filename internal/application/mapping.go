package application

import (
	"fmt"
	"math/big"
	"strings"

	"nftsales/internal/domain"
	"nftsales/internal/streaming"
)

func MapToPaymentEvent(msg streaming.Message) (domain.PaymentTransferEvent, error) {
	tx, err := mapToTxContext(msg)
	if err != nil {
		return domain.PaymentTransferEvent{}, err
	}
	amount, err := parseDecimal("amount", msg.Amount)
	if err != nil {
		return domain.PaymentTransferEvent{}, err
	}
	return domain.PaymentTransferEvent{
		TxContext: tx,
		Contract:  msg.Contract,
		From:      msg.From,
		To:        msg.To,
		Amount:    amount,
	}, nil
}

func MapToAssetEvent(msg streaming.Message) (domain.AssetTransferEvent, error) {
	tx, err := mapToTxContext(msg)
	if err != nil {
		return domain.AssetTransferEvent{}, err
	}
	assetID, err := parseDecimal("asset_id", msg.AssetID)
	if err != nil {
		return domain.AssetTransferEvent{}, err
	}
	return domain.AssetTransferEvent{
		TxContext: tx,
		Contract:  msg.Contract,
		From:      msg.From,
		To:        msg.To,
		AssetID:   assetID,
	}, nil
}

func MapToBlockTick(msg streaming.Message) domain.BlockTick {
	return domain.BlockTick{BlockNumber: msg.BlockNumber, BlockTimestamp: msg.BlockTimestamp}
}

func mapToTxContext(msg streaming.Message) (domain.TxContext, error) {
	value := new(big.Int)
	if msg.TxValue != "" {
		parsed, err := parseDecimal("tx_value", msg.TxValue)
		if err != nil {
			return domain.TxContext{}, err
		}
		value = parsed
	}
	var counterparty *string
	if to := strings.TrimSpace(msg.TxTo); to != "" {
		counterparty = &to
	}
	return domain.TxContext{
		TxHash:         msg.TxHash,
		Counterparty:   counterparty,
		NativeValue:    value,
		BlockNumber:    msg.BlockNumber,
		BlockTimestamp: msg.BlockTimestamp,
		LogIndex:       msg.LogIndex,
	}, nil
}

func parseDecimal(field, raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid %s %q", streaming.ErrInvalidMessage, field, raw)
	}
	return value, nil
}

func decimalString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}
