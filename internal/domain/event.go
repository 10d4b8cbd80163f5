package domain

import "math/big"

// TxContext carries the transaction and block fields shared by all
// transfer events of one transaction.
type TxContext struct {
	TxHash         string
	Counterparty   *string
	NativeValue    *big.Int
	BlockNumber    uint64
	BlockTimestamp uint64
	LogIndex       uint64
}

// PaymentTransferEvent is a decoded ERC20 Transfer log.
type PaymentTransferEvent struct {
	TxContext
	Contract string
	From     string
	To       string
	Amount   *big.Int
}

// AssetTransferEvent is a decoded ERC721 Transfer log.
type AssetTransferEvent struct {
	TxContext
	Contract string
	From     string
	To       string
	AssetID  *big.Int
}

// BlockTick signals that the stream reached a new block.
type BlockTick struct {
	BlockNumber    uint64
	BlockTimestamp uint64
}

// HasNativeValue reports whether native currency moved with the transaction.
func (c TxContext) HasNativeValue() bool {
	return c.NativeValue != nil && c.NativeValue.Sign() > 0
}
