package domain

import "math/big"

type TokenStandard string

const (
	StandardERC20  TokenStandard = "erc20"
	StandardERC721 TokenStandard = "erc721"
)

// TransferLog is a raw Transfer(address,address,uint256) log. Value holds
// the ERC20 amount or the ERC721 token id depending on Standard.
type TransferLog struct {
	Standard    TokenStandard
	BlockNumber uint64
	TxHash      string
	LogIndex    uint64
	Contract    string
	From        string
	To          string
	Value       *big.Int
}

// TransactionInfo holds the transaction fields a transfer event needs.
type TransactionInfo struct {
	Hash  string
	To    *string
	Value *big.Int
}
