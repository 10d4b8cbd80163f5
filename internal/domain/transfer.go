package domain

// PaymentTransfer is an ERC20 movement observed inside a transaction.
// Records are immutable once stored.
type PaymentTransfer struct {
	ID              string `json:"id"`
	ContractAddress string `json:"contractAddress"`
	ContractName    string `json:"contractName"`
	From            string `json:"from"`
	To              string `json:"to"`
	Amount          string `json:"amount"`
}

// AssetTransfer is an ERC721 movement observed inside a transaction.
type AssetTransfer struct {
	ID              string `json:"id"`
	ContractAddress string `json:"contractAddress"`
	ContractName    string `json:"contractName"`
	From            string `json:"from"`
	To              string `json:"to"`
	AssetID         string `json:"assetId"`
}
