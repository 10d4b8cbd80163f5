package domain

// LookupTable accumulates the transfers of one transaction until the block
// finalizer decides whether they form a sale. It is keyed by transaction hash.
type LookupTable struct {
	ID               string   `json:"id"`
	BlockNumber      uint64   `json:"blockNumber"`
	BlockTimestamp   uint64   `json:"blockTimestamp"`
	Counterparty     *string  `json:"counterparty,omitempty"`
	PaymentTransfers []string `json:"paymentTransfers"`
	AssetTransfers   []string `json:"assetTransfers"`
	NativeValue      *string  `json:"nativeValue,omitempty"`
}

func NewLookupTable(txHash string, blockNumber, blockTimestamp uint64, counterparty *string) LookupTable {
	return LookupTable{
		ID:               txHash,
		BlockNumber:      blockNumber,
		BlockTimestamp:   blockTimestamp,
		Counterparty:     cloneString(counterparty),
		PaymentTransfers: []string{},
		AssetTransfers:   []string{},
	}
}

// AppendPayment returns a copy of the table with id appended to the payment list.
func (t LookupTable) AppendPayment(id string) LookupTable {
	next := make([]string, len(t.PaymentTransfers), len(t.PaymentTransfers)+1)
	copy(next, t.PaymentTransfers)
	t.PaymentTransfers = append(next, id)
	return t
}

// AppendAsset returns a copy of the table with id appended to the asset list.
func (t LookupTable) AppendAsset(id string) LookupTable {
	next := make([]string, len(t.AssetTransfers), len(t.AssetTransfers)+1)
	copy(next, t.AssetTransfers)
	t.AssetTransfers = append(next, id)
	return t
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
