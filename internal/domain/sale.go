package domain

// Sale is a matched transaction. It shares its key with the LookupTable it
// was built from.
type Sale struct {
	ID                  string  `json:"id"`
	BlockNumber         uint64  `json:"blockNumber"`
	BlockTimestamp      uint64  `json:"blockTimestamp"`
	Counterparty        *string `json:"counterparty,omitempty"`
	Buyer               string  `json:"buyer"`
	Seller              string  `json:"seller"`
	PaymentTokenAddress string  `json:"paymentTokenAddress"`
	PaymentTokenName    string  `json:"paymentTokenName"`
	LookupTable         string  `json:"lookupTable"`
}
