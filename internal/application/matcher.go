package application

import "nftsales/internal/domain"

// MatchOutcome is the verdict of MatchSale.
type MatchOutcome string

const (
	MatchAccepted           MatchOutcome = "accepted"
	MatchNoPayments         MatchOutcome = "no_payments"
	MatchNoAssets           MatchOutcome = "no_assets"
	MatchMixedPaymentTokens MatchOutcome = "mixed_payment_tokens"
)

// MatchSale decides whether a lookup table is a sale. payments and assets
// are the table's transfers in list order. Buyer and seller come from the
// first asset transfer, also for bundles.
func MatchSale(table domain.LookupTable, payments []domain.PaymentTransfer, assets []domain.AssetTransfer) (domain.Sale, MatchOutcome) {
	if len(payments) == 0 {
		return domain.Sale{}, MatchNoPayments
	}
	if len(assets) == 0 {
		return domain.Sale{}, MatchNoAssets
	}

	token := payments[0]
	for _, payment := range payments[1:] {
		if payment.ContractAddress != token.ContractAddress {
			return domain.Sale{}, MatchMixedPaymentTokens
		}
	}

	first := assets[0]
	return domain.Sale{
		ID:                  table.ID,
		BlockNumber:         table.BlockNumber,
		BlockTimestamp:      table.BlockTimestamp,
		Counterparty:        table.Counterparty,
		Buyer:               first.To,
		Seller:              first.From,
		PaymentTokenAddress: token.ContractAddress,
		PaymentTokenName:    token.ContractName,
		LookupTable:         table.ID,
	}, MatchAccepted
}
