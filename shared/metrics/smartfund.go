package metrics

import (
	"github.com/shopspring/decimal"

	"github.com/pavitra93/go-shelter-platform/shared/apperrors"
)

// SmartFund split percentages. Display only, never a ledger.
var (
	smartFundHousing  = decimal.NewFromInt(15)
	smartFundPlatform = decimal.NewFromInt(5)
	hundred           = decimal.NewFromInt(100)
)

// Distribution is a donation amount split across SmartFund buckets
type Distribution struct {
	Participant decimal.Decimal `json:"participant"`
	Housing     decimal.Decimal `json:"housing"`
	Platform    decimal.Decimal `json:"platform"`
}

// SmartFund splits amount 80/15/5 across participant, housing and platform
// buckets, rounded to cents. Rounding residue stays with the participant so
// the parts always add up to amount.
func SmartFund(amount decimal.Decimal) (Distribution, error) {
	if amount.IsNegative() {
		return Distribution{}, apperrors.New(apperrors.KindInvalidInput, "amount must not be negative")
	}
	amount = amount.Round(2)
	housing := amount.Mul(smartFundHousing).Div(hundred).Round(2)
	platform := amount.Mul(smartFundPlatform).Div(hundred).Round(2)
	return Distribution{
		Participant: amount.Sub(housing).Sub(platform),
		Housing:     housing,
		Platform:    platform,
	}, nil
}
