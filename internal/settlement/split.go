package settlement

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Shares is how a gross amount is divided between payees. Referral, Equity
// and Owner always add up to Gross.
type Shares struct {
	Gross    int64 `json:"gross"`
	Referral int64 `json:"referral"`
	Net      int64 `json:"net"`
	Equity   int64 `json:"equity"`
	Owner    int64 `json:"owner"`
}

// Split divides gross (minor units) by the referral and equity percentages.
// The referral comes off the top, equity is taken from what is left and the
// owner receives the remainder, including any rounding.
func Split(gross int64, referralPercent, equityPercent decimal.Decimal) Shares {
	if gross <= 0 {
		return Shares{}
	}

	s := Shares{Gross: gross}
	s.Referral = percentOf(gross, referralPercent)
	s.Net = gross - s.Referral
	s.Equity = percentOf(s.Net, equityPercent)
	s.Owner = s.Net - s.Equity
	return s
}

// percentOf floors amount*pct/100 into [0, amount].
func percentOf(amount int64, pct decimal.Decimal) int64 {
	if !pct.IsPositive() {
		return 0
	}
	v := decimal.NewFromInt(amount).Mul(pct).Div(hundred).Floor().IntPart()
	switch {
	case v < 0:
		return 0
	case v > amount:
		return amount
	}
	return v
}
