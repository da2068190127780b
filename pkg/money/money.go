// Package money provides decimal helpers for stake/payout/equity arithmetic
// used anywhere a value is written to the execution ledger or risk cache.
package money

import "github.com/shopspring/decimal"

// Zero is the canonical zero decimal value.
var Zero = decimal.Zero

// FromFloat converts a float64 signal field (stake, price) into a Decimal.
func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// Fees computes flat + bps commission on a stake, per §6
// LIVE_COMMISSION_FLAT / LIVE_COMMISSION_BPS.
func Fees(stake decimal.Decimal, flat decimal.Decimal, bps decimal.Decimal) decimal.Decimal {
	bpsFee := stake.Mul(bps).Div(decimal.NewFromInt(10000))
	return flat.Add(bpsFee)
}

// Net computes grossProfit - fees.
func Net(gross, fees decimal.Decimal) decimal.Decimal {
	return gross.Sub(fees)
}

// SlippagePct computes |spot-target|/target * 100.
func SlippagePct(spot, target decimal.Decimal) decimal.Decimal {
	if target.IsZero() {
		return decimal.Zero
	}
	diff := spot.Sub(target).Abs()
	return diff.Div(target).Mul(decimal.NewFromInt(100))
}
