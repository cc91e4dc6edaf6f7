package fees

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrInvalidPercent = errors.New("fee percent must be between 0 and 100")

var hundred = decimal.NewFromInt(100)

// Calculator splits a deposit into the platform fee and the provider net.
type Calculator struct {
	Percent decimal.Decimal
}

func NewCalculator(percent decimal.Decimal) (Calculator, error) {
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return Calculator{}, ErrInvalidPercent
	}
	return Calculator{Percent: percent}, nil
}

// Split computes the fee and net portions of deposit. The fee is rounded to
// two decimals and the net is the remainder, so fee + net always equals the
// deposit exactly.
func (c Calculator) Split(deposit decimal.Decimal) (fee, net decimal.Decimal) {
	fee = deposit.Mul(c.Percent).Div(hundred).Round(2)
	net = deposit.Sub(fee)
	return fee, net
}
