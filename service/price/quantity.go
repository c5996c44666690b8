package price

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidPrice is returned when a quantity is requested for a zero or
// negative price.
var ErrInvalidPrice = errors.New("price must be positive")

// DefaultUnitsPerShareBasis is the lot scaling used by Japanese mutual
// funds: prices are quoted per 10,000 units.
const DefaultUnitsPerShareBasis = 10000

// CalculateQuantity returns round(amount / price × basis), rounding half up.
func CalculateQuantity(amount, price, basis int64) (int64, error) {
	if price <= 0 {
		return 0, ErrInvalidPrice
	}
	if basis <= 0 {
		return 0, errors.New("units-per-share basis must be positive")
	}
	q := decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(basis)).
		Div(decimal.NewFromInt(price)).
		Round(0)
	return q.IntPart(), nil
}

// Valuation returns round(units / basis × price), the current value of a
// holding.
func Valuation(units, price, basis int64) int64 {
	if basis <= 0 {
		return 0
	}
	return decimal.NewFromInt(units).
		Mul(decimal.NewFromInt(price)).
		Div(decimal.NewFromInt(basis)).
		Round(0).
		IntPart()
}
