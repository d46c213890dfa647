package stash

import (
	"context"

	"github.com/kasuganosora/partystash/currency"
	"github.com/shopspring/decimal"
)

// Negotiator settles the actual price of a sale from the suggested one.
type Negotiator interface {
	Negotiate(ctx context.Context, suggested decimal.Decimal, unit currency.Denomination, mode string) (decimal.Decimal, currency.Denomination, error)
}

// FixedPrice is a Negotiator for callers that bartered elsewhere: it returns
// its own price, or the suggestion when Price is zero.
type FixedPrice struct {
	Price decimal.Decimal
	Unit  currency.Denomination
}

func (f FixedPrice) Negotiate(_ context.Context, suggested decimal.Decimal, unit currency.Denomination, _ string) (decimal.Decimal, currency.Denomination, error) {
	if f.Price.IsZero() {
		return suggested, unit, nil
	}
	return f.Price, f.Unit, nil
}
