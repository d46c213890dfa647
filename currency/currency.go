// Package currency implements the fixed 1:10:100 gold/silver/copper model
// used by the stash: recognizing currency rows, converting to and from a
// gold-equivalent decimal, and parsing free-text catalog costs.
package currency

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Denomination is one of the three coin types.
type Denomination int

const (
	Gold Denomination = iota
	Silver
	Copper
)

// All lists denominations from largest to smallest.
var All = []Denomination{Gold, Silver, Copper}

var (
	ten     = decimal.NewFromInt(10)
	hundred = decimal.NewFromInt(100)
)

// Name is the display name used for stash rows and log entries.
func (d Denomination) Name() string {
	switch d {
	case Silver:
		return "Silver"
	case Copper:
		return "Copper"
	default:
		return "Gold"
	}
}

func (d Denomination) String() string { return strings.ToLower(d.Name()) }

// CopperValue is the number of copper pieces one coin is worth.
func (d Denomination) CopperValue() int64 {
	switch d {
	case Silver:
		return 10
	case Copper:
		return 1
	default:
		return 100
	}
}

// GoldValue is the gold-equivalent of one coin.
func (d Denomination) GoldValue() decimal.Decimal {
	return decimal.NewFromInt(d.CopperValue()).Div(hundred)
}

// ParseDenomination maps a user supplied unit ("gold", "gp", "Silver", "cp"...).
func ParseDenomination(s string) (Denomination, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gold", "gp", "g", "coins":
		return Gold, true
	case "silver", "sp", "s":
		return Silver, true
	case "copper", "cp", "c":
		return Copper, true
	}
	return Gold, false
}

// IsCurrency reports whether a stash or inventory row name is a currency row.
func IsCurrency(name string) bool {
	_, ok := KeyOf(name)
	return ok
}

// KeyOf maps a currency row name to its denomination. "coins" counts as gold.
func KeyOf(name string) (Denomination, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "gold", "coins":
		return Gold, true
	case "silver":
		return Silver, true
	case "copper":
		return Copper, true
	}
	return Gold, false
}

// Purse is a bag of coins. Fields may be negative when a Purse is used as a
// delta.
type Purse struct {
	Gold   int64 `json:"gold"`
	Silver int64 `json:"silver"`
	Copper int64 `json:"copper"`
}

// Get returns the count for one denomination.
func (p Purse) Get(d Denomination) int64 {
	switch d {
	case Silver:
		return p.Silver
	case Copper:
		return p.Copper
	default:
		return p.Gold
	}
}

// With returns a copy of p with n coins of d added (n may be negative).
func (p Purse) With(d Denomination, n int64) Purse {
	switch d {
	case Silver:
		p.Silver += n
	case Copper:
		p.Copper += n
	default:
		p.Gold += n
	}
	return p
}

// Add sums two purses.
func (p Purse) Add(o Purse) Purse {
	return Purse{Gold: p.Gold + o.Gold, Silver: p.Silver + o.Silver, Copper: p.Copper + o.Copper}
}

// Negative reports whether any denomination is below zero.
func (p Purse) Negative() bool {
	return p.Gold < 0 || p.Silver < 0 || p.Copper < 0
}

// IsZero reports whether the purse holds nothing.
func (p Purse) IsZero() bool { return p == Purse{} }

// TotalCopper is the total value in copper pieces.
func (p Purse) TotalCopper() int64 {
	return p.Gold*100 + p.Silver*10 + p.Copper
}

// GoldEquivalent is the total value in gold.
func (p Purse) GoldEquivalent() decimal.Decimal {
	return decimal.NewFromInt(p.TotalCopper()).Div(hundred)
}

// Amount is a named quantity, typically a stash row.
type Amount struct {
	Name     string
	Quantity int64
}

// GoldEquivalent sums gold + silver/10 + copper/100 over the currency rows
// in entries. Other rows are ignored.
func GoldEquivalent(entries []Amount) decimal.Decimal {
	var total Purse
	for _, e := range entries {
		d, ok := KeyOf(e.Name)
		if !ok {
			continue
		}
		total = total.With(d, e.Quantity)
	}
	return total.GoldEquivalent()
}

// Consolidate splits a gold-equivalent total back into coins:
// gold = floor(total), silver = floor((total-gold)*10) and the remainder in
// copper, rounded to the nearest piece. Nothing below one copper survives,
// nothing above it is lost.
func Consolidate(total decimal.Decimal) Purse {
	copper := total.Mul(hundred).Round(0).IntPart()
	if copper <= 0 {
		return Purse{}
	}
	return Purse{
		Gold:   copper / 100,
		Silver: copper % 100 / 10,
		Copper: copper % 10,
	}
}

// Quote is a value expressed in a display denomination.
type Quote struct {
	Value decimal.Decimal `json:"value"`
	Unit  Denomination    `json:"-"`
}

// UnitName is the display name of the quote's unit.
func (q Quote) UnitName() string { return q.Unit.Name() }

// Suggest picks the display unit for a gold-equivalent market value: gold
// from 1 upward, silver from 0.1, copper (rounded) below that.
func Suggest(value decimal.Decimal) Quote {
	switch {
	case value.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return Quote{Value: value, Unit: Gold}
	case value.GreaterThanOrEqual(decimal.New(1, -1)):
		return Quote{Value: value.Mul(ten), Unit: Silver}
	default:
		return Quote{Value: value.Mul(hundred).Round(0), Unit: Copper}
	}
}

// Settle expresses amount units of d as a whole number of the largest
// denomination in which it is integral, rounding to the copper.
// 1.2 Gold settles as 12 Silver; 3 Gold stays 3 Gold.
func Settle(amount decimal.Decimal, d Denomination) (int64, Denomination) {
	copper := amount.Mul(decimal.NewFromInt(d.CopperValue())).Round(0).IntPart()
	if copper <= 0 {
		return 0, d
	}
	for _, unit := range All {
		if unit.CopperValue() > d.CopperValue() {
			continue
		}
		if copper%unit.CopperValue() == 0 {
			return copper / unit.CopperValue(), unit
		}
	}
	return copper, Copper
}
