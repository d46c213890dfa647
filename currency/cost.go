package currency

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// costTerm matches "15 gp", "1,000 gold", "2.5sp", "3 Silver" and bare numbers.
var costTerm = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?)\s*(gp|gold|g|sp|silver|s|cp|copper|c|pp|platinum|ep|electrum)?\b`)

// ParseCost reads a free-text catalog cost into coins. A number with no unit
// counts as gold only when it is the whole cost; elsewhere it is ignored. Platinum and electrum are folded into gold (10 gp and
// 0.5 gp). Fractions are carried down to the copper. Unparseable text is
// worth nothing.
func ParseCost(cost string) Purse {
	var copper decimal.Decimal
	whole := strings.TrimSpace(cost)
	for _, m := range costTerm.FindAllStringSubmatch(cost, -1) {
		if m[2] == "" && strings.TrimSpace(m[0]) != whole {
			continue
		}
		n, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
		if err != nil {
			continue
		}
		copper = copper.Add(n.Mul(decimal.NewFromInt(unitCopper(m[2]))))
	}
	c := copper.Round(0).IntPart()
	if c <= 0 {
		return Purse{}
	}
	return Purse{Gold: c / 100, Silver: c % 100 / 10, Copper: c % 10}
}

func unitCopper(unit string) int64 {
	switch strings.ToLower(unit) {
	case "sp", "silver", "s":
		return 10
	case "cp", "copper", "c":
		return 1
	case "pp", "platinum":
		return 1000
	case "ep", "electrum":
		return 50
	default:
		return 100
	}
}

// UnitGoldValue is the gold-equivalent of one unit of an item with the given
// catalog cost.
func UnitGoldValue(cost string) decimal.Decimal {
	return ParseCost(cost).GoldEquivalent()
}
