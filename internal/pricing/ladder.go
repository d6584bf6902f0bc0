// Package pricing maps paid amounts to redemption code allocations and
// generation resolutions to usage units.
package pricing

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultVersion identifies the built-in ladder below.
const DefaultVersion = "2024.1"

// Tier grants CodeCount codes of UsagePerCode uses each for any amount at or above MinimumAmount.
type Tier struct {
	MinimumAmount decimal.Decimal `json:"minimumAmount"`
	CodeCount     int             `json:"codeCount"`
	UsagePerCode  int             `json:"usagePerCode"`
}

type Allocation struct {
	CodeCount    int
	UsagePerCode int
	Fallback     bool
}

// Ladder is an ordered tier table. Amounts below every tier fall back to
// floor(amount / UnitPrice) single-use codes, never fewer than one.
type Ladder struct {
	Version   string          `json:"version"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Tiers     []Tier          `json:"tiers"`
}

func DefaultLadder() Ladder {
	return Ladder{
		Version:   DefaultVersion,
		UnitPrice: decimal.RequireFromString("2.99"),
		Tiers: []Tier{
			{MinimumAmount: decimal.RequireFromString("19.99"), CodeCount: 10, UsagePerCode: 1},
			{MinimumAmount: decimal.RequireFromString("7.99"), CodeCount: 3, UsagePerCode: 1},
			{MinimumAmount: decimal.RequireFromString("2.99"), CodeCount: 1, UsagePerCode: 1},
		},
	}
}

// Resolve picks the first tier, highest minimum first, that the amount reaches.
func (l Ladder) Resolve(amount decimal.Decimal) Allocation {
	for _, t := range l.Tiers {
		if amount.GreaterThanOrEqual(t.MinimumAmount) {
			return Allocation{CodeCount: t.CodeCount, UsagePerCode: t.UsagePerCode}
		}
	}

	count := 1
	if l.UnitPrice.IsPositive() {
		if n := amount.Div(l.UnitPrice).Floor().IntPart(); n > 1 {
			count = int(n)
		}
	}
	return Allocation{CodeCount: count, UsagePerCode: 1, Fallback: true}
}

// ParseLadder reads "min:count:usage" entries separated by commas, e.g.
// "19.99:10:1,7.99:3:1,2.99:1:1". The smallest minimum becomes the fallback unit price.
func ParseLadder(raw, version string) (Ladder, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultLadder(), nil
	}

	var tiers []Tier
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return Ladder{}, fmt.Errorf("price ladder entry %q: want min:count:usage", entry)
		}
		minimum, err := decimal.NewFromString(strings.TrimSpace(parts[0]))
		if err != nil || !minimum.IsPositive() {
			return Ladder{}, fmt.Errorf("price ladder entry %q: invalid amount", entry)
		}
		count, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || count <= 0 {
			return Ladder{}, fmt.Errorf("price ladder entry %q: invalid code count", entry)
		}
		usage, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil || usage <= 0 {
			return Ladder{}, fmt.Errorf("price ladder entry %q: invalid usage per code", entry)
		}
		tiers = append(tiers, Tier{MinimumAmount: minimum, CodeCount: count, UsagePerCode: usage})
	}

	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].MinimumAmount.GreaterThan(tiers[j].MinimumAmount)
	})
	if version == "" {
		version = "custom"
	}
	return Ladder{Version: version, UnitPrice: tiers[len(tiers)-1].MinimumAmount, Tiers: tiers}, nil
}
