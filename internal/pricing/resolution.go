package pricing

import "strings"

const (
	Resolution1K = "1K"
	Resolution2K = "2K"
	Resolution4K = "4K"
)

// NormalizeResolution upper-cases the value and falls back to 1K for anything unknown.
func NormalizeResolution(r string) string {
	switch strings.ToUpper(strings.TrimSpace(r)) {
	case Resolution2K:
		return Resolution2K
	case Resolution4K:
		return Resolution4K
	default:
		return Resolution1K
	}
}

// UnitsFor is how many code uses one generation at the resolution costs.
func UnitsFor(resolution string) int {
	if NormalizeResolution(resolution) == Resolution4K {
		return 3
	}
	return 1
}
