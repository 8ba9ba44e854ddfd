package scorer

import (
	"regexp"
	"strconv"
	"strings"
)

// sizePattern matches quantities like "410g", "2 kg", "1.5L", "750 ml".
var sizePattern = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(kg|g|ml|lt|l)\b`)

// ParseSize extracts the first size mention from s, normalized to base
// units (grams or millilitres): kg×1000, l×1000. Returns 0, false when no
// size is present.
func ParseSize(s string) (float64, bool) {
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}

	value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return 0, false
	}

	switch strings.ToLower(m[2]) {
	case "kg", "l", "lt":
		value *= 1000
	}
	return value, true
}

// sizeTolerance is the relative window treated as the same pack size.
const sizeTolerance = 0.05

// SizeMatches compares two normalized sizes within the 5% tolerance window.
func SizeMatches(want, got float64) bool {
	if want <= 0 {
		return false
	}
	diff := want - got
	if diff < 0 {
		diff = -diff
	}
	return diff/want <= sizeTolerance
}
