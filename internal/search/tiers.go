// Package search finds image candidates for catalog products via a
// rate-limited external image search provider, walking retailer trust tiers.
package search

import "strings"

// Retailer trust tiers. Tier 1 retailers host first-party product
// photography; tier 2 are large marketplaces; tier 3 is the open web.
var (
	Tier1Retailers = []string{
		"checkers.co.za",
		"shoprite.co.za",
		"pnp.co.za",
		"makro.co.za",
		"woolworths.co.za",
	}
	Tier2Retailers = []string{
		"takealot.com",
		"dischem.co.za",
		"clicks.co.za",
	}
)

// MaxLearnedDomains caps how many feedback-loop domains join tier 3.
const MaxLearnedDomains = 2

// TierOf returns the trust tier (1, 2 or 3) for a candidate source domain.
// Unknown domains are tier 3.
func TierOf(source string) int {
	s := strings.ToLower(source)
	for _, d := range Tier1Retailers {
		if strings.Contains(s, d) {
			return 1
		}
	}
	for _, d := range Tier2Retailers {
		if strings.Contains(s, d) {
			return 2
		}
	}
	return 3
}
