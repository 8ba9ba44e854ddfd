package search

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/shelfline/curator-cli/internal/model"
)

// Fetcher walks the retailer trust tiers and collects image candidates.
// The first tier that yields anything wins; lower tiers are never queried.
type Fetcher struct {
	provider Provider
	learned  []string
}

// NewFetcher creates a Fetcher. learnedDomains come from the feedback loop
// and extend tier 3, capped at MaxLearnedDomains.
func NewFetcher(provider Provider, learnedDomains []string) *Fetcher {
	if len(learnedDomains) > MaxLearnedDomains {
		learnedDomains = learnedDomains[:MaxLearnedDomains]
	}
	return &Fetcher{provider: provider, learned: learnedDomains}
}

// Fetch returns candidates for the product from the highest tier that
// produced any. A failed query logs and contributes nothing; it never
// aborts the product.
func (f *Fetcher) Fetch(ctx context.Context, p *model.Product) ([]model.SearchCandidate, error) {
	tier3 := append([]string{""}, f.learned...) // "" = open web, no site filter

	for tier, domains := range [][]string{Tier1Retailers, Tier2Retailers, tier3} {
		candidates := f.fetchTier(ctx, p, domains)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if len(candidates) > 0 {
			zap.L().Debug("search: tier satisfied",
				zap.String("sku", p.SKU),
				zap.Int("tier", tier+1),
				zap.Int("candidates", len(candidates)),
			)
			return candidates, nil
		}
	}
	return nil, nil
}

func (f *Fetcher) fetchTier(ctx context.Context, p *model.Product, domains []string) []model.SearchCandidate {
	var candidates []model.SearchCandidate
	seen := make(map[string]bool)

	for _, domain := range domains {
		for _, query := range QueriesFor(p, domain) {
			results, err := f.provider.SearchImages(ctx, query)
			if err != nil {
				zap.L().Warn("search: query failed",
					zap.String("sku", p.SKU),
					zap.String("query", query),
					zap.Error(err),
				)
				continue
			}
			for _, c := range results {
				if seen[c.ImageURL] {
					continue
				}
				seen[c.ImageURL] = true
				c.Query = query
				candidates = append(candidates, c)
			}
		}
	}
	return candidates
}

// QueriesFor builds the two query variants for one retailer domain: an
// enhanced brand+title+variant query and a plain exact-title query.
// Barcodes never appear in queries; image search matches them poorly.
func QueriesFor(p *model.Product, domain string) []string {
	enhanced := strings.TrimSpace(strings.Join([]string{p.Brand, p.Title, p.Variant}, " "))
	enhanced = strings.Join(strings.Fields(enhanced), " ")
	plain := fmt.Sprintf("%q", strings.TrimSpace(p.Title))

	if domain != "" {
		enhanced += " site:" + domain
		plain += " site:" + domain
	}
	if enhanced == plain {
		return []string{plain}
	}
	return []string{enhanced, plain}
}
