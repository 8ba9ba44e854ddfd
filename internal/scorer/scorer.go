// Package scorer ranks image search candidates against a product using
// additive keyword, variant, size, and retailer-tier signals.
package scorer

import (
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/shelfline/curator-cli/internal/model"
	"github.com/shelfline/curator-cli/internal/search"
)

// Policy selects the scoring ruleset and its winner threshold.
type Policy string

const (
	// PolicyVariantAware is the default ruleset with variant conflict
	// detection. Winners need a score above 35.
	PolicyVariantAware Policy = "variant_aware"

	// PolicyBroad is the legacy ruleset: no brand match anywhere is a hard
	// negative, and the winner bar sits at 30.
	PolicyBroad Policy = "broad"
)

// WinnerThreshold returns the minimum score (exclusive) a best candidate
// must clear to be selected under this policy.
func (p Policy) WinnerThreshold() float64 {
	if p == PolicyBroad {
		return 30
	}
	return 35
}

// CriticalVariants are flavor/form words where a conflict disqualifies a
// candidate outright: a vetkoek is never a flapjack.
var CriticalVariants = []string{
	"vetkoek", "flapjack", "pancake", "waffle",
	"chocolate", "vanilla", "strawberry",
}

// Weights holds the additive score contribution of each signal.
type Weights struct {
	BarcodeMatch    float64
	BrandInTitle    float64
	BrandInDomain   float64
	BrandMissing    float64
	CriticalVariant float64
	WrongVariant    float64
	PrimaryVariant  float64
	OptionVariant   float64
	SizeMatch       float64
	SizeMismatch    float64
	TierBonus       map[int]float64
}

// DefaultWeights returns the production weight table.
func DefaultWeights() Weights {
	return Weights{
		BarcodeMatch:    40,
		BrandInTitle:    25,
		BrandInDomain:   15,
		BrandMissing:    -40,
		CriticalVariant: 30,
		WrongVariant:    -40,
		PrimaryVariant:  20,
		OptionVariant:   10,
		SizeMatch:       15,
		SizeMismatch:    -10,
		TierBonus:       map[int]float64{1: 15, 2: 10, 3: 5},
	}
}

// variantGuardFloor rejects a whole candidate set when even the best
// candidate's variant sub-score sits below it.
const variantGuardFloor = -20

// Score is one candidate's breakdown.
type Score struct {
	Total      float64            `json:"total"`
	Variant    float64            `json:"variant"`
	Components map[string]float64 `json:"components"`
}

// Scorer applies a policy's weight table plus learned per-source modifiers.
type Scorer struct {
	policy    Policy
	weights   Weights
	modifiers map[string]float64
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithWeights overrides the default weight table.
func WithWeights(w Weights) Option {
	return func(s *Scorer) { s.weights = w }
}

// WithModifiers installs learned per-source score modifiers from the
// feedback loop. Values are added verbatim when the candidate source
// contains the key.
func WithModifiers(m map[string]float64) Option {
	return func(s *Scorer) { s.modifiers = m }
}

// New creates a Scorer for the given policy.
func New(policy Policy, opts ...Option) *Scorer {
	s := &Scorer{
		policy:  policy,
		weights: DefaultWeights(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Score computes the additive relevance of one candidate for the product.
// Components are independent, so the total is order-stable. The result is
// clamped to [0,100] and rounded to 2 decimals.
func (s *Scorer) Score(p *model.Product, c *model.SearchCandidate) Score {
	components := make(map[string]float64)

	title := Fold(c.Title)
	domain := Fold(c.Source)
	combined := title + " " + Fold(c.Snippet) + " " + domain
	tokens := Tokenize(c.Title)

	// Barcode anywhere in the candidate text is the strongest signal.
	if p.Barcode != "" && strings.Contains(combined, Fold(p.Barcode)) {
		components["barcode"] = s.weights.BarcodeMatch
	}

	if brand := Fold(p.Brand); brand != "" {
		compactDomain := strings.ReplaceAll(domain, " ", "")
		compactBrand := strings.ReplaceAll(brand, " ", "")
		switch {
		case strings.Contains(title, brand):
			components["brand_title"] = s.weights.BrandInTitle
		case strings.Contains(compactDomain, compactBrand):
			components["brand_domain"] = s.weights.BrandInDomain
		default:
			if s.policy == PolicyBroad {
				components["brand_missing"] = s.weights.BrandMissing
			}
		}
	}

	if v := s.variantScore(p, tokens); v != 0 {
		components["variant"] = v
	}

	if want, ok := ParseSize(p.SizeText + " " + p.Title); ok {
		if got, ok := ParseSize(c.Title); ok {
			if SizeMatches(want, got) {
				components["size"] = s.weights.SizeMatch
			} else {
				components["size"] = s.weights.SizeMismatch
			}
		}
	}

	components["tier"] = s.weights.TierBonus[search.TierOf(c.Source)]

	if mod, ok := s.learnedModifier(domain); ok {
		components["learned"] = mod
	}

	total := 0.0
	for _, v := range components {
		total += v
	}
	total = math.Min(100, math.Max(0, total))
	total = math.Round(total*100) / 100

	return Score{
		Total:      total,
		Variant:    components["variant"],
		Components: components,
	}
}

// variantScore checks variant agreement between product and candidate.
// A critical variant on the candidate that conflicts with the product's is
// a hard negative; matches earn a bonus scaled by whether the variant is
// the product's primary descriptor or an option suffix.
func (s *Scorer) variantScore(p *model.Product, candidateTokens []string) float64 {
	productText := Fold(p.Variant + " " + p.Title)

	productCritical := make(map[string]bool)
	for _, cv := range CriticalVariants {
		if strings.Contains(productText, cv) {
			productCritical[cv] = true
		}
	}

	matched := false
	for _, cv := range CriticalVariants {
		if !containsToken(candidateTokens, cv) {
			continue
		}
		if !productCritical[cv] {
			return s.weights.WrongVariant
		}
		matched = true
	}
	if matched {
		return s.weights.CriticalVariant
	}

	if p.Variant == "" {
		return 0
	}

	// Generic variant: any meaningful variant token present on the candidate.
	found := false
	for _, tok := range Tokenize(p.Variant) {
		if len(tok) > 2 && containsToken(candidateTokens, tok) {
			found = true
			break
		}
	}
	if !found {
		return 0
	}
	if strings.Contains(Fold(p.Title), Fold(p.Variant)) {
		return s.weights.PrimaryVariant
	}
	return s.weights.OptionVariant
}

// learnedModifier finds the feedback-loop modifier for the candidate
// domain. Keys are checked in sorted order so ties resolve the same way
// every run.
func (s *Scorer) learnedModifier(domain string) (float64, bool) {
	if len(s.modifiers) == 0 {
		return 0, false
	}
	keys := make([]string, 0, len(s.modifiers))
	for k := range s.modifiers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.Contains(domain, Fold(k)) {
			return s.modifiers[k], true
		}
	}
	return 0, false
}

// Rank scores every candidate and returns them sorted by score descending.
// The input slice is not modified.
func (s *Scorer) Rank(p *model.Product, candidates []model.SearchCandidate) []model.SearchCandidate {
	ranked := make([]model.SearchCandidate, len(candidates))
	copy(ranked, candidates)

	for i := range ranked {
		sc := s.Score(p, &ranked[i])
		ranked[i].Score = sc.Total
		ranked[i].VariantScore = sc.Variant
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// Winner ranks the candidates and applies the selection gates: the variant
// guard on the best candidate, then the policy's winner threshold. The
// reason is empty on success.
func (s *Scorer) Winner(p *model.Product, candidates []model.SearchCandidate) (*model.SearchCandidate, string) {
	if len(candidates) == 0 {
		return nil, "no candidates"
	}

	ranked := s.Rank(p, candidates)
	best := ranked[0]

	if best.VariantScore < variantGuardFloor {
		zap.L().Debug("scorer: candidate set rejected on variant conflict",
			zap.String("sku", p.SKU),
			zap.Float64("variant_score", best.VariantScore),
		)
		return nil, "variant conflict"
	}
	if best.Score <= s.policy.WinnerThreshold() {
		return nil, "below winner threshold"
	}

	zap.L().Debug("scorer: winner selected",
		zap.String("sku", p.SKU),
		zap.String("source", best.Source),
		zap.Float64("score", best.Score),
	)
	return &best, ""
}
