// Package learning turns the append-only feedback history into the
// tuning knobs the rest of the pipeline consumes: per-source score
// modifiers and multipliers, preferred retailers and strategies, and
// extra search domains discovered through approvals.
package learning

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shelfline/curator-cli/internal/model"
	"github.com/shelfline/curator-cli/internal/search"
	"github.com/shelfline/curator-cli/internal/store"
)

// retailerVocab is the fixed vocabulary used to attribute a feedback
// source to a known retailer. Substring match: "www.checkers.co.za"
// counts for checkers.
var retailerVocab = []string{
	"checkers", "shoprite", "pnp", "picknpay", "makro", "woolworths",
	"takealot", "dischem", "clicks",
}

// bestRetailersFloor is always present in BestRetailers regardless of
// history: the tier-1 chains we trust before any evidence exists.
var bestRetailersFloor = []string{"checkers", "shoprite", "pnp", "makro"}

const (
	multiplierMinSamples = 6
	multiplierHigh       = 0.8
	multiplierLow        = 0.3

	rejectedDomainMin    = 5
	brandKeywordMinConf  = 80.0
	learnedDomainMinWins = 3
)

var barcodeDigits = regexp.MustCompile(`\b\d{8,14}\b`)

// Loop records review verdicts and serves learned aggregates. Writes are
// serialized: the read-modify-write against the store happens under one
// mutex so concurrent reviewers cannot lose counts.
type Loop struct {
	mu    sync.Mutex
	store store.Store
}

// NewLoop creates a learning loop backed by the store.
func NewLoop(st store.Store) *Loop {
	return &Loop{store: st}
}

// Event carries the search context a verdict was reached under: the
// query that surfaced the image and which identity signals matched.
type Event struct {
	Query        string
	BarcodeMatch bool
	BrandMatch   bool
}

// RecordApproval appends a positive feedback record.
func (l *Loop) RecordApproval(ctx context.Context, p *model.Product, ev Event) error {
	return l.record(ctx, p, ev, model.VerdictApproved)
}

// RecordDecline appends a negative feedback record.
func (l *Loop) RecordDecline(ctx context.Context, p *model.Product, ev Event) error {
	return l.record(ctx, p, ev, model.VerdictDeclined)
}

func (l *Loop) record(ctx context.Context, p *model.Product, ev Event, verdict model.Verdict) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := &model.FeedbackRecord{
		ID:           uuid.NewString(),
		SKU:          p.SKU,
		Source:       p.Source,
		Query:        ev.Query,
		Confidence:   p.Confidence,
		Verdict:      verdict,
		BarcodeMatch: ev.BarcodeMatch,
		BrandMatch:   ev.BrandMatch,
	}
	if err := l.store.AppendFeedback(ctx, rec); err != nil {
		return eris.Wrapf(err, "learning: record %s for %s", verdict, p.SKU)
	}

	zap.L().Info("learning: feedback recorded",
		zap.String("sku", p.SKU),
		zap.String("source", p.Source),
		zap.String("verdict", string(verdict)),
	)
	return nil
}

// Insights is the full aggregate view over the feedback history.
type Insights struct {
	RetailerStats map[string]model.StrategyStats               `json:"retailer_stats"`
	StrategyStats map[model.SearchStrategy]model.StrategyStats `json:"strategy_stats"`
	BrandKeywords map[string][]string                          `json:"brand_keywords"`
	BestRetailers []string                                     `json:"best_retailers"`
	BestStrategy  model.SearchStrategy                         `json:"best_strategy"`
	SuccessRate   float64                                      `json:"success_rate"`
	SampleSize    int                                          `json:"sample_size"`
}

// Analyze rebuilds all aggregates from the full feedback history.
func (l *Loop) Analyze(ctx context.Context) (*Insights, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.store.ListFeedback(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "learning: list feedback")
	}
	return analyze(records), nil
}

// Adjustments builds the per-batch tuning snapshot for the scorer and
// decision engine.
func (l *Loop) Adjustments(ctx context.Context) (*model.ConfidenceAdjustments, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.store.ListFeedback(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "learning: list feedback")
	}
	return adjustments(records), nil
}

func analyze(records []model.FeedbackRecord) *Insights {
	ins := &Insights{
		RetailerStats: map[string]model.StrategyStats{},
		StrategyStats: map[model.SearchStrategy]model.StrategyStats{},
		BrandKeywords: map[string][]string{},
		BestStrategy:  model.StrategyBarcodeFirst,
		SuccessRate:   0.5,
	}

	approved := 0
	for _, rec := range records {
		ok := rec.Verdict == model.VerdictApproved
		if ok {
			approved++
		}

		if retailer := retailerFor(rec.Source); retailer != "" {
			s := ins.RetailerStats[retailer]
			s.Total++
			if ok {
				s.Success++
			}
			ins.RetailerStats[retailer] = s
		}

		strategy := InferStrategy(rec.Query)
		st := ins.StrategyStats[strategy]
		st.Total++
		if ok {
			st.Success++
		}
		ins.StrategyStats[strategy] = st

		if ok && rec.Confidence > brandKeywordMinConf {
			addBrandKeywords(ins.BrandKeywords, rec)
		}
	}

	ins.SampleSize = len(records)
	if ins.SampleSize > 0 {
		ins.SuccessRate = float64(approved) / float64(ins.SampleSize)
	}
	ins.BestRetailers = bestRetailers(ins.RetailerStats)
	ins.BestStrategy = bestStrategy(ins.StrategyStats)
	return ins
}

func adjustments(records []model.FeedbackRecord) *model.ConfidenceAdjustments {
	adj := &model.ConfidenceAdjustments{
		SourceMultipliers: map[string]float64{},
		SourceModifiers:   map[string]float64{},
		RejectedSources:   map[string]int{},
		BestStrategy:      model.StrategyBarcodeFirst,
		SuccessRate:       0.5,
	}

	bySource := map[string]*counter{}
	approved := 0
	for _, rec := range records {
		if rec.Source == "" {
			continue
		}
		c := bySource[rec.Source]
		if c == nil {
			c = &counter{}
			bySource[rec.Source] = c
		}
		if rec.Verdict == model.VerdictApproved {
			c.approved++
			approved++
		} else {
			c.declined++
		}
	}

	for source, c := range bySource {
		total := c.approved + c.declined
		if total >= multiplierMinSamples {
			rate := float64(c.approved) / float64(total)
			switch {
			case rate > multiplierHigh:
				adj.SourceMultipliers[source] = 1.2
			case rate < multiplierLow:
				adj.SourceMultipliers[source] = 0.8
			default:
				adj.SourceMultipliers[source] = 1.0
			}
			// Score modifier nudges the textual scorer the same way.
			adj.SourceModifiers[source] = (rate - 0.5) * 10
		}
		if c.declined > 0 {
			adj.RejectedSources[source] = c.declined
		}
	}

	adj.LearnedDomains = learnedDomains(bySource)
	adj.SampleSize = len(records)
	if adj.SampleSize > 0 {
		adj.SuccessRate = float64(approved) / float64(adj.SampleSize)
	}
	adj.BestStrategy = bestStrategy(analyze(records).StrategyStats)
	return adj
}

type counter struct{ approved, declined int }

// learnedDomains picks up to MaxLearnedDomains tier-3 sources with a
// consistent approval record, ordered by win count.
func learnedDomains(bySource map[string]*counter) []string {
	type win struct {
		domain string
		wins   int
	}
	var wins []win
	for source, c := range bySource {
		if search.TierOf(source) != 3 {
			continue
		}
		if c.approved >= learnedDomainMinWins && c.approved > c.declined {
			wins = append(wins, win{domain: source, wins: c.approved})
		}
	}
	sort.Slice(wins, func(i, j int) bool {
		if wins[i].wins != wins[j].wins {
			return wins[i].wins > wins[j].wins
		}
		return wins[i].domain < wins[j].domain
	})

	var out []string
	for _, w := range wins {
		if len(out) == search.MaxLearnedDomains {
			break
		}
		out = append(out, w.domain)
	}
	return out
}

// InferStrategy labels a recorded query: barcode digits mean the query
// was barcode-led, a site: filter means retailer-specific, anything else
// is a plain brand+title search.
func InferStrategy(query string) model.SearchStrategy {
	switch {
	case barcodeDigits.MatchString(query):
		return model.StrategyBarcodeFirst
	case strings.Contains(query, "site:"):
		return model.StrategyRetailerSpecific
	default:
		return model.StrategyBrandTitle
	}
}

func retailerFor(source string) string {
	folded := strings.ToLower(source)
	for _, r := range retailerVocab {
		if strings.Contains(folded, r) {
			return r
		}
	}
	return ""
}

// bestRetailers orders retailers by approval count, always including the
// tier-1 floor set even with no history.
func bestRetailers(stats map[string]model.StrategyStats) []string {
	seen := map[string]bool{}
	var names []string
	for name := range stats {
		names = append(names, name)
		seen[name] = true
	}
	sort.Slice(names, func(i, j int) bool {
		si, sj := stats[names[i]].Success, stats[names[j]].Success
		if si != sj {
			return si > sj
		}
		ri, rj := stats[names[i]].Rate(), stats[names[j]].Rate()
		if ri != rj {
			return ri > rj
		}
		return names[i] < names[j]
	})

	for _, floor := range bestRetailersFloor {
		if !seen[floor] {
			names = append(names, floor)
		}
	}
	return names
}

func bestStrategy(stats map[model.SearchStrategy]model.StrategyStats) model.SearchStrategy {
	best := model.StrategyBarcodeFirst
	bestRate := stats[best].Rate()
	for _, s := range []model.SearchStrategy{model.StrategyRetailerSpecific, model.StrategyBrandTitle} {
		if st, ok := stats[s]; ok && st.Rate() > bestRate {
			best = s
			bestRate = st.Rate()
		}
	}
	return best
}

// addBrandKeywords collects query words from high-confidence approvals
// so future searches for the brand can reuse phrasing that worked.
func addBrandKeywords(keywords map[string][]string, rec model.FeedbackRecord) {
	brand := brandFromQuery(rec.Query)
	if brand == "" {
		return
	}
	existing := map[string]bool{}
	for _, k := range keywords[brand] {
		existing[k] = true
	}
	for _, word := range strings.Fields(strings.ToLower(rec.Query)) {
		if len(word) <= 3 || strings.HasPrefix(word, "site:") || barcodeDigits.MatchString(word) {
			continue
		}
		if !existing[word] {
			keywords[brand] = append(keywords[brand], word)
			existing[word] = true
		}
	}
}

func brandFromQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(fields[0], `"`))
}
