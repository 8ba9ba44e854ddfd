package model

import "time"

// Verdict is a human review outcome fed back into the learning loop.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictDeclined Verdict = "declined"
)

// FeedbackRecord is one append-only learning event. Records are never
// updated in place; aggregates are rebuilt from the full history.
type FeedbackRecord struct {
	ID           string    `json:"id"`
	SKU          string    `json:"sku"`
	Source       string    `json:"source"`
	Query        string    `json:"query,omitempty"`
	Confidence   float64   `json:"confidence"`
	Verdict      Verdict   `json:"verdict"`
	BarcodeMatch bool      `json:"barcode_match"`
	BrandMatch   bool      `json:"brand_match"`
	CreatedAt    time.Time `json:"created_at"`
}

// SearchStrategy labels how a search query was constructed.
type SearchStrategy string

const (
	StrategyBarcodeFirst     SearchStrategy = "barcode_first"
	StrategyRetailerSpecific SearchStrategy = "retailer_specific"
	StrategyBrandTitle       SearchStrategy = "brand_title"
)

// StrategyStats tracks success counts for one search strategy.
type StrategyStats struct {
	Success int `json:"success"`
	Total   int `json:"total"`
}

// Rate returns the success fraction, or the neutral prior 0.5 when the
// strategy has no history yet.
func (s StrategyStats) Rate() float64 {
	if s.Total == 0 {
		return 0.5
	}
	return float64(s.Success) / float64(s.Total)
}

// ConfidenceAdjustments is the learned tuning snapshot handed to the
// scorer and decision engine once per batch. It is computed from the full
// feedback history and never mutated mid-batch.
type ConfidenceAdjustments struct {
	SourceMultipliers map[string]float64 `json:"source_multipliers"`
	SourceModifiers   map[string]float64 `json:"source_modifiers"`
	RejectedSources   map[string]int     `json:"rejected_sources"`
	LearnedDomains    []string           `json:"learned_domains"`
	BestStrategy      SearchStrategy     `json:"best_strategy"`
	SuccessRate       float64            `json:"success_rate"`
	SampleSize        int                `json:"sample_size"`
}

// SearchCacheEntry is a cached provider response for one product identity.
type SearchCacheEntry struct {
	ID         string            `json:"id"`
	Barcode    string            `json:"barcode"`
	Brand      string            `json:"brand"`
	Candidates []SearchCandidate `json:"candidates"`
	CachedAt   time.Time         `json:"cached_at"`
}
