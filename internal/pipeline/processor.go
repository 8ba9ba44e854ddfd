// Package pipeline orchestrates the per-product image curation flow:
// cached or fresh tiered search, textual scoring, semantic re-ranking,
// download, optimization, post-download validation, and the confidence
// decision, ending in a stored image under a workflow status.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shelfline/curator-cli/internal/clip"
	"github.com/shelfline/curator-cli/internal/decision"
	"github.com/shelfline/curator-cli/internal/download"
	"github.com/shelfline/curator-cli/internal/imaging"
	"github.com/shelfline/curator-cli/internal/learning"
	"github.com/shelfline/curator-cli/internal/model"
	"github.com/shelfline/curator-cli/internal/scorer"
	"github.com/shelfline/curator-cli/internal/search"
	"github.com/shelfline/curator-cli/internal/store"
	"github.com/shelfline/curator-cli/internal/validate"
	"github.com/shelfline/curator-cli/internal/workflow"
)

// Validator abstracts post-download validation for the processor.
type Validator interface {
	Validate(ctx context.Context, p *model.Product, data []byte) validate.Report
}

// Outcome is what one product's processing pass produced.
type Outcome struct {
	SKU        string            `json:"sku"`
	Status     model.ImageStatus `json:"status"`
	Confidence float64           `json:"confidence"`
	Source     string            `json:"source,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

// Processor runs the curation flow for single products. One Processor is
// built per batch so every item sees the same learned adjustments.
type Processor struct {
	store      store.Store
	fetcher    *search.Fetcher
	scorer     *scorer.Scorer
	broad      *scorer.Scorer
	reranker   *clip.Reranker
	downloader *download.Client
	optimizer  *imaging.Optimizer
	validator  Validator
	snapshot   decision.Snapshot
	workflow   *workflow.Manager

	cacheTTL    time.Duration
	bypassCache bool
}

// ProcessorConfig wires the per-batch dependencies.
type ProcessorConfig struct {
	Store       store.Store
	Fetcher     *search.Fetcher
	Scorer      *scorer.Scorer
	BroadScorer *scorer.Scorer
	Reranker    *clip.Reranker
	Downloader  *download.Client
	Optimizer   *imaging.Optimizer
	Validator   Validator
	Snapshot    decision.Snapshot
	Workflow    *workflow.Manager
	CacheTTL    time.Duration
	BypassCache bool
}

// NewProcessor creates a Processor from the per-batch wiring.
func NewProcessor(cfg ProcessorConfig) *Processor {
	return &Processor{
		store:       cfg.Store,
		fetcher:     cfg.Fetcher,
		scorer:      cfg.Scorer,
		broad:       cfg.BroadScorer,
		reranker:    cfg.Reranker,
		downloader:  cfg.Downloader,
		optimizer:   cfg.Optimizer,
		validator:   cfg.Validator,
		snapshot:    cfg.Snapshot,
		workflow:    cfg.Workflow,
		cacheTTL:    cfg.CacheTTL,
		bypassCache: cfg.BypassCache,
	}
}

// maxDownloadAttempts bounds how many ranked candidates are tried when
// downloads fail.
const maxDownloadAttempts = 3

// Process runs the full flow for one product and records the outcome.
func (pr *Processor) Process(ctx context.Context, p *model.Product) (*Outcome, error) {
	log := zap.L().With(zap.String("sku", p.SKU), zap.String("product", p.DisplayName()))

	candidates, err := pr.candidates(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		log.Info("pipeline: no candidates found")
		return pr.notFound(ctx, p, "no search results")
	}

	// Textual gate first: the variant guard and winner threshold decide
	// whether this candidate set is usable at all.
	sc := pr.scorerFor(p)
	if _, reason := sc.Winner(p, candidates); reason != "" {
		log.Info("pipeline: candidate set rejected", zap.String("reason", reason))
		return pr.notFound(ctx, p, reason)
	}

	ranked := sc.Rank(p, candidates)
	if pr.reranker != nil {
		ranked = pr.reranker.Rerank(ctx, p, ranked)
	}

	chosen, data, err := pr.downloadFirst(ctx, ranked)
	if err != nil {
		log.Warn("pipeline: all downloads failed", zap.Error(err))
		return pr.notFound(ctx, p, "downloads failed")
	}

	optimized, err := pr.optimizer.Optimize(data)
	if err != nil {
		log.Warn("pipeline: optimization failed", zap.Error(err))
		return pr.notFound(ctx, p, "image could not be processed")
	}

	ev := pr.matchEvent(p, chosen)

	report := pr.validator.Validate(ctx, p, optimized)
	if report.ManualReview && report.Confidence == 0 {
		// Undecodable after optimization should not happen; park it for
		// a human either way.
		p.Confidence = 0
		p.Source = chosen.Source
		if _, err := pr.workflow.Save(ctx, p, model.StatusPending, optimized, ev); err != nil {
			return nil, err
		}
		return &Outcome{SKU: p.SKU, Status: model.StatusPending, Source: chosen.Source, Reason: report.Reason}, nil
	}

	confidence := report.Confidence * 100
	action, adjusted := pr.snapshot.Decide(confidence, chosen.Source)
	p.Confidence = adjusted
	p.Source = chosen.Source

	status := statusFor(action)
	if _, err := pr.workflow.Save(ctx, p, status, optimized, ev); err != nil {
		return nil, err
	}

	log.Info("pipeline: product processed",
		zap.String("status", string(status)),
		zap.Float64("confidence", adjusted),
		zap.String("source", chosen.Source),
	)
	return &Outcome{SKU: p.SKU, Status: status, Confidence: adjusted, Source: chosen.Source}, nil
}

// candidates returns search results, preferring a fresh cache entry.
func (pr *Processor) candidates(ctx context.Context, p *model.Product) ([]model.SearchCandidate, error) {
	if !pr.bypassCache {
		entry, err := pr.store.GetCachedSearch(ctx, p.Barcode, p.Brand)
		if err != nil {
			zap.L().Warn("pipeline: cache read failed", zap.String("sku", p.SKU), zap.Error(err))
		} else if entry != nil {
			zap.L().Debug("pipeline: cache hit", zap.String("sku", p.SKU))
			return entry.Candidates, nil
		}
	}

	candidates, err := pr.fetcher.Fetch(ctx, p)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: fetch candidates for %s", p.SKU)
	}

	if err := pr.store.SetCachedSearch(ctx, p.Barcode, p.Brand, candidates, pr.cacheTTL); err != nil {
		zap.L().Warn("pipeline: cache write failed", zap.String("sku", p.SKU), zap.Error(err))
	}
	return candidates, nil
}

// matchEvent derives the identity signals the chosen candidate matched
// on, so later verdicts carry them into the feedback history.
func (pr *Processor) matchEvent(p *model.Product, chosen *model.SearchCandidate) learning.Event {
	sc := pr.scorerFor(p).Score(p, chosen)
	return learning.Event{
		Query:        chosen.Query,
		BarcodeMatch: sc.Components["barcode"] > 0,
		BrandMatch:   sc.Components["brand_title"] > 0 || sc.Components["brand_domain"] > 0,
	}
}

// scorerFor picks the policy: products with a named variant get the
// variant-aware ruleset, the rest the broad one.
func (pr *Processor) scorerFor(p *model.Product) *scorer.Scorer {
	if p.Variant == "" && pr.broad != nil {
		return pr.broad
	}
	return pr.scorer
}

// downloadFirst walks the ranked candidates and returns the first whose
// full-size image downloads cleanly.
func (pr *Processor) downloadFirst(ctx context.Context, ranked []model.SearchCandidate) (*model.SearchCandidate, []byte, error) {
	attempts := maxDownloadAttempts
	if attempts > len(ranked) {
		attempts = len(ranked)
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		data, err := pr.downloader.Fetch(ctx, ranked[i].ImageURL)
		if err != nil {
			lastErr = err
			zap.L().Debug("pipeline: candidate download failed",
				zap.String("url", ranked[i].ImageURL),
				zap.Error(err),
			)
			continue
		}
		return &ranked[i], data, nil
	}
	if lastErr == nil {
		lastErr = eris.New("pipeline: no downloadable candidates")
	}
	return nil, nil, lastErr
}

func (pr *Processor) notFound(ctx context.Context, p *model.Product, reason string) (*Outcome, error) {
	if err := pr.store.UpdateImageResult(ctx, p.SKU, model.StatusNotFound, "", 0, ""); err != nil {
		return nil, eris.Wrapf(err, "pipeline: mark %s not found", p.SKU)
	}
	return &Outcome{SKU: p.SKU, Status: model.StatusNotFound, Reason: reason}, nil
}

// statusFor maps a decision action to the workflow status an image is
// stored under. Auto-rejected images are kept in the declined folder so
// reviewers can inspect what the pipeline turned away.
func statusFor(action decision.Action) model.ImageStatus {
	switch action {
	case decision.ActionAutoApprove:
		return model.StatusApproved
	case decision.ActionAutoReject:
		return model.StatusDeclined
	default:
		return model.StatusPending
	}
}
