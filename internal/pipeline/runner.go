package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shelfline/curator-cli/internal/clip"
	"github.com/shelfline/curator-cli/internal/config"
	"github.com/shelfline/curator-cli/internal/decision"
	"github.com/shelfline/curator-cli/internal/download"
	"github.com/shelfline/curator-cli/internal/imaging"
	"github.com/shelfline/curator-cli/internal/learning"
	"github.com/shelfline/curator-cli/internal/model"
	"github.com/shelfline/curator-cli/internal/ocr"
	"github.com/shelfline/curator-cli/internal/scorer"
	"github.com/shelfline/curator-cli/internal/search"
	"github.com/shelfline/curator-cli/internal/store"
	"github.com/shelfline/curator-cli/internal/validate"
	"github.com/shelfline/curator-cli/internal/workflow"
)

// AlreadyRunningError is returned when a batch start races an active one.
// Only one batch may run at a time.
type AlreadyRunningError struct {
	BatchID string
}

func (e *AlreadyRunningError) Error() string {
	return "pipeline: batch " + e.BatchID + " is already running"
}

// StartOptions control one batch run.
type StartOptions struct {
	Limit       int  `json:"limit,omitempty"`
	BypassCache bool `json:"bypass_cache,omitempty"`
	FromBottom  bool `json:"from_bottom,omitempty"`
}

// Deps holds the long-lived services a Runner builds batches from. The
// per-batch pieces (fetcher, scorers, decision snapshot) are rebuilt for
// every run so each batch sees one consistent set of learned adjustments.
type Deps struct {
	Store     store.Store
	Provider  search.Provider
	Clip      clip.Service
	OCR       ocr.Extractor
	Engine    *decision.Engine
	Loop      *learning.Loop
	Workflow  *workflow.Manager
	Validator Validator
}

// Runner executes processing batches, one at a time, and exposes a
// poll-safe progress snapshot while a batch is in flight.
type Runner struct {
	cfg  *config.Config
	deps Deps

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	progress model.Progress
}

// NewRunner creates a Runner.
func NewRunner(cfg *config.Config, deps Deps) *Runner {
	if deps.Validator == nil {
		deps.Validator = validatorFor(deps.Clip, deps.OCR)
	}
	return &Runner{cfg: cfg, deps: deps}
}

// Progress returns a copy of the current batch state. Safe to call from
// any goroutine, including while no batch is running.
func (r *Runner) Progress() model.Progress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.progress
}

// Stop requests cancellation of the active batch. The batch finishes the
// items already in flight and records itself as cancelled. Stopping an
// idle runner is a no-op.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running && r.cancel != nil {
		r.cancel()
	}
}

// Run processes every not_processed product and blocks until the batch
// finishes. A second Run while one is active returns AlreadyRunningError.
func (r *Runner) Run(ctx context.Context, opts StartOptions) (*model.Batch, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := r.acquire(cancel); err != nil {
		return nil, err
	}
	defer r.release()

	products, err := r.deps.Store.ListProducts(ctx, store.ProductFilter{
		Status:     model.StatusNotProcessed,
		Limit:      opts.Limit,
		FromBottom: opts.FromBottom,
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list products")
	}

	batch, err := r.deps.Store.CreateBatch(ctx, len(products))
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create batch")
	}

	r.setProgress(model.Progress{
		BatchID:   batch.ID,
		Active:    true,
		Phase:     "processing",
		Total:     len(products),
		StartedAt: batch.StartedAt,
	})

	processor, err := r.buildProcessor(ctx, opts)
	if err != nil {
		batch.Status = model.BatchFailed
		r.finish(batch)
		return batch, err
	}

	zap.L().Info("pipeline: batch started",
		zap.String("batch_id", batch.ID),
		zap.Int("total", len(products)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency())

	for i := range products {
		p := products[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			r.updateProgress(func(pr *model.Progress) { pr.CurrentSKU = p.SKU })

			outcome, err := processor.Process(gctx, &p)
			r.recordOutcome(batch, outcome, err)
			if err != nil {
				zap.L().Error("pipeline: product failed",
					zap.String("sku", p.SKU),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	batch.Status = model.BatchComplete
	if ctx.Err() != nil {
		batch.Status = model.BatchCancelled
	}
	r.finish(batch)

	zap.L().Info("pipeline: batch finished",
		zap.String("batch_id", batch.ID),
		zap.String("status", string(batch.Status)),
		zap.Int("processed", batch.Processed),
		zap.Int("approved", batch.Approved),
		zap.Int("pending", batch.Pending),
		zap.Int("failed", batch.Failed),
	)
	return batch, nil
}

// buildProcessor takes the per-batch adjustments snapshot and wires the
// processing chain around it.
func (r *Runner) buildProcessor(ctx context.Context, opts StartOptions) (*Processor, error) {
	adj, err := r.deps.Loop.Adjustments(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load adjustments")
	}

	downloader := download.New(r.cfg.Images)
	return NewProcessor(ProcessorConfig{
		Store:       r.deps.Store,
		Fetcher:     search.NewFetcher(r.deps.Provider, adj.LearnedDomains),
		Scorer:      scorer.New(scorer.PolicyVariantAware, scorer.WithModifiers(adj.SourceModifiers)),
		BroadScorer: scorer.New(scorer.PolicyBroad, scorer.WithModifiers(adj.SourceModifiers)),
		Reranker:    r.reranker(downloader),
		Downloader:  downloader,
		Optimizer:   imaging.NewOptimizer(r.cfg.Images),
		Validator:   r.deps.Validator,
		Snapshot:    r.deps.Engine.Snapshot(adj),
		Workflow:    r.deps.Workflow,
		CacheTTL:    time.Duration(r.cfg.Search.CacheTTLDays) * 24 * time.Hour,
		BypassCache: opts.BypassCache,
	}), nil
}

// reranker builds the semantic re-ranking stage, or nil when no embedding
// service is configured so the textual ranking stands alone.
func (r *Runner) reranker(downloader *download.Client) *clip.Reranker {
	if r.deps.Clip == nil {
		return nil
	}
	fetch := func(ctx context.Context, url string) ([]byte, error) {
		return downloader.Fetch(ctx, url)
	}
	return clip.NewReranker(r.deps.Clip, fetch, r.cfg.Batch.RerankTopK, r.concurrency())
}

func (r *Runner) concurrency() int {
	if r.cfg.Batch.MaxConcurrentFetches > 0 {
		return r.cfg.Batch.MaxConcurrentFetches
	}
	return 4
}

func (r *Runner) acquire(cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return &AlreadyRunningError{BatchID: r.progress.BatchID}
	}
	r.running = true
	r.cancel = cancel
	return nil
}

func (r *Runner) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.cancel = nil
	r.progress.Active = false
	r.progress.Phase = "idle"
	r.progress.CurrentSKU = ""
}

func (r *Runner) setProgress(p model.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = p
}

func (r *Runner) updateProgress(fn func(*model.Progress)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.progress)
}

// recordOutcome folds one product's result into the batch totals and the
// live progress snapshot.
func (r *Runner) recordOutcome(batch *model.Batch, outcome *Outcome, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch.Processed++
	r.progress.Current++

	switch {
	case err != nil:
		batch.Failed++
		r.progress.Failed++
	case outcome.Status == model.StatusApproved:
		batch.Approved++
		r.progress.Approved++
	case outcome.Status == model.StatusPending:
		batch.Pending++
		r.progress.Pending++
	case outcome.Status == model.StatusDeclined:
		r.progress.Declined++
	case outcome.Status == model.StatusNotFound:
		r.progress.NotFound++
	}
}

func (r *Runner) finish(batch *model.Batch) {
	now := time.Now().UTC()
	batch.FinishedAt = &now
	if err := r.deps.Store.FinishBatch(context.Background(), batch); err != nil {
		zap.L().Error("pipeline: batch not recorded", zap.String("batch_id", batch.ID), zap.Error(err))
	}
}

// validatorFor builds the default validation stage from the configured
// services. Either service may be nil; validation degrades to its neutral
// baseline for the missing signal.
func validatorFor(clipSvc clip.Service, extractor ocr.Extractor) Validator {
	return validate.New(clipSvc, extractor)
}
