package clip

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shelfline/curator-cli/internal/model"
)

// FetchFunc downloads the bytes behind a thumbnail URL.
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

// Reranker reorders the top textual candidates by visual similarity.
type Reranker struct {
	svc         Service
	fetch       FetchFunc
	topK        int
	concurrency int
}

// NewReranker creates a Reranker. topK bounds how many candidates are
// compared; concurrency bounds parallel thumbnail downloads.
func NewReranker(svc Service, fetch FetchFunc, topK, concurrency int) *Reranker {
	if topK <= 0 {
		topK = 5
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Reranker{svc: svc, fetch: fetch, topK: topK, concurrency: concurrency}
}

// Rerank scores the top candidates against the product's description
// variants and reorders them by similarity, best first. Candidates whose
// thumbnail could not be fetched or scored keep their textual order and
// follow the scored ones. Candidates beyond topK are untouched. The pass
// never fails: if the embedding service is down the input order stands.
func (r *Reranker) Rerank(ctx context.Context, p *model.Product, candidates []model.SearchCandidate) []model.SearchCandidate {
	if len(candidates) == 0 {
		return candidates
	}

	window := r.topK
	if window > len(candidates) {
		window = len(candidates)
	}

	texts := Descriptions(p)
	scored := make([]bool, window)
	out := make([]model.SearchCandidate, len(candidates))
	copy(out, candidates)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i := 0; i < window; i++ {
		g.Go(func() error {
			score, ok := r.scoreOne(gctx, &out[i], texts)
			if ok {
				out[i].ClipScore = score
				scored[i] = true
			}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	head := make([]model.SearchCandidate, 0, window)
	tail := make([]model.SearchCandidate, 0, window)
	for i := 0; i < window; i++ {
		if scored[i] {
			head = append(head, out[i])
		} else {
			tail = append(tail, out[i])
		}
	}
	sort.SliceStable(head, func(a, b int) bool { return head[a].ClipScore > head[b].ClipScore })

	reordered := append(head, tail...)
	copy(out[:window], reordered)
	return out
}

// scoreOne returns the candidate's similarity rescaled from cosine
// [-1, 1] into [0, 1], taking the best match across description variants.
func (r *Reranker) scoreOne(ctx context.Context, c *model.SearchCandidate, texts []string) (float64, bool) {
	url := c.ThumbnailURL
	if url == "" {
		url = c.ImageURL
	}

	img, err := r.fetch(ctx, url)
	if err != nil {
		zap.L().Debug("rerank: thumbnail fetch failed",
			zap.String("url", url),
			zap.Error(err),
		)
		return 0, false
	}

	sims, err := r.svc.Similarity(ctx, img, texts)
	if err != nil {
		zap.L().Warn("rerank: similarity call failed",
			zap.String("source", c.Source),
			zap.Error(err),
		)
		return 0, false
	}

	best := -1.0
	for _, s := range sims {
		if s > best {
			best = s
		}
	}
	return (best + 1) / 2, true
}
