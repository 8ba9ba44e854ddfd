package store

import (
	"context"
	"time"

	"github.com/shelfline/curator-cli/internal/model"
)

// NotFoundError is returned when a SKU has no product row.
type NotFoundError struct {
	SKU string
}

func (e *NotFoundError) Error() string {
	return "store: product " + e.SKU + " not found"
}

// ProductFilter specifies criteria for listing products.
type ProductFilter struct {
	Status     model.ImageStatus `json:"status,omitempty"`
	Brand      string            `json:"brand,omitempty"`
	Limit      int               `json:"limit,omitempty"`
	Offset     int               `json:"offset,omitempty"`
	FromBottom bool              `json:"from_bottom,omitempty"`
}

// Store defines the persistence interface for the image curation pipeline.
type Store interface {
	// Products
	UpsertProduct(ctx context.Context, p *model.Product) error
	UpsertProducts(ctx context.Context, products []model.Product) (int64, error)
	GetProduct(ctx context.Context, sku string) (*model.Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]model.Product, error)
	// UpdateImageResult writes status, path, confidence and source in a
	// single statement so status and path can never drift apart.
	UpdateImageResult(ctx context.Context, sku string, status model.ImageStatus, imagePath string, confidence float64, source string) error
	CountByStatus(ctx context.Context) (map[model.ImageStatus]int, error)

	// Search cache, keyed by normalized (barcode, brand)
	GetCachedSearch(ctx context.Context, barcode, brand string) (*model.SearchCacheEntry, error)
	SetCachedSearch(ctx context.Context, barcode, brand string, candidates []model.SearchCandidate, ttl time.Duration) error

	// Learning feedback (append-only)
	AppendFeedback(ctx context.Context, rec *model.FeedbackRecord) error
	ListFeedback(ctx context.Context) ([]model.FeedbackRecord, error)

	// Batches
	CreateBatch(ctx context.Context, total int) (*model.Batch, error)
	FinishBatch(ctx context.Context, b *model.Batch) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
