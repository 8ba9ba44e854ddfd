package model

import "time"

// ImageStatus is the review state of a product's image.
type ImageStatus string

const (
	StatusNotProcessed ImageStatus = "not_processed"
	StatusPending      ImageStatus = "pending"
	StatusApproved     ImageStatus = "approved"
	StatusDeclined     ImageStatus = "declined"
	StatusNotFound     ImageStatus = "not_found"
)

// Valid reports whether s is a known image status.
func (s ImageStatus) Valid() bool {
	switch s {
	case StatusNotProcessed, StatusPending, StatusApproved, StatusDeclined, StatusNotFound:
		return true
	}
	return false
}

// Product is a catalog entry the pipeline finds an image for.
type Product struct {
	SKU        string      `json:"sku"`
	Barcode    string      `json:"barcode,omitempty"`
	Brand      string      `json:"brand"`
	Title      string      `json:"title"`
	Variant    string      `json:"variant,omitempty"`
	SizeText   string      `json:"size_text,omitempty"`
	Status     ImageStatus `json:"status"`
	ImagePath  string      `json:"image_path,omitempty"`
	Confidence float64     `json:"confidence"`
	Source     string      `json:"source,omitempty"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// DisplayName is the human-readable product label used in logs and queries.
func (p *Product) DisplayName() string {
	if p.Brand == "" {
		return p.Title
	}
	return p.Brand + " " + p.Title
}

// SearchCandidate is one image result returned by the search provider.
type SearchCandidate struct {
	Title        string  `json:"title"`
	Snippet      string  `json:"snippet,omitempty"`
	ImageURL     string  `json:"image_url"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
	Source       string  `json:"source"`
	Query        string  `json:"query,omitempty"`
	Width        int     `json:"width,omitempty"`
	Height       int     `json:"height,omitempty"`
	Score        float64 `json:"score"`
	VariantScore float64 `json:"variant_score"`
	ClipScore    float64 `json:"clip_score,omitempty"`
}
