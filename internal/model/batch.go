package model

import "time"

// BatchStatus is the lifecycle state of a processing batch.
type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchComplete  BatchStatus = "complete"
	BatchCancelled BatchStatus = "cancelled"
	BatchFailed    BatchStatus = "failed"
)

// Batch is one persisted processing run over a set of products.
type Batch struct {
	ID         string      `json:"id"`
	Status     BatchStatus `json:"status"`
	Total      int         `json:"total"`
	Processed  int         `json:"processed"`
	Approved   int         `json:"approved"`
	Pending    int         `json:"pending"`
	Failed     int         `json:"failed"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// Progress is an immutable snapshot of a running batch, safe to hand to
// pollers while the runner keeps mutating its own copy.
type Progress struct {
	BatchID    string    `json:"batch_id"`
	Active     bool      `json:"active"`
	Phase      string    `json:"phase"`
	CurrentSKU string    `json:"current_sku,omitempty"`
	Current    int       `json:"current"`
	Total      int       `json:"total"`
	Approved   int       `json:"approved"`
	Pending    int       `json:"pending"`
	Declined   int       `json:"declined"`
	NotFound   int       `json:"not_found"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
}
