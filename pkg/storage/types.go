package storage

import (
	"context"
	"time"
)

// UploadProgress is the checkpoint of one apply run, keyed by the hash of the
// uploaded file so re-uploading the same bytes resumes the run.
type UploadProgress struct {
	FileHash   string `json:"file_hash"`
	RunID      string `json:"run_id"`
	TotalUnits int    `json:"total_units"`

	// Succeeded holds ids of existing listings that were updated or deleted.
	Succeeded []int64 `json:"succeeded"`
	// Created holds ids of listings created by the run. They are informational:
	// creates are matched by nothing on resume.
	Created []int64        `json:"created,omitempty"`
	Failed  []FailedEntity `json:"failed"`

	AcceptedChangeIDs []string  `json:"accepted_change_ids"`
	StartedAt         time.Time `json:"started_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// FailedEntity is one listing that could not be written, with the reason.
type FailedEntity struct {
	ListingID int64  `json:"listing_id"`
	ChangeID  string `json:"change_id"`
	Title     string `json:"title,omitempty"`
	Error     string `json:"error"`
}

// ProgressStore persists checkpoints. LoadProgress returns nil, nil when no
// checkpoint exists for the hash.
type ProgressStore interface {
	LoadProgress(ctx context.Context, fileHash string) (*UploadProgress, error)
	SaveProgress(ctx context.Context, p *UploadProgress) error
	DeleteProgress(ctx context.Context, fileHash string) error
	ListProgress(ctx context.Context) ([]UploadProgress, error)
	PruneProgress(ctx context.Context, maxAge time.Duration) (int, error)
	Close() error
}

// Outcome actions and statuses.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"

	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Outcome is one audited write attempt.
type Outcome struct {
	OccurredAt time.Time `json:"occurred_at"`
	RunID      string    `json:"run_id"`
	FileHash   string    `json:"file_hash"`
	ChangeID   string    `json:"change_id"`
	ListingID  int64     `json:"listing_id"`
	Action     string    `json:"action"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// AuditLog records what every apply run did.
type AuditLog interface {
	LogOutcomes(ctx context.Context, outcomes []Outcome) error
	ListRecentOutcomes(ctx context.Context, limit int) ([]Outcome, error)
}
