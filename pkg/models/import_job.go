package models

import (
	"time"

	"github.com/google/uuid"
)

// Import job statuses.
const (
	ImportJobStatusPending   = "pending"
	ImportJobStatusSubmitted = "submitted"
	ImportJobStatusFailed    = "failed"
)

// ImportJob tracks a handoff of a saved merged dataset to the downstream
// import pipeline.
type ImportJob struct {
	ID            uuid.UUID `json:"id"`
	DatasetID     uuid.UUID `json:"dataset_id"`
	TargetModel   string    `json:"target_model"`
	Status        string    `json:"status"`
	ExternalJobID *string   `json:"external_job_id,omitempty"`
	RowCount      int64     `json:"row_count"`
	Error         *string   `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
