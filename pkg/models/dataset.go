package models

import (
	"time"

	"github.com/google/uuid"
)

// DatasetStatus represents the lifecycle state of a dataset.
// State machine:
//
//	draft → analyzing → ready → merged → saved
//
//	Any state can transition to: failed
//	No transitions leave failed or saved.
type DatasetStatus string

const (
	DatasetStatusDraft     DatasetStatus = "draft"     // Created, files attached, not yet profiled
	DatasetStatusAnalyzing DatasetStatus = "analyzing" // Profiling/suggestion in flight
	DatasetStatusReady     DatasetStatus = "ready"     // Suggestions available, awaiting join confirmation
	DatasetStatusMerged    DatasetStatus = "merged"    // Merge produced a result, not yet durably saved
	DatasetStatusSaved     DatasetStatus = "saved"     // Merged result persisted/exported/handed off
	DatasetStatusFailed    DatasetStatus = "failed"    // Unrecoverable error, carries error_message
)

// ValidDatasetStatuses contains all valid status values.
var ValidDatasetStatuses = []DatasetStatus{
	DatasetStatusDraft,
	DatasetStatusAnalyzing,
	DatasetStatusReady,
	DatasetStatusMerged,
	DatasetStatusSaved,
	DatasetStatusFailed,
}

// IsValidDatasetStatus checks if the given status is valid.
func IsValidDatasetStatus(s DatasetStatus) bool {
	for _, v := range ValidDatasetStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the status is a terminal state (saved or failed).
func (s DatasetStatus) IsTerminal() bool {
	return s == DatasetStatusSaved || s == DatasetStatusFailed
}

// CanTransitionTo returns true if transitioning from this status to the target is valid.
func (s DatasetStatus) CanTransitionTo(target DatasetStatus) bool {
	// Any non-terminal state can transition to failed
	if target == DatasetStatusFailed {
		return !s.IsTerminal()
	}

	switch s {
	case DatasetStatusDraft:
		return target == DatasetStatusAnalyzing
	case DatasetStatusAnalyzing:
		return target == DatasetStatusReady
	case DatasetStatusReady:
		return target == DatasetStatusMerged
	case DatasetStatusMerged:
		return target == DatasetStatusSaved
	case DatasetStatusSaved, DatasetStatusFailed:
		return false // Terminal states
	default:
		return false
	}
}

// Dataset is the aggregate root for a merge workflow: a set of uploaded files,
// their confirmed join configuration, and the resulting merged table.
// Merged* fields are populated only when status is merged or saved;
// ErrorMessage is populated only when status is failed.
type Dataset struct {
	ID             uuid.UUID     `json:"id"`
	Name           string        `json:"name"`
	Description    *string       `json:"description,omitempty"`
	Status         DatasetStatus `json:"status"`
	MergedHeaders  []string      `json:"merged_headers,omitempty"`
	MergedRowCount *int64        `json:"merged_row_count,omitempty"`
	MergedSample   [][]string    `json:"merged_sample,omitempty"`
	MergedWarnings []string      `json:"merged_warnings,omitempty"`
	Analysis       *AIAnalysis   `json:"analysis,omitempty"`
	ErrorMessage   *string       `json:"error_message,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      *time.Time    `json:"updated_at,omitempty"`

	// Loaded aggregates (not columns on the datasets table)
	Files []*UploadedFile      `json:"files,omitempty"`
	Joins []*JoinConfiguration `json:"joins,omitempty"`
}

// HasMergedResult returns true if the dataset carries a merged result.
func (d *Dataset) HasMergedResult() bool {
	return d.Status == DatasetStatusMerged || d.Status == DatasetStatusSaved
}

// FileByID returns the file with the given ID, or nil.
func (d *Dataset) FileByID(id uuid.UUID) *UploadedFile {
	for _, f := range d.Files {
		if f.ID == id {
			return f
		}
	}
	return nil
}
