package models

import "testing"

func TestDatasetStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		from    DatasetStatus
		to      DatasetStatus
		allowed bool
	}{
		{DatasetStatusDraft, DatasetStatusAnalyzing, true},
		{DatasetStatusAnalyzing, DatasetStatusReady, true},
		{DatasetStatusReady, DatasetStatusMerged, true},
		{DatasetStatusMerged, DatasetStatusSaved, true},

		// Stage skips are not allowed.
		{DatasetStatusDraft, DatasetStatusReady, false},
		{DatasetStatusDraft, DatasetStatusMerged, false},
		{DatasetStatusAnalyzing, DatasetStatusMerged, false},
		{DatasetStatusReady, DatasetStatusSaved, false},

		// Backward moves are not allowed.
		{DatasetStatusReady, DatasetStatusAnalyzing, false},
		{DatasetStatusMerged, DatasetStatusReady, false},

		// Any non-terminal state can fail.
		{DatasetStatusDraft, DatasetStatusFailed, true},
		{DatasetStatusAnalyzing, DatasetStatusFailed, true},
		{DatasetStatusReady, DatasetStatusFailed, true},
		{DatasetStatusMerged, DatasetStatusFailed, true},

		// Terminal states go nowhere.
		{DatasetStatusSaved, DatasetStatusFailed, false},
		{DatasetStatusSaved, DatasetStatusMerged, false},
		{DatasetStatusFailed, DatasetStatusDraft, false},
		{DatasetStatusFailed, DatasetStatusFailed, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.allowed, got)
		}
	}
}

func TestDatasetStatusIsTerminal(t *testing.T) {
	terminal := map[DatasetStatus]bool{
		DatasetStatusDraft:     false,
		DatasetStatusAnalyzing: false,
		DatasetStatusReady:     false,
		DatasetStatusMerged:    false,
		DatasetStatusSaved:     true,
		DatasetStatusFailed:    true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s: expected IsTerminal %v, got %v", status, want, got)
		}
	}
}

func TestIsValidDatasetStatus(t *testing.T) {
	for _, s := range ValidDatasetStatuses {
		if !IsValidDatasetStatus(s) {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if IsValidDatasetStatus("archived") {
		t.Error("expected 'archived' to be invalid")
	}
}
