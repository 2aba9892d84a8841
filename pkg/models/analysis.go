package models

import (
	"slices"

	"github.com/google/uuid"
)

// ============================================================================
// Analysis Mode
// ============================================================================

// AnalysisMode records which path produced the join suggestions.
type AnalysisMode string

const (
	AnalysisModeAI        AnalysisMode = "ai"
	AnalysisModeRuleBased AnalysisMode = "rule-based"
)

// ============================================================================
// File Roles
// ============================================================================

// FileRole classifies how a file participates in the merged dataset.
type FileRole string

const (
	FileRolePrimary   FileRole = "primary"   // the anchor fact table
	FileRoleSecondary FileRole = "secondary" // joins onto the primary
	FileRoleReference FileRole = "reference" // lookup / dimension data
)

// ValidFileRoles contains all valid file role values.
var ValidFileRoles = []FileRole{FileRolePrimary, FileRoleSecondary, FileRoleReference}

// IsValidFileRole checks if the given role is valid.
func IsValidFileRole(r FileRole) bool {
	return slices.Contains(ValidFileRoles, r)
}

// ============================================================================
// Analysis Results
// ============================================================================

// FileClassification is the analyzed role of a single file.
type FileClassification struct {
	FileID     uuid.UUID `json:"file_id"`
	FileName   string    `json:"file_name"`
	Role       FileRole  `json:"role"`
	KeyColumns []string  `json:"key_columns,omitempty"`
}

// JoinSuggestion is a proposed join between two files. Suggestions are
// advisory: the user confirms them into JoinConfigurations.
type JoinSuggestion struct {
	LeftFileID    uuid.UUID        `json:"left_file_id"`
	LeftFileName  string           `json:"left_file_name"`
	LeftColumn    string           `json:"left_column"`
	RightFileID   uuid.UUID        `json:"right_file_id"`
	RightFileName string           `json:"right_file_name"`
	RightColumn   string           `json:"right_column"`
	JoinType      JoinType         `json:"join_type"`
	Relationship  RelationshipType `json:"relationship"`
	Confidence    float64          `json:"confidence"`
	Reasoning     string           `json:"reasoning,omitempty"`
	SampleMatches []ValuePair      `json:"sample_matches,omitempty"`
}

// GraphEdge is one edge of the suggested relationship graph.
type GraphEdge struct {
	LeftFileID  uuid.UUID        `json:"left_file_id"`
	RightFileID uuid.UUID        `json:"right_file_id"`
	Cardinality RelationshipType `json:"cardinality"`
}

// RelationshipGraph describes how the files relate, anchored on the
// suggested primary file.
type RelationshipGraph struct {
	PrimaryFileID uuid.UUID   `json:"primary_file_id"`
	Edges         []GraphEdge `json:"edges"`
}

// AIAnalysis is the full result of analyzing a dataset's files, whether it
// came from the provider or from the deterministic rule engine. It is
// advisory output, never the source of truth for joins.
type AIAnalysis struct {
	Mode            AnalysisMode         `json:"mode"`
	Files           []FileClassification `json:"files"`
	JoinSuggestions []JoinSuggestion     `json:"join_suggestions"`
	Graph           *RelationshipGraph   `json:"graph,omitempty"`
	Warnings        []string             `json:"warnings,omitempty"`
	Recommendations []string             `json:"recommendations,omitempty"`
}

// PrimaryFile returns the ID of the file classified as primary, or uuid.Nil.
func (a *AIAnalysis) PrimaryFile() uuid.UUID {
	for _, f := range a.Files {
		if f.Role == FileRolePrimary {
			return f.FileID
		}
	}
	return uuid.Nil
}
