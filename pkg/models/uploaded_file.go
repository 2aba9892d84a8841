package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// File Types
// ============================================================================

// FileType identifies the format of an uploaded file.
type FileType string

const (
	FileTypeCSV  FileType = "csv"
	FileTypeXLSX FileType = "xlsx"
)

// ValidFileTypes contains all supported file type values.
var ValidFileTypes = []FileType{FileTypeCSV, FileTypeXLSX}

// IsValidFileType checks if the given type is supported.
func IsValidFileType(t FileType) bool {
	return slices.Contains(ValidFileTypes, t)
}

// ============================================================================
// Column Types
// ============================================================================

// ColumnType is the inferred data type of a column, determined by majority
// vote over a bounded sample of parseable values.
type ColumnType string

const (
	ColumnTypeInteger     ColumnType = "integer"
	ColumnTypeDecimal     ColumnType = "decimal"
	ColumnTypeDate        ColumnType = "date"
	ColumnTypeBoolean     ColumnType = "boolean"
	ColumnTypeIdentifier  ColumnType = "identifier"  // ≥90% unique, alphanumeric, low length variance
	ColumnTypeCategorical ColumnType = "categorical" // few distinct values relative to sample
	ColumnTypeText        ColumnType = "text"
)

// ValidColumnTypes contains all valid column type values.
var ValidColumnTypes = []ColumnType{
	ColumnTypeInteger,
	ColumnTypeDecimal,
	ColumnTypeDate,
	ColumnTypeBoolean,
	ColumnTypeIdentifier,
	ColumnTypeCategorical,
	ColumnTypeText,
}

// IsValidColumnType checks if the given type is valid.
func IsValidColumnType(t ColumnType) bool {
	return slices.Contains(ValidColumnTypes, t)
}

// JoinCompatible returns true if values of this type can plausibly join
// against values of the other type. Identifier and categorical columns are
// string-shaped, so they remain compatible with the textual types.
func (t ColumnType) JoinCompatible(other ColumnType) bool {
	if t == other {
		return true
	}
	numeric := func(c ColumnType) bool { return c == ColumnTypeInteger || c == ColumnTypeDecimal }
	stringy := func(c ColumnType) bool {
		return c == ColumnTypeIdentifier || c == ColumnTypeCategorical || c == ColumnTypeText
	}
	if numeric(t) && numeric(other) {
		return true
	}
	if stringy(t) && stringy(other) {
		return true
	}
	// Integer identifiers are common; allow integer ↔ identifier matching.
	if (t == ColumnTypeInteger && stringy(other)) || (stringy(t) && other == ColumnTypeInteger) {
		return true
	}
	return false
}

// ============================================================================
// Pattern Detection
// ============================================================================

// Pattern names for join-key shape detection. Patterns are matched against
// column DATA and NAMES to bias join suggestion scoring.
const (
	PatternUUID       = "uuid"
	PatternEmail      = "email"
	PatternURL        = "url"
	PatternDate       = "date"
	PatternIDName     = "id_name"     // column name ends in "id" / "_id"
	PatternCodeName   = "code_name"   // column name ends in "code"
	PatternNumberName = "number_name" // column name ends in "number" / "no"
)

// DetectedPattern records how strongly a column's sampled values (or name)
// match a known join-key shape.
type DetectedPattern struct {
	PatternName   string   `json:"pattern_name"`
	MatchRate     float64  `json:"match_rate"` // 0.0 - 1.0 over sampled values; 1.0 for name patterns
	MatchedValues []string `json:"matched_values,omitempty"`
}

// ============================================================================
// Column Profile
// ============================================================================

// ColumnProfile holds the inferred schema for a single column, derived from
// a bounded sample of the file's rows. Profiling is deterministic (no LLM).
type ColumnProfile struct {
	Name          string            `json:"name"`
	Type          ColumnType        `json:"type"`
	Unique        bool              `json:"unique"`   // all sampled non-empty values distinct
	KeyLike       bool              `json:"key_like"` // name or values match a join-key shape
	DistinctCount int               `json:"distinct_count"`
	NullCount     int               `json:"null_count"`
	Patterns      []DetectedPattern `json:"patterns,omitempty"`
}

// MatchesPattern returns true if the column has the named pattern with a
// match rate of at least 0.95.
func (c *ColumnProfile) MatchesPattern(name string) bool {
	return c.MatchesPatternWithThreshold(name, 0.95)
}

// MatchesPatternWithThreshold returns true if the named pattern was detected
// with at least the given match rate.
func (c *ColumnProfile) MatchesPatternWithThreshold(name string, threshold float64) bool {
	for _, p := range c.Patterns {
		if p.PatternName == name && p.MatchRate >= threshold {
			return true
		}
	}
	return false
}

// ============================================================================
// Uploaded File
// ============================================================================

// UploadedFile is one ingested tabular file within a dataset. Immutable once
// ingested: edits require re-upload as a new file. SampleRows is a bounded
// sample for preview and inference only; the full row set lives in the file
// content store and is re-parsed during merge and export.
type UploadedFile struct {
	ID              uuid.UUID       `json:"id"`
	DatasetID       uuid.UUID       `json:"dataset_id"`
	FileName        string          `json:"file_name"`
	FileType        FileType        `json:"file_type"`
	Alias           string          `json:"alias"` // unique within the dataset
	OrdinalPosition int             `json:"ordinal_position"`
	Headers         []string        `json:"headers"`
	SampleRows      [][]string      `json:"sample_rows,omitempty"`
	RowCount        int64           `json:"row_count"`
	Columns         []ColumnProfile `json:"columns"`
	CreatedAt       time.Time       `json:"created_at"`
}

// HasHeader returns true if the file's header list contains the given name.
func (f *UploadedFile) HasHeader(name string) bool {
	return slices.Contains(f.Headers, name)
}

// Column returns the profile for the named column, or nil.
func (f *UploadedFile) Column(name string) *ColumnProfile {
	for i := range f.Columns {
		if f.Columns[i].Name == name {
			return &f.Columns[i]
		}
	}
	return nil
}
