package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Join Types
// ============================================================================

// JoinType is the SQL-style join semantics applied when merging two files.
type JoinType string

const (
	JoinTypeInner JoinType = "inner" // only rows with matches on both sides
	JoinTypeLeft  JoinType = "left"  // all accumulated rows, matched or not
	JoinTypeRight JoinType = "right" // all incoming-file rows, matched or not
	JoinTypeOuter JoinType = "outer" // all rows from both sides
)

// ValidJoinTypes contains all valid join type values.
var ValidJoinTypes = []JoinType{JoinTypeInner, JoinTypeLeft, JoinTypeRight, JoinTypeOuter}

// IsValidJoinType checks if the given join type is valid.
func IsValidJoinType(t JoinType) bool {
	return slices.Contains(ValidJoinTypes, t)
}

// ============================================================================
// Relationship Types
// ============================================================================

// RelationshipType is the inferred cardinality between two join columns,
// derived from value uniqueness on each side.
type RelationshipType string

const (
	RelationshipOneToOne   RelationshipType = "1:1"
	RelationshipOneToMany  RelationshipType = "1:N"
	RelationshipManyToOne  RelationshipType = "N:1"
	RelationshipManyToMany RelationshipType = "N:N"
)

// ValidRelationshipTypes contains all valid relationship type values.
var ValidRelationshipTypes = []RelationshipType{
	RelationshipOneToOne,
	RelationshipOneToMany,
	RelationshipManyToOne,
	RelationshipManyToMany,
}

// IsValidRelationshipType checks if the given relationship type is valid.
func IsValidRelationshipType(t RelationshipType) bool {
	return slices.Contains(ValidRelationshipTypes, t)
}

// ============================================================================
// Join Configuration
// ============================================================================

// ValuePair is a sampled matching value observed on both sides of a join.
type ValuePair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// JoinConfiguration is one confirmed edge in a dataset's join graph. Edges
// are undirected for connectivity purposes; Left/Right record which file
// each column belongs to. ExecutionOrder is assigned by graph validation
// and determines the order edges are applied during merge.
type JoinConfiguration struct {
	ID             uuid.UUID        `json:"id"`
	DatasetID      uuid.UUID        `json:"dataset_id"`
	LeftFileID     uuid.UUID        `json:"left_file_id"`
	LeftColumn     string           `json:"left_column"`
	RightFileID    uuid.UUID        `json:"right_file_id"`
	RightColumn    string           `json:"right_column"`
	JoinType       JoinType         `json:"join_type"`
	Relationship   RelationshipType `json:"relationship"`
	Suggested      bool             `json:"suggested"` // true if accepted from a suggestion
	Confidence     float64          `json:"confidence"`
	Reasoning      string           `json:"reasoning,omitempty"`
	SampleMatches  []ValuePair      `json:"sample_matches,omitempty"`
	ExecutionOrder int              `json:"execution_order"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Touches returns true if the join involves the given file.
func (j *JoinConfiguration) Touches(fileID uuid.UUID) bool {
	return j.LeftFileID == fileID || j.RightFileID == fileID
}

// OtherSide returns the file on the opposite side of the join from fileID.
func (j *JoinConfiguration) OtherSide(fileID uuid.UUID) (uuid.UUID, bool) {
	switch fileID {
	case j.LeftFileID:
		return j.RightFileID, true
	case j.RightFileID:
		return j.LeftFileID, true
	default:
		return uuid.Nil, false
	}
}
