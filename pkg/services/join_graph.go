package services

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tabularhq/merge-engine/pkg/apperrors"
	"github.com/tabularhq/merge-engine/pkg/models"
)

// JoinPlan is a validated join graph with a merge execution order.
type JoinPlan struct {
	// RootFileID anchors the merge: the file with the most rows, ties
	// broken by upload order.
	RootFileID uuid.UUID
	// Ordered holds the joins in BFS order from the root. Applying them in
	// this order guarantees one side of each join is already merged.
	Ordered []*models.JoinConfiguration
}

// JoinGraphValidator checks that a set of joins forms a single connected
// graph over the dataset's files and derives the execution order.
type JoinGraphValidator struct {
	logger *zap.Logger
}

// NewJoinGraphValidator creates a new JoinGraphValidator.
func NewJoinGraphValidator(logger *zap.Logger) *JoinGraphValidator {
	return &JoinGraphValidator{logger: logger.Named("join-graph")}
}

// Validate checks every join against the files and walks the graph from the
// root. A single file with no joins is a valid plan. Returns
// InvalidColumnError for joins naming missing columns, ErrConflict for
// duplicate edges on the same column pair, and DisconnectedFileError if any
// file is unreachable from the root. Extra edges between already-connected
// files are kept in the graph but skipped by the BFS, so they never enter
// the execution order.
func (v *JoinGraphValidator) Validate(files []*models.UploadedFile, joins []*models.JoinConfiguration) (*JoinPlan, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("dataset has no files")
	}

	byID := make(map[uuid.UUID]*models.UploadedFile, len(files))
	for _, f := range files {
		byID[f.ID] = f
	}

	seenEdges := make(map[string]struct{}, len(joins))
	adjacency := make(map[uuid.UUID][]*models.JoinConfiguration, len(files))

	for _, j := range joins {
		left, ok := byID[j.LeftFileID]
		if !ok {
			return nil, fmt.Errorf("join references unknown file %s: %w", j.LeftFileID, apperrors.ErrNotFound)
		}
		right, ok := byID[j.RightFileID]
		if !ok {
			return nil, fmt.Errorf("join references unknown file %s: %w", j.RightFileID, apperrors.ErrNotFound)
		}
		if j.LeftFileID == j.RightFileID {
			return nil, fmt.Errorf("join connects file %q to itself: %w", left.FileName, apperrors.ErrConflict)
		}

		if !left.HasHeader(j.LeftColumn) {
			return nil, &apperrors.InvalidColumnError{File: left.FileName, Column: j.LeftColumn}
		}
		if !right.HasHeader(j.RightColumn) {
			return nil, &apperrors.InvalidColumnError{File: right.FileName, Column: j.RightColumn}
		}

		edge := edgeKey(j)
		if _, dup := seenEdges[edge]; dup {
			return nil, fmt.Errorf("duplicate join between %q and %q on %q = %q: %w",
				left.FileName, right.FileName, j.LeftColumn, j.RightColumn, apperrors.ErrConflict)
		}
		seenEdges[edge] = struct{}{}

		adjacency[j.LeftFileID] = append(adjacency[j.LeftFileID], j)
		adjacency[j.RightFileID] = append(adjacency[j.RightFileID], j)
	}

	root := rootFile(files)

	// BFS from the root; the order edges are discovered is the execution order.
	visited := map[uuid.UUID]struct{}{root.ID: {}}
	queue := []uuid.UUID{root.ID}
	var ordered []*models.JoinConfiguration

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, j := range adjacency[current] {
			next, ok := j.OtherSide(current)
			if !ok {
				continue
			}
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			j.ExecutionOrder = len(ordered)
			ordered = append(ordered, j)
			queue = append(queue, next)
		}
	}

	for _, f := range files {
		if _, ok := visited[f.ID]; !ok {
			return nil, &apperrors.DisconnectedFileError{File: f.FileName}
		}
	}

	v.logger.Debug("join graph validated",
		zap.Int("files", len(files)),
		zap.Int("joins", len(ordered)),
		zap.String("root", root.FileName))

	return &JoinPlan{RootFileID: root.ID, Ordered: ordered}, nil
}

// rootFile picks the merge anchor: most rows, ties broken by upload order.
func rootFile(files []*models.UploadedFile) *models.UploadedFile {
	root := files[0]
	for _, f := range files[1:] {
		if f.RowCount > root.RowCount {
			root = f
			continue
		}
		if f.RowCount == root.RowCount && f.OrdinalPosition < root.OrdinalPosition {
			root = f
		}
	}
	return root
}

// edgeKey returns an order-independent key for a join edge. Two files may be
// joined more than once as long as each join uses a different column pair.
func edgeKey(j *models.JoinConfiguration) string {
	a := j.LeftFileID.String() + "\x00" + j.LeftColumn
	b := j.RightFileID.String() + "\x00" + j.RightColumn
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}
