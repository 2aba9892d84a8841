package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tabularhq/merge-engine/pkg/apperrors"
	"github.com/tabularhq/merge-engine/pkg/models"
)

// MergeTable is one fully-parsed file ready for merging. Types carries the
// profiled column types so joins across mismatched types can be flagged.
type MergeTable struct {
	FileID  uuid.UUID
	Alias   string
	Headers []string
	Rows    [][]string
	Types   map[string]models.ColumnType
}

// MergeOptions bounds merge execution.
type MergeOptions struct {
	// MaxRows aborts the merge when the accumulated result exceeds it.
	// Zero means unlimited.
	MaxRows int64
	// Limit truncates the final result to at most this many rows.
	// Zero means no truncation.
	Limit int
}

// JoinStats records how one join performed.
type JoinStats struct {
	LeftColumn  string `json:"left_column"`
	RightColumn string `json:"right_column"`
	MatchedRows int64  `json:"matched_rows"`
	OutputRows  int64  `json:"output_rows"`
}

// MergeResult is the merged table plus per-join statistics. Warnings flag
// conditions worth a look before trusting the output: joins that matched
// nothing, mismatched key types, renamed collision columns, empty results.
type MergeResult struct {
	Headers  []string
	Rows     [][]string
	RowCount int64
	Stats    []JoinStats
	Warnings []string
}

// MergeExecutor applies a validated join plan over parsed file tables.
type MergeExecutor interface {
	// Execute merges the tables in plan order. A single-file plan with no
	// joins passes the root table through unchanged.
	Execute(ctx context.Context, plan *JoinPlan, tables map[uuid.UUID]*MergeTable, opts MergeOptions) (*MergeResult, error)
}

type mergeExecutor struct {
	logger *zap.Logger
}

// NewMergeExecutor creates a new MergeExecutor.
func NewMergeExecutor(logger *zap.Logger) MergeExecutor {
	return &mergeExecutor{logger: logger.Named("merge")}
}

// accumulated is the in-progress merged table. colIndex maps each source
// file's original column names to positions in Headers, surviving collision
// renames.
type accumulated struct {
	Headers  []string
	Rows     [][]string
	colIndex map[uuid.UUID]map[string]int
	names    map[string]struct{}
	warnings []string
}

func (a *accumulated) warn(format string, args ...any) {
	a.warnings = append(a.warnings, fmt.Sprintf(format, args...))
}

func (m *mergeExecutor) Execute(ctx context.Context, plan *JoinPlan, tables map[uuid.UUID]*MergeTable, opts MergeOptions) (*MergeResult, error) {
	root, ok := tables[plan.RootFileID]
	if !ok {
		return nil, fmt.Errorf("root table %s missing: %w", plan.RootFileID, apperrors.ErrNotFound)
	}

	acc := newAccumulated(root)
	stats := make([]JoinStats, 0, len(plan.Ordered))

	for _, join := range plan.Ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// One side of the join is already merged; the other is incoming.
		mergedFile, mergedCol := join.LeftFileID, join.LeftColumn
		incomingFile, incomingCol := join.RightFileID, join.RightColumn
		joinType := join.JoinType
		if _, merged := acc.colIndex[mergedFile]; !merged {
			mergedFile, mergedCol, incomingFile, incomingCol = incomingFile, incomingCol, mergedFile, mergedCol
			joinType = mirrorJoinType(joinType)
		}

		incoming, ok := tables[incomingFile]
		if !ok {
			return nil, fmt.Errorf("table %s missing: %w", incomingFile, apperrors.ErrNotFound)
		}

		merged, ok := tables[mergedFile]
		if !ok {
			return nil, fmt.Errorf("table %s missing: %w", mergedFile, apperrors.ErrNotFound)
		}

		mt, it := merged.Types[mergedCol], incoming.Types[incomingCol]
		if mt != "" && it != "" && !mt.JoinCompatible(it) {
			acc.warn("join columns %q (%s) and %q (%s) have mismatched types; values are compared as text",
				mergedCol, mt, incomingCol, it)
		}

		st, err := acc.apply(ctx, incoming, mergedFile, mergedCol, incomingCol, joinType, opts.MaxRows)
		if err != nil {
			return nil, err
		}
		if st.OutputRows == 0 {
			acc.warn("join between %q and %q on %q = %q produced no rows",
				merged.Alias, incoming.Alias, mergedCol, incomingCol)
		}
		stats = append(stats, *st)
	}

	rows := acc.Rows
	total := int64(len(rows))
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	if total == 0 {
		acc.warn("merge produced no rows; check the join columns and join types")
	}

	m.logger.Info("merge complete",
		zap.Int("joins", len(plan.Ordered)),
		zap.Int64("rows", total),
		zap.Int("columns", len(acc.Headers)),
		zap.Int("warnings", len(acc.warnings)))

	return &MergeResult{
		Headers:  acc.Headers,
		Rows:     rows,
		RowCount: total,
		Stats:    stats,
		Warnings: acc.warnings,
	}, nil
}

func newAccumulated(root *MergeTable) *accumulated {
	acc := &accumulated{
		Headers:  append([]string(nil), root.Headers...),
		Rows:     root.Rows,
		colIndex: map[uuid.UUID]map[string]int{root.FileID: {}},
		names:    make(map[string]struct{}, len(root.Headers)),
	}
	for i, h := range root.Headers {
		acc.colIndex[root.FileID][h] = i
		acc.names[h] = struct{}{}
	}
	return acc
}

// apply joins the incoming table onto the accumulated result using a hash
// index built on the smaller side.
func (a *accumulated) apply(
	ctx context.Context,
	incoming *MergeTable,
	mergedFile uuid.UUID,
	mergedCol, incomingCol string,
	joinType models.JoinType,
	maxRows int64,
) (*JoinStats, error) {
	mergedIdx, ok := a.colIndex[mergedFile][mergedCol]
	if !ok {
		return nil, &apperrors.InvalidColumnError{File: mergedFile.String(), Column: mergedCol}
	}
	incomingIdx := -1
	for i, h := range incoming.Headers {
		if h == incomingCol {
			incomingIdx = i
			break
		}
	}
	if incomingIdx < 0 {
		return nil, &apperrors.InvalidColumnError{File: incoming.Alias, Column: incomingCol}
	}

	// Extend the schema with the incoming columns, renaming collisions.
	incomingOffset := len(a.Headers)
	for _, h := range incoming.Headers {
		name := h
		if _, taken := a.names[name]; taken {
			name = fmt.Sprintf("%s_%s", h, incoming.Alias)
			a.warn("column %q from %q collides with an existing column; renamed to %q", h, incoming.Alias, name)
		}
		a.names[name] = struct{}{}
		a.colIndex[incoming.FileID] = ensureMap(a.colIndex[incoming.FileID])
		a.colIndex[incoming.FileID][h] = len(a.Headers)
		a.Headers = append(a.Headers, name)
	}

	width := len(a.Headers)
	stats := &JoinStats{LeftColumn: mergedCol, RightColumn: incomingCol}

	out := make([][]string, 0, len(a.Rows))
	emit := func(row []string) error {
		out = append(out, row)
		if maxRows > 0 && int64(len(out)) > maxRows {
			return &apperrors.MergeCapacityError{Limit: maxRows, Rows: int64(len(out))}
		}
		return nil
	}

	// Hash the smaller side; probe with the larger.
	if len(incoming.Rows) <= len(a.Rows) {
		index := buildIndex(incoming.Rows, incomingIdx)
		matchedIncoming := make([]bool, len(incoming.Rows))

		for n, row := range a.Rows {
			if n%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			hits := index[row[mergedIdx]]
			if len(hits) == 0 {
				if joinType == models.JoinTypeLeft || joinType == models.JoinTypeOuter {
					if err := emit(padRow(row, width)); err != nil {
						return nil, err
					}
				}
				continue
			}
			for _, hit := range hits {
				matchedIncoming[hit] = true
				stats.MatchedRows++
				if err := emit(combineRows(row, incoming.Rows[hit], incomingOffset, width)); err != nil {
					return nil, err
				}
			}
		}

		if joinType == models.JoinTypeRight || joinType == models.JoinTypeOuter {
			for i, row := range incoming.Rows {
				if matchedIncoming[i] {
					continue
				}
				if err := emit(combineRows(make([]string, incomingOffset), row, incomingOffset, width)); err != nil {
					return nil, err
				}
			}
		}
	} else {
		index := buildIndex(a.Rows, mergedIdx)
		matchedMerged := make([]bool, len(a.Rows))

		for n, row := range incoming.Rows {
			if n%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			hits := index[row[incomingIdx]]
			if len(hits) == 0 {
				if joinType == models.JoinTypeRight || joinType == models.JoinTypeOuter {
					if err := emit(combineRows(make([]string, incomingOffset), row, incomingOffset, width)); err != nil {
						return nil, err
					}
				}
				continue
			}
			for _, hit := range hits {
				matchedMerged[hit] = true
				stats.MatchedRows++
				if err := emit(combineRows(a.Rows[hit], row, incomingOffset, width)); err != nil {
					return nil, err
				}
			}
		}

		if joinType == models.JoinTypeLeft || joinType == models.JoinTypeOuter {
			for i, row := range a.Rows {
				if matchedMerged[i] {
					continue
				}
				if err := emit(padRow(row, width)); err != nil {
					return nil, err
				}
			}
		}
	}

	a.Rows = out
	stats.OutputRows = int64(len(out))
	return stats, nil
}

// mirrorJoinType swaps direction when the join's sides are applied in
// reverse order.
func mirrorJoinType(t models.JoinType) models.JoinType {
	switch t {
	case models.JoinTypeLeft:
		return models.JoinTypeRight
	case models.JoinTypeRight:
		return models.JoinTypeLeft
	default:
		return t
	}
}

// buildIndex maps join-column values to row positions. Empty keys do not
// participate in matches.
func buildIndex(rows [][]string, col int) map[string][]int {
	index := make(map[string][]int, len(rows))
	for i, row := range rows {
		if col >= len(row) {
			continue
		}
		v := row[col]
		if v == "" {
			continue
		}
		index[v] = append(index[v], i)
	}
	return index
}

func combineRows(left, right []string, offset, width int) []string {
	out := make([]string, width)
	copy(out, left)
	copy(out[offset:], right)
	return out
}

func padRow(row []string, width int) []string {
	out := make([]string, width)
	copy(out, row)
	return out
}

func ensureMap(m map[string]int) map[string]int {
	if m == nil {
		return make(map[string]int)
	}
	return m
}
