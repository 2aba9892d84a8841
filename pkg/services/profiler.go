package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"

	"github.com/tabularhq/merge-engine/pkg/apperrors"
	"github.com/tabularhq/merge-engine/pkg/ingest"
	"github.com/tabularhq/merge-engine/pkg/models"
	"github.com/tabularhq/merge-engine/pkg/workpool"
)

const (
	// identifierUniqueRatio is the minimum share of distinct values for a
	// column to qualify as identifier-like.
	identifierUniqueRatio = 0.90

	// identifierMaxLengthStdDev bounds length variance for identifier columns.
	// Stable-width values (codes, padded IDs, UUIDs) stay under this.
	identifierMaxLengthStdDev = 2.0

	// categoricalMaxDistinct caps the distinct count for categorical columns.
	categoricalMaxDistinct = 12
)

var (
	uuidValuePattern  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	emailValuePattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	urlValuePattern   = regexp.MustCompile(`^https?://\S+$`)
	alnumValuePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// dateLayouts are tried in order when probing date values.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
	"02.01.2006",
	"2006/01/02",
	"Jan 2, 2006",
}

// ProfileInput is one file to profile.
type ProfileInput struct {
	FileName string
	FileType models.FileType
	Content  []byte
}

// FileProfile is the result of profiling a single file.
type FileProfile struct {
	FileName   string
	FileType   models.FileType
	Headers    []string
	SampleRows [][]string
	RowCount   int64
	Columns    []models.ColumnProfile
}

// ProfilerService infers per-column schema from a bounded sample of each
// uploaded file. Profiling is deterministic and runs without any LLM.
type ProfilerService interface {
	// ProfileFile parses one file and profiles its columns.
	ProfileFile(ctx context.Context, in ProfileInput) (*FileProfile, error)

	// ProfileAll profiles every file concurrently with bounded parallelism.
	// Results keep the input order. The first failure is returned, wrapped
	// so the failing file can be named.
	ProfileAll(ctx context.Context, inputs []ProfileInput) ([]*FileProfile, error)
}

type profilerService struct {
	sampleRows int
	pool       *workpool.Pool
	logger     *zap.Logger
}

// NewProfilerService creates a new ProfilerService.
func NewProfilerService(sampleRows int, pool *workpool.Pool, logger *zap.Logger) ProfilerService {
	if sampleRows <= 0 {
		sampleRows = 50
	}
	return &profilerService{
		sampleRows: sampleRows,
		pool:       pool,
		logger:     logger.Named("profiler"),
	}
}

func (s *profilerService) ProfileFile(ctx context.Context, in ProfileInput) (*FileProfile, error) {
	rows, err := ingest.Open(in.FileType, in.Content)
	if err != nil {
		return nil, &apperrors.IngestError{File: in.FileName, Cause: err}
	}

	sample, total, err := ingest.ReadSample(rows, s.sampleRows)
	if err != nil {
		return nil, &apperrors.IngestError{File: in.FileName, Cause: err}
	}
	if total == 0 {
		return nil, &apperrors.EmptyFileError{File: in.FileName}
	}

	headers := rows.Headers()
	columns := make([]models.ColumnProfile, len(headers))
	for i, name := range headers {
		values := make([]string, 0, len(sample))
		for _, row := range sample {
			values = append(values, row[i])
		}
		columns[i] = profileColumn(name, values)
	}

	s.logger.Debug("profiled file",
		zap.String("file", in.FileName),
		zap.Int("columns", len(columns)),
		zap.Int64("rows", total))

	return &FileProfile{
		FileName:   in.FileName,
		FileType:   in.FileType,
		Headers:    headers,
		SampleRows: sample,
		RowCount:   total,
		Columns:    columns,
	}, nil
}

func (s *profilerService) ProfileAll(ctx context.Context, inputs []ProfileInput) ([]*FileProfile, error) {
	// Work is keyed by input position, not file name. Uploads may legally
	// share a name and each still gets its own profile.
	items := make([]workpool.WorkItem[*FileProfile], len(inputs))
	for i, in := range inputs {
		items[i] = workpool.WorkItem[*FileProfile]{
			ID: strconv.Itoa(i),
			Execute: func(ctx context.Context) (*FileProfile, error) {
				return s.ProfileFile(ctx, in)
			},
		}
	}

	results := workpool.Process(ctx, s.pool, items)

	byIndex := make(map[string]workpool.WorkResult[*FileProfile], len(results))
	for _, r := range results {
		byIndex[r.ID] = r
	}

	profiles := make([]*FileProfile, 0, len(inputs))
	for i, in := range inputs {
		r, ok := byIndex[strconv.Itoa(i)]
		if !ok {
			return nil, fmt.Errorf("no profile result for %q", in.FileName)
		}
		if r.Err != nil {
			return nil, r.Err
		}
		profiles = append(profiles, r.Result)
	}
	return profiles, nil
}

// profileColumn infers the type and key signals for one column from its
// sampled values.
func profileColumn(name string, values []string) models.ColumnProfile {
	nonEmpty := make([]string, 0, len(values))
	nullCount := 0
	distinct := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			nullCount++
			continue
		}
		nonEmpty = append(nonEmpty, v)
		distinct[v] = struct{}{}
	}

	profile := models.ColumnProfile{
		Name:          name,
		Type:          models.ColumnTypeText,
		DistinctCount: len(distinct),
		NullCount:     nullCount,
	}
	if len(nonEmpty) == 0 {
		return profile
	}

	profile.Unique = len(distinct) == len(nonEmpty)
	profile.Type = inferType(nonEmpty, len(distinct))
	profile.Patterns = detectPatterns(name, nonEmpty)
	profile.KeyLike = keyLike(&profile)
	return profile
}

// inferType picks a column type by majority vote over parseable values.
// A parse-based type needs a strict majority of the non-empty values.
func inferType(values []string, distinctCount int) models.ColumnType {
	var intCount, decCount, dateCount, boolCount int
	for _, v := range values {
		switch {
		case isBool(v):
			boolCount++
		case isInt(v):
			intCount++
		case isDecimal(v):
			decCount++
		case isDate(v):
			dateCount++
		}
	}

	majority := len(values) / 2
	switch {
	case boolCount > majority:
		return models.ColumnTypeBoolean
	case intCount > majority:
		return models.ColumnTypeInteger
	case intCount+decCount > majority:
		return models.ColumnTypeDecimal
	case dateCount > majority:
		return models.ColumnTypeDate
	}

	if isIdentifier(values, distinctCount) {
		return models.ColumnTypeIdentifier
	}
	if distinctCount <= categoricalMaxDistinct && distinctCount < len(values) {
		return models.ColumnTypeCategorical
	}
	return models.ColumnTypeText
}

func isInt(v string) bool {
	_, err := strconv.ParseInt(v, 10, 64)
	return err == nil
}

func isDecimal(v string) bool {
	_, err := strconv.ParseFloat(v, 64)
	return err == nil
}

func isBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "false", "yes", "no":
		return true
	}
	return false
}

func isDate(v string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

// isIdentifier applies the identifier heuristic: nearly all values distinct,
// alphanumeric, with stable lengths.
func isIdentifier(values []string, distinctCount int) bool {
	if float64(distinctCount) < identifierUniqueRatio*float64(len(values)) {
		return false
	}

	lengths := make([]float64, len(values))
	for i, v := range values {
		if !alnumValuePattern.MatchString(v) {
			return false
		}
		lengths[i] = float64(len(v))
	}

	stddev, err := stats.StandardDeviation(lengths)
	if err != nil {
		return false
	}
	return stddev <= identifierMaxLengthStdDev
}

// detectPatterns records join-key shapes found in the column's values or name.
func detectPatterns(name string, values []string) []models.DetectedPattern {
	var patterns []models.DetectedPattern

	valuePatterns := []struct {
		name string
		re   *regexp.Regexp
	}{
		{models.PatternUUID, uuidValuePattern},
		{models.PatternEmail, emailValuePattern},
		{models.PatternURL, urlValuePattern},
	}
	for _, vp := range valuePatterns {
		matched := 0
		var examples []string
		for _, v := range values {
			if vp.re.MatchString(v) {
				matched++
				if len(examples) < 3 {
					examples = append(examples, v)
				}
			}
		}
		if matched > 0 {
			patterns = append(patterns, models.DetectedPattern{
				PatternName:   vp.name,
				MatchRate:     float64(matched) / float64(len(values)),
				MatchedValues: examples,
			})
		}
	}

	dateMatched := 0
	for _, v := range values {
		if isDate(v) {
			dateMatched++
		}
	}
	if dateMatched > 0 {
		patterns = append(patterns, models.DetectedPattern{
			PatternName: models.PatternDate,
			MatchRate:   float64(dateMatched) / float64(len(values)),
		})
	}

	lower := strings.ToLower(name)
	switch {
	case lower == "id" || strings.HasSuffix(lower, "_id") || strings.HasSuffix(lower, "id"):
		patterns = append(patterns, models.DetectedPattern{PatternName: models.PatternIDName, MatchRate: 1.0})
	case strings.HasSuffix(lower, "code"):
		patterns = append(patterns, models.DetectedPattern{PatternName: models.PatternCodeName, MatchRate: 1.0})
	case strings.HasSuffix(lower, "number") || strings.HasSuffix(lower, "_no"):
		patterns = append(patterns, models.DetectedPattern{PatternName: models.PatternNumberName, MatchRate: 1.0})
	}

	return patterns
}

// keyLike reports whether the column looks like a join key.
func keyLike(p *models.ColumnProfile) bool {
	if p.Type == models.ColumnTypeIdentifier {
		return true
	}
	if !p.Unique {
		return false
	}
	for _, pat := range p.Patterns {
		switch pat.PatternName {
		case models.PatternIDName, models.PatternCodeName, models.PatternNumberName:
			return true
		case models.PatternUUID, models.PatternEmail:
			if pat.MatchRate >= 0.95 {
				return true
			}
		}
	}
	return false
}
