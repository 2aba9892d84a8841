package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/tabularhq/merge-engine/pkg/models"
)

const (
	// Confidence is a weighted blend of column name similarity and sampled
	// value overlap.
	nameSimilarityWeight = 0.4
	valueOverlapWeight   = 0.6

	// suggestionThreshold is the minimum confidence for a join suggestion.
	suggestionThreshold = 0.5

	// maxSampleMatches bounds how many matching value pairs are attached to
	// a suggestion.
	maxSampleMatches = 5
)

var nonAlnumPattern = regexp.MustCompile(`[^a-z0-9]+`)

// keySuffixes are trimmed from column names before comparing their stems.
var keySuffixes = []string{"_id", "_key", "_code", "_number", "_no", "id"}

// fileForAnalysis is what the rule engine needs to know about one file.
type fileForAnalysis struct {
	file    *models.UploadedFile
	profile map[string]*models.ColumnProfile
	// distinct sampled values per column, trimmed
	values map[string]map[string]struct{}
}

// RuleEngine produces deterministic join suggestions from file profiles.
// It is the fallback when no provider is configured or the provider call
// fails, and its output always carries the rule-based analysis mode.
type RuleEngine struct {
	logger *zap.Logger
}

// NewRuleEngine creates a new RuleEngine.
func NewRuleEngine(logger *zap.Logger) *RuleEngine {
	return &RuleEngine{logger: logger.Named("rule-engine")}
}

// Analyze derives file roles, pairwise join suggestions and a relationship
// graph from profiled files alone.
func (e *RuleEngine) Analyze(files []*models.UploadedFile) *models.AIAnalysis {
	analysis := &models.AIAnalysis{
		Mode:            models.AnalysisModeRuleBased,
		JoinSuggestions: []models.JoinSuggestion{},
	}
	if len(files) == 0 {
		return analysis
	}

	prepared := make([]*fileForAnalysis, len(files))
	for i, f := range files {
		prepared[i] = prepareFile(f)
	}

	primary := primaryFileIndex(files)

	// Best suggestion per file pair, both orders considered.
	primaryID := files[primary].ID
	for i := 0; i < len(prepared); i++ {
		for j := i + 1; j < len(prepared); j++ {
			if s := e.bestPairSuggestion(prepared[i], prepared[j]); s != nil {
				// A left join keeps every row of its left side. When the
				// anchor file landed on the right, flip the suggestion so
				// the join preserves the anchor's rows.
				if s.JoinType == models.JoinTypeLeft && s.RightFileID == primaryID {
					flipSuggestion(s)
				}
				analysis.JoinSuggestions = append(analysis.JoinSuggestions, *s)
			}
		}
	}

	analysis.Files = classifyFiles(files, primary, analysis.JoinSuggestions)
	analysis.Graph = buildGraph(files[primary].ID, analysis.JoinSuggestions)

	for _, f := range files {
		if f.ID == files[primary].ID {
			continue
		}
		connected := false
		for _, s := range analysis.JoinSuggestions {
			if s.LeftFileID == f.ID || s.RightFileID == f.ID {
				connected = true
				break
			}
		}
		if !connected {
			analysis.Warnings = append(analysis.Warnings,
				fmt.Sprintf("no join candidate found for %q; connect it manually before merging", f.FileName))
		}
	}

	e.logger.Info("rule-based analysis complete",
		zap.Int("files", len(files)),
		zap.Int("suggestions", len(analysis.JoinSuggestions)))

	return analysis
}

func prepareFile(f *models.UploadedFile) *fileForAnalysis {
	pf := &fileForAnalysis{
		file:    f,
		profile: make(map[string]*models.ColumnProfile, len(f.Columns)),
		values:  make(map[string]map[string]struct{}, len(f.Columns)),
	}
	for i := range f.Columns {
		pf.profile[f.Columns[i].Name] = &f.Columns[i]
	}
	for col, idx := range headerIndex(f.Headers) {
		set := make(map[string]struct{})
		for _, row := range f.SampleRows {
			if idx < len(row) {
				if v := strings.TrimSpace(row[idx]); v != "" {
					set[v] = struct{}{}
				}
			}
		}
		pf.values[col] = set
	}
	return pf
}

func headerIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[h] = i
	}
	return idx
}

// primaryFileIndex picks the anchor file: most rows, ties broken by upload
// order.
func primaryFileIndex(files []*models.UploadedFile) int {
	best := 0
	for i, f := range files {
		if f.RowCount > files[best].RowCount {
			best = i
			continue
		}
		if f.RowCount == files[best].RowCount && f.OrdinalPosition < files[best].OrdinalPosition {
			best = i
		}
	}
	return best
}

// bestPairSuggestion scores every compatible column pair between two files
// and returns the highest-confidence candidate at or above the threshold.
func (e *RuleEngine) bestPairSuggestion(left, right *fileForAnalysis) *models.JoinSuggestion {
	var best *models.JoinSuggestion

	for _, lc := range left.file.Columns {
		for _, rc := range right.file.Columns {
			if !lc.Type.JoinCompatible(rc.Type) {
				continue
			}

			nameSim := NameSimilarity(lc.Name, rc.Name)
			overlap, matches := valueOverlap(left.values[lc.Name], right.values[rc.Name])
			confidence := nameSimilarityWeight*nameSim + valueOverlapWeight*overlap
			if confidence < suggestionThreshold {
				continue
			}
			if best != nil && confidence <= best.Confidence {
				continue
			}

			relationship := relationshipFromUniqueness(lc.Unique, rc.Unique)
			joinType := models.JoinTypeLeft
			if lc.Unique && rc.Unique {
				joinType = models.JoinTypeInner
			}

			best = &models.JoinSuggestion{
				LeftFileID:    left.file.ID,
				LeftFileName:  left.file.FileName,
				LeftColumn:    lc.Name,
				RightFileID:   right.file.ID,
				RightFileName: right.file.FileName,
				RightColumn:   rc.Name,
				JoinType:      joinType,
				Relationship:  relationship,
				Confidence:    confidence,
				Reasoning: fmt.Sprintf("columns %q and %q: name similarity %.2f, value overlap %.2f",
					lc.Name, rc.Name, nameSim, overlap),
				SampleMatches: matches,
			}
		}
	}

	return best
}

// NameSimilarity scores how alike two column names are, in [0, 1].
// Exact normalized matches score 1.0; matching stems after stripping key
// suffixes and plural forms score 0.9; otherwise token overlap decides.
func NameSimilarity(a, b string) float64 {
	na, nb := normalizeName(a), normalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1.0
	}

	sa, sb := stemName(na), stemName(nb)
	if sa != "" && sa == sb {
		return 0.9
	}

	ta, tb := nameTokens(na), nameTokens(nb)
	inter := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0
	}
	return 0.8 * float64(inter) / float64(union)
}

func normalizeName(name string) string {
	return strings.Trim(nonAlnumPattern.ReplaceAllString(strings.ToLower(name), "_"), "_")
}

// stemName strips a trailing key suffix and singularizes what remains, so
// emp_id, employee_id and employees all converge when they share a stem.
func stemName(name string) string {
	for _, suffix := range keySuffixes {
		if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}
	name = strings.Trim(name, "_")
	if name == "" {
		return ""
	}
	parts := strings.Split(name, "_")
	for i, p := range parts {
		parts[i] = inflection.Singular(p)
	}
	return strings.Join(parts, "_")
}

func nameTokens(name string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range strings.Split(name, "_") {
		if tok == "" {
			continue
		}
		tokens[inflection.Singular(tok)] = struct{}{}
	}
	return tokens
}

// valueOverlap measures how much the sampled distinct values of two columns
// intersect, relative to the smaller side. Also returns a few matching pairs
// as evidence.
func valueOverlap(left, right map[string]struct{}) (float64, []models.ValuePair) {
	if len(left) == 0 || len(right) == 0 {
		return 0, nil
	}

	small, large := left, right
	if len(right) < len(left) {
		small, large = right, left
	}

	inter := 0
	var matches []models.ValuePair
	for v := range small {
		if _, ok := large[v]; ok {
			inter++
			if len(matches) < maxSampleMatches {
				matches = append(matches, models.ValuePair{Left: v, Right: v})
			}
		}
	}

	return float64(inter) / float64(len(small)), matches
}

// flipSuggestion swaps the two sides of a suggestion in place, mirroring the
// cardinality and the sampled evidence.
func flipSuggestion(s *models.JoinSuggestion) {
	s.LeftFileID, s.RightFileID = s.RightFileID, s.LeftFileID
	s.LeftFileName, s.RightFileName = s.RightFileName, s.LeftFileName
	s.LeftColumn, s.RightColumn = s.RightColumn, s.LeftColumn
	switch s.Relationship {
	case models.RelationshipOneToMany:
		s.Relationship = models.RelationshipManyToOne
	case models.RelationshipManyToOne:
		s.Relationship = models.RelationshipOneToMany
	}
	for i := range s.SampleMatches {
		s.SampleMatches[i].Left, s.SampleMatches[i].Right = s.SampleMatches[i].Right, s.SampleMatches[i].Left
	}
}

// relationshipFromUniqueness maps per-side uniqueness to cardinality.
func relationshipFromUniqueness(leftUnique, rightUnique bool) models.RelationshipType {
	switch {
	case leftUnique && rightUnique:
		return models.RelationshipOneToOne
	case leftUnique:
		return models.RelationshipOneToMany
	case rightUnique:
		return models.RelationshipManyToOne
	default:
		return models.RelationshipManyToMany
	}
}

// classifyFiles assigns roles: the anchor is primary, small fully-keyed
// files are reference data, everything else is secondary.
func classifyFiles(files []*models.UploadedFile, primary int, suggestions []models.JoinSuggestion) []models.FileClassification {
	out := make([]models.FileClassification, len(files))
	for i, f := range files {
		role := models.FileRoleSecondary
		if i == primary {
			role = models.FileRolePrimary
		} else if isReferenceFile(f, files[primary]) {
			role = models.FileRoleReference
		}

		var keyCols []string
		for _, c := range f.Columns {
			if c.KeyLike {
				keyCols = append(keyCols, c.Name)
			}
		}

		out[i] = models.FileClassification{
			FileID:     f.ID,
			FileName:   f.FileName,
			Role:       role,
			KeyColumns: keyCols,
		}
	}
	return out
}

// isReferenceFile flags small lookup tables: far fewer rows than the anchor
// and a unique key column.
func isReferenceFile(f, primary *models.UploadedFile) bool {
	if primary.RowCount == 0 || f.RowCount*4 > primary.RowCount {
		return false
	}
	for _, c := range f.Columns {
		if c.KeyLike && c.Unique {
			return true
		}
	}
	return false
}

func buildGraph(primaryID uuid.UUID, suggestions []models.JoinSuggestion) *models.RelationshipGraph {
	graph := &models.RelationshipGraph{PrimaryFileID: primaryID}
	for _, s := range suggestions {
		graph.Edges = append(graph.Edges, models.GraphEdge{
			LeftFileID:  s.LeftFileID,
			RightFileID: s.RightFileID,
			Cardinality: s.Relationship,
		})
	}
	return graph
}
