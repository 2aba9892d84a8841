package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tabularhq/merge-engine/pkg/jsonutil"
	"github.com/tabularhq/merge-engine/pkg/llm"
	"github.com/tabularhq/merge-engine/pkg/models"
)

const suggestionSystemMessage = `You analyze tabular files that a user wants to merge into one dataset.
Given file schemas and sample values, identify the primary file and propose joins between file pairs.
Respond with JSON only, no prose, matching this shape:
{
  "primary_file": "<file name>",
  "joins": [
    {
      "left_file": "<file name>",
      "left_column": "<column>",
      "right_file": "<file name>",
      "right_column": "<column>",
      "join_type": "inner|left|right|outer",
      "relationship": "1:1|1:N|N:1|N:N",
      "confidence": 0.0,
      "reasoning": "<short explanation>"
    }
  ],
  "warnings": [],
  "recommendations": []
}`

// providerJoin mirrors the JSON shape the provider returns. Raw messages
// tolerate models that emit numbers where strings belong.
type providerJoin struct {
	LeftFile     json.RawMessage `json:"left_file"`
	LeftColumn   json.RawMessage `json:"left_column"`
	RightFile    json.RawMessage `json:"right_file"`
	RightColumn  json.RawMessage `json:"right_column"`
	JoinType     string          `json:"join_type"`
	Relationship string          `json:"relationship"`
	Confidence   json.RawMessage `json:"confidence"`
	Reasoning    string          `json:"reasoning"`
}

type providerPayload struct {
	PrimaryFile     json.RawMessage `json:"primary_file"`
	Joins           []providerJoin  `json:"joins"`
	Warnings        []string        `json:"warnings"`
	Recommendations []string        `json:"recommendations"`
}

// AnalysisService produces join suggestions for a dataset's files. It asks
// the configured provider first and falls back to the deterministic rule
// engine on any failure, so analysis itself never fails.
type AnalysisService interface {
	Analyze(ctx context.Context, files []*models.UploadedFile) *models.AIAnalysis
}

type analysisService struct {
	client     llm.LLMClient // nil when no provider is configured
	ruleEngine *RuleEngine
	timeout    time.Duration
	logger     *zap.Logger
}

// NewAnalysisService creates a new AnalysisService. Pass a nil client to run
// rule-based analysis only.
func NewAnalysisService(client llm.LLMClient, ruleEngine *RuleEngine, timeout time.Duration, logger *zap.Logger) AnalysisService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &analysisService{
		client:     client,
		ruleEngine: ruleEngine,
		timeout:    timeout,
		logger:     logger.Named("analysis"),
	}
}

func (s *analysisService) Analyze(ctx context.Context, files []*models.UploadedFile) *models.AIAnalysis {
	if s.client == nil || len(files) == 0 {
		return s.ruleEngine.Analyze(files)
	}

	analysis, err := s.analyzeWithProvider(ctx, files)
	if err != nil {
		s.logger.Warn("provider analysis failed, falling back to rules", zap.Error(err))
		return s.ruleEngine.Analyze(files)
	}
	return analysis
}

func (s *analysisService) analyzeWithProvider(ctx context.Context, files []*models.UploadedFile) (*models.AIAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	response, err := s.client.GenerateResponse(ctx, buildAnalysisPrompt(files), suggestionSystemMessage, 0.1)
	if err != nil {
		return nil, fmt.Errorf("provider call: %w", err)
	}

	payload, err := llm.ParseJSONResponse[providerPayload](response)
	if err != nil {
		return nil, fmt.Errorf("parse provider response: %w", err)
	}

	return s.resolvePayload(files, &payload), nil
}

// buildAnalysisPrompt renders the profiled files for the provider.
func buildAnalysisPrompt(files []*models.UploadedFile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The user uploaded %d files:\n\n", len(files))
	for _, f := range files {
		fmt.Fprintf(&b, "File %q (%d rows):\n", f.FileName, f.RowCount)
		for _, c := range f.Columns {
			fmt.Fprintf(&b, "  - %s (%s", c.Name, c.Type)
			if c.Unique {
				b.WriteString(", unique")
			}
			b.WriteString(")")
			if examples := columnExamples(f, c.Name, 3); len(examples) > 0 {
				fmt.Fprintf(&b, " e.g. %s", strings.Join(examples, ", "))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Propose joins that connect every file where possible.")
	return b.String()
}

func columnExamples(f *models.UploadedFile, column string, limit int) []string {
	idx := -1
	for i, h := range f.Headers {
		if h == column {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, row := range f.SampleRows {
		if idx >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[idx])
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}
	return out
}

// resolvePayload validates the provider output against the real files.
// Joins naming unknown files or columns are dropped with a warning rather
// than failing the analysis.
func (s *analysisService) resolvePayload(files []*models.UploadedFile, payload *providerPayload) *models.AIAnalysis {
	byName := make(map[string]*models.UploadedFile, len(files))
	byID := make(map[string]*models.UploadedFile, len(files))
	for _, f := range files {
		byName[strings.ToLower(f.FileName)] = f
		byID[f.ID.String()] = f
	}
	resolveFile := func(raw json.RawMessage) *models.UploadedFile {
		ref := strings.TrimSpace(jsonutil.FlexibleStringValue(raw))
		if f, ok := byID[ref]; ok {
			return f
		}
		return byName[strings.ToLower(ref)]
	}

	analysis := &models.AIAnalysis{
		Mode:            models.AnalysisModeAI,
		JoinSuggestions: []models.JoinSuggestion{},
		Warnings:        payload.Warnings,
		Recommendations: payload.Recommendations,
	}

	prepared := make(map[uuid.UUID]*fileForAnalysis, len(files))
	for _, f := range files {
		prepared[f.ID] = prepareFile(f)
	}

	for _, pj := range payload.Joins {
		left := resolveFile(pj.LeftFile)
		right := resolveFile(pj.RightFile)
		leftCol := jsonutil.FlexibleStringValue(pj.LeftColumn)
		rightCol := jsonutil.FlexibleStringValue(pj.RightColumn)

		if left == nil || right == nil || left.ID == right.ID {
			analysis.Warnings = append(analysis.Warnings,
				fmt.Sprintf("dropped suggested join between unknown files %q and %q",
					jsonutil.FlexibleStringValue(pj.LeftFile), jsonutil.FlexibleStringValue(pj.RightFile)))
			continue
		}
		if !left.HasHeader(leftCol) {
			analysis.Warnings = append(analysis.Warnings,
				fmt.Sprintf("dropped suggested join: %q has no column %q", left.FileName, leftCol))
			continue
		}
		if !right.HasHeader(rightCol) {
			analysis.Warnings = append(analysis.Warnings,
				fmt.Sprintf("dropped suggested join: %q has no column %q", right.FileName, rightCol))
			continue
		}

		lp := left.Column(leftCol)
		rp := right.Column(rightCol)
		if lp != nil && rp != nil && !lp.Type.JoinCompatible(rp.Type) {
			analysis.Warnings = append(analysis.Warnings,
				fmt.Sprintf("dropped suggested join between %q (%s) and %q (%s): incompatible column types",
					leftCol, lp.Type, rightCol, rp.Type))
			continue
		}

		joinType := models.JoinType(pj.JoinType)
		if !models.IsValidJoinType(joinType) {
			joinType = models.JoinTypeInner
		}
		relationship := models.RelationshipType(pj.Relationship)
		if !models.IsValidRelationshipType(relationship) {
			relationship = relationshipFromUniqueness(lp != nil && lp.Unique, rp != nil && rp.Unique)
		}

		confidence := jsonutil.FlexibleFloatValue(pj.Confidence)
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}

		_, matches := valueOverlap(prepared[left.ID].values[leftCol], prepared[right.ID].values[rightCol])

		analysis.JoinSuggestions = append(analysis.JoinSuggestions, models.JoinSuggestion{
			LeftFileID:    left.ID,
			LeftFileName:  left.FileName,
			LeftColumn:    leftCol,
			RightFileID:   right.ID,
			RightFileName: right.FileName,
			RightColumn:   rightCol,
			JoinType:      joinType,
			Relationship:  relationship,
			Confidence:    confidence,
			Reasoning:     pj.Reasoning,
			SampleMatches: matches,
		})
	}

	primary := primaryFileIndex(files)
	if f := resolveFile(payload.PrimaryFile); f != nil {
		for i := range files {
			if files[i].ID == f.ID {
				primary = i
				break
			}
		}
	}

	analysis.Files = classifyFiles(files, primary, analysis.JoinSuggestions)
	analysis.Graph = buildGraph(files[primary].ID, analysis.JoinSuggestions)
	return analysis
}
