package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tabularhq/merge-engine/pkg/adapters/importer"
	"github.com/tabularhq/merge-engine/pkg/apperrors"
	"github.com/tabularhq/merge-engine/pkg/ingest"
	"github.com/tabularhq/merge-engine/pkg/models"
	"github.com/tabularhq/merge-engine/pkg/repositories"
)

// ExportFormat selects the download encoding.
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatXLSX ExportFormat = "xlsx"
)

// FileUpload is one raw uploaded file.
type FileUpload struct {
	FileName string
	Content  []byte
}

// DatasetLimits bounds dataset work.
type DatasetLimits struct {
	PreviewRows  int
	MergeMaxRows int64
	SampleRows   int
}

// DatasetService owns the dataset lifecycle: ingestion and profiling,
// analysis, join configuration, merging and handoff to the import pipeline.
type DatasetService interface {
	// Create ingests the uploads, profiles them concurrently and runs join
	// analysis. A profiling failure marks the dataset failed with a message
	// naming the offending file; the failed dataset is returned rather than
	// an error so the caller can inspect it.
	Create(ctx context.Context, name string, description *string, uploads []FileUpload) (*models.Dataset, error)

	// Get returns a dataset with its files and joins attached.
	Get(ctx context.Context, id uuid.UUID) (*models.Dataset, error)

	// List returns all datasets, newest first, without files attached.
	List(ctx context.Context) ([]*models.Dataset, error)

	// Delete removes a dataset and everything hanging off it.
	Delete(ctx context.Context, id uuid.UUID) error

	// SetJoins validates the joins as a connected graph and persists them
	// in execution order. The dataset state is untouched on validation
	// failure.
	SetJoins(ctx context.Context, id uuid.UUID, joins []*models.JoinConfiguration) (*models.Dataset, error)

	// Preview merges up to limit rows without changing dataset state.
	// A limit of zero uses the configured default. Previews may run
	// concurrently but are refused while a full merge is running.
	Preview(ctx context.Context, id uuid.UUID, limit int) (*MergeResult, error)

	// Merge runs the full merge, stores the result summary and moves the
	// dataset to merged. Fails fast if another merge is in flight.
	Merge(ctx context.Context, id uuid.UUID) (*models.Dataset, error)

	// Export re-runs the merge and streams the result to w.
	// Returns the suggested download file name.
	Export(ctx context.Context, id uuid.UUID, format ExportFormat, w io.Writer) (string, error)

	// UseForImport marks a merged dataset saved and submits it to the
	// import pipeline when one is configured.
	UseForImport(ctx context.Context, id uuid.UUID, targetModel string) (*models.ImportJob, error)
}

type datasetService struct {
	datasetRepo repositories.DatasetRepository
	fileRepo    repositories.DatasetFileRepository
	joinRepo    repositories.JoinConfigurationRepository
	importRepo  repositories.ImportJobRepository
	profiler    ProfilerService
	analysis    AnalysisService
	validator   *JoinGraphValidator
	executor    MergeExecutor
	exporter    Exporter
	importer    importer.Client // nil when no pipeline is configured
	locks       *LockRegistry
	limits      DatasetLimits
	logger      *zap.Logger
}

// NewDatasetService creates a new DatasetService.
func NewDatasetService(
	datasetRepo repositories.DatasetRepository,
	fileRepo repositories.DatasetFileRepository,
	joinRepo repositories.JoinConfigurationRepository,
	importRepo repositories.ImportJobRepository,
	profiler ProfilerService,
	analysis AnalysisService,
	validator *JoinGraphValidator,
	executor MergeExecutor,
	exporter Exporter,
	importClient importer.Client,
	locks *LockRegistry,
	limits DatasetLimits,
	logger *zap.Logger,
) DatasetService {
	if limits.PreviewRows <= 0 {
		limits.PreviewRows = 100
	}
	return &datasetService{
		datasetRepo: datasetRepo,
		fileRepo:    fileRepo,
		joinRepo:    joinRepo,
		importRepo:  importRepo,
		profiler:    profiler,
		analysis:    analysis,
		validator:   validator,
		executor:    executor,
		exporter:    exporter,
		importer:    importClient,
		locks:       locks,
		limits:      limits,
		logger:      logger.Named("dataset"),
	}
}

var _ DatasetService = (*datasetService)(nil)

func (s *datasetService) Create(ctx context.Context, name string, description *string, uploads []FileUpload) (*models.Dataset, error) {
	if name == "" {
		return nil, fmt.Errorf("dataset name is required")
	}
	if len(uploads) == 0 {
		return nil, fmt.Errorf("at least one file is required")
	}

	dataset := &models.Dataset{
		Name:        name,
		Description: description,
		Status:      models.DatasetStatusDraft,
	}
	if err := s.datasetRepo.Create(ctx, dataset); err != nil {
		return nil, err
	}

	inputs := make([]ProfileInput, len(uploads))
	for i, u := range uploads {
		fileType, err := ingest.Detect(u.FileName)
		if err != nil {
			return s.failDataset(ctx, dataset, err.Error())
		}
		inputs[i] = ProfileInput{FileName: u.FileName, FileType: fileType, Content: u.Content}
	}

	if err := s.transition(ctx, dataset, models.DatasetStatusAnalyzing, nil); err != nil {
		return nil, err
	}

	profiles, err := s.profiler.ProfileAll(ctx, inputs)
	if err != nil {
		return s.failDataset(ctx, dataset, err.Error())
	}

	aliases := deriveAliases(profiles)
	files := make([]*models.UploadedFile, len(profiles))
	for i, p := range profiles {
		files[i] = &models.UploadedFile{
			DatasetID:       dataset.ID,
			FileName:        p.FileName,
			FileType:        p.FileType,
			Alias:           aliases[i],
			OrdinalPosition: i,
			Headers:         p.Headers,
			SampleRows:      p.SampleRows,
			RowCount:        p.RowCount,
			Columns:         p.Columns,
		}
		if err := s.fileRepo.Create(ctx, files[i], uploads[i].Content); err != nil {
			return nil, err
		}
	}

	analysis := s.analysis.Analyze(ctx, files)
	if err := s.datasetRepo.UpdateAnalysis(ctx, dataset.ID, analysis); err != nil {
		return nil, err
	}

	if err := s.transition(ctx, dataset, models.DatasetStatusReady, nil); err != nil {
		return nil, err
	}

	dataset.Files = files
	dataset.Analysis = analysis

	s.logger.Info("dataset created",
		zap.String("dataset_id", dataset.ID.String()),
		zap.Int("files", len(files)),
		zap.String("analysis_mode", string(analysis.Mode)))

	return dataset, nil
}

func (s *datasetService) Get(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	dataset, err := s.datasetRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if dataset.Files, err = s.fileRepo.ListByDataset(ctx, id); err != nil {
		return nil, err
	}
	if dataset.Joins, err = s.joinRepo.ListByDataset(ctx, id); err != nil {
		return nil, err
	}
	return dataset, nil
}

func (s *datasetService) List(ctx context.Context) ([]*models.Dataset, error) {
	return s.datasetRepo.List(ctx)
}

func (s *datasetService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.datasetRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.locks.Forget(id)
	return nil
}

func (s *datasetService) SetJoins(ctx context.Context, id uuid.UUID, joins []*models.JoinConfiguration) (*models.Dataset, error) {
	dataset, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if dataset.Status != models.DatasetStatusReady && dataset.Status != models.DatasetStatusMerged {
		return nil, &apperrors.InvalidStateTransitionError{From: string(dataset.Status), To: string(models.DatasetStatusReady)}
	}

	for _, j := range joins {
		if !models.IsValidJoinType(j.JoinType) {
			return nil, fmt.Errorf("invalid join type %q", j.JoinType)
		}
	}

	// Validation assigns execution order; dataset state is untouched if it
	// fails, so a bad graph can be corrected and resubmitted.
	plan, err := s.validator.Validate(dataset.Files, joins)
	if err != nil {
		return nil, err
	}

	if err := s.joinRepo.Replace(ctx, id, plan.Ordered); err != nil {
		return nil, err
	}
	dataset.Joins = plan.Ordered
	return dataset, nil
}

func (s *datasetService) Preview(ctx context.Context, id uuid.UUID, limit int) (*MergeResult, error) {
	if limit <= 0 {
		limit = s.limits.PreviewRows
	}

	if !s.locks.TryAcquirePreview(id) {
		return nil, fmt.Errorf("dataset %s: %w", id, apperrors.ErrMergeInProgress)
	}
	defer s.locks.ReleasePreview(id)

	dataset, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.runMerge(ctx, dataset, MergeOptions{MaxRows: s.limits.MergeMaxRows, Limit: limit})
}

func (s *datasetService) Merge(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	if !s.locks.TryAcquireMerge(id) {
		return nil, fmt.Errorf("dataset %s: %w", id, apperrors.ErrMergeInProgress)
	}
	defer s.locks.ReleaseMerge(id)

	dataset, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if dataset.Status != models.DatasetStatusReady && dataset.Status != models.DatasetStatusMerged {
		return nil, &apperrors.InvalidStateTransitionError{From: string(dataset.Status), To: string(models.DatasetStatusMerged)}
	}

	// Most merge failures leave the dataset in its current state so the
	// joins can be adjusted and the merge retried. Blowing the row cap is
	// unrecoverable for this configuration and marks the dataset failed.
	result, err := s.runMerge(ctx, dataset, MergeOptions{MaxRows: s.limits.MergeMaxRows})
	if err != nil {
		if errors.Is(err, apperrors.ErrMergeCapacity) {
			msg := err.Error()
			if _, failErr := s.failDataset(ctx, dataset, msg); failErr != nil {
				s.logger.Error("failed to mark dataset failed", zap.Error(failErr))
			}
		}
		return nil, err
	}

	sample := result.Rows
	if len(sample) > s.limits.PreviewRows {
		sample = sample[:s.limits.PreviewRows]
	}
	if err := s.datasetRepo.UpdateMergeResult(ctx, id, result.Headers, result.RowCount, sample, result.Warnings); err != nil {
		return nil, err
	}
	if dataset.Status != models.DatasetStatusMerged {
		if err := s.transition(ctx, dataset, models.DatasetStatusMerged, nil); err != nil {
			return nil, err
		}
	}

	dataset.MergedHeaders = result.Headers
	dataset.MergedRowCount = &result.RowCount
	dataset.MergedSample = sample
	dataset.MergedWarnings = result.Warnings

	s.logger.Info("dataset merged",
		zap.String("dataset_id", id.String()),
		zap.Int64("rows", result.RowCount),
		zap.Int("columns", len(result.Headers)),
		zap.Int("warnings", len(result.Warnings)))

	return dataset, nil
}

func (s *datasetService) Export(ctx context.Context, id uuid.UUID, format ExportFormat, w io.Writer) (string, error) {
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatXLSX {
		return "", fmt.Errorf("unsupported export format %q", format)
	}

	if !s.locks.TryAcquirePreview(id) {
		return "", fmt.Errorf("dataset %s: %w", id, apperrors.ErrMergeInProgress)
	}
	defer s.locks.ReleasePreview(id)

	dataset, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if dataset.Status != models.DatasetStatusMerged && dataset.Status != models.DatasetStatusSaved {
		return "", fmt.Errorf("dataset %s is %s, merge it before exporting", id, dataset.Status)
	}

	// Exports re-run the merge from the stored raw files so the download
	// always reflects the current joins.
	result, err := s.runMerge(ctx, dataset, MergeOptions{MaxRows: s.limits.MergeMaxRows})
	if err != nil {
		return "", err
	}

	fileName := fmt.Sprintf("%s.%s", sanitizeFileName(dataset.Name), format)
	switch format {
	case ExportFormatXLSX:
		err = s.exporter.WriteXLSX(w, result.Headers, result.Rows)
	default:
		err = s.exporter.WriteCSV(w, result.Headers, result.Rows)
	}
	if err != nil {
		return "", err
	}
	return fileName, nil
}

func (s *datasetService) UseForImport(ctx context.Context, id uuid.UUID, targetModel string) (*models.ImportJob, error) {
	if targetModel == "" {
		return nil, fmt.Errorf("target model is required")
	}

	dataset, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !dataset.Status.CanTransitionTo(models.DatasetStatusSaved) {
		return nil, &apperrors.InvalidStateTransitionError{From: string(dataset.Status), To: string(models.DatasetStatusSaved)}
	}

	rowCount := int64(0)
	if dataset.MergedRowCount != nil {
		rowCount = *dataset.MergedRowCount
	}
	headers := dataset.MergedHeaders

	// Only a bounded sample of the merge is persisted, so the full table is
	// re-merged from the stored raw files before handing it to the pipeline.
	var mergedRows [][]string
	if s.importer != nil {
		if !s.locks.TryAcquirePreview(id) {
			return nil, fmt.Errorf("dataset %s: %w", id, apperrors.ErrMergeInProgress)
		}
		result, err := s.runMerge(ctx, dataset, MergeOptions{MaxRows: s.limits.MergeMaxRows})
		s.locks.ReleasePreview(id)
		if err != nil {
			return nil, err
		}
		headers = result.Headers
		mergedRows = result.Rows
		rowCount = result.RowCount
	}

	job := &models.ImportJob{
		DatasetID:   id,
		TargetModel: targetModel,
		Status:      models.ImportJobStatusPending,
		RowCount:    rowCount,
	}

	if err := s.transition(ctx, dataset, models.DatasetStatusSaved, nil); err != nil {
		return nil, err
	}
	if err := s.importRepo.Create(ctx, job); err != nil {
		return nil, err
	}

	if s.importer == nil {
		return job, nil
	}

	externalID, err := s.importer.Submit(ctx, importer.SubmitRequest{
		DatasetID:   id,
		DatasetName: dataset.Name,
		TargetModel: targetModel,
		Headers:     headers,
		Rows:        mergedRows,
		RowCount:    rowCount,
	})
	if err != nil {
		msg := err.Error()
		job.Status = models.ImportJobStatusFailed
		job.Error = &msg
		if updateErr := s.importRepo.UpdateStatus(ctx, job.ID, job.Status, nil, &msg); updateErr != nil {
			s.logger.Error("failed to record import failure", zap.Error(updateErr))
		}
		return job, nil
	}

	job.Status = models.ImportJobStatusSubmitted
	job.ExternalJobID = &externalID
	if err := s.importRepo.UpdateStatus(ctx, job.ID, job.Status, &externalID, nil); err != nil {
		return nil, err
	}
	return job, nil
}

// runMerge parses the stored files and applies the dataset's join plan.
func (s *datasetService) runMerge(ctx context.Context, dataset *models.Dataset, opts MergeOptions) (*MergeResult, error) {
	if len(dataset.Files) == 0 {
		return nil, fmt.Errorf("dataset %s has no files", dataset.ID)
	}
	if len(dataset.Files) > 1 && len(dataset.Joins) == 0 {
		return nil, fmt.Errorf("dataset %s has multiple files but no joins configured", dataset.ID)
	}

	plan, err := s.validator.Validate(dataset.Files, dataset.Joins)
	if err != nil {
		return nil, err
	}

	tables := make(map[uuid.UUID]*MergeTable, len(dataset.Files))
	for _, f := range dataset.Files {
		table, err := s.loadTable(ctx, f)
		if err != nil {
			return nil, err
		}
		tables[f.ID] = table
	}

	return s.executor.Execute(ctx, plan, tables, opts)
}

// loadTable re-parses a file's raw bytes into all of its rows.
func (s *datasetService) loadTable(ctx context.Context, f *models.UploadedFile) (*MergeTable, error) {
	content, err := s.fileRepo.GetContent(ctx, f.ID)
	if err != nil {
		return nil, err
	}

	rows, err := ingest.Open(f.FileType, content)
	if err != nil {
		return nil, &apperrors.IngestError{File: f.FileName, Cause: err}
	}
	defer rows.Close()

	var all [][]string
	for {
		row, err := rows.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &apperrors.IngestError{File: f.FileName, Cause: err}
		}
		all = append(all, row)
	}

	types := make(map[string]models.ColumnType, len(f.Columns))
	for _, c := range f.Columns {
		types[c.Name] = c.Type
	}

	return &MergeTable{
		FileID:  f.ID,
		Alias:   f.Alias,
		Headers: rows.Headers(),
		Rows:    all,
		Types:   types,
	}, nil
}

// transition moves the dataset through its lifecycle, enforcing the allowed
// state machine.
func (s *datasetService) transition(ctx context.Context, dataset *models.Dataset, to models.DatasetStatus, errorMessage *string) error {
	if !dataset.Status.CanTransitionTo(to) {
		return &apperrors.InvalidStateTransitionError{From: string(dataset.Status), To: string(to)}
	}
	if err := s.datasetRepo.UpdateStatus(ctx, dataset.ID, to, errorMessage); err != nil {
		return err
	}
	dataset.Status = to
	dataset.ErrorMessage = errorMessage
	return nil
}

// failDataset records a failure message and returns the failed dataset.
func (s *datasetService) failDataset(ctx context.Context, dataset *models.Dataset, message string) (*models.Dataset, error) {
	if err := s.transition(ctx, dataset, models.DatasetStatusFailed, &message); err != nil {
		return nil, err
	}
	s.logger.Warn("dataset failed",
		zap.String("dataset_id", dataset.ID.String()),
		zap.String("reason", message))
	return dataset, nil
}

var aliasCleanPattern = regexp.MustCompile(`[^a-z0-9]+`)

// deriveAliases snake-cases each file's base name and deduplicates with
// numeric suffixes, so merge output columns have stable prefixes.
func deriveAliases(profiles []*FileProfile) []string {
	aliases := make([]string, len(profiles))
	taken := make(map[string]int, len(profiles))
	for i, p := range profiles {
		base := strings.TrimSuffix(p.FileName, filepath.Ext(p.FileName))
		alias := strings.Trim(aliasCleanPattern.ReplaceAllString(strings.ToLower(base), "_"), "_")
		if alias == "" {
			alias = fmt.Sprintf("file_%d", i+1)
		}
		if n := taken[alias]; n > 0 {
			taken[alias] = n + 1
			alias = fmt.Sprintf("%s_%d", alias, n+1)
		}
		taken[alias]++
		aliases[i] = alias
	}
	return aliases
}

func sanitizeFileName(name string) string {
	cleaned := strings.Trim(aliasCleanPattern.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if cleaned == "" {
		return "dataset"
	}
	return cleaned
}
