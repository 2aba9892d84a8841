package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tabularhq/merge-engine/pkg/adapters/importer"
	"github.com/tabularhq/merge-engine/pkg/apperrors"
	"github.com/tabularhq/merge-engine/pkg/models"
	"github.com/tabularhq/merge-engine/pkg/repositories"
	"github.com/tabularhq/merge-engine/pkg/workpool"
)

// ============================================================================
// In-memory repository mocks
// ============================================================================

type mockDatasetRepo struct {
	mu       sync.Mutex
	datasets map[uuid.UUID]models.Dataset
}

func newMockDatasetRepo() *mockDatasetRepo {
	return &mockDatasetRepo{datasets: make(map[uuid.UUID]models.Dataset)}
}

func (r *mockDatasetRepo) Create(ctx context.Context, dataset *models.Dataset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dataset.ID == uuid.Nil {
		dataset.ID = uuid.New()
	}
	if dataset.Status == "" {
		dataset.Status = models.DatasetStatusDraft
	}
	dataset.CreatedAt = time.Now()
	stored := *dataset
	stored.Files, stored.Joins = nil, nil
	r.datasets[dataset.ID] = stored
	return nil
}

func (r *mockDatasetRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.datasets[id]
	if !ok {
		return nil, fmt.Errorf("dataset %s: %w", id, apperrors.ErrNotFound)
	}
	copy := d
	return &copy, nil
}

func (r *mockDatasetRepo) List(ctx context.Context) ([]*models.Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Dataset, 0, len(r.datasets))
	for _, d := range r.datasets {
		copy := d
		out = append(out, &copy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *mockDatasetRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.DatasetStatus, errorMessage *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.datasets[id]
	if !ok {
		return fmt.Errorf("dataset %s: %w", id, apperrors.ErrNotFound)
	}
	d.Status = status
	d.ErrorMessage = errorMessage
	r.datasets[id] = d
	return nil
}

func (r *mockDatasetRepo) UpdateAnalysis(ctx context.Context, id uuid.UUID, analysis *models.AIAnalysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.datasets[id]
	if !ok {
		return fmt.Errorf("dataset %s: %w", id, apperrors.ErrNotFound)
	}
	d.Analysis = analysis
	r.datasets[id] = d
	return nil
}

func (r *mockDatasetRepo) UpdateMergeResult(ctx context.Context, id uuid.UUID, headers []string, rowCount int64, sample [][]string, warnings []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.datasets[id]
	if !ok {
		return fmt.Errorf("dataset %s: %w", id, apperrors.ErrNotFound)
	}
	d.MergedHeaders = headers
	d.MergedRowCount = &rowCount
	d.MergedSample = sample
	d.MergedWarnings = warnings
	r.datasets[id] = d
	return nil
}

func (r *mockDatasetRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.datasets[id]; !ok {
		return fmt.Errorf("dataset %s: %w", id, apperrors.ErrNotFound)
	}
	delete(r.datasets, id)
	return nil
}

type storedFile struct {
	file    models.UploadedFile
	content []byte
}

type mockFileRepo struct {
	mu    sync.Mutex
	files map[uuid.UUID]storedFile
}

func newMockFileRepo() *mockFileRepo {
	return &mockFileRepo{files: make(map[uuid.UUID]storedFile)}
}

func (r *mockFileRepo) Create(ctx context.Context, file *models.UploadedFile, content []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	file.CreatedAt = time.Now()
	r.files[file.ID] = storedFile{file: *file, content: content}
	return nil
}

func (r *mockFileRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.UploadedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sf, ok := r.files[id]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", id, apperrors.ErrNotFound)
	}
	copy := sf.file
	return &copy, nil
}

func (r *mockFileRepo) ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]*models.UploadedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.UploadedFile
	for _, sf := range r.files {
		if sf.file.DatasetID == datasetID {
			copy := sf.file
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrdinalPosition < out[j].OrdinalPosition })
	return out, nil
}

func (r *mockFileRepo) GetContent(ctx context.Context, id uuid.UUID) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sf, ok := r.files[id]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", id, apperrors.ErrNotFound)
	}
	return sf.content, nil
}

type mockJoinRepo struct {
	mu    sync.Mutex
	joins map[uuid.UUID][]*models.JoinConfiguration
}

func newMockJoinRepo() *mockJoinRepo {
	return &mockJoinRepo{joins: make(map[uuid.UUID][]*models.JoinConfiguration)}
}

func (r *mockJoinRepo) Replace(ctx context.Context, datasetID uuid.UUID, joins []*models.JoinConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := make([]*models.JoinConfiguration, len(joins))
	for i, j := range joins {
		if j.ID == uuid.Nil {
			j.ID = uuid.New()
		}
		j.DatasetID = datasetID
		copy := *j
		stored[i] = &copy
	}
	r.joins[datasetID] = stored
	return nil
}

func (r *mockJoinRepo) ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]*models.JoinConfiguration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.JoinConfiguration, len(r.joins[datasetID]))
	for i, j := range r.joins[datasetID] {
		copy := *j
		out[i] = &copy
	}
	return out, nil
}

func (r *mockJoinRepo) DeleteByDataset(ctx context.Context, datasetID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.joins, datasetID)
	return nil
}

type mockImportRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]models.ImportJob
}

func newMockImportRepo() *mockImportRepo {
	return &mockImportRepo{jobs: make(map[uuid.UUID]models.ImportJob)}
}

func (r *mockImportRepo) Create(ctx context.Context, job *models.ImportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = time.Now()
	r.jobs[job.ID] = *job
	return nil
}

func (r *mockImportRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string, externalJobID *string, jobErr *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, apperrors.ErrNotFound)
	}
	j.Status = status
	j.ExternalJobID = externalJobID
	j.Error = jobErr
	r.jobs[id] = j
	return nil
}

func (r *mockImportRepo) ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]*models.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ImportJob
	for _, j := range r.jobs {
		if j.DatasetID == datasetID {
			copy := j
			out = append(out, &copy)
		}
	}
	return out, nil
}

type mockImporterClient struct {
	SubmitFunc  func(ctx context.Context, req importer.SubmitRequest) (string, error)
	SubmitCalls int
}

func (m *mockImporterClient) Submit(ctx context.Context, req importer.SubmitRequest) (string, error) {
	m.SubmitCalls++
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, req)
	}
	return "job-1", nil
}

var (
	_ repositories.DatasetRepository           = (*mockDatasetRepo)(nil)
	_ repositories.DatasetFileRepository       = (*mockFileRepo)(nil)
	_ repositories.JoinConfigurationRepository = (*mockJoinRepo)(nil)
	_ repositories.ImportJobRepository         = (*mockImportRepo)(nil)
	_ importer.Client                          = (*mockImporterClient)(nil)
)

// ============================================================================
// Harness
// ============================================================================

type datasetHarness struct {
	service     DatasetService
	datasetRepo *mockDatasetRepo
	fileRepo    *mockFileRepo
	joinRepo    *mockJoinRepo
	importRepo  *mockImportRepo
	locks       *LockRegistry
}

func newDatasetHarness(t *testing.T, importClient importer.Client) *datasetHarness {
	t.Helper()
	return newDatasetHarnessWithLimits(t, importClient,
		DatasetLimits{PreviewRows: 100, MergeMaxRows: 1_000_000, SampleRows: 50})
}

func newDatasetHarnessWithLimits(t *testing.T, importClient importer.Client, limits DatasetLimits) *datasetHarness {
	t.Helper()
	logger := zap.NewNop()
	pool := workpool.New(workpool.Config{MaxConcurrent: 2}, logger)

	h := &datasetHarness{
		datasetRepo: newMockDatasetRepo(),
		fileRepo:    newMockFileRepo(),
		joinRepo:    newMockJoinRepo(),
		importRepo:  newMockImportRepo(),
		locks:       NewLockRegistry(),
	}
	h.service = NewDatasetService(
		h.datasetRepo, h.fileRepo, h.joinRepo, h.importRepo,
		NewProfilerService(50, pool, logger),
		NewAnalysisService(nil, NewRuleEngine(logger), time.Second, logger),
		NewJoinGraphValidator(logger),
		NewMergeExecutor(logger),
		NewExporter(),
		importClient,
		h.locks,
		limits,
		logger,
	)
	return h
}

func employeesCSV(rows int) []byte {
	var b strings.Builder
	b.WriteString("emp_id,name\n")
	for i := 1; i <= rows; i++ {
		fmt.Fprintf(&b, "%d,employee %d\n", i, i)
	}
	return []byte(b.String())
}

func salariesCSV(rows int) []byte {
	var b strings.Builder
	b.WriteString("employee_id,amount\n")
	for i := 1; i <= rows; i++ {
		fmt.Fprintf(&b, "%d,%d00\n", i, 40+i)
	}
	return []byte(b.String())
}

// createReadyDataset ingests the scenario files and confirms the suggested
// emp_id to employee_id join.
func createReadyDataset(t *testing.T, h *datasetHarness) *models.Dataset {
	t.Helper()
	ctx := context.Background()

	dataset, err := h.service.Create(ctx, "payroll", nil, []FileUpload{
		{FileName: "employees.csv", Content: employeesCSV(100)},
		{FileName: "salaries.csv", Content: salariesCSV(90)},
	})
	require.NoError(t, err)
	require.Equal(t, models.DatasetStatusReady, dataset.Status)

	var employees, salaries *models.UploadedFile
	for _, f := range dataset.Files {
		switch f.FileName {
		case "employees.csv":
			employees = f
		case "salaries.csv":
			salaries = f
		}
	}
	require.NotNil(t, employees)
	require.NotNil(t, salaries)

	dataset, err = h.service.SetJoins(ctx, dataset.ID, []*models.JoinConfiguration{{
		LeftFileID:  employees.ID,
		LeftColumn:  "emp_id",
		RightFileID: salaries.ID,
		RightColumn: "employee_id",
		JoinType:    models.JoinTypeInner,
	}})
	require.NoError(t, err)
	return dataset
}

// ============================================================================
// Tests
// ============================================================================

func TestDatasetService_CreateProfilesAndAnalyzes(t *testing.T) {
	h := newDatasetHarness(t, nil)
	ctx := context.Background()

	dataset, err := h.service.Create(ctx, "payroll", nil, []FileUpload{
		{FileName: "employees.csv", Content: employeesCSV(100)},
		{FileName: "salaries.csv", Content: salariesCSV(90)},
	})
	require.NoError(t, err)

	assert.Equal(t, models.DatasetStatusReady, dataset.Status)
	require.Len(t, dataset.Files, 2)
	assert.Equal(t, "employees", dataset.Files[0].Alias)
	assert.Equal(t, "salaries", dataset.Files[1].Alias)
	assert.Equal(t, int64(100), dataset.Files[0].RowCount)
	assert.Len(t, dataset.Files[0].SampleRows, 50)

	require.NotNil(t, dataset.Analysis)
	assert.Equal(t, models.AnalysisModeRuleBased, dataset.Analysis.Mode)
	require.NotEmpty(t, dataset.Analysis.JoinSuggestions)
	assert.GreaterOrEqual(t, dataset.Analysis.JoinSuggestions[0].Confidence, 0.5)
}

func TestDatasetService_CreateEmptyFileFailsDataset(t *testing.T) {
	h := newDatasetHarness(t, nil)
	ctx := context.Background()

	dataset, err := h.service.Create(ctx, "payroll", nil, []FileUpload{
		{FileName: "employees.csv", Content: employeesCSV(10)},
		{FileName: "empty.csv", Content: []byte("a,b\n")},
	})
	require.NoError(t, err)

	assert.Equal(t, models.DatasetStatusFailed, dataset.Status)
	require.NotNil(t, dataset.ErrorMessage)
	assert.Contains(t, *dataset.ErrorMessage, "empty.csv")

	// The stored dataset carries the same failure.
	stored, err := h.service.Get(ctx, dataset.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DatasetStatusFailed, stored.Status)
}

func TestDatasetService_CreateUnsupportedExtension(t *testing.T) {
	h := newDatasetHarness(t, nil)
	ctx := context.Background()

	dataset, err := h.service.Create(ctx, "docs", nil, []FileUpload{
		{FileName: "notes.pdf", Content: []byte("%PDF-1.4")},
	})
	require.NoError(t, err)
	assert.Equal(t, models.DatasetStatusFailed, dataset.Status)
	require.NotNil(t, dataset.ErrorMessage)
}

func TestDatasetService_SetJoinsDisconnectedLeavesStateUntouched(t *testing.T) {
	h := newDatasetHarness(t, nil)
	ctx := context.Background()

	dataset, err := h.service.Create(ctx, "payroll", nil, []FileUpload{
		{FileName: "employees.csv", Content: employeesCSV(100)},
		{FileName: "salaries.csv", Content: salariesCSV(90)},
		{FileName: "lookup.csv", Content: []byte("code,label\nA,alpha\n")},
	})
	require.NoError(t, err)
	require.Equal(t, models.DatasetStatusReady, dataset.Status)

	var employees, salaries *models.UploadedFile
	for _, f := range dataset.Files {
		switch f.FileName {
		case "employees.csv":
			employees = f
		case "salaries.csv":
			salaries = f
		}
	}

	_, err = h.service.SetJoins(ctx, dataset.ID, []*models.JoinConfiguration{{
		LeftFileID:  employees.ID,
		LeftColumn:  "emp_id",
		RightFileID: salaries.ID,
		RightColumn: "employee_id",
		JoinType:    models.JoinTypeInner,
	}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrDisconnectedFile))

	var discErr *apperrors.DisconnectedFileError
	require.True(t, errors.As(err, &discErr))
	assert.Equal(t, "lookup.csv", discErr.File)

	stored, err := h.service.Get(ctx, dataset.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DatasetStatusReady, stored.Status)
	assert.Empty(t, stored.Joins)
}

func TestDatasetService_PreviewIsIdempotent(t *testing.T) {
	h := newDatasetHarness(t, nil)
	ctx := context.Background()
	dataset := createReadyDataset(t, h)

	first, err := h.service.Preview(ctx, dataset.ID, 0)
	require.NoError(t, err)
	second, err := h.service.Preview(ctx, dataset.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, first.Headers, second.Headers)
	assert.Equal(t, first.Rows, second.Rows)
	assert.Equal(t, first.RowCount, second.RowCount)

	// Default preview limit bounds the rows, not the count.
	assert.Equal(t, int64(90), first.RowCount)
	assert.LessOrEqual(t, len(first.Rows), 100)

	// Previews never advance the lifecycle.
	stored, err := h.service.Get(ctx, dataset.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DatasetStatusReady, stored.Status)
}

func TestDatasetService_PreviewCustomLimit(t *testing.T) {
	h := newDatasetHarness(t, nil)
	ctx := context.Background()
	dataset := createReadyDataset(t, h)

	result, err := h.service.Preview(ctx, dataset.ID, 5)
	require.NoError(t, err)
	assert.Len(t, result.Rows, 5)
	assert.Equal(t, int64(90), result.RowCount)
}

func TestDatasetService_MergeScenario(t *testing.T) {
	h := newDatasetHarness(t, nil)
	ctx := context.Background()
	dataset := createReadyDataset(t, h)

	merged, err := h.service.Merge(ctx, dataset.ID)
	require.NoError(t, err)

	assert.Equal(t, models.DatasetStatusMerged, merged.Status)
	require.NotNil(t, merged.MergedRowCount)
	assert.Equal(t, int64(90), *merged.MergedRowCount)
	assert.Equal(t, []string{"emp_id", "name", "employee_id", "amount"}, merged.MergedHeaders)
	assert.LessOrEqual(t, len(merged.MergedSample), 100)

	// Re-merging an already merged dataset is allowed.
	again, err := h.service.Merge(ctx, dataset.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DatasetStatusMerged, again.Status)
}

func TestDatasetService_MergeRecordsWarnings(t *testing.T) {
	h := newDatasetHarness(t, nil)
	ctx := context.Background()

	// Salary keys start at 1001, so the inner join matches nothing.
	var b strings.Builder
	b.WriteString("employee_id,amount\n")
	for i := 1; i <= 20; i++ {
		fmt.Fprintf(&b, "%d,%d00\n", 1000+i, 40+i)
	}

	dataset, err := h.service.Create(ctx, "disjoint", nil, []FileUpload{
		{FileName: "employees.csv", Content: employeesCSV(20)},
		{FileName: "salaries.csv", Content: []byte(b.String())},
	})
	require.NoError(t, err)

	var employees, salaries *models.UploadedFile
	for _, f := range dataset.Files {
		switch f.FileName {
		case "employees.csv":
			employees = f
		case "salaries.csv":
			salaries = f
		}
	}
	require.NotNil(t, employees)
	require.NotNil(t, salaries)

	_, err = h.service.SetJoins(ctx, dataset.ID, []*models.JoinConfiguration{{
		LeftFileID:  employees.ID,
		LeftColumn:  "emp_id",
		RightFileID: salaries.ID,
		RightColumn: "employee_id",
		JoinType:    models.JoinTypeInner,
	}})
	require.NoError(t, err)

	merged, err := h.service.Merge(ctx, dataset.ID)
	require.NoError(t, err)
	require.NotNil(t, merged.MergedRowCount)
	assert.Equal(t, int64(0), *merged.MergedRowCount)
	require.NotEmpty(t, merged.MergedWarnings)
	assert.Contains(t, merged.MergedWarnings[0], "produced no rows")

	// Warnings survive a reload.
	stored, err := h.service.Get(ctx, dataset.ID)
	require.NoError(t, err)
	assert.Equal(t, merged.MergedWarnings, stored.MergedWarnings)
}

func TestDatasetService_MergeOverCapacityFailsDataset(t *testing.T) {
	h := newDatasetHarnessWithLimits(t, nil,
		DatasetLimits{PreviewRows: 100, MergeMaxRows: 50, SampleRows: 50})
	ctx := context.Background()
	dataset := createReadyDataset(t, h)

	_, err := h.service.Merge(ctx, dataset.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrMergeCapacity))

	stored, err := h.service.Get(ctx, dataset.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DatasetStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "over the limit")
}

func TestDatasetService_MergeRequiresReadyState(t *testing.T) {
	h := newDatasetHarness(t, nil)
	ctx := context.Background()

	dataset := &models.Dataset{Name: "stuck", Status: models.DatasetStatusDraft}
	require.NoError(t, h.datasetRepo.Create(ctx, dataset))

	_, err := h.service.Merge(ctx, dataset.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidStateTransition))
}

func TestDatasetService_MergeFailsFastWhenBusy(t *testing.T) {
	h := newDatasetHarness(t, nil)
	ctx := context.Background()
	dataset := createReadyDataset(t, h)

	require.True(t, h.locks.TryAcquireMerge(dataset.ID))
	defer h.locks.ReleaseMerge(dataset.ID)

	_, err := h.service.Merge(ctx, dataset.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrMergeInProgress))

	_, err = h.service.Preview(ctx, dataset.ID, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrMergeInProgress))
}

func TestDatasetService_SingleFileMergePassesThrough(t *testing.T) {
	h := newDatasetHarness(t, nil)
	ctx := context.Background()

	dataset, err := h.service.Create(ctx, "solo", nil, []FileUpload{
		{FileName: "employees.csv", Content: employeesCSV(10)},
	})
	require.NoError(t, err)
	require.Equal(t, models.DatasetStatusReady, dataset.Status)

	merged, err := h.service.Merge(ctx, dataset.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"emp_id", "name"}, merged.MergedHeaders)
	require.NotNil(t, merged.MergedRowCount)
	assert.Equal(t, int64(10), *merged.MergedRowCount)
}

func TestDatasetService_ExportRoundTrip(t *testing.T) {
	h := newDatasetHarness(t, nil)
	ctx := context.Background()
	dataset := createReadyDataset(t, h)

	_, err := h.service.Merge(ctx, dataset.ID)
	require.NoError(t, err)

	var buf bytes.Buffer
	fileName, err := h.service.Export(ctx, dataset.ID, ExportFormatCSV, &buf)
	require.NoError(t, err)
	assert.Equal(t, "payroll.csv", fileName)

	// The exported CSV re-parses to the same table.
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 91) // header + 90 rows
	assert.Equal(t, []string{"emp_id", "name", "employee_id", "amount"}, records[0])
	assert.Equal(t, []string{"1", "employee 1", "1", "4100"}, records[1])
}

func TestDatasetService_ExportRequiresMerge(t *testing.T) {
	h := newDatasetHarness(t, nil)
	ctx := context.Background()
	dataset := createReadyDataset(t, h)

	var buf bytes.Buffer
	_, err := h.service.Export(ctx, dataset.ID, ExportFormatCSV, &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge it before exporting")
}

func TestDatasetService_UseForImportWithoutPipeline(t *testing.T) {
	h := newDatasetHarness(t, nil)
	ctx := context.Background()
	dataset := createReadyDataset(t, h)

	_, err := h.service.Merge(ctx, dataset.ID)
	require.NoError(t, err)

	job, err := h.service.UseForImport(ctx, dataset.ID, "employees")
	require.NoError(t, err)
	assert.Equal(t, models.ImportJobStatusPending, job.Status)
	assert.Equal(t, int64(90), job.RowCount)

	stored, err := h.service.Get(ctx, dataset.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DatasetStatusSaved, stored.Status)
}

func TestDatasetService_UseForImportSubmitsToPipeline(t *testing.T) {
	client := &mockImporterClient{
		SubmitFunc: func(ctx context.Context, req importer.SubmitRequest) (string, error) {
			assert.Equal(t, "payroll", req.DatasetName)
			assert.Equal(t, int64(90), req.RowCount)
			// The full merged table rides along, not just its shape.
			assert.Equal(t, []string{"emp_id", "name", "employee_id", "amount"}, req.Headers)
			require.Len(t, req.Rows, 90)
			assert.Equal(t, []string{"1", "employee 1", "1", "4100"}, req.Rows[0])
			return "imp_42", nil
		},
	}
	h := newDatasetHarness(t, client)
	ctx := context.Background()
	dataset := createReadyDataset(t, h)

	_, err := h.service.Merge(ctx, dataset.ID)
	require.NoError(t, err)

	job, err := h.service.UseForImport(ctx, dataset.ID, "employees")
	require.NoError(t, err)
	assert.Equal(t, models.ImportJobStatusSubmitted, job.Status)
	require.NotNil(t, job.ExternalJobID)
	assert.Equal(t, "imp_42", *job.ExternalJobID)
	assert.Equal(t, 1, client.SubmitCalls)
}

func TestDatasetService_UseForImportPipelineFailureRecorded(t *testing.T) {
	client := &mockImporterClient{
		SubmitFunc: func(ctx context.Context, req importer.SubmitRequest) (string, error) {
			return "", fmt.Errorf("pipeline rejected the dataset")
		},
	}
	h := newDatasetHarness(t, client)
	ctx := context.Background()
	dataset := createReadyDataset(t, h)

	_, err := h.service.Merge(ctx, dataset.ID)
	require.NoError(t, err)

	job, err := h.service.UseForImport(ctx, dataset.ID, "employees")
	require.NoError(t, err)
	assert.Equal(t, models.ImportJobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "pipeline rejected")

	// The dataset stays saved; the job records the failure.
	stored, err := h.service.Get(ctx, dataset.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DatasetStatusSaved, stored.Status)
}

func TestDatasetService_UseForImportRequiresMergedState(t *testing.T) {
	h := newDatasetHarness(t, nil)
	ctx := context.Background()
	dataset := createReadyDataset(t, h)

	_, err := h.service.UseForImport(ctx, dataset.ID, "employees")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidStateTransition))
}

func TestDatasetService_DeleteForgetsLocks(t *testing.T) {
	h := newDatasetHarness(t, nil)
	ctx := context.Background()
	dataset := createReadyDataset(t, h)

	require.NoError(t, h.service.Delete(ctx, dataset.ID))
	_, err := h.service.Get(ctx, dataset.ID)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}
