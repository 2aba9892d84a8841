package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tabularhq/merge-engine/pkg/apperrors"
	"github.com/tabularhq/merge-engine/pkg/database"
	"github.com/tabularhq/merge-engine/pkg/models"
)

// DatasetRepository provides data access for datasets.
type DatasetRepository interface {
	Create(ctx context.Context, dataset *models.Dataset) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dataset, error)
	List(ctx context.Context) ([]*models.Dataset, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.DatasetStatus, errorMessage *string) error
	UpdateAnalysis(ctx context.Context, id uuid.UUID, analysis *models.AIAnalysis) error
	UpdateMergeResult(ctx context.Context, id uuid.UUID, headers []string, rowCount int64, sample [][]string, warnings []string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type datasetRepository struct {
	db *database.DB
}

// NewDatasetRepository creates a new DatasetRepository.
func NewDatasetRepository(db *database.DB) DatasetRepository {
	return &datasetRepository{db: db}
}

var _ DatasetRepository = (*datasetRepository)(nil)

func (r *datasetRepository) Create(ctx context.Context, dataset *models.Dataset) error {
	if dataset.ID == uuid.Nil {
		dataset.ID = uuid.New()
	}
	now := time.Now()
	dataset.CreatedAt = now
	dataset.UpdatedAt = &now
	if dataset.Status == "" {
		dataset.Status = models.DatasetStatusDraft
	}

	query := `
		INSERT INTO datasets (id, name, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query,
		dataset.ID, dataset.Name, dataset.Description, dataset.Status,
		dataset.CreatedAt, dataset.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create dataset: %w", err)
	}
	return nil
}

func (r *datasetRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	query := `
		SELECT id, name, description, status, merged_headers, merged_row_count,
		       merged_sample, merged_warnings, analysis, error_message, created_at, updated_at
		FROM datasets
		WHERE id = $1`

	dataset, err := scanDataset(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("dataset %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	return dataset, nil
}

func (r *datasetRepository) List(ctx context.Context) ([]*models.Dataset, error) {
	query := `
		SELECT id, name, description, status, merged_headers, merged_row_count,
		       merged_sample, merged_warnings, analysis, error_message, created_at, updated_at
		FROM datasets
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query datasets: %w", err)
	}
	defer rows.Close()

	var datasets []*models.Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating datasets: %w", err)
	}
	return datasets, nil
}

func (r *datasetRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.DatasetStatus, errorMessage *string) error {
	query := `
		UPDATE datasets
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, status, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to update dataset status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dataset %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *datasetRepository) UpdateAnalysis(ctx context.Context, id uuid.UUID, analysis *models.AIAnalysis) error {
	payload, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}

	query := `
		UPDATE datasets
		SET analysis = $2, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, payload)
	if err != nil {
		return fmt.Errorf("failed to update dataset analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dataset %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *datasetRepository) UpdateMergeResult(ctx context.Context, id uuid.UUID, headers []string, rowCount int64, sample [][]string, warnings []string) error {
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("marshal merged headers: %w", err)
	}
	sampleJSON, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal merged sample: %w", err)
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("marshal merged warnings: %w", err)
	}

	query := `
		UPDATE datasets
		SET merged_headers = $2, merged_row_count = $3, merged_sample = $4,
		    merged_warnings = $5, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, headersJSON, rowCount, sampleJSON, warningsJSON)
	if err != nil {
		return fmt.Errorf("failed to update merge result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dataset %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *datasetRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dataset %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func scanDataset(row pgx.Row) (*models.Dataset, error) {
	var d models.Dataset
	var mergedHeaders, mergedSample, mergedWarnings, analysis []byte

	err := row.Scan(
		&d.ID, &d.Name, &d.Description, &d.Status, &mergedHeaders, &d.MergedRowCount,
		&mergedSample, &mergedWarnings, &analysis, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(mergedHeaders) > 0 {
		if err := json.Unmarshal(mergedHeaders, &d.MergedHeaders); err != nil {
			return nil, fmt.Errorf("unmarshal merged headers: %w", err)
		}
	}
	if len(mergedSample) > 0 {
		if err := json.Unmarshal(mergedSample, &d.MergedSample); err != nil {
			return nil, fmt.Errorf("unmarshal merged sample: %w", err)
		}
	}
	if len(mergedWarnings) > 0 {
		if err := json.Unmarshal(mergedWarnings, &d.MergedWarnings); err != nil {
			return nil, fmt.Errorf("unmarshal merged warnings: %w", err)
		}
	}
	if len(analysis) > 0 {
		d.Analysis = &models.AIAnalysis{}
		if err := json.Unmarshal(analysis, d.Analysis); err != nil {
			return nil, fmt.Errorf("unmarshal analysis: %w", err)
		}
	}

	return &d, nil
}
