package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tabularhq/merge-engine/pkg/database"
	"github.com/tabularhq/merge-engine/pkg/models"
)

// ImportJobRepository provides data access for downstream import jobs.
type ImportJobRepository interface {
	Create(ctx context.Context, job *models.ImportJob) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, externalJobID *string, jobErr *string) error
	ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]*models.ImportJob, error)
}

type importJobRepository struct {
	db *database.DB
}

// NewImportJobRepository creates a new ImportJobRepository.
func NewImportJobRepository(db *database.DB) ImportJobRepository {
	return &importJobRepository{db: db}
}

var _ ImportJobRepository = (*importJobRepository)(nil)

func (r *importJobRepository) Create(ctx context.Context, job *models.ImportJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = time.Now()
	if job.Status == "" {
		job.Status = models.ImportJobStatusPending
	}

	query := `
		INSERT INTO import_jobs (id, dataset_id, target_model, status, external_job_id, row_count, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		job.ID, job.DatasetID, job.TargetModel, job.Status, job.ExternalJobID, job.RowCount, job.Error, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create import job: %w", err)
	}
	return nil
}

func (r *importJobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, externalJobID *string, jobErr *string) error {
	query := `
		UPDATE import_jobs
		SET status = $2, external_job_id = $3, error = $4
		WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, id, status, externalJobID, jobErr); err != nil {
		return fmt.Errorf("failed to update import job: %w", err)
	}
	return nil
}

func (r *importJobRepository) ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]*models.ImportJob, error) {
	query := `
		SELECT id, dataset_id, target_model, status, external_job_id, row_count, error, created_at
		FROM import_jobs
		WHERE dataset_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query import jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ImportJob
	for rows.Next() {
		var j models.ImportJob
		if err := rows.Scan(&j.ID, &j.DatasetID, &j.TargetModel, &j.Status, &j.ExternalJobID, &j.RowCount, &j.Error, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan import job: %w", err)
		}
		jobs = append(jobs, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating import jobs: %w", err)
	}
	return jobs, nil
}
