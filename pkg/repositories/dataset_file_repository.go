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

// DatasetFileRepository provides data access for uploaded files. File
// metadata and profiles are stored as jsonb; the raw upload bytes live in a
// bytea column and are fetched separately since they can be large.
type DatasetFileRepository interface {
	Create(ctx context.Context, file *models.UploadedFile, content []byte) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.UploadedFile, error)
	ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]*models.UploadedFile, error)
	GetContent(ctx context.Context, id uuid.UUID) ([]byte, error)
}

type datasetFileRepository struct {
	db *database.DB
}

// NewDatasetFileRepository creates a new DatasetFileRepository.
func NewDatasetFileRepository(db *database.DB) DatasetFileRepository {
	return &datasetFileRepository{db: db}
}

var _ DatasetFileRepository = (*datasetFileRepository)(nil)

const fileColumns = `id, dataset_id, file_name, file_type, alias, ordinal_position,
	headers, sample_rows, row_count, columns, created_at`

func (r *datasetFileRepository) Create(ctx context.Context, file *models.UploadedFile, content []byte) error {
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	file.CreatedAt = time.Now()

	headersJSON, err := json.Marshal(file.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	sampleJSON, err := json.Marshal(file.SampleRows)
	if err != nil {
		return fmt.Errorf("marshal sample rows: %w", err)
	}
	columnsJSON, err := json.Marshal(file.Columns)
	if err != nil {
		return fmt.Errorf("marshal columns: %w", err)
	}

	query := `
		INSERT INTO dataset_files (
			id, dataset_id, file_name, file_type, alias, ordinal_position,
			headers, sample_rows, row_count, columns, content, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = r.db.Exec(ctx, query,
		file.ID, file.DatasetID, file.FileName, file.FileType, file.Alias, file.OrdinalPosition,
		headersJSON, sampleJSON, file.RowCount, columnsJSON, content, file.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create dataset file: %w", err)
	}
	return nil
}

func (r *datasetFileRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.UploadedFile, error) {
	query := `SELECT ` + fileColumns + ` FROM dataset_files WHERE id = $1`

	file, err := scanUploadedFile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("file %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get dataset file: %w", err)
	}
	return file, nil
}

func (r *datasetFileRepository) ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]*models.UploadedFile, error) {
	query := `SELECT ` + fileColumns + ` FROM dataset_files WHERE dataset_id = $1 ORDER BY ordinal_position`

	rows, err := r.db.Query(ctx, query, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dataset files: %w", err)
	}
	defer rows.Close()

	var files []*models.UploadedFile
	for rows.Next() {
		f, err := scanUploadedFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dataset files: %w", err)
	}
	return files, nil
}

func (r *datasetFileRepository) GetContent(ctx context.Context, id uuid.UUID) ([]byte, error) {
	var content []byte
	err := r.db.QueryRow(ctx, `SELECT content FROM dataset_files WHERE id = $1`, id).Scan(&content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("file %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get file content: %w", err)
	}
	return content, nil
}

func scanUploadedFile(row pgx.Row) (*models.UploadedFile, error) {
	var f models.UploadedFile
	var headersJSON, sampleJSON, columnsJSON []byte

	err := row.Scan(
		&f.ID, &f.DatasetID, &f.FileName, &f.FileType, &f.Alias, &f.OrdinalPosition,
		&headersJSON, &sampleJSON, &f.RowCount, &columnsJSON, &f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(headersJSON, &f.Headers); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}
	if err := json.Unmarshal(sampleJSON, &f.SampleRows); err != nil {
		return nil, fmt.Errorf("unmarshal sample rows: %w", err)
	}
	if err := json.Unmarshal(columnsJSON, &f.Columns); err != nil {
		return nil, fmt.Errorf("unmarshal columns: %w", err)
	}

	return &f, nil
}
