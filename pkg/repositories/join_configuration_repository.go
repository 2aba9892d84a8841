package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tabularhq/merge-engine/pkg/database"
	"github.com/tabularhq/merge-engine/pkg/models"
)

// JoinConfigurationRepository provides data access for confirmed joins.
type JoinConfigurationRepository interface {
	// Replace swaps the dataset's joins for the given set atomically.
	Replace(ctx context.Context, datasetID uuid.UUID, joins []*models.JoinConfiguration) error
	ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]*models.JoinConfiguration, error)
	DeleteByDataset(ctx context.Context, datasetID uuid.UUID) error
}

type joinConfigurationRepository struct {
	db *database.DB
}

// NewJoinConfigurationRepository creates a new JoinConfigurationRepository.
func NewJoinConfigurationRepository(db *database.DB) JoinConfigurationRepository {
	return &joinConfigurationRepository{db: db}
}

var _ JoinConfigurationRepository = (*joinConfigurationRepository)(nil)

func (r *joinConfigurationRepository) Replace(ctx context.Context, datasetID uuid.UUID, joins []*models.JoinConfiguration) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM join_configurations WHERE dataset_id = $1`, datasetID); err != nil {
		return fmt.Errorf("failed to clear joins: %w", err)
	}

	query := `
		INSERT INTO join_configurations (
			id, dataset_id, left_file_id, left_column, right_file_id, right_column,
			join_type, relationship, suggested, confidence, reasoning,
			sample_matches, execution_order, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	for _, j := range joins {
		if j.ID == uuid.Nil {
			j.ID = uuid.New()
		}
		j.DatasetID = datasetID
		j.CreatedAt = time.Now()

		matchesJSON, err := json.Marshal(j.SampleMatches)
		if err != nil {
			return fmt.Errorf("marshal sample matches: %w", err)
		}

		_, err = tx.Exec(ctx, query,
			j.ID, j.DatasetID, j.LeftFileID, j.LeftColumn, j.RightFileID, j.RightColumn,
			j.JoinType, j.Relationship, j.Suggested, j.Confidence, j.Reasoning,
			matchesJSON, j.ExecutionOrder, j.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert join: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *joinConfigurationRepository) ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]*models.JoinConfiguration, error) {
	query := `
		SELECT id, dataset_id, left_file_id, left_column, right_file_id, right_column,
		       join_type, relationship, suggested, confidence, reasoning,
		       sample_matches, execution_order, created_at
		FROM join_configurations
		WHERE dataset_id = $1
		ORDER BY execution_order`

	rows, err := r.db.Query(ctx, query, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query joins: %w", err)
	}
	defer rows.Close()

	var joins []*models.JoinConfiguration
	for rows.Next() {
		j, err := scanJoinConfiguration(rows)
		if err != nil {
			return nil, err
		}
		joins = append(joins, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating joins: %w", err)
	}
	return joins, nil
}

func (r *joinConfigurationRepository) DeleteByDataset(ctx context.Context, datasetID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM join_configurations WHERE dataset_id = $1`, datasetID); err != nil {
		return fmt.Errorf("failed to delete joins: %w", err)
	}
	return nil
}

func scanJoinConfiguration(row pgx.Row) (*models.JoinConfiguration, error) {
	var j models.JoinConfiguration
	var matchesJSON []byte

	err := row.Scan(
		&j.ID, &j.DatasetID, &j.LeftFileID, &j.LeftColumn, &j.RightFileID, &j.RightColumn,
		&j.JoinType, &j.Relationship, &j.Suggested, &j.Confidence, &j.Reasoning,
		&matchesJSON, &j.ExecutionOrder, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(matchesJSON) > 0 {
		if err := json.Unmarshal(matchesJSON, &j.SampleMatches); err != nil {
			return nil, fmt.Errorf("unmarshal sample matches: %w", err)
		}
	}

	return &j, nil
}
