// Package importer talks to the downstream import pipeline that consumes
// saved merged datasets.
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tabularhq/merge-engine/pkg/retry"
)

// SubmitRequest describes a merged dataset being handed to the pipeline.
// Rows carry the full merged table; the pipeline owns them once submitted.
type SubmitRequest struct {
	DatasetID   uuid.UUID  `json:"dataset_id"`
	DatasetName string     `json:"dataset_name"`
	TargetModel string     `json:"target_model"`
	Headers     []string   `json:"headers"`
	Rows        [][]string `json:"rows"`
	RowCount    int64      `json:"row_count"`
}

// Client submits saved datasets to the import pipeline.
type Client interface {
	// Submit registers the dataset with the pipeline and returns the
	// pipeline's job identifier.
	Submit(ctx context.Context, req SubmitRequest) (string, error)
}

// Config holds the pipeline endpoint settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type httpClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewClient creates a pipeline client. Transient failures are retried with
// backoff; permanent rejections are returned immediately.
func NewClient(cfg *Config, logger *zap.Logger) (Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("importer base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &httpClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named("importer"),
	}, nil
}

var _ Client = (*httpClient)(nil)

type submitResponse struct {
	JobID string `json:"job_id"`
}

func (c *httpClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}

	var jobID string
	err = retry.DoIfRetryable(ctx, nil, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/imports", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("submit import: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("import pipeline returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		}

		var parsed submitResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("decode submit response: %w", err)
		}
		jobID = parsed.JobID
		return nil
	})
	if err != nil {
		return "", err
	}

	c.logger.Info("import submitted",
		zap.String("dataset_id", req.DatasetID.String()),
		zap.String("job_id", jobID))
	return jobID, nil
}
