package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tabularhq/merge-engine/pkg/models"
	"github.com/tabularhq/merge-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// JoinRequest is one join edge in a set-joins request.
type JoinRequest struct {
	LeftFileID  uuid.UUID `json:"left_file_id"`
	LeftColumn  string    `json:"left_column"`
	RightFileID uuid.UUID `json:"right_file_id"`
	RightColumn string    `json:"right_column"`
	JoinType    string    `json:"join_type"`
	Suggested   bool      `json:"suggested"`
	Confidence  float64   `json:"confidence"`
	Reasoning   string    `json:"reasoning"`
}

// SetJoinsRequest for POST /api/datasets/{id}/joins.
type SetJoinsRequest struct {
	Joins []JoinRequest `json:"joins"`
}

// PreviewRequest for POST /api/datasets/{id}/preview.
type PreviewRequest struct {
	Limit int `json:"limit"`
}

// PreviewResponse is a bounded merged sample.
type PreviewResponse struct {
	Headers  []string             `json:"headers"`
	Rows     [][]string           `json:"rows"`
	RowCount int64                `json:"row_count"`
	Stats    []services.JoinStats `json:"stats,omitempty"`
	Warnings []string             `json:"warnings,omitempty"`
}

// UseForImportRequest for POST /api/datasets/{id}/use-for-import.
type UseForImportRequest struct {
	TargetModel string `json:"target_model"`
}

// ============================================================================
// Handler
// ============================================================================

// DatasetHandler handles dataset HTTP requests.
type DatasetHandler struct {
	datasetService services.DatasetService
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewDatasetHandler creates a new dataset handler.
func NewDatasetHandler(datasetService services.DatasetService, maxUploadBytes int64, logger *zap.Logger) *DatasetHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 100 << 20
	}
	return &DatasetHandler{
		datasetService: datasetService,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// RegisterRoutes registers the dataset handler's routes on the given mux.
func (h *DatasetHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/datasets", h.Create)
	mux.HandleFunc("GET /api/datasets", h.List)
	mux.HandleFunc("GET /api/datasets/{id}", h.Get)
	mux.HandleFunc("DELETE /api/datasets/{id}", h.Delete)
	mux.HandleFunc("POST /api/datasets/{id}/joins", h.SetJoins)
	mux.HandleFunc("POST /api/datasets/{id}/preview", h.Preview)
	mux.HandleFunc("POST /api/datasets/{id}/merge", h.Merge)
	mux.HandleFunc("GET /api/datasets/{id}/export", h.Export)
	mux.HandleFunc("POST /api/datasets/{id}/use-for-import", h.UseForImport)
}

// Create handles POST /api/datasets.
// Accepts a multipart form with a "name" field, an optional "description"
// field and one or more "files" parts.
func (h *DatasetHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "invalid multipart form: "+err.Error())
		return
	}

	name := r.FormValue("name")
	if name == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}
	var description *string
	if d := r.FormValue("description"); d != "" {
		description = &d
	}

	parts := r.MultipartForm.File["files"]
	if len(parts) == 0 {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "at least one file is required")
		return
	}

	uploads := make([]services.FileUpload, 0, len(parts))
	for _, part := range parts {
		f, err := part.Open()
		if err != nil {
			_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("open %q: %v", part.Filename, err))
			return
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("read %q: %v", part.Filename, err))
			return
		}
		uploads = append(uploads, services.FileUpload{FileName: part.Filename, Content: content})
	}

	dataset, err := h.datasetService.Create(r.Context(), name, description, uploads)
	if err != nil {
		h.logger.Error("create dataset failed", zap.Error(err))
		_ = ServiceError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusCreated, dataset)
}

// List handles GET /api/datasets. An optional ?status= query parameter
// filters to datasets in that lifecycle state.
func (h *DatasetHandler) List(w http.ResponseWriter, r *http.Request) {
	var status models.DatasetStatus
	if s := r.URL.Query().Get("status"); s != "" {
		status = models.DatasetStatus(s)
		if !models.IsValidDatasetStatus(status) {
			_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown status %q", s))
			return
		}
	}

	datasets, err := h.datasetService.List(r.Context())
	if err != nil {
		h.logger.Error("list datasets failed", zap.Error(err))
		_ = ServiceError(w, err)
		return
	}

	if status != "" {
		filtered := make([]*models.Dataset, 0, len(datasets))
		for _, d := range datasets {
			if d.Status == status {
				filtered = append(filtered, d)
			}
		}
		datasets = filtered
	}

	_ = WriteJSON(w, http.StatusOK, map[string]any{"datasets": datasets})
}

// Get handles GET /api/datasets/{id}.
func (h *DatasetHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.datasetID(w, r)
	if !ok {
		return
	}
	dataset, err := h.datasetService.Get(r.Context(), id)
	if err != nil {
		_ = ServiceError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, dataset)
}

// Delete handles DELETE /api/datasets/{id}.
func (h *DatasetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.datasetID(w, r)
	if !ok {
		return
	}
	if err := h.datasetService.Delete(r.Context(), id); err != nil {
		_ = ServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetJoins handles POST /api/datasets/{id}/joins.
func (h *DatasetHandler) SetJoins(w http.ResponseWriter, r *http.Request) {
	id, ok := h.datasetID(w, r)
	if !ok {
		return
	}

	var req SetJoinsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}

	joins := make([]*models.JoinConfiguration, len(req.Joins))
	for i, j := range req.Joins {
		joinType := models.JoinType(j.JoinType)
		if j.JoinType == "" {
			joinType = models.JoinTypeInner
		}
		joins[i] = &models.JoinConfiguration{
			LeftFileID:  j.LeftFileID,
			LeftColumn:  j.LeftColumn,
			RightFileID: j.RightFileID,
			RightColumn: j.RightColumn,
			JoinType:    joinType,
			Suggested:   j.Suggested,
			Confidence:  j.Confidence,
			Reasoning:   j.Reasoning,
		}
	}

	dataset, err := h.datasetService.SetJoins(r.Context(), id, joins)
	if err != nil {
		_ = ServiceError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, dataset)
}

// Preview handles POST /api/datasets/{id}/preview.
func (h *DatasetHandler) Preview(w http.ResponseWriter, r *http.Request) {
	id, ok := h.datasetID(w, r)
	if !ok {
		return
	}

	var req PreviewRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
			return
		}
	}

	result, err := h.datasetService.Preview(r.Context(), id, req.Limit)
	if err != nil {
		_ = ServiceError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, PreviewResponse{
		Headers:  result.Headers,
		Rows:     result.Rows,
		RowCount: result.RowCount,
		Stats:    result.Stats,
		Warnings: result.Warnings,
	})
}

// Merge handles POST /api/datasets/{id}/merge.
func (h *DatasetHandler) Merge(w http.ResponseWriter, r *http.Request) {
	id, ok := h.datasetID(w, r)
	if !ok {
		return
	}
	dataset, err := h.datasetService.Merge(r.Context(), id)
	if err != nil {
		_ = ServiceError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, dataset)
}

// Export handles GET /api/datasets/{id}/export?format=csv|xlsx.
func (h *DatasetHandler) Export(w http.ResponseWriter, r *http.Request) {
	id, ok := h.datasetID(w, r)
	if !ok {
		return
	}

	format := services.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = services.ExportFormatCSV
	}

	contentType := "text/csv"
	if format == services.ExportFormatXLSX {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}

	// The merge is re-run during export, so buffer errors cannot be
	// reported after headers are sent. Run it first, then stream.
	recorder := &exportBuffer{}
	fileName, err := h.datasetService.Export(r.Context(), id, format, recorder)
	if err != nil {
		_ = ServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	if _, err := w.Write(recorder.buf); err != nil {
		h.logger.Warn("export write interrupted", zap.Error(err))
	}
}

// UseForImport handles POST /api/datasets/{id}/use-for-import.
func (h *DatasetHandler) UseForImport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.datasetID(w, r)
	if !ok {
		return
	}

	var req UseForImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	if req.TargetModel == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "target_model is required")
		return
	}

	job, err := h.datasetService.UseForImport(r.Context(), id, req.TargetModel)
	if err != nil {
		_ = ServiceError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, job)
}

func (h *DatasetHandler) datasetID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "invalid dataset id")
		return uuid.Nil, false
	}
	return id, true
}

// exportBuffer accumulates an export so failures surface as JSON errors
// instead of a truncated download.
type exportBuffer struct {
	buf []byte
}

func (b *exportBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}
