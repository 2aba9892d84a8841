package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tabularhq/merge-engine/pkg/config"
)

// healthProbeTimeout bounds the database ping on /health.
const healthProbeTimeout = 2 * time.Second

// PingResponse reports service identity and build information.
type PingResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

// HealthHandler serves the liveness and readiness endpoints.
type HealthHandler struct {
	cfg    *config.Config
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. A nil db skips the database
// probe on /health.
func NewHealthHandler(cfg *config.Config, db *pgxpool.Pool, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, db: db, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/ping", h.Ping)
}

// Health handles GET /health. It pings the database so load balancers stop
// routing to an instance that lost its storage.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Error("health probe failed", zap.Error(err))
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ping handles GET /ping. It answers without touching the database.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	response := PingResponse{
		Status:      "ok",
		Service:     "merge-engine",
		Version:     h.cfg.Version,
		Environment: h.cfg.Env,
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
