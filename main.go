package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/tabularhq/merge-engine/migrations"
	"github.com/tabularhq/merge-engine/pkg/adapters/importer"
	"github.com/tabularhq/merge-engine/pkg/config"
	"github.com/tabularhq/merge-engine/pkg/database"
	"github.com/tabularhq/merge-engine/pkg/handlers"
	"github.com/tabularhq/merge-engine/pkg/llm"
	"github.com/tabularhq/merge-engine/pkg/logging"
	"github.com/tabularhq/merge-engine/pkg/middleware"
	"github.com/tabularhq/merge-engine/pkg/repositories"
	"github.com/tabularhq/merge-engine/pkg/services"
	"github.com/tabularhq/merge-engine/pkg/workpool"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Bool("provider_configured", cfg.Provider.IsAvailable()),
	)

	ctx := context.Background()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	migrationDB, err := sql.Open("pgx", stdlib.RegisterConnConfig(db.Config().ConnConfig))
	if err != nil {
		logger.Fatal("failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, migrations.FS, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	_ = migrationDB.Close()

	// Repositories
	datasetRepo := repositories.NewDatasetRepository(db)
	fileRepo := repositories.NewDatasetFileRepository(db)
	joinRepo := repositories.NewJoinConfigurationRepository(db)
	importRepo := repositories.NewImportJobRepository(db)

	// Join suggestion provider (optional)
	var llmClient llm.LLMClient
	if cfg.Provider.IsAvailable() {
		client, err := llm.NewClient(&llm.Config{
			Endpoint: cfg.Provider.BaseURL,
			Model:    cfg.Provider.Model,
			APIKey:   cfg.Provider.APIKey,
		}, logger)
		if err != nil {
			logger.Fatal("failed to create LLM client", zap.Error(err))
		}
		llmClient = client
	}

	// Import pipeline (optional)
	var importClient importer.Client
	if cfg.Importer.BaseURL != "" {
		importClient, err = importer.NewClient(&importer.Config{
			BaseURL: cfg.Importer.BaseURL,
			APIKey:  cfg.Importer.APIKey,
			Timeout: cfg.Importer.Timeout(),
		}, logger)
		if err != nil {
			logger.Fatal("failed to create importer client", zap.Error(err))
		}
	}

	// Services
	pool := workpool.New(workpool.Config{MaxConcurrent: cfg.Limits.ProfileWorkers}, logger)
	profiler := services.NewProfilerService(cfg.Limits.SampleRows, pool, logger)
	ruleEngine := services.NewRuleEngine(logger)
	analysis := services.NewAnalysisService(llmClient, ruleEngine, cfg.Provider.Timeout(), logger)
	validator := services.NewJoinGraphValidator(logger)
	executor := services.NewMergeExecutor(logger)
	exporter := services.NewExporter()
	locks := services.NewLockRegistry()

	datasetService := services.NewDatasetService(
		datasetRepo, fileRepo, joinRepo, importRepo,
		profiler, analysis, validator, executor, exporter,
		importClient, locks,
		services.DatasetLimits{
			PreviewRows:  cfg.Limits.PreviewRows,
			MergeMaxRows: cfg.Limits.MergeMaxRows,
			SampleRows:   cfg.Limits.SampleRows,
		},
		logger,
	)

	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(cfg, db.Pool, logger)
	healthHandler.RegisterRoutes(mux)

	datasetHandler := handlers.NewDatasetHandler(datasetService, cfg.Limits.MaxUploadBytes, logger)
	datasetHandler.RegisterRoutes(mux)

	handler := middleware.Recovery(logger)(middleware.RequestLogger(logger)(mux))

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("starting merge-engine", zap.String("addr", addr), zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
