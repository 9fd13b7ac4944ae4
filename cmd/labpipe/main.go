package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"labpipe/internal/agents"
	"labpipe/internal/config"
	"labpipe/internal/data"
	"labpipe/internal/httpapi"
	"labpipe/internal/objectstore"
	"labpipe/internal/pipeline"
	"labpipe/internal/progressbus"
	"labpipe/internal/storegw"
)

func main() {
	logger := setupLogger()
	logger.Info("labpipe starting")

	configPath := os.Getenv("LABPIPE_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	db, err := data.OpenDB(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer data.SafeClose(logger, db, "main db")
	logger.Info("database opened", "path", cfg.DatabasePath)

	if err := storegw.InitSchema(db); err != nil {
		logger.Error("failed to init schema", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storage, err := newStorageGateway(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to init storage gateway", "error", err)
		os.Exit(1)
	}

	store := storegw.New(db, logger)
	bus := progressbus.New(progressbus.DefaultCapacity)

	llm := agents.NewLLMClient(cfg.LLMBaseURL, cfg.LLMAPIKey)
	ocrAgent := agents.NewOCRAgent(llm, cfg.OCRModel)
	extractionAgent := agents.NewExtractionAgent(llm, cfg.InsightModel, logger)
	insightAgent := agents.NewInsightAgent(llm, cfg.InsightModel, logger)

	orch := pipeline.New(store, bus, storage, ocrAgent, extractionAgent, insightAgent, logger, cfg.PipelineDeadline)
	watchdog := pipeline.NewWatchdog(store, bus, orch, logger, cfg.WatchdogInterval, cfg.StuckThreshold)
	sse := pipeline.NewSSESerializer(store, bus, logger)

	go watchdog.Start(ctx)
	logger.Info("stuck-document watchdog started")

	api := httpapi.New(store, storage, orch, sse, logger, cfg.CORSOrigins)
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server crashed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("labpipe ready")
	<-sigChan
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during http shutdown", "error", err)
	}

	cancel() // stop the watchdog; orchestrator tasks run on their own contexts and are not cancelled here

	logger.Info("labpipe stopped cleanly")
}

func newStorageGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (objectstore.Gateway, error) {
	if cfg.StorageBucket == "local" || cfg.StorageBucket == "" {
		return objectstore.NewLocalGateway(cfg.UploadDir, "/files")
	}
	return objectstore.NewGCSGateway(ctx, cfg.StorageBucket, os.Getenv("GCS_CREDENTIALS_FILE"), time.Hour, cfg.GCSSignAs, cfg.GCSSignKeyFile, logger)
}

func setupLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
