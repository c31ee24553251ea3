package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pitwall/pitwall/internal/api"
	"github.com/pitwall/pitwall/internal/chart"
	"github.com/pitwall/pitwall/internal/config"
	"github.com/pitwall/pitwall/internal/llm"
	"github.com/pitwall/pitwall/internal/narrate"
	"github.com/pitwall/pitwall/internal/nl2sql"
	"github.com/pitwall/pitwall/internal/observability"
	"github.com/pitwall/pitwall/internal/pipeline"
	"github.com/pitwall/pitwall/internal/query"
	"github.com/pitwall/pitwall/internal/schema"
	"github.com/pitwall/pitwall/internal/storage"
	s3store "github.com/pitwall/pitwall/internal/storage/s3"
	"github.com/pitwall/pitwall/internal/store"
	"github.com/pitwall/pitwall/internal/store/lake"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadFromEnv("pitwall-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		return err
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelStartup()

	var objects storage.ObjectStore
	var objectsReady api.ReadinessCheck
	if cfg.ObjectStore.Enabled {
		objectStore, err := s3store.New(startupCtx, s3store.Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			Region:          cfg.ObjectStore.Region,
			Bucket:          cfg.ObjectStore.Bucket,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UseSSL:          cfg.ObjectStore.UseSSL,
			Prefix:          cfg.ObjectStore.Prefix,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			return err
		}
		objects = objectStore
		objectsReady = objectStore.Ping
	}

	registry, err := schema.Load(startupCtx, cfg.Schema.Path, objects)
	if err != nil {
		logger.Error("failed to load schema", slog.Any("error", err))
		return err
	}
	logger.Info("schema loaded", slog.Int("tables", len(registry.AllTables())))

	db, err := store.Open(startupCtx, cfg.Store)
	if err != nil {
		logger.Error("failed to open statistics store", slog.Any("error", err), slog.String("driver", cfg.Store.Driver))
		return err
	}
	defer func() { _ = db.Close() }()

	if cfg.Lake.Enabled {
		mounter := &lake.Mounter{Objects: objects, WorkDir: cfg.Lake.WorkDir, Logger: logger}
		snapshot, err := mounter.Mount(startupCtx, db, registry)
		if err != nil {
			logger.Error("failed to mount lake snapshot", slog.Any("error", err))
			return err
		}
		defer func() { _ = snapshot.Close() }()
	}

	client, err := llm.New(startupCtx, cfg.AI, logger)
	if err != nil {
		logger.Error("failed to initialize model client", slog.Any("error", err), slog.String("provider", cfg.AI.Provider))
		return err
	}

	chat, err := pipeline.New(pipeline.Dependencies{
		Registry: registry,
		Synthesizer: nl2sql.NewSynthesizer(client, nl2sql.Config{
			Temperature:     cfg.AI.SynthesisTemperature,
			MaxOutputTokens: cfg.AI.MaxOutputTokens,
		}),
		Executor: query.NewExecutor(db, query.Config{
			MaxRows: cfg.Pipeline.MaxRows,
			Timeout: cfg.Pipeline.ExecutionTimeout,
			Retries: cfg.Pipeline.ExecutionRetries,
		}, logger),
		Narrator: narrate.New(client, narrate.Config{
			Temperature:     cfg.AI.NarrationTemperature,
			MaxOutputTokens: cfg.AI.MaxOutputTokens,
			MaxRows:         cfg.Pipeline.MaxRows,
			MaxBytes:        cfg.Pipeline.NarrationMaxBytes,
		}, logger),
		Visualizer: chart.New(client, chart.Config{
			Temperature:     cfg.AI.ChartTemperature,
			MaxOutputTokens: cfg.AI.MaxOutputTokens,
		}, logger),
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to assemble chat pipeline", slog.Any("error", err))
		return err
	}
	cancelStartup()

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:            logger,
		Chat:              chat,
		Readiness:         api.CombineReadinessChecks(store.Pinger(db), objectsReady),
		DependencyTimeout: 2 * time.Second,
	})
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		return err
	}
	return nil
}
