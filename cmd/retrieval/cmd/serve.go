package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/novadesk/retrieval/internal/config"
	"github.com/novadesk/retrieval/internal/embed"
	reterr "github.com/novadesk/retrieval/internal/errors"
	"github.com/novadesk/retrieval/internal/lifecycle"
	"github.com/novadesk/retrieval/internal/logging"
	"github.com/novadesk/retrieval/internal/search"
	"github.com/novadesk/retrieval/internal/server"
	"github.com/novadesk/retrieval/internal/store"
)

func newServeCmd() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the retrieval HTTP server",
		Long: `Start the retrieval service: loads configuration, opens the data
directory, restores the vector index, and serves the HTTP API until
interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			return runServe(cmd.Context(), configDir, debug)
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", ".", "Directory containing retrieval.yaml")
	return cmd
}

func runServe(ctx context.Context, configDir string, debug bool) error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}
	if debug {
		cfg.Server.LogLevel = "debug"
	}

	logCleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Server.LogLevel,
		FilePath:      filepath.Join(cfg.Storage.DataDir, "logs", "retrieval.log"),
		WriteToStderr: true,
	})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logCleanup()

	app, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer app.close()

	app.coordinator.StartRetryWorker(ctx)
	defer app.coordinator.StopRetryWorker()

	srv := server.New(cfg, app.engine, app.coordinator, app.embedder)
	srv.Setup()

	// Periodic index snapshots plus one on shutdown.
	snapshotCtx, stopSnapshots := context.WithCancel(ctx)
	defer stopSnapshots()
	go app.snapshotLoop(snapshotCtx, cfg.Storage.SaveInterval, cfg.IndexPath())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		slog.Info("shutting down", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		slog.Error("shutdown failed", slog.String("error", err.Error()))
	}

	if err := app.coordinator.SaveIndex(cfg.IndexPath()); err != nil {
		slog.Error("final index snapshot failed", slog.String("error", err.Error()))
	}
	return nil
}

// app holds the wired service components.
type app struct {
	entities    *store.SQLiteEntityStore
	vector      *store.HNSWStore
	embedder    embed.Embedder
	coordinator *lifecycle.Coordinator
	engine      *search.Engine
}

// buildApp wires stores, embedder, coordinator, and query engine from
// configuration.
func buildApp(cfg *config.Config) (*app, error) {
	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	// The entity store holds the data-directory lock; open it before
	// touching the index snapshot so a losing process never reads it.
	entities, err := store.NewSQLiteEntityStore(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	vectorCfg := store.VectorStoreConfig{
		Dimensions: embedder.Dimensions(),
		M:          cfg.Search.M,
		EfSearch:   cfg.Search.EfSearch,
	}
	vector, err := store.NewHNSWStore(vectorCfg)
	if err != nil {
		_ = entities.Close()
		return nil, err
	}
	if err := vector.Load(cfg.IndexPath()); err != nil {
		_ = entities.Close()
		return nil, fmt.Errorf("restore vector index: %w", err)
	}

	coordinator, err := lifecycle.NewCoordinator(entities, vector, embedder, lifecycle.CoordinatorConfig{
		ChunkSize:      cfg.Chunking.Size,
		ChunkOverlap:   cfg.Chunking.Overlap,
		EmbedBatchSize: cfg.Embeddings.BatchSize,
		Retry:          retryConfig(cfg),
		RetryInterval:  cfg.Retry.Interval,
		RetryBatch:     cfg.Retry.Batch,
	})
	if err != nil {
		return nil, err
	}

	engine, err := search.NewEngine(vector, entities, embedder)
	if err != nil {
		return nil, err
	}

	slog.Info("service initialized",
		slog.String("data_dir", cfg.Storage.DataDir),
		slog.String("embedder", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()),
		slog.Int("vectors", vector.Count()))

	return &app{
		entities:    entities,
		vector:      vector,
		embedder:    embedder,
		coordinator: coordinator,
		engine:      engine,
	}, nil
}

// buildEmbedder selects the embedding provider and wraps it with the cache
// and circuit breaker.
func buildEmbedder(cfg *config.Config) (embed.Embedder, error) {
	var base embed.Embedder
	switch cfg.Embeddings.Provider {
	case "openai":
		openai, err := embed.NewOpenAIEmbedder(embed.OpenAIConfig{
			APIKey:     cfg.Embeddings.APIKey,
			BaseURL:    cfg.Embeddings.BaseURL,
			Model:      cfg.Embeddings.Model,
			Dimensions: cfg.Embeddings.Dimensions,
			Timeout:    cfg.Embeddings.Timeout,
		})
		if err != nil {
			return nil, err
		}
		base = embed.NewBreakerEmbedder(openai, embed.DefaultBreakerConfig())
	default:
		base = embed.NewStaticEmbedder()
	}

	if cfg.Embeddings.CacheSize > 0 {
		return embed.NewCachedEmbedder(base, cfg.Embeddings.CacheSize), nil
	}
	return base, nil
}

// retryConfig maps the config section onto the retry schedule.
func retryConfig(cfg *config.Config) reterr.RetryConfig {
	return reterr.RetryConfig{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

func (a *app) snapshotLoop(ctx context.Context, interval time.Duration, path string) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.vector.Save(path); err != nil {
				slog.Error("index snapshot failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (a *app) close() {
	_ = a.embedder.Close()
	_ = a.vector.Close()
	_ = a.entities.Close()
}
