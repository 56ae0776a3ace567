package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/consolidator"
	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/indexer"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/longterm"
	"github.com/fyrsmithlabs/memoryd/internal/project"
	"github.com/fyrsmithlabs/memoryd/internal/retrieval"
	"github.com/fyrsmithlabs/memoryd/internal/secrets"
	"github.com/fyrsmithlabs/memoryd/internal/server"
	"github.com/fyrsmithlabs/memoryd/internal/store"
	"github.com/fyrsmithlabs/memoryd/internal/telemetry"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

// configPath is the --config flag for the serve command.
var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the memoryd daemon",
	Long: `Start the daemon: open the vector store, start the consolidation
worker and serve the HTTP API until SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "config file path (default ~/.config/memoryd/config.yaml)")
}

// runServe installs signal handling and runs the daemon until shutdown.
func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		return err
	}

	log.Println("Shutdown complete")
	return nil
}

// run starts the daemon and blocks until the context is cancelled.
//
// Initialization order:
//  1. Loads and validates configuration
//  2. Starts telemetry (OTLP trace and metric exporters)
//  3. Builds the structured logger
//  4. Detects project identity
//  5. Opens embeddings, the vector store and the context store
//  6. Wires retrieval, long-term memory and the consolidation worker
//  7. Indexes the project when enabled
//  8. Serves HTTP until cancellation, then shuts down in reverse order
func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := newLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info(ctx, "starting memoryd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("telemetry", tel.IsEnabled()),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	identity, err := detectProject(cfg)
	if err != nil {
		return fmt.Errorf("failed to detect project: %w", err)
	}
	ctx = logging.WithProjectID(ctx, identity.ID)

	logger.Info(ctx, "project detected",
		zap.String("name", identity.Name),
		zap.String("path", identity.Path),
		zap.String("branch", identity.Branch))

	deps, err := initDependencies(ctx, cfg, identity, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	svcs, err := initServices(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := svcs.consolidator.Start(); err != nil {
		return fmt.Errorf("failed to start consolidator: %w", err)
	}

	go sweepPatterns(ctx, svcs.longterm, cfg.Consolidator.Interval, logger)

	var watcher *indexer.Watcher
	if cfg.Indexer.Enabled {
		watcher, err = startIndexing(ctx, cfg, deps, identity, logger)
		if err != nil {
			logger.Warn(ctx, "project indexing unavailable", zap.Error(err))
		}
	}

	srv, err := server.NewServer(deps.store, svcs.engine, logger.Underlying(), &server.Config{
		Host:    "localhost",
		Port:    cfg.Server.Port,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info(ctx, "memoryd ready",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"))

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// The run context is already cancelled, so the shutdown deadline comes
	// from configuration.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info(shutdownCtx, "shutting down")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http shutdown failed", zap.Error(err))
	}
	if watcher != nil {
		watcher.Stop()
	}
	if err := svcs.consolidator.Stop(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "consolidator stop failed", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
	}

	return nil
}

// dependencies holds the storage stack shared by every service.
type dependencies struct {
	embedder embeddings.Provider
	store    *store.Store
	logger   *zap.Logger
}

// Close releases storage resources. The context store owns the vector
// store backend and closes it.
func (d *dependencies) Close() {
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("store close failed", zap.Error(err))
		}
	}
	if d.embedder != nil {
		if err := d.embedder.Close(); err != nil {
			d.logger.Warn("embedder close failed", zap.Error(err))
		}
	}
}

// services holds the retrieval and learning services.
type services struct {
	engine       *retrieval.Engine
	longterm     *longterm.Manager
	consolidator *consolidator.Consolidator
}

// initDependencies opens the embedding provider, the vector store backend
// and the context store in front of them. Secret scrubbing is always on for
// the daemon; allowlists come from the detected project root and the user
// config.
func initDependencies(ctx context.Context, cfg *config.Config, identity *project.Identity, logger *logging.Logger) (*dependencies, error) {
	zl := logger.Underlying()

	embedder, err := embeddings.NewProvider(embeddings.Config{
		Provider:          cfg.Embeddings.Provider,
		Model:             cfg.Embeddings.Model,
		BaseURL:           cfg.Embeddings.BaseURL,
		APIKey:            cfg.Embeddings.APIKey.Value(),
		CacheDir:          cfg.Embeddings.CacheDir,
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	logger.Info(ctx, "embedding provider initialized",
		zap.String("provider", cfg.Embeddings.Provider),
		zap.String("model", cfg.Embeddings.Model),
		zap.Int("dimension", embedder.Dimension()))

	backend, err := vectorstore.NewStore(vectorstore.Config{
		Provider: cfg.VectorStore.Provider,
		Chromem: vectorstore.ChromemConfig{
			Path:           cfg.VectorStore.Chromem.Path,
			Compress:       cfg.VectorStore.Chromem.Compress,
			AddConcurrency: cfg.VectorStore.Chromem.AddConcurrency,
		},
		Qdrant: vectorstore.QdrantConfig{
			Host:       cfg.VectorStore.Qdrant.Host,
			Port:       cfg.VectorStore.Qdrant.Port,
			APIKey:     cfg.VectorStore.Qdrant.APIKey.Value(),
			UseTLS:     cfg.VectorStore.Qdrant.UseTLS,
			VectorSize: cfg.VectorStore.Qdrant.VectorSize,
		},
	}, embedder, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	logger.Info(ctx, "vector store initialized",
		zap.String("provider", cfg.VectorStore.Provider))

	scrubber, err := secrets.New(secrets.Config{
		Enabled:           true,
		ProjectPath:       identity.Path,
		UserAllowlistPath: cfg.Secrets.UserAllowlistPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create secret scrubber: %w", err)
	}

	st, err := store.New(store.Config{
		ChunkSize:        cfg.Store.ChunkSize,
		ChunkOverlap:     cfg.Store.ChunkOverlap,
		CacheEnabled:     cfg.Store.CacheEnabled,
		CacheMaxBytes:    cfg.Store.CacheMaxBytes,
		HeartbeatTimeout: cfg.Store.HeartbeatTimeout,
	}, backend, scrubber, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to create context store: %w", err)
	}

	return &dependencies{
		embedder: embedder,
		store:    st,
		logger:   zl,
	}, nil
}

// initServices wires the retrieval engine and the learning pipeline. The
// consolidator schedules work for the long-term manager and the manager
// folds finished jobs back into memory, so the recorder is attached after
// both exist.
func initServices(cfg *config.Config, deps *dependencies, logger *logging.Logger) (*services, error) {
	zl := logger.Underlying()

	engine, err := retrieval.NewEngine(deps.store, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrieval engine: %w", err)
	}

	cons, err := consolidator.New(deps.store, zl, consolidator.Config{
		Interval:     cfg.Consolidator.Interval,
		QueueLimit:   cfg.Consolidator.QueueLimit,
		HistoryLimit: cfg.Consolidator.HistoryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consolidator: %w", err)
	}

	lt, err := longterm.NewManager(deps.store, engine, zl,
		longterm.WithScheduler(cons),
		longterm.WithConsolidationThreshold(cfg.LongTerm.ConsolidationThreshold))
	if err != nil {
		return nil, fmt.Errorf("failed to create long-term manager: %w", err)
	}
	cons.SetLearningRecorder(lt)

	return &services{
		engine:       engine,
		longterm:     lt,
		consolidator: cons,
	}, nil
}

// sweepPatterns periodically promotes frequent patterns into consolidation
// jobs. Recording a learning only counts sightings; the sweep is what
// pushes over-threshold patterns to the consolidator.
func sweepPatterns(ctx context.Context, lt *longterm.Manager, interval time.Duration, logger *logging.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := lt.ConsolidatePatterns(ctx)
			if err != nil {
				logger.Warn(ctx, "pattern sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug(ctx, "pattern sweep scheduled consolidation", zap.Int("patterns", n))
			}
		}
	}
}

// startIndexing runs a batch index of the project in the background and,
// when configured, keeps a filesystem watcher re-indexing changed files.
// Returns a nil watcher when watching is disabled.
func startIndexing(ctx context.Context, cfg *config.Config, deps *dependencies, identity *project.Identity, logger *logging.Logger) (*indexer.Watcher, error) {
	ix, err := indexer.New(deps.store, logger.Underlying(), indexer.Config{
		Concurrency:     cfg.Indexer.Concurrency,
		MaxFileSize:     cfg.Indexer.MaxFileSize,
		IncludePatterns: cfg.Indexer.IncludePatterns,
		ExcludePatterns: cfg.Indexer.ExcludePatterns,
	}, indexer.WithProjectID(identity.ID))
	if err != nil {
		return nil, err
	}

	go func() {
		result, err := ix.Index(ctx, identity.Path)
		if err != nil {
			logger.Warn(ctx, "project indexing failed", zap.Error(err))
			return
		}
		logger.Info(ctx, "project indexed",
			zap.Int("files_indexed", result.FilesIndexed),
			zap.Int("files_skipped", result.FilesSkipped),
			zap.Int("files_failed", result.FilesFailed),
			zap.Duration("duration", result.Duration))
	}()

	if !cfg.Indexer.Watch {
		return nil, nil
	}

	w, err := ix.Watch(identity.Path)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}

	logger.Info(ctx, "watching project for changes", zap.String("path", identity.Path))
	return w, nil
}

// detectProject resolves the project identity, defaulting to the daemon's
// working directory.
func detectProject(cfg *config.Config) (*project.Identity, error) {
	path := cfg.Project.Path
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		path = wd
	}
	return project.Detect(path)
}

// telemetryConfig maps daemon observability settings onto the telemetry
// package configuration.
func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tcfg := telemetry.NewDefaultConfig()
	tcfg.Enabled = cfg.Observability.EnableTelemetry
	tcfg.ServiceVersion = version
	tcfg.Insecure = cfg.Observability.Insecure
	if cfg.Observability.ServiceName != "" {
		tcfg.ServiceName = cfg.Observability.ServiceName
	}
	if cfg.Observability.Endpoint != "" {
		tcfg.Endpoint = cfg.Observability.Endpoint
	}
	switch cfg.Observability.Protocol {
	case "http":
		tcfg.Protocol = "http/protobuf"
	case "grpc":
		tcfg.Protocol = "grpc"
	}
	return tcfg
}

// newLogger builds the daemon logger, teeing into the OTEL bridge when the
// telemetry stack carries a log provider.
func newLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	logCfg.Format = cfg.Logging.Format

	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logCfg.Level = level

	provider := tel.LoggerProvider()
	if provider != nil {
		logCfg.Output.OTEL = true
	}
	return logging.NewLogger(logCfg, provider)
}
