// Package main provides the agentd HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/agentd/internal/agent"
	"github.com/raphaelgruber/agentd/internal/blob"
	"github.com/raphaelgruber/agentd/internal/config"
	"github.com/raphaelgruber/agentd/internal/db"
	"github.com/raphaelgruber/agentd/internal/llm"
	"github.com/raphaelgruber/agentd/internal/metrics"
	"github.com/raphaelgruber/agentd/internal/pipeline"
	"github.com/raphaelgruber/agentd/internal/reaper"
	"github.com/raphaelgruber/agentd/internal/server"
	"github.com/raphaelgruber/agentd/internal/snapshot"
	"github.com/raphaelgruber/agentd/internal/sqlstore"
	"github.com/raphaelgruber/agentd/internal/stage"
	"github.com/raphaelgruber/agentd/internal/store"
	"github.com/raphaelgruber/agentd/internal/tools"
)

const version = "0.1.0"

// demoPause spaces the steps of the scripted executor.
const demoPause = 2 * time.Second

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe stored snapshots from SurrealDB on startup (testing only)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := cfg.Logger()
	defer func() { _ = cleanup() }()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger, *wipeDB); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// closer releases a resource acquired during startup.
type closer func(context.Context) error

func run(cfg config.Config, logger *slog.Logger, wipeDB bool) error {
	logger.Info("agentd starting",
		"version", version,
		"listen_addr", cfg.ListenAddr,
		"executor", cfg.Executor,
		"snapshot", strings.Join(cfg.Snapshot, ","),
		"blob", cfg.Blob,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](context.Background()); err != nil {
				logger.Warn("failed to release resource", "error", err)
			}
		}
	}()

	collector := metrics.NewCollector()

	blobStore, files, err := openBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	sink, sinkClosers, err := openSinks(ctx, cfg, blobStore, logger, wipeDB)
	closers = append(closers, sinkClosers...)
	if err != nil {
		return err
	}

	exec, err := newExecutor(ctx, cfg, blobStore, collector, logger)
	if err != nil {
		return err
	}

	st := store.New(logger)
	manager := pipeline.NewManager(st, exec, pipeline.Options{
		Workers:      cfg.Workers,
		Backlog:      cfg.Backlog,
		InputTimeout: cfg.InputTimeout,
		Sink:         sink,
		Metrics:      collector,
		Logger:       logger,
	})
	manager.Start()

	rp := reaper.New(st, reaper.Options{
		Interval:  cfg.ReaperInterval,
		Retention: cfg.Retention,
		Metrics:   collector,
		Logger:    logger,
	})

	srv := server.New(manager, st, rp, server.Options{
		APIPrefix: cfg.APIPrefix,
		Files:     files,
		Metrics:   collector,
		Logger:    logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.ListenAddr, "public_url", cfg.PublicURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return rp.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := manager.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("pipeline drain: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func openBlobStore(ctx context.Context, cfg config.Config) (blob.Store, http.Handler, error) {
	switch cfg.Blob {
	case config.BlobS3:
		s3Store, err := blob.NewS3(ctx, blob.S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.AWSRegion,
			Prefix:   cfg.S3Prefix,
			Endpoint: cfg.S3Endpoint,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open s3 blob store: %w", err)
		}
		return s3Store, nil, nil
	default:
		fsStore, err := blob.NewFS(cfg.BlobDir, strings.TrimRight(cfg.PublicURL, "/")+"/files")
		if err != nil {
			return nil, nil, fmt.Errorf("open file blob store: %w", err)
		}
		return fsStore, fsStore.Handler(), nil
	}
}

func openSinks(ctx context.Context, cfg config.Config, blobStore blob.Store, logger *slog.Logger, wipeDB bool) (snapshot.Sink, []closer, error) {
	multi := snapshot.NewMulti(logger)
	var closers []closer

	if cfg.HasSnapshot(config.SnapshotBlob) {
		multi.Add(config.SnapshotBlob, snapshot.NewBlobSink(blobStore))
	}

	if cfg.HasSnapshot(config.SnapshotSurrealDB) {
		dbClient, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, closers, fmt.Errorf("connect to surrealdb: %w", err)
		}
		closers = append(closers, func(ctx context.Context) error {
			logger.Info("closing database connection")
			return dbClient.Close(ctx)
		})
		if err := dbClient.InitSchema(ctx); err != nil {
			return nil, closers, fmt.Errorf("initialize surrealdb schema: %w", err)
		}
		if wipeDB {
			if err := dbClient.WipeData(ctx); err != nil {
				return nil, closers, fmt.Errorf("wipe surrealdb: %w", err)
			}
			logger.Warn("surrealdb snapshots wiped")
		}
		multi.Add(config.SnapshotSurrealDB, dbClient)
	}

	for _, backend := range []struct {
		name    string
		dialect sqlstore.Dialect
		dsn     string
	}{
		{config.SnapshotPostgres, sqlstore.Postgres, cfg.PostgresDSN},
		{config.SnapshotSQLite, sqlstore.SQLite, cfg.SQLitePath},
	} {
		if !cfg.HasSnapshot(backend.name) {
			continue
		}
		sqlStore, err := sqlstore.Open(ctx, backend.dialect, backend.dsn)
		if err != nil {
			return nil, closers, fmt.Errorf("open %s snapshot store: %w", backend.name, err)
		}
		closers = append(closers, func(context.Context) error { return sqlStore.Close() })
		multi.Add(backend.name, sqlStore)
	}

	if multi.Len() == 0 {
		return nil, closers, nil
	}
	logger.Info("snapshot sinks ready", "count", multi.Len())
	return multi, closers, nil
}

func newExecutor(ctx context.Context, cfg config.Config, blobStore blob.Store, m *metrics.Collector, logger *slog.Logger) (stage.Executor, error) {
	if cfg.Executor == config.ExecutorScripted {
		logger.Warn("using scripted demo executor")
		return stage.NewScripted(stage.DemoTurns(demoPause)...), nil
	}

	model, err := llm.NewModel(ctx, cfg, m)
	if err != nil {
		return nil, fmt.Errorf("create model: %w", err)
	}
	instruction, err := agent.LoadInstruction(cfg.InstructionFile)
	if err != nil {
		return nil, err
	}

	search, err := tools.NewWebSearch(10)
	if err != nil {
		return nil, fmt.Errorf("create search tool: %w", err)
	}
	reg := tools.NewRegistry(m)
	reg.Register(search)
	reg.Register(tools.NewFetchPage())
	reg.Register(tools.ReportProgress{})
	reg.Register(tools.NewPublishFile(blobStore))

	logger.Info("llm executor ready",
		"provider", cfg.LLMProvider,
		"model", model.Model(),
		"tools", strings.Join(reg.Names(), ","),
		"max_steps", cfg.MaxSteps,
	)
	return agent.New(model, reg, agent.Options{
		Instruction:      instruction,
		MaxSteps:         cfg.MaxSteps,
		KeepPlaceholders: cfg.KeepPlaceholders,
		Logger:           logger,
	}), nil
}
