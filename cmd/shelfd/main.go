package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shelfdapp/shelfd/internal/archive"
	"github.com/shelfdapp/shelfd/internal/assembly"
	"github.com/shelfdapp/shelfd/internal/catalog"
	"github.com/shelfdapp/shelfd/internal/config"
	"github.com/shelfdapp/shelfd/internal/event"
	"github.com/shelfdapp/shelfd/internal/metrics"
	"github.com/shelfdapp/shelfd/internal/orchestrator"
	"github.com/shelfdapp/shelfd/internal/registry"
	"github.com/shelfdapp/shelfd/internal/remote"
	"github.com/shelfdapp/shelfd/internal/router"
	"github.com/shelfdapp/shelfd/internal/setup"
	"github.com/shelfdapp/shelfd/internal/store"
	"github.com/shelfdapp/shelfd/internal/transport/httpx"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
		})
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("shelfd starting...", "log_level", cfg.LogLevel)

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	metrics.Register()

	// Catalog
	cat, err := catalog.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer cat.Close()

	// Content store and event bus
	files := store.NewFS(cfg.StoreRoot, logger)
	bus := event.NewBus(logger, cfg.EventBuffer)

	// Remote workers
	apiClient := remote.NewClient(http.DefaultClient, cfg.ContentAPIBaseURL)
	cdnClient := remote.NewClient(http.DefaultClient, cfg.ManifestCDNBaseURL)

	// Setup pipeline
	pipeline := setup.New(logger, setup.Deps{
		Books:            cat,
		Pages:            cat,
		Manifests:        cat,
		Files:            files,
		Bus:              bus,
		Metadata:         apiClient,
		Profile:          apiClient,
		Docs:             apiClient,
		Toc:              apiClient,
		ManifestPrimary:  cdnClient,
		ManifestFallback: apiClient,
		Modules:          apiClient,
		Prompts:          apiClient,
		CachesRoot:       cfg.CachesRoot,
	})

	// Transport and orchestrator
	client := httpx.New(http.DefaultClient, cfg.StagingDir, logger)
	bookAssembler := assembly.NewBook(logger, cfg.CachesRoot, &archive.ZipUnpacker{}, files)
	engine := orchestrator.New(logger,
		orchestrator.Config{CachesRoot: cfg.CachesRoot, MaxParallel: cfg.MaxParallel},
		registry.New(logger), client, bus, cat, pipeline, bookAssembler)
	client.SetHandler(engine)

	// API
	server := &http.Server{
		Addr:         cfg.Web.BindAddress,
		Handler:      router.New(logger, engine, pipeline, bus),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("serving API", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return err
	case sig := <-sigChan:
		logger.Info("received terminate, graceful shutdown", "signal", sig.String())
	}

	// Park live transfers so they can be resumed next run.
	engine.CancelAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.Web.ShutdownTimeout)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
