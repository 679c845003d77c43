// SPDX-License-Identifier: MIT

// Command daemon runs the reportd coordination service: it ingests
// pipeline stage results over HTTP, tracks capture sessions and writes
// the final analysis reports.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/decluttered-ai/reportd/internal/api"
	"github.com/decluttered-ai/reportd/internal/archive"
	"github.com/decluttered-ai/reportd/internal/bus"
	"github.com/decluttered-ai/reportd/internal/config"
	"github.com/decluttered-ai/reportd/internal/coordinator"
	"github.com/decluttered-ai/reportd/internal/dedup"
	"github.com/decluttered-ai/reportd/internal/health"
	"github.com/decluttered-ai/reportd/internal/log"
	"github.com/decluttered-ai/reportd/internal/report"
	"github.com/decluttered-ai/reportd/internal/router"
	"github.com/decluttered-ai/reportd/internal/session"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	var (
		configPath  = flag.String("config", "", "path to the YAML config file")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("reportd " + version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "reportd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "reportd",
		Version: version,
	})
	logger := log.WithComponent("daemon")

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := archive.Open(cfg.Archive.Backend, cfg.Archive.Path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("archive close failed")
		}
	}()

	registry := session.NewRegistry()
	index := dedup.NewIndex()
	rt := router.New(registry, index)
	gen := &report.Generator{
		DataDir:      cfg.DataDir,
		WriteTimeout: cfg.ReportWriteTimeout.Std(),
	}
	events := bus.NewMemoryBus()
	coord := coordinator.New(registry, rt, gen, store, events, coordinator.Config{
		SweepInterval:    cfg.Timers.SweepInterval.Std(),
		InterimInterval:  cfg.Timers.InterimInterval.Std(),
		StatusInterval:   cfg.Timers.StatusInterval.Std(),
		IngestStaleAfter: cfg.Timers.IngestStaleAfter.Std(),
		ShutdownTimeout:  cfg.Timers.ShutdownTimeout.Std(),
	})

	healthMgr := health.NewManager(version)
	healthMgr.RegisterChecker(coord.Checker())
	healthMgr.RegisterChecker(archiveChecker(store))

	server := api.New(coord, events, healthMgr, cfg.SessionDefaults, cfg.RateLimit.RequestsPerMinute)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str(log.FieldEvent, "daemon.starting").
		Str("listen_addr", cfg.ListenAddr).
		Str("data_dir", cfg.DataDir).
		Str("archive_backend", cfg.Archive.Backend).
		Str("version", version).
		Msg("starting reportd")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return coord.Run(ctx)
	})

	g.Go(func() error {
		logger.Info().
			Str(log.FieldEvent, "http.listening").
			Str("addr", cfg.ListenAddr).
			Msg("http server listening")
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timers.ShutdownTimeout.Std())
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("reportd stopped")
	return nil
}

// archiveChecker reports the archive backend's reachability.
func archiveChecker(store archive.Store) health.Checker {
	return health.CheckerFunc{
		CheckName: "archive",
		Fn: func(ctx context.Context) health.CheckResult {
			_, err := store.Get(ctx, "health-probe")
			if err != nil && !errors.Is(err, archive.ErrNotFound) {
				return health.CheckResult{Status: health.StatusError, Error: err.Error()}
			}
			return health.CheckResult{Status: health.StatusHealthy}
		},
	}
}
