package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/syncbox/internal/cache"
	"github.com/italolelis/syncbox/internal/cleanup"
	"github.com/italolelis/syncbox/internal/config"
	"github.com/italolelis/syncbox/internal/discovery"
	"github.com/italolelis/syncbox/internal/host"
	"github.com/italolelis/syncbox/internal/http/rest"
	"github.com/italolelis/syncbox/internal/livegroup"
	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/notifier"
	"github.com/italolelis/syncbox/internal/remote/putio"
	"github.com/italolelis/syncbox/internal/storage/sqlite"
	"github.com/italolelis/syncbox/internal/syncer"
	"github.com/italolelis/syncbox/internal/telemetry"
	"github.com/italolelis/syncbox/internal/transfer"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler := logctx.NewContextHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("syncbox starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "syncbox",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	store := sqlite.NewInstrumentedStore(sqlite.NewRecordRepository(database), tel)

	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}

	// =========================================================================
	// Start Remote
	remote := transfer.NewInstrumentedRemote(putio.NewClient(ctx, putio.Config{
		Token:             cfg.Putio.Token,
		RequestsPerSecond: cfg.Putio.RequestsPerSecond,
		PathCacheTTL:      cfg.Putio.PathCacheTTL,
		PathCacheSize:     cfg.Putio.PathCacheSize,
		Breaker: putio.BreakerConfig{
			FailureThreshold: cfg.Putio.BreakerFailureThreshold,
			Timeout:          cfg.Putio.BreakerTimeout,
		},
	}), tel)

	// =========================================================================
	// Start Notification
	reporterOpts := []notifier.Option{notifier.WithTelemetry(tel)}
	if cfg.DiscordWebhookURL != "" {
		reporterOpts = append(reporterOpts, notifier.WithNotifier(notifier.NewDiscordNotifier(cfg.DiscordWebhookURL, "syncbox")))
	}

	reporter := notifier.NewReporter(store, cfg.Account, reporterOpts...)

	// =========================================================================
	// Start Orchestrator
	payloads := cache.New(cfg.CacheDir)
	source := discovery.NewDirSource(cfg.AutoUpload.SourceDir, cfg.AutoUpload.Include)
	executor := syncer.NewExecutor(store, remote, payloads, reporter, tel, cfg.TransferTimeout)

	opts := []syncer.Option{
		syncer.WithTelemetry(tel),
		syncer.WithCleaner(cleanup.NewCleaner(store, payloads, cfg.Account, cfg.KeepCachedFor)),
	}

	if cfg.AutoUpload.Enabled {
		opts = append(opts, syncer.WithScanner(discovery.NewScanner(source, store, discovery.Config{
			Account:    cfg.Account,
			ServerURL:  cfg.AutoUpload.ServerURL,
			Subfolders: cfg.AutoUpload.Subfolders,
		})))
	}

	orchestrator := syncer.NewOrchestrator(store, livegroup.NewExpander(source, store), executor, remote, syncer.Config{
		Account:       cfg.Account,
		MaxConcurrent: cfg.MaxConcurrent,
		Holder:        host.NewHolder().String(),
		LeaseTTL:      cfg.Host.LeaseTTL,
		StaleAfter:    cfg.TransferTimeout,
	}, opts...)

	// =========================================================================
	// Start Host
	scheduler := host.NewScheduler(tel)

	refresh := passBody(orchestrator.Run, reporter)

	if err := scheduler.Register(host.TaskRefresh, host.TaskConfig{
		Interval: cfg.Host.RefreshInterval,
		Budget:   cfg.Host.RefreshBudget,
	}, refresh); err != nil {
		return err
	}

	if err := scheduler.Register(host.TaskProcessing, host.TaskConfig{
		Interval: cfg.Host.ProcessingInterval,
		Budget:   cfg.Host.ProcessingBudget,
	}, passBody(orchestrator.Maintain, reporter)); err != nil {
		return err
	}

	// recover leftovers from a previous process right away
	if err := scheduler.ScheduleRecurring(host.TaskProcessing, time.Now()); err != nil {
		return err
	}

	// =========================================================================
	// Start API Service
	api := rest.NewTransferHandler(cfg.Account, store, executor, reporter, func(ctx context.Context) error {
		return scheduler.Run(ctx, host.TaskRefresh, refresh)
	})

	server := &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      rest.NewRouter(api, tel),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	supervisor := suture.New("syncbox", suture.Spec{
		EventHook: (&sutureslog.Handler{Logger: logger}).MustHook(),
	})
	supervisor.Add(scheduler)
	supervisor.Add(reporter)

	logger.Info("waiting for work...",
		"account", cfg.Account,
		"cache_dir", cfg.CacheDir,
		"auto_upload", cfg.AutoUpload.Enabled,
		"refresh_interval", cfg.Host.RefreshInterval.String(),
		"processing_interval", cfg.Host.ProcessingInterval.String(),
		"max_concurrent", cfg.MaxConcurrent,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := supervisor.Serve(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("supervisor stopped: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	return g.Wait()
}

// passBody adapts an orchestrator entry point to a host task and refreshes
// the badge once the pass is over.
func passBody(pass func(context.Context, host.Expiration) (syncer.Report, error), reporter *notifier.Reporter) host.Body {
	return func(ctx context.Context, exp host.Expiration) error {
		_, err := pass(ctx, exp)

		if refreshErr := reporter.Refresh(ctx); refreshErr != nil {
			logctx.LoggerFromContext(ctx).Warn("failed to refresh badge", "err", refreshErr)
		}

		return err
	}
}
