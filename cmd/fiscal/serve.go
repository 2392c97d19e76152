package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/fiscal/internal/api"
	"github.com/opensource-finance/fiscal/internal/bus"
	"github.com/opensource-finance/fiscal/internal/cache"
	"github.com/opensource-finance/fiscal/internal/classifier"
	"github.com/opensource-finance/fiscal/internal/compliance"
	"github.com/opensource-finance/fiscal/internal/config"
	"github.com/opensource-finance/fiscal/internal/domain"
	"github.com/opensource-finance/fiscal/internal/metrics"
	"github.com/opensource-finance/fiscal/internal/repository"
	"github.com/opensource-finance/fiscal/internal/rules"
	"github.com/opensource-finance/fiscal/internal/worker"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, in async mode, the classification workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			setupLogger(cfg.Logging)
			return serve(cmd.Context(), cfg)
		},
	}
}

// app holds the wired components shared by serve and the rule commands.
type app struct {
	repo      *repository.SQLRepository
	cache     domain.Cache
	bus       domain.EventBus
	collector *metrics.Collector
	svc       *classifier.Service
}

func newApp(cfg *domain.Config) (*app, error) {
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		cacheImpl.Close()
		repo.Close()
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	engine, err := rules.NewEngine()
	if err != nil {
		busImpl.Close()
		cacheImpl.Close()
		repo.Close()
		return nil, fmt.Errorf("failed to initialize rule engine: %w", err)
	}

	generator, err := compliance.NewDefaultGenerator(cfg.Compliance)
	if err != nil {
		busImpl.Close()
		cacheImpl.Close()
		repo.Close()
		return nil, fmt.Errorf("failed to initialize compliance checks: %w", err)
	}
	slog.Info("compliance checks initialized",
		"checks", generator.Len(),
		"cash_limit", cfg.Compliance.CashPaymentLimit,
		"currency", cfg.Compliance.Currency,
	)

	collector := metrics.NewCollector()
	svc := classifier.NewService(repo, cacheImpl, busImpl, engine, generator, collector, classifier.Config{
		RuleSetTTL:   cfg.Cache.RuleSetTTL,
		BatchWorkers: cfg.Classification.BatchWorkers,
		BatchMaxSize: cfg.Classification.BatchMaxSize,
	})

	return &app{
		repo:      repo,
		cache:     cacheImpl,
		bus:       busImpl,
		collector: collector,
		svc:       svc,
	}, nil
}

func (a *app) Close() {
	a.bus.Close()
	a.cache.Close()
	a.repo.Close()
}

func serve(parent context.Context, cfg *domain.Config) error {
	slog.Info("starting fiscal",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"async", cfg.Classification.Async,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var asyncWorker *worker.Worker
	if cfg.Classification.Async {
		asyncWorker = worker.NewWorker(a.bus, a.svc)
		if err := asyncWorker.Start(worker.Config{WorkerCount: cfg.Classification.Workers}); err != nil {
			return fmt.Errorf("failed to start async worker: %w", err)
		}
	}

	srv := api.NewServer(cfg.Server, a.repo, a.cache, a.svc, a.collector, api.Options{
		Version: Version,
		Async:   cfg.Classification.Async,
		Metrics: cfg.Metrics,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("fiscal is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case err := <-errCh:
		slog.Error("server failed", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop accepting requests before draining the queue.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	slog.Info("fiscal shutdown complete")
	return nil
}
