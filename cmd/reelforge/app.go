package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/reelforge/reelforge/pkg/audit"
	"github.com/reelforge/reelforge/pkg/budget"
	"github.com/reelforge/reelforge/pkg/clock"
	"github.com/reelforge/reelforge/pkg/config"
	"github.com/reelforge/reelforge/pkg/generate"
	"github.com/reelforge/reelforge/pkg/jobs"
	"github.com/reelforge/reelforge/pkg/ledger"
	"github.com/reelforge/reelforge/pkg/logging"
	"github.com/reelforge/reelforge/pkg/metrics"
	"github.com/reelforge/reelforge/pkg/provider"
	"github.com/reelforge/reelforge/pkg/reconcile"
	"github.com/reelforge/reelforge/pkg/storage"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	ledger     *ledger.SQLiteLedger
	jobs       *jobs.SQLiteStore
	journal    *audit.Logger
	evaluator  *budget.Evaluator
	gate       *budget.Gate
	provider   *provider.HTTPClient
	store      storage.ObjectStore
	submitter  *generate.Submitter
	reconciler *reconcile.Reconciler

	closers []func() error
}

func loadConfig(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// openLedger opens only the cost ledger and budget evaluator, for commands
// that never reach the provider.
func openLedger(path string) (*app, error) {
	cfg, logger, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	a.ledger, err = ledger.New(cfg.DBPath, clock.Real{})
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}
	a.closers = append(a.closers, a.ledger.Close)
	a.evaluator = budget.NewEvaluator(cfg.Budget.Limit, cfg.Budget.Thresholds, a.ledger, clock.Real{}, nil)
	a.gate = budget.NewGate(a.evaluator, nil, logger)
	return a, nil
}

// openApp wires the full stack: ledger, job store, journal, provider,
// object storage, submitter and reconciler.
func openApp(ctx context.Context, path string) (*app, error) {
	a, err := openLedger(path)
	if err != nil {
		return nil, err
	}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	clk := clock.Real{}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)
	a.evaluator = budget.NewEvaluator(cfg.Budget.Limit, cfg.Budget.Thresholds, a.ledger, clk, a.metrics)
	a.gate = budget.NewGate(a.evaluator, a.metrics, logger)

	var err error
	a.jobs, err = jobs.New(cfg.DBPath, clk)
	if err != nil {
		return fmt.Errorf("init job store: %w", err)
	}
	a.closers = append(a.closers, a.jobs.Close)

	if cfg.Audit.Enabled {
		a.journal, err = audit.New(cfg.DBPath, cfg.Audit.RetentionDays, clk)
		if err != nil {
			return fmt.Errorf("init journal: %w", err)
		}
		a.closers = append(a.closers, a.journal.Close)
	}

	a.store, err = storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	a.provider = provider.NewHTTPClient(cfg.Provider, provider.WithLogger(logger))
	migrator := storage.NewMigrator(a.store, a.provider, cfg.Storage.Prefix, logger, a.metrics)
	a.submitter = generate.NewSubmitter(a.gate, a.provider, a.ledger, a.jobs, logger, a.metrics)

	opts := []reconcile.Option{
		reconcile.WithClock(clk),
		reconcile.WithLogger(logger),
		reconcile.WithMetrics(a.metrics),
	}
	if a.journal != nil {
		opts = append(opts, reconcile.WithJournal(a.journal))
	}
	a.reconciler = reconcile.New(a.jobs, a.provider, migrator, opts...)
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
