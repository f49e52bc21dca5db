// Kestrel - Fraud risk scoring for order and payment flows.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/reputation"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("KESTREL_CONFIG"), "path to a YAML, JSON or TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"check_timeout_ms", cfg.Engine.CheckTimeout.Milliseconds(),
	)

	if err := run(cfg); err != nil {
		slog.Error("kestrel stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("kestrel shutdown complete")
}

func run(cfg *domain.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(reg)
	}

	resolver, closeResolver, err := newRegionResolver(cfg.Engine)
	if err != nil {
		return fmt.Errorf("initialize region resolver: %w", err)
	}
	defer closeResolver()

	reputationSvc := reputation.NewService(repo, cacheImpl, cfg.Engine.ReputationCacheTTL)
	history := rules.NewBreakerHistory(repo, 0, 0)

	evaluator, err := rules.NewEvaluator(
		rules.WithVelocity(velocity.NewCounter(cacheImpl)),
		rules.WithReputation(reputationSvc),
		rules.WithHistory(history),
		rules.WithRegionResolver(resolver),
		rules.WithMetrics(m),
		rules.WithMaxWorkers(cfg.Engine.MaxWorkers),
	)
	if err != nil {
		return fmt.Errorf("initialize evaluator: %w", err)
	}
	ruleStore := rules.NewStore(repo, cfg.Engine.RuleCacheTTL)

	eng, err := engine.New(engine.Deps{
		Rules:     ruleStore,
		Evaluator: evaluator,
		Recorder:  repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		Metrics:   m,
	}, cfg.Engine)
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	slog.Info("risk engine initialized",
		"max_workers", cfg.Engine.MaxWorkers,
		"rule_cache_ttl", cfg.Engine.RuleCacheTTL.String(),
	)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, eng, repo, m)
		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Worker.TenantIDs}); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Deps{
		Checker:    eng,
		Repo:       repo,
		Validator:  evaluator,
		RuleCache:  ruleStore,
		Reputation: reputationSvc,
		Cache:      cacheImpl,
		Bus:        busImpl,
	}, m, Version)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	return nil
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// newRegionResolver prefers a MaxMind database when one is configured.
func newRegionResolver(cfg domain.EngineConfig) (rules.RegionResolver, func(), error) {
	if cfg.GeoIPPath != "" {
		geo, err := rules.OpenGeoIP(cfg.GeoIPPath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("geoip resolver initialized", "path", cfg.GeoIPPath)
		return geo, func() { geo.Close() }, nil
	}

	static, err := rules.ParseRegionRanges(cfg.DefaultRegion, cfg.Regions)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("static region resolver initialized",
		"default_region", cfg.DefaultRegion,
		"ranges", len(cfg.Regions),
	)
	return static, func() {}, nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL - fraud risk scoring")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /checks              - Run a fraud check")
	fmt.Println("    GET    /checks/{id}         - Get a check result")
	fmt.Println("    GET    /audit               - Audit trail")
	fmt.Println("    GET    /alerts              - Fraud alerts")
	fmt.Println("    GET    /rules               - List rules")
	fmt.Println("    POST   /rules               - Create a rule")
	fmt.Println("    PUT    /rules/{id}          - Update a rule")
	fmt.Println("    DELETE /rules/{id}          - Disable a rule")
	fmt.Println("    POST   /rules/reload        - Drop the rule cache")
	fmt.Println("    GET    /reputation?kind=    - List reputation entries")
	fmt.Println("    POST   /reputation          - Add a reputation entry")
	fmt.Println("    POST   /history/...         - Record orders, payments, account events")
	fmt.Println("    GET    /health              - Health check")
	fmt.Println("    GET    /metrics             - Prometheus metrics")
	fmt.Println()
}
