// Kestrel - Real-time anomaly scoring for secure transfers.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-security/kestrel/internal/api"
	"github.com/opensource-security/kestrel/internal/bus"
	"github.com/opensource-security/kestrel/internal/cache"
	"github.com/opensource-security/kestrel/internal/classifier"
	"github.com/opensource-security/kestrel/internal/decision"
	"github.com/opensource-security/kestrel/internal/domain"
	"github.com/opensource-security/kestrel/internal/reputation"
	"github.com/opensource-security/kestrel/internal/repository"
	"github.com/opensource-security/kestrel/internal/rules"
	"github.com/opensource-security/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	// Model artifact overrides
	if dir := os.Getenv("KESTREL_MODEL_DIR"); dir != "" {
		cfg.Classifier.ModelDir = dir
	}
	if url := os.Getenv("KESTREL_SCORER_URL"); url != "" {
		cfg.Classifier.Source = "remote"
		cfg.Classifier.ScorerURL = url
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"classifier", cfg.Classifier.Source,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Load classifiers at startup. A missing or malformed artifact is
	// fatal here; once loaded, scoring failures degrade to the fallback
	// result instead of surfacing.
	handshakeClf, err := classifier.New(cfg.Classifier, domain.EventHandshake)
	if err != nil {
		slog.Error("failed to load handshake classifier", "error", err)
		os.Exit(1)
	}
	fileClf, err := classifier.New(cfg.Classifier, domain.EventFile)
	if err != nil {
		slog.Error("failed to load file classifier", "error", err)
		os.Exit(1)
	}
	slog.Info("classifiers loaded", "source", cfg.Classifier.Source)

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Override Engine
	overrides, err := rules.NewEngine()
	if err != nil {
		slog.Error("failed to initialize override engine", "error", err)
		os.Exit(1)
	}

	// Load overrides from database (no hardcoded defaults - configure via API)
	if err := loadOverridesFromDatabase(ctx, repo, overrides); err != nil {
		slog.Error("failed to load overrides", "error", err)
		os.Exit(1)
	}
	slog.Info("override engine initialized", "rules_count", overrides.RulesCount())

	// Initialize Reputation Provider
	reputationSvc := reputation.NewProvider(repo, cacheImpl, logger)
	slog.Info("reputation provider initialized")

	// Initialize Decision Engine
	engine := decision.NewEngine(handshakeClf, fileClf, overrides, logger)
	slog.Info("decision engine initialized", "version", decision.EngineVersion)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, engine, reputationSvc)

		tenantIDs := []string{}
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			tenantIDs = strings.Split(envTenants, ",")
		}

		workerCfg := worker.Config{
			TenantIDs:   tenantIDs,
			WorkerCount: 5,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, overrides, reputationSvc, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadOverridesFromDatabase loads threshold override rules into the engine.
// All overrides are configured via POST /overrides - no hardcoded defaults.
func loadOverridesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	dbRules, err := repo.ListOverrideRules(ctx, api.GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list overrides from database", "error", err)
		return nil // Start with empty overrides - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading overrides from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	slog.Info("no overrides in database - configure via POST /overrides API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL - Anomaly Scoring Engine")
	fmt.Println("  Every handshake watched. Every upload weighed.")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /evaluate/handshake      - Score a handshake event")
	fmt.Println("    POST /evaluate/file           - Score a file upload event")
	fmt.Println("    GET  /evaluations/{id}        - Get evaluation by ID")
	fmt.Println("    GET  /events/{id}             - Get event by ID")
	fmt.Println("    GET  /events/{id}/evaluations - List evaluations for an event")
	fmt.Println("    GET  /overrides               - List threshold overrides")
	fmt.Println("    POST /overrides               - Create a threshold override")
	fmt.Println("    POST /overrides/reload        - Hot-reload overrides from database")
	fmt.Println("    PUT  /reputations/{ip}        - Record an address reputation")
	fmt.Println("    GET  /schemas                 - Inspect feature schemas")
	fmt.Println("    GET  /health                  - Health check")
	fmt.Println()
}
