// Shrike - Rule-based intent classification for conversational flows.
// Copyright (c) 2025 opensource.dialog
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-dialog/shrike/internal/api"
	"github.com/opensource-dialog/shrike/internal/bus"
	"github.com/opensource-dialog/shrike/internal/cache"
	"github.com/opensource-dialog/shrike/internal/domain"
	"github.com/opensource-dialog/shrike/internal/rank"
	"github.com/opensource-dialog/shrike/internal/repository"
	"github.com/opensource-dialog/shrike/internal/rules"
	"github.com/opensource-dialog/shrike/internal/stats"
	"github.com/opensource-dialog/shrike/internal/telemetry"
	"github.com/opensource-dialog/shrike/internal/text"
	"github.com/opensource-dialog/shrike/internal/worker"
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
	if os.Getenv("SHRIKE_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting shrike",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("SHRIKE_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	if path := os.Getenv("SHRIKE_RULES_FILE"); path != "" {
		cfg.Rules.SourceFile = path
	}
	if key := os.Getenv("SHRIKE_TELEMETRY_KEY"); key != "" {
		cfg.Telemetry.Key = []byte(key)
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"rules_file", cfg.Rules.SourceFile,
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

	// Initialize text pipeline
	normalizer := text.NewNormalizer(cfg.Engine.MaxInputLen)
	detector := text.NewDetector(cfg.Language)

	// Initialize Rule Registry and Engine
	registry, err := rules.NewRegistry(cfg.Engine, normalizer)
	if err != nil {
		slog.Error("failed to initialize rule registry", "error", err)
		os.Exit(1)
	}
	if err := loadInitialRules(ctx, cfg, repo, registry); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	engine := rules.NewEngine(registry, normalizer, detector, cfg.Engine)
	slog.Info("rule engine initialized", "rules_count", registry.Active().Len())

	// Watch the rule file for changes when configured
	var ruleWatcher *rules.Watcher
	if cfg.Rules.SourceFile != "" && cfg.Rules.WatchFile {
		ruleWatcher, err = rules.NewWatcher(registry, cfg.Rules.SourceFile)
		if err != nil {
			slog.Error("failed to watch rule file", "error", err)
			os.Exit(1)
		}
		ruleWatcher.Start()
		defer ruleWatcher.Stop()
	}

	// Initialize ranking processor
	processor := rank.NewProcessor(cfg.Engine)
	slog.Info("ranking processor initialized",
		"priority_delta", processor.PriorityDelta,
		"specificity_delta", processor.SpecificityDelta,
	)

	// Initialize telemetry emitter and hit stats
	emitter := telemetry.NewEmitter(busImpl, normalizer, cfg.Telemetry, cfg.Engine.AttemptBudget)
	statsSvc := stats.NewService(cacheImpl)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("SHRIKE_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, engine, processor, emitter)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	// Initialize Server
	handler := api.NewHandler(repo, cacheImpl, busImpl, registry, engine, processor, emitter, statsSvc, Version, cfg.Cache.DecisionTTL)
	srv := api.NewServer(cfg.Server, handler)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("shrike is ready",
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

	slog.Info("shrike shutdown complete")
}

// loadInitialRules loads the first snapshot, preferring the rule file
// over the repository. An empty source is not fatal: rules can be added
// via POST /rules and applied with POST /rules/reload.
func loadInitialRules(ctx context.Context, cfg *domain.Config, repo domain.Repository, registry *rules.Registry) error {
	if cfg.Rules.SourceFile != "" {
		doc, err := rules.LoadDocumentFile(cfg.Rules.SourceFile)
		if err != nil {
			return err
		}
		snap, err := registry.Load(doc)
		if err != nil {
			return err
		}
		slog.Info("rules loaded from file",
			"path", cfg.Rules.SourceFile,
			"count", snap.Len(),
		)
		return nil
	}

	configs, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Warn("failed to list rules from repository", "error", err)
		return nil // Start with empty rules - they can be added via API
	}
	if len(configs) == 0 {
		slog.Info("no rules in repository - configure via POST /rules API")
		return nil
	}

	snap, err := registry.Load(&domain.RuleDocument{Rules: configs})
	if err != nil {
		return err
	}
	slog.Info("rules loaded from repository", "count", snap.Len())
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               SHRIKE                      ║")
	fmt.Println("  ║     Intent Classification Engine          ║")
	fmt.Println("  ║      Every utterance, pinned down.        ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /classify            - Classify an utterance")
	fmt.Println("    GET  /rules               - List active rules")
	fmt.Println("    POST /rules               - Create a new rule")
	fmt.Println("    DELETE /rules/{id}        - Disable a rule")
	fmt.Println("    POST /rules/reload        - Hot-reload rules")
	fmt.Println("    GET  /coverage            - Intent coverage audit")
	fmt.Println("    GET  /telemetry           - Recent audit records")
	fmt.Println("    GET  /health              - Health check")
	fmt.Println()
}
