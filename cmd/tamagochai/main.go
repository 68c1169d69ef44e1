// Command tamagochai runs a companion: hormone decay, sensors and the HTTP API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/talgya/tamagochai/internal/api"
	"github.com/talgya/tamagochai/internal/clock"
	"github.com/talgya/tamagochai/internal/companion"
	"github.com/talgya/tamagochai/internal/config"
	"github.com/talgya/tamagochai/internal/engine"
	"github.com/talgya/tamagochai/internal/evolution"
	"github.com/talgya/tamagochai/internal/llm"
	"github.com/talgya/tamagochai/internal/persistence"
	"github.com/talgya/tamagochai/internal/sensors"
)

const activeEntityKey = "active_entity"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("TamagochAI starting", "mode", cfg.Mode, "xp_multiplier", cfg.EvolutionMode().Multiplier())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		slog.Error("failed to create data directory", "error", err)
		os.Exit(1)
	}
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if stats, err := db.Stats(ctx); err == nil {
		slog.Info("database opened", "path", cfg.DBPath,
			"entities", stats["entities"], "xp_events", stats["xp_events"], "history", stats["hormone_history"])
	}

	// ── LLM Client ───────────────────────────────────────────────────
	llmClient := llm.NewClient(llm.Options{
		APIKey:    cfg.LLMAPIKey,
		BaseURL:   cfg.LLMBaseURL,
		Model:     cfg.LLMModel,
		MaxPerMin: cfg.LLMMaxPerMin,
	})
	if llmClient != nil {
		slog.Info("LLM replies enabled")
	} else {
		slog.Warn("no LLM API key set, replies use the local voice")
	}

	// ── Companion ─────────────────────────────────────────────────────
	clk := clock.Real{}
	c := companion.New(db, companion.Options{
		Clock:           clk,
		Evolution:       evolution.NewEngine(clk, cfg.EvolutionMode(), evolution.NewMemoryStore()),
		Logger:          logger,
		TickInterval:    cfg.TickInterval,
		EmotionCacheTTL: cfg.EmotionCacheTTL,
		Responder:       llm.NewResponder(llmClient),
		OnTransition: func(tr evolution.Transition) {
			fmt.Printf("\n*** %s evolved: %s -> %s at %d XP ***\n\n", tr.EntityID, tr.From, tr.To, tr.XP)
		},
	})
	defer c.Close()

	id, err := activeEntity(ctx, db, c, cfg.Name)
	if err != nil {
		slog.Error("failed to load companion", "error", err)
		os.Exit(1)
	}
	if err := c.StartSession(ctx, id); err != nil {
		slog.Error("failed to start decay session", "error", err)
		os.Exit(1)
	}

	// ── Maintenance ───────────────────────────────────────────────────
	maint := engine.NewEngine("maintenance", time.Hour)
	maint.OnTick = func(ctx context.Context, _ uint64) {
		if _, err := c.PruneHistory(ctx, cfg.HistoryKeep()); err != nil {
			slog.Error("history prune failed", "error", err)
		}
	}
	if _, err := c.PruneHistory(ctx, cfg.HistoryKeep()); err != nil {
		slog.Error("history prune failed", "error", err)
	}
	if err := maint.Start(ctx); err != nil {
		slog.Error("failed to start maintenance", "error", err)
		os.Exit(1)
	}
	defer maint.Stop()

	// ── Sensors ───────────────────────────────────────────────────────
	apiServer := &api.Server{
		Companion: c,
		Clock:     clk,
		Addr:      cfg.APIAddr,
		AdminKey:  cfg.AdminKey,
		Rate:      cfg.APIRate,
		Burst:     cfg.APIBurst,
	}
	if cfg.Sensors {
		battery := sensors.NewSimulatedBattery(42, clk.Now(), 8*time.Hour)
		poller := sensors.NewPoller(id, c, battery, clk)
		if err := poller.Start(ctx, cfg.SensorInterval); err != nil {
			slog.Error("failed to start sensors", "error", err)
			os.Exit(1)
		}
		defer poller.Stop()
		apiServer.Sensors = poller
		slog.Info("simulated sensors enabled", "interval", cfg.SensorInterval)
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.AdminKey == "" {
		slog.Warn("TAMAGOCHAI_ADMIN_KEY not set, POST endpoints are unauthenticated")
	}
	apiServer.Start()

	fmt.Printf("\nYour companion is awake (id %s).\n", id)
	fmt.Printf("API: http://localhost%s/api/v1/companion/%s\n", cfg.APIAddr, id)
	fmt.Println("Press Ctrl+C to stop.")

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("API shutdown failed", "error", err)
	}
}

// activeEntity returns the companion recorded in meta, creating one named
// name when none exists yet.
func activeEntity(ctx context.Context, db *persistence.DB, c *companion.Companion, name string) (string, error) {
	id, err := db.GetMeta(activeEntityKey)
	switch {
	case err == nil:
		if _, err := c.Entity(ctx, id); err == nil {
			slog.Info("companion loaded", "entity", id)
			return id, nil
		} else if !errors.Is(err, companion.ErrEntityNotFound) {
			return "", err
		}
		slog.Warn("active companion missing, creating a new one", "entity", id)
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("read active companion: %w", err)
	}

	e, err := c.Create(ctx, name)
	if err != nil {
		return "", err
	}
	if err := db.SaveMeta(activeEntityKey, e.ID); err != nil {
		return "", fmt.Errorf("save active companion: %w", err)
	}
	return e.ID, nil
}
