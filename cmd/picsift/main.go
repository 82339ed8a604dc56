package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lbaroni/picsift/internal/api"
	"github.com/lbaroni/picsift/internal/config"
	"github.com/lbaroni/picsift/internal/db"
	"github.com/lbaroni/picsift/internal/dupes"
	"github.com/lbaroni/picsift/internal/library"
	"github.com/lbaroni/picsift/internal/scan"
	"github.com/lbaroni/picsift/internal/scheduler"
	"github.com/lbaroni/picsift/internal/trash"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── Logging (initial — overridden below once config is loaded) ─────────
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// ── Config ─────────────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	// Re-configure logging with the level from config (default: info).
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("picsift starting",
		"version", version,
		"log_level", cfg.LogLevel,
		"http_addr", cfg.HTTPAddr,
		"db_path", cfg.DBPath,
		"library_path", cfg.LibraryPath)

	// ── Database ───────────────────────────────────────────────────────────
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.RunMigrations(database); err != nil {
		slog.Error("run migrations", "error", err)
		os.Exit(1)
	}

	// Mark any syncs that were 'running' when last process exited as failed.
	if err := scan.MarkStaleSyncsFailed(database); err != nil {
		slog.Warn("mark stale syncs", "error", err)
	}

	// ── Catalog + duplicate engine ─────────────────────────────────────────
	store := library.NewStore(database, cfg.LibraryPath)
	grouper := dupes.NewGrouper(store)
	trashMgr := trash.New(database, cfg.TrashDir, cfg.TrashRetentionDays)
	exec := dupes.NewExecutor(store, trashMgr, grouper)

	// ── Sync manager ───────────────────────────────────────────────────────
	syncCfg := scan.Config{
		Hashers: cfg.SyncWorkers.Hashers,
		Probers: cfg.SyncWorkers.Probers,
	}
	mgr := scan.NewManager(store, cfg.ExcludePaths, syncCfg, grouper.Invalidate)

	// ── Scheduler ──────────────────────────────────────────────────────────
	sched := scheduler.New()
	sched.SetPaused(cfg.SyncPaused)
	if cfg.SyncSchedule != "" {
		if err := sched.SetSyncJob(cfg.SyncSchedule, func() {
			slog.Info("scheduled sync triggered")
			if _, err := mgr.Start(context.Background(), "schedule"); err != nil {
				slog.Warn("scheduled sync start", "error", err)
			}
		}); err != nil {
			slog.Warn("invalid cron expression", "expr", cfg.SyncSchedule, "error", err)
		}
	}

	if err := sched.AddJob("0 3 * * *", func() {
		slog.Info("auto-purge triggered")
		if err := trashMgr.AutoPurge(context.Background()); err != nil {
			slog.Error("auto-purge failed", "error", err)
		}
	}); err != nil {
		slog.Warn("failed to register auto-purge job", "error", err)
	}

	sched.Start()
	defer sched.Stop()

	// ── HTTP server ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := api.New(cfg.HTTPAddr, cfg, store, grouper, exec, mgr, trashMgr, sched, version)
	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("picsift stopped")
}

// parseLogLevel converts a config string ("debug", "info", "warn", "error")
// to its slog.Level equivalent. Unknown values default to Info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
