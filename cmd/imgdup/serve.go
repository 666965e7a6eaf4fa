package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eargollo/imgdup/internal/api"
	"github.com/eargollo/imgdup/internal/config"
	"github.com/eargollo/imgdup/internal/db"
	"github.com/eargollo/imgdup/internal/scan"
	"github.com/eargollo/imgdup/internal/scheduler"
	"github.com/eargollo/imgdup/internal/trash"
)

// trashPurgeSchedule runs the trash auto-purge daily at 03:00.
const trashPurgeSchedule = "0 3 * * *"

// runServe runs the HTTP API and the scheduler until ctx is cancelled.
func runServe(ctx context.Context, cfg *config.Config) error {
	slog.Info("imgdup starting",
		"version", version,
		"log_level", cfg.LogLevel,
		"http_addr", cfg.HTTPAddr,
		"db_path", cfg.DBPath,
		"scan_paths", cfg.ScanPaths)

	// ── Database ───────────────────────────────────────────────────────────
	database, err := db.OpenAndMigrate(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	// Mark any scans that were 'running' when last process exited as failed.
	if err := scan.MarkStaleScansFailed(database); err != nil {
		slog.Warn("mark stale scans", "error", err)
	}

	// ── Managers ───────────────────────────────────────────────────────────
	mgr := scan.NewManager(database, cfg.ScanConfig())
	trashMgr := trash.New(database, cfg.TrashDir)

	// ── Scheduler ──────────────────────────────────────────────────────────
	scanJob := func() {
		slog.Info("scheduled scan triggered")
		if _, err := mgr.Start(ctx, "schedule"); err != nil {
			slog.Warn("scheduled scan start", "error", err)
		}
	}
	sched := scheduler.New()
	if err := sched.Set(scheduler.JobScan, cfg.Schedule, scanJob); err != nil {
		slog.Warn("invalid cron expression", "expr", cfg.Schedule, "error", err)
	}
	if err := sched.Set(scheduler.JobTrashPurge, trashPurgeSchedule, func() {
		slog.Info("auto-purge triggered")
		if err := trashMgr.AutoPurge(ctx); err != nil {
			slog.Error("auto-purge failed", "error", err)
		}
	}); err != nil {
		slog.Warn("failed to register auto-purge job", "error", err)
	}
	sched.Start()
	defer sched.Stop()

	// ── HTTP server ────────────────────────────────────────────────────────
	srv := api.New(cfg.HTTPAddr, api.Deps{
		DB:      database,
		Cfg:     cfg,
		Manager: mgr,
		Trash:   trashMgr,
		Sched:   sched,
		ScanJob: scanJob,
		Version: version,
	})
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	// Let a running scan record its cancellation before the DB closes.
	if active, err := mgr.Cancel(); err == nil {
		slog.Info("waiting for scan to stop", "id", active.ID)
		_ = mgr.Wait(context.Background())
	}
	slog.Info("imgdup stopped")
	return nil
}
