package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	KindNightlyOptimization = "nightly_model_optimization"
	KindTempFileCleanup     = "hourly_temp_cleanup"
	KindDailyReport         = "daily_report"
	KindDatabaseBackup      = "database_backup"
	KindCacheRefresh        = "cache_refresh"
)

// DefaultJobs returns the built-in recurring operations, wired to the
// given temp directory, ready to pass to Scheduler.AddJob.
func DefaultJobs(tempDir string) []Job {
	return []Job{
		{
			ID: "builtin-nightly-optimization", Name: "Nightly model optimization",
			Kind: KindNightlyOptimization, Trigger: TriggerCron, CronExpr: "0 2 * * *",
			Enabled: true, MaxConcurrentInstances: 1,
			Payload: map[string]interface{}{"root": tempDir},
		},
		{
			ID: "builtin-hourly-temp-cleanup", Name: "Hourly temp-file cleanup",
			Kind: KindTempFileCleanup, Trigger: TriggerCron, CronExpr: "0 * * * *",
			Enabled: true, MaxConcurrentInstances: 1,
			Payload: map[string]interface{}{"root": tempDir, "max_age_hours": 24.0},
		},
		{
			ID: "builtin-daily-report", Name: "Daily execution report",
			Kind: KindDailyReport, Trigger: TriggerCron, CronExpr: "30 0 * * *",
			Enabled: true, MaxConcurrentInstances: 1,
		},
		{
			ID: "builtin-database-backup", Name: "Database backup",
			Kind: KindDatabaseBackup, Trigger: TriggerCron, CronExpr: "0 3 * * *",
			Enabled: true, MaxConcurrentInstances: 1,
		},
		{
			ID: "builtin-cache-refresh", Name: "Cache refresh",
			Kind: KindCacheRefresh, Trigger: TriggerCron, CronExpr: "*/30 * * * *",
			Enabled: true, MaxConcurrentInstances: 1,
		},
	}
}

// BuiltinHooks are the pluggable implementations behind the five built-in
// recurring operations; nil hooks make their operation a documented no-op
// so a deployment can opt into only the ones it has infrastructure for.
type BuiltinHooks struct {
	DatabaseBackup func() (string, error)
	CacheRefresh   func() (string, error)
}

// BuiltinDispatcher dispatches scheduler.Job values whose Kind matches one
// of the DefaultJobs entries, using the local filesystem for the
// file-cleanup jobs and the store's own history for the daily report.
type BuiltinDispatcher struct {
	store *Store
	hooks BuiltinHooks
}

// NewBuiltinDispatcher constructs a dispatcher for the five built-in jobs.
func NewBuiltinDispatcher(store *Store, hooks BuiltinHooks) *BuiltinDispatcher {
	return &BuiltinDispatcher{store: store, hooks: hooks}
}

func (d *BuiltinDispatcher) DispatchJob(job Job) (string, error) {
	switch job.Kind {
	case KindNightlyOptimization:
		return nightlyOptimization(stringPayload(job.Payload, "root"))
	case KindTempFileCleanup:
		root := stringPayload(job.Payload, "root")
		maxAgeHours := floatPayload(job.Payload, "max_age_hours", 24)
		return hourlyTempCleanup(root, time.Duration(maxAgeHours*float64(time.Hour)))
	case KindDailyReport:
		return dailyReport(d.store)
	case KindDatabaseBackup:
		if d.hooks.DatabaseBackup != nil {
			return d.hooks.DatabaseBackup()
		}
		return "database backup stub: no backend configured", nil
	case KindCacheRefresh:
		if d.hooks.CacheRefresh != nil {
			return d.hooks.CacheRefresh()
		}
		return "cache refresh stub: no backend configured", nil
	default:
		return "", fmt.Errorf("unknown builtin job kind: %s", job.Kind)
	}
}

// nightlyOptimization removes mesh and feature cache byproducts (files
// directly inside root's "mesh-cache" and "feature-cache" subdirectories;
// nested directories are skipped) that have not been touched in the last 7
// days, freeing storage.
func nightlyOptimization(root string) (string, error) {
	if root == "" {
		return "nightly optimization skipped: no root configured", nil
	}
	cutoff := time.Now().Add(-7 * 24 * time.Hour)
	removed := 0
	for _, sub := range []string{"mesh-cache", "feature-cache"} {
		dir := filepath.Join(root, sub)
		n, err := removeOlderThan(dir, cutoff)
		if err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("nightly optimization failed on %s: %w", dir, err)
		}
		removed += n
	}
	return fmt.Sprintf("nightly optimization removed %d stale cache artifacts", removed), nil
}

// hourlyTempCleanup removes files directly under root older than maxAge.
func hourlyTempCleanup(root string, maxAge time.Duration) (string, error) {
	if root == "" {
		return "temp cleanup skipped: no root configured", nil
	}
	removed, err := removeOlderThan(root, time.Now().Add(-maxAge))
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("temp cleanup failed: %w", err)
	}
	return fmt.Sprintf("temp cleanup removed %d files", removed), nil
}

func removeOlderThan(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, ent.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func dailyReport(store *Store) (string, error) {
	execs, err := store.AllHistorySince(time.Now().Add(-24 * time.Hour))
	if err != nil {
		return "", fmt.Errorf("daily report failed: %w", err)
	}
	var success, failure, misfired, skipped int
	for _, e := range execs {
		switch e.Status {
		case "success":
			success++
		case "failure":
			failure++
		case "misfired":
			misfired++
		case "skipped":
			skipped++
		}
	}
	return fmt.Sprintf(
		"daily report: %d executions (%d success, %d failure, %d misfired, %d skipped)",
		len(execs), success, failure, misfired, skipped,
	), nil
}

func stringPayload(payload map[string]interface{}, key string) string {
	v, _ := payload[key].(string)
	return v
}

func floatPayload(payload map[string]interface{}, key string, def float64) float64 {
	if v, ok := payload[key].(float64); ok {
		return v
	}
	return def
}
