package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "scheduler.db"))
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAddJobPersistsAndRejectsDuplicate(t *testing.T) {
	store := newTestStore(t)
	s := New(store, DispatcherFunc(func(Job) (string, error) { return "ok", nil }), time.Millisecond, nil, nil)

	job := Job{ID: "job-1", Trigger: TriggerInterval, Interval: time.Hour, Enabled: true}
	if err := s.AddJob(job); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}
	if err := s.AddJob(job); err == nil {
		t.Fatal("expected duplicate AddJob() to fail")
	}
	job.ReplaceExisting = true
	if err := s.AddJob(job); err != nil {
		t.Fatalf("AddJob() with ReplaceExisting error = %v", err)
	}
}

func TestIntervalJobDispatchesWhenDue(t *testing.T) {
	store := newTestStore(t)
	calls := make(chan Job, 4)
	s := New(store, DispatcherFunc(func(job Job) (string, error) {
		calls <- job
		return "done", nil
	}), 10*time.Millisecond, nil, nil)

	job := Job{ID: "job-due", Trigger: TriggerInterval, Interval: time.Hour, Enabled: true, NextRun: time.Now().Add(-time.Second)}
	if err := s.AddJob(job); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop(context.Background())

	select {
	case got := <-calls:
		if got.ID != "job-due" {
			t.Fatalf("dispatched job.ID = %s, want job-due", got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for due job to dispatch")
	}
}

func TestMaxConcurrentInstancesSkipsOverflow(t *testing.T) {
	store := newTestStore(t)
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	s := New(store, DispatcherFunc(func(job Job) (string, error) {
		started <- struct{}{}
		<-release
		return "done", nil
	}), time.Millisecond, nil, nil)

	job := Job{ID: "job-solo", MaxConcurrentInstances: 1}
	go s.runJob(job)
	<-started

	// second concurrent run should be skipped immediately, not blocked
	done := make(chan struct{})
	go func() {
		s.runJob(job)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second runJob() did not return promptly when over the concurrency limit")
	}

	close(release)
	hist, err := store.History("job-solo")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	var skipped int
	for _, e := range hist {
		if e.Status == "skipped" {
			skipped++
		}
	}
	if skipped != 1 {
		t.Fatalf("skipped = %d, want 1", skipped)
	}
}

func TestDailyReportSummarizesHistory(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	_ = store.AppendExecution(Execution{JobID: "a", Start: now, End: now, Status: "success"})
	_ = store.AppendExecution(Execution{JobID: "b", Start: now, End: now, Status: "failure"})
	_ = store.AppendExecution(Execution{JobID: "c", Start: now.Add(-48 * time.Hour), End: now, Status: "success"})

	report, err := dailyReport(store)
	if err != nil {
		t.Fatalf("dailyReport() error = %v", err)
	}
	if report == "" {
		t.Fatal("expected non-empty report")
	}
}

func TestHourlyTempCleanupRemovesOldFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.tmp")
	fresh := filepath.Join(dir, "fresh.tmp")
	if err := os.WriteFile(old, []byte("x"), 0o600); err != nil {
		t.Fatalf("setup error = %v", err)
	}
	if err := os.WriteFile(fresh, []byte("x"), 0o600); err != nil {
		t.Fatalf("setup error = %v", err)
	}
	oldTime := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, oldTime, oldTime); err != nil {
		t.Fatalf("setup error = %v", err)
	}

	msg, err := hourlyTempCleanup(dir, 24*time.Hour)
	if err != nil {
		t.Fatalf("hourlyTempCleanup() error = %v", err)
	}
	if msg == "" {
		t.Fatal("expected non-empty message")
	}
	if _, err := os.Stat(old); err == nil {
		t.Fatal("expected old file to be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("expected fresh file to remain")
	}
}
