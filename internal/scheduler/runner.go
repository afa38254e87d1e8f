package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cncaiprojem/projem-sub004/infrastructure/logging"
	"github.com/cncaiprojem/projem-sub004/infrastructure/metrics"
)

// Scheduler dispatches persisted jobs on their configured trigger. Cron
// triggers are driven by robfig/cron; interval and one-shot date triggers
// are driven by a poll loop in the style of the automation runner's tick
// cycle, so a process restart simply resumes from whatever NextRun was
// last persisted.
type Scheduler struct {
	store      *Store
	dispatcher Dispatcher
	log        *logging.Logger
	met        *metrics.Metrics
	pollEvery  time.Duration

	cronEngine *cron.Cron

	mu         sync.Mutex
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	running    bool
	cronEntries map[string]cron.EntryID

	instanceMu sync.Mutex
	instances  map[string]*int32
}

// New constructs a Scheduler backed by store and dispatching through
// dispatcher. pollEvery governs how often interval/date jobs are checked;
// it defaults to one second.
func New(store *Store, dispatcher Dispatcher, pollEvery time.Duration, log *logging.Logger, met *metrics.Metrics) *Scheduler {
	if pollEvery <= 0 {
		pollEvery = time.Second
	}
	return &Scheduler{
		store:       store,
		dispatcher:  dispatcher,
		log:         log,
		met:         met,
		pollEvery:   pollEvery,
		cronEngine:  cron.New(),
		cronEntries: make(map[string]cron.EntryID),
		instances:   make(map[string]*int32),
	}
}

// AddJob persists job and, for cron triggers, registers it with the cron
// engine immediately (effective the next time Start runs the engine).
func (s *Scheduler) AddJob(job Job) error {
	existing, _ := s.store.LoadJobs()
	for _, e := range existing {
		if e.ID == job.ID && !job.ReplaceExisting {
			return fmt.Errorf("job %s already exists", job.ID)
		}
	}
	if job.Trigger == TriggerInterval && job.NextRun.IsZero() {
		job.NextRun = time.Now().Add(job.Interval)
	}
	if job.Trigger == TriggerDate {
		job.NextRun = job.RunAt
	}
	if err := s.store.SaveJob(job); err != nil {
		return err
	}
	if job.Trigger == TriggerCron {
		return s.registerCronJob(job)
	}
	return nil
}

func (s *Scheduler) registerCronJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.cronEntries[job.ID]; ok {
		s.cronEngine.Remove(id)
	}
	id, err := s.cronEngine.AddFunc(job.CronExpr, func() { s.runJob(job) })
	if err != nil {
		return fmt.Errorf("failed to schedule cron job %s: %w", job.ID, err)
	}
	s.cronEntries[job.ID] = id
	return nil
}

// RemoveJob deletes a persisted job and unregisters any cron entry.
func (s *Scheduler) RemoveJob(id string) error {
	s.mu.Lock()
	if entryID, ok := s.cronEntries[id]; ok {
		s.cronEngine.Remove(entryID)
		delete(s.cronEntries, id)
	}
	s.mu.Unlock()
	return s.store.DeleteJob(id)
}

// Start loads persisted jobs, re-registers cron entries, starts the cron
// engine, and begins the interval/date poll loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	jobs, err := s.store.LoadJobs()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to load persisted jobs: %w", err)
	}
	for _, job := range jobs {
		if job.Trigger == TriggerCron && job.Enabled {
			if err := s.registerCronJobLocked(job); err != nil && s.log != nil {
				s.log.Error(ctx, "failed to register cron job", err, map[string]interface{}{"job_id": job.ID})
			}
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.cronEngine.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.pollEvery)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.tick(runCtx)
			}
		}
	}()

	if s.log != nil {
		s.log.Info(ctx, "scheduler started", nil)
	}
	return nil
}

func (s *Scheduler) registerCronJobLocked(job Job) error {
	if old, ok := s.cronEntries[job.ID]; ok {
		s.cronEngine.Remove(old)
	}
	id, err := s.cronEngine.AddFunc(job.CronExpr, func() { s.runJob(job) })
	if err != nil {
		return err
	}
	s.cronEntries[job.ID] = id
	return nil
}

// Stop halts the poll loop and the cron engine, waiting up to ctx's
// deadline for in-flight dispatch goroutines to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	cronStopCtx := s.cronEngine.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
		<-cronStopCtx.Done()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.log != nil {
		s.log.Info(ctx, "scheduler stopped", nil)
	}
	return nil
}

// tick evaluates interval/date jobs for readiness and dispatches due ones.
func (s *Scheduler) tick(ctx context.Context) {
	jobs, err := s.store.LoadJobs()
	if err != nil {
		if s.log != nil {
			s.log.Error(ctx, "scheduler tick failed to load jobs", err, nil)
		}
		return
	}

	now := time.Now()
	for _, job := range jobs {
		if !job.Enabled || job.Trigger == TriggerCron {
			continue
		}
		if job.NextRun.IsZero() || job.NextRun.After(now) {
			continue
		}

		lateBy := now.Sub(job.NextRun)
		if job.MisfireGrace > 0 && lateBy > job.MisfireGrace {
			s.recordMisfire(job, now)
			s.advance(job, now)
			continue
		}

		if job.CoalesceOnCatchup {
			// Re-anchor NextRun to now before dispatch. advance also steps
			// from now, so a backlog collapses into a single run with or
			// without this flag; missed intervals are not replayed.
			job.NextRun = now
		}

		jobCopy := job
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runJob(jobCopy)
		}()
		s.advance(job, now)
	}
}

func (s *Scheduler) advance(job Job, now time.Time) {
	switch job.Trigger {
	case TriggerInterval:
		job.NextRun = now.Add(job.Interval)
	case TriggerDate:
		job.Enabled = false
	}
	job.LastRun = now
	if err := s.store.SaveJob(job); err != nil && s.log != nil {
		s.log.Error(context.Background(), "failed to persist job after tick", err, map[string]interface{}{"job_id": job.ID})
	}
}

func (s *Scheduler) recordMisfire(job Job, now time.Time) {
	_ = s.store.AppendExecution(Execution{JobID: job.ID, Start: now, End: now, Status: "misfired"})
	if s.met != nil {
		s.met.RecordSchedulerRun(job.Kind, "misfired", 0)
	}
}

// runJob enforces MaxConcurrentInstances, dispatches job, and records the
// outcome to history.
func (s *Scheduler) runJob(job Job) {
	if !s.acquireInstance(job.ID, job.MaxConcurrentInstances) {
		_ = s.store.AppendExecution(Execution{JobID: job.ID, Start: time.Now(), End: time.Now(), Status: "skipped"})
		if s.met != nil {
			s.met.RecordSchedulerRun(job.Kind, "skipped", 0)
		}
		return
	}
	defer s.releaseInstance(job.ID)

	start := time.Now()
	result, err := s.dispatcher.DispatchJob(job)
	end := time.Now()

	exec := Execution{JobID: job.ID, Start: start, End: end, Result: result}
	status := "success"
	if err != nil {
		status = "failure"
		exec.Err = err.Error()
	}
	exec.Status = status
	_ = s.store.AppendExecution(exec)

	if s.met != nil {
		s.met.RecordSchedulerRun(job.Kind, status, end.Sub(start))
	}
	if s.log != nil {
		s.log.WithFields(map[string]interface{}{"job_id": job.ID, "status": status}).Info("scheduler job executed")
	}
}

func (s *Scheduler) acquireInstance(jobID string, max int) bool {
	if max <= 0 {
		max = 1
	}
	s.instanceMu.Lock()
	counter, ok := s.instances[jobID]
	if !ok {
		var zero int32
		counter = &zero
		s.instances[jobID] = counter
	}
	s.instanceMu.Unlock()

	if atomic.AddInt32(counter, 1) > int32(max) {
		atomic.AddInt32(counter, -1)
		return false
	}
	return true
}

func (s *Scheduler) releaseInstance(jobID string) {
	s.instanceMu.Lock()
	counter := s.instances[jobID]
	s.instanceMu.Unlock()
	if counter != nil {
		atomic.AddInt32(counter, -1)
	}
}
