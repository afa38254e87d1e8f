// Package scheduler runs persisted cron, interval, and one-shot date jobs
// against a dispatcher, recording each run's outcome to history.
package scheduler

import "time"

// TriggerKind selects how NextRun is computed.
type TriggerKind string

const (
	TriggerCron     TriggerKind = "cron"
	TriggerInterval TriggerKind = "interval"
	TriggerDate     TriggerKind = "date"
)

// Job is a persisted unit of recurring (or one-shot) work.
type Job struct {
	ID         string
	Name       string
	Kind       string // opaque operation identifier dispatched by a Dispatcher
	Trigger    TriggerKind
	CronExpr   string        // TriggerCron
	Interval   time.Duration // TriggerInterval
	RunAt      time.Time     // TriggerDate
	Payload    map[string]interface{}

	MaxConcurrentInstances int
	MisfireGrace           time.Duration
	CoalesceOnCatchup      bool
	ReplaceExisting        bool

	Enabled bool
	NextRun time.Time
	LastRun time.Time
}

// Execution is one recorded run of a Job.
type Execution struct {
	JobID     string
	Start     time.Time
	End       time.Time
	Status    string // "success" | "failure" | "misfired" | "skipped"
	Result    string
	Err       string
}

// Dispatcher runs a job's payload and reports the outcome.
type Dispatcher interface {
	DispatchJob(job Job) (result string, err error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(job Job) (string, error)

func (f DispatcherFunc) DispatchJob(job Job) (string, error) { return f(job) }
