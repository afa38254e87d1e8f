// Package executor runs a canonicalized CAD script against the engine
// binary as a hardened, resource-limited, circuit-broken subprocess.
package executor

import (
	"context"
	"time"

	"github.com/cncaiprojem/projem-sub004/infrastructure/config"
)

// Request describes one execution.
type Request struct {
	TenantID      string
	JobID         string
	OpType        string
	Script        string
	Params        map[string]interface{}
	OutputFormats []string
	Tier          config.TierName
	DocumentID    string // non-empty to integrate with the document lifecycle
}

// Result is returned on success.
type Result struct {
	JobID        string
	ExitCode     int
	Stdout       string
	Stderr       string
	PeakRSSMB    int
	CPUPercent   float64
	Duration     time.Duration
	OutputFiles  map[string]string // format -> retained path, valid after Execute returns
	OutputHashes map[string]string // format -> hex SHA-256 of the retained file
}

// DocumentLifecycle ties a job execution to its document's transaction,
// undo and save sequence. Execute calls it only when Request.DocumentID is
// set, so the executor never has to import the document package directly.
type DocumentLifecycle interface {
	// BeginJob opens a transaction on docID on behalf of ownerID and logs
	// the run against it.
	BeginJob(ctx context.Context, docID, ownerID, jobID string) error
	// CompleteJob is called after a successful run: it snapshots the
	// document for undo, commits the transaction and saves the result
	// under ext.
	CompleteJob(ctx context.Context, docID, ownerID, ext string) error
	// AbortJob rolls back the transaction opened by BeginJob after a
	// failed run.
	AbortJob(ctx context.Context, docID string) error
}
