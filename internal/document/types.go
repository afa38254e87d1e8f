// Package document implements the document lifecycle: creation, locking,
// transactions with undo/redo, backups and version migration, fronted by an
// adapter interface that keeps the manager free of any direct CAD kernel
// dependency.
package document

import (
	"regexp"
	"time"
)

// State is a document's lifecycle state.
type State string

const (
	StateNew        State = "new"
	StateOpening    State = "opening"
	StateOpen       State = "open"
	StateModified   State = "modified"
	StateSaving     State = "saving"
	StateClosed     State = "closed"
	StateError      State = "error"
	StateRecovering State = "recovering"
)

// LockType distinguishes exclusive write locks from shared read locks.
type LockType string

const (
	LockExclusive LockType = "exclusive"
	LockShared    LockType = "shared"
)

// TxnState is a transaction's lifecycle state.
type TxnState string

const (
	TxnNone       TxnState = "none"
	TxnActive     TxnState = "active"
	TxnCommitting TxnState = "committing"
	TxnCommitted  TxnState = "committed"
	TxnAborting   TxnState = "aborting"
	TxnAborted    TxnState = "aborted"
)

// Document is the lifecycle record the manager tracks per job.
type Document struct {
	ID          string
	JobID       string
	State       State
	Version     int
	Revision    byte // 'A'..'Z'
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Author      string
	Description string
	FileSizeBytes int64
	SHA256      string
	Compressed  bool
	Properties  map[string]interface{}

	UndoStack []Snapshot
	RedoStack []Snapshot
}

// Lock is a short-lived exclusivity grant over a document.
type Lock struct {
	DocumentID string
	LockID     string
	OwnerID    string
	Type       LockType
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lock is logically absent.
func (l Lock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// Transaction groups a sequence of operations under atomic commit/abort.
type Transaction struct {
	TxnID            string
	DocumentID       string
	State            TxnState
	StartedAt        time.Time
	EndedAt          time.Time
	Operations       []string
	RollbackSnapshot *Snapshot
	Buffer           map[string]interface{}
}

// Snapshot captures document state for undo/redo and transactional rollback.
type Snapshot struct {
	ID          string
	DocumentID  string
	Timestamp   time.Time
	Description string
	Data        []byte
	Size        int64
}

// Backup is a persisted full serialization of a document plus retention
// metadata.
type Backup struct {
	ID             string
	DocumentID     string
	CreatedAt      time.Time
	RetentionDays  int
	Compressed     bool
	ObjectKey      string
	SizeBytes      int64
}

var idSanitizeRe = regexp.MustCompile(`[^\w\-_.]`)

// DeriveID sanitizes a job id into a document id, restricted to
// [A-Za-z0-9_.-] with no path traversal sequences.
func DeriveID(jobID string) string {
	cleaned := idSanitizeRe.ReplaceAllString(jobID, "_")
	for len(cleaned) > 0 && cleaned[0] == '.' {
		cleaned = cleaned[1:]
	}
	if cleaned == "" {
		cleaned = "doc"
	}
	return cleaned
}

// NextRevision advances (version, revision) per the wrap rule: A..Z then
// rolls to the next version starting at A.
func NextRevision(version int, revision byte) (int, byte) {
	if revision == 0 {
		revision = 'A'
	}
	if revision >= 'Z' {
		return version + 1, 'A'
	}
	return version, revision + 1
}
