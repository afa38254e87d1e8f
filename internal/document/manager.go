package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cncaiprojem/projem-sub004/infrastructure/errors"
	"github.com/cncaiprojem/projem-sub004/infrastructure/logging"
	"github.com/cncaiprojem/projem-sub004/infrastructure/metrics"
	"github.com/cncaiprojem/projem-sub004/infrastructure/objectstore"
	"github.com/google/uuid"
)

// Config tunes manager behaviour that is not fixed by the underlying
// adapter or storage backend.
type Config struct {
	LockTTL           time.Duration
	MaxUndoDepth       int
	BackupRetentionDays int
	MaxBackupsPerDoc    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LockTTL:             5 * time.Minute,
		MaxUndoDepth:        50,
		BackupRetentionDays: 30,
		MaxBackupsPerDoc:    10,
	}
}

// Manager owns document lifecycle, locking, transactions, undo/redo and
// backups. It never touches the CAD kernel directly: all document content
// operations go through an Adapter.
type Manager struct {
	mu sync.Mutex

	adapter Adapter
	store   objectstore.Store
	workDir string
	cfg     Config
	log     *logging.Logger
	met     *metrics.Metrics

	docs  map[string]*Document
	locks map[string]*Lock
	txns  map[string]*Transaction
}

// New constructs a Manager. store is used to persist saved documents and
// backups; adapter performs the actual engine-facing work; workDir roots
// the scratch files used to stage saves between the adapter and the store.
func New(adapter Adapter, store objectstore.Store, workDir string, cfg Config, log *logging.Logger, met *metrics.Metrics) *Manager {
	return &Manager{
		adapter: adapter,
		store:   store,
		workDir: workDir,
		cfg:     cfg,
		log:     log,
		met:     met,
		docs:    make(map[string]*Document),
		locks:   make(map[string]*Lock),
		txns:    make(map[string]*Transaction),
	}
}

func (m *Manager) record(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	if m.met != nil {
		m.met.RecordDocumentOp(op, status)
	}
	if m.log != nil {
		m.log.LogDocumentOp(context.Background(), op, op, err)
	}
}

// CreateDocument creates a new document from template, in state "new" then
// "open".
func (m *Manager) CreateDocument(ctx context.Context, jobID, template, author string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := DeriveID(jobID)
	if _, exists := m.docs[id]; exists {
		return nil, errors.DocumentAlreadyExists(id)
	}

	if err := m.adapter.Create(ctx, id, template); err != nil {
		m.record("create", err)
		return nil, err
	}

	now := time.Now()
	doc := &Document{
		ID:        id,
		JobID:     jobID,
		State:     StateOpen,
		Version:   1,
		Revision:  'A',
		CreatedAt: now,
		UpdatedAt: now,
		Author:    author,
		Properties: map[string]interface{}{},
	}
	m.docs[id] = doc
	m.record("create", nil)
	return doc, nil
}

// OpenDocument loads an existing document from path into state "open".
func (m *Manager) OpenDocument(ctx context.Context, docID, path, author string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.docs[docID]; ok && existing.State != StateClosed {
		return existing, nil
	}

	doc := &Document{ID: docID, State: StateOpening, Author: author, Properties: map[string]interface{}{}}
	m.docs[docID] = doc

	if err := m.adapter.Open(ctx, docID, path); err != nil {
		doc.State = StateError
		m.record("open", err)
		return nil, err
	}

	doc.State = StateOpen
	doc.Version = 1
	doc.Revision = 'A'
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt
	m.record("open", nil)
	return doc, nil
}

func (m *Manager) mustDoc(docID string) (*Document, error) {
	doc, ok := m.docs[docID]
	if !ok {
		return nil, errors.DocumentNotFound(docID)
	}
	return doc, nil
}

// AcquireLock grants an exclusive or shared lock to ownerID, failing if an
// unexpired lock is already held by someone else.
func (m *Manager) AcquireLock(ctx context.Context, docID, ownerID string, typ LockType) (*Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.mustDoc(docID); err != nil {
		return nil, err
	}

	now := time.Now()
	if existing, ok := m.locks[docID]; ok && !existing.Expired(now) {
		if existing.OwnerID != ownerID || (typ == LockExclusive && existing.Type != LockExclusive) {
			return nil, errors.DocumentLocked(docID)
		}
	}

	lock := &Lock{
		DocumentID: docID,
		LockID:     uuid.NewString(),
		OwnerID:    ownerID,
		Type:       typ,
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.cfg.LockTTL),
	}
	m.locks[docID] = lock
	if m.met != nil {
		m.met.SetDocumentLocks(len(m.locks))
	}
	return lock, nil
}

// ReleaseLock releases a lock previously acquired by ownerID.
func (m *Manager) ReleaseLock(ctx context.Context, docID, ownerID, lockID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[docID]
	if !ok {
		return nil
	}
	if existing.LockID != lockID || existing.OwnerID != ownerID {
		return errors.LockOwnerMismatch(docID, ownerID)
	}
	delete(m.locks, docID)
	if m.met != nil {
		m.met.SetDocumentLocks(len(m.locks))
	}
	return nil
}

func (m *Manager) checkLock(docID, ownerID string) error {
	lock, ok := m.locks[docID]
	if !ok || lock.Expired(time.Now()) {
		return nil
	}
	if lock.OwnerID != ownerID {
		return errors.DocumentLocked(docID)
	}
	return nil
}

// StartTransaction opens a new transaction on docID, snapshotting state for
// rollback on abort.
func (m *Manager) StartTransaction(ctx context.Context, docID, ownerID string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLock(docID, ownerID); err != nil {
		return nil, err
	}
	if _, ok := m.txns[docID]; ok {
		return nil, errors.TransactionState(docID, "active", "none")
	}

	data, err := m.adapter.TakeSnapshot(ctx, docID)
	if err != nil {
		return nil, err
	}
	if err := m.adapter.StartTransaction(ctx, docID); err != nil {
		return nil, err
	}

	txn := &Transaction{
		TxnID:            uuid.NewString(),
		DocumentID:       docID,
		State:            TxnActive,
		StartedAt:        time.Now(),
		RollbackSnapshot: &Snapshot{ID: uuid.NewString(), DocumentID: docID, Timestamp: time.Now(), Data: data, Size: int64(len(data))},
		Buffer:           map[string]interface{}{},
	}
	m.txns[docID] = txn
	return txn, nil
}

// LogOperation appends op to the active transaction's operation log. It is
// a no-op error if docID has no active transaction.
func (m *Manager) LogOperation(ctx context.Context, docID, op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.txns[docID]
	if !ok || txn.State != TxnActive {
		return errors.TransactionState(docID, "none", "active")
	}
	txn.Operations = append(txn.Operations, op)
	return nil
}

// CommitTransaction finalizes the active transaction on docID.
func (m *Manager) CommitTransaction(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.txns[docID]
	if !ok || txn.State != TxnActive {
		return errors.TransactionState(docID, "none", "active")
	}
	txn.State = TxnCommitting
	if err := m.adapter.CommitTransaction(ctx, docID); err != nil {
		txn.State = TxnActive
		return err
	}
	txn.State = TxnCommitted
	txn.EndedAt = time.Now()
	delete(m.txns, docID)

	if doc, err := m.mustDoc(docID); err == nil {
		doc.Version, doc.Revision = NextRevision(doc.Version, doc.Revision)
		doc.RedoStack = nil
		doc.State = StateModified
		doc.UpdatedAt = time.Now()
	}
	return nil
}

// AbortTransaction rolls back docID to the pre-transaction snapshot.
func (m *Manager) AbortTransaction(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.txns[docID]
	if !ok || txn.State != TxnActive {
		return errors.TransactionState(docID, "none", "active")
	}
	txn.State = TxnAborting
	if err := m.adapter.AbortTransaction(ctx, docID); err != nil {
		return err
	}
	if txn.RollbackSnapshot != nil {
		if err := m.adapter.RestoreSnapshot(ctx, docID, txn.RollbackSnapshot.Data); err != nil {
			return err
		}
	}
	txn.State = TxnAborted
	txn.EndedAt = time.Now()
	delete(m.txns, docID)
	return nil
}

// AddUndoSnapshot records the current document state as an undo point,
// evicting the oldest entry once MaxUndoDepth is exceeded and clearing any
// redo history (new edits invalidate previously undone state).
func (m *Manager) AddUndoSnapshot(ctx context.Context, docID, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.mustDoc(docID)
	if err != nil {
		return err
	}
	data, err := m.adapter.TakeSnapshot(ctx, docID)
	if err != nil {
		return err
	}
	snap := Snapshot{ID: uuid.NewString(), DocumentID: docID, Timestamp: time.Now(), Description: description, Data: data, Size: int64(len(data))}
	doc.UndoStack = append(doc.UndoStack, snap)
	if len(doc.UndoStack) > m.cfg.MaxUndoDepth {
		doc.UndoStack = doc.UndoStack[len(doc.UndoStack)-m.cfg.MaxUndoDepth:]
	}
	doc.RedoStack = nil
	return nil
}

// Undo restores the most recent undo snapshot, pushing the current state
// onto the redo stack.
func (m *Manager) Undo(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.mustDoc(docID)
	if err != nil {
		return err
	}
	if len(doc.UndoStack) == 0 {
		return errors.DocumentCorrupt(docID, "no undo history available")
	}

	current, err := m.adapter.TakeSnapshot(ctx, docID)
	if err != nil {
		return err
	}

	last := doc.UndoStack[len(doc.UndoStack)-1]
	doc.UndoStack = doc.UndoStack[:len(doc.UndoStack)-1]
	doc.RedoStack = append(doc.RedoStack, Snapshot{ID: uuid.NewString(), DocumentID: docID, Timestamp: time.Now(), Data: current, Size: int64(len(current))})

	return m.adapter.RestoreSnapshot(ctx, docID, last.Data)
}

// Redo reapplies the most recently undone snapshot.
func (m *Manager) Redo(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.mustDoc(docID)
	if err != nil {
		return err
	}
	if len(doc.RedoStack) == 0 {
		return errors.DocumentCorrupt(docID, "no redo history available")
	}

	current, err := m.adapter.TakeSnapshot(ctx, docID)
	if err != nil {
		return err
	}

	last := doc.RedoStack[len(doc.RedoStack)-1]
	doc.RedoStack = doc.RedoStack[:len(doc.RedoStack)-1]
	doc.UndoStack = append(doc.UndoStack, Snapshot{ID: uuid.NewString(), DocumentID: docID, Timestamp: time.Now(), Data: current, Size: int64(len(current))})

	return m.adapter.RestoreSnapshot(ctx, docID, last.Data)
}

// SaveDocument persists docID's content to the object store under
// documents/<docID>/v<version><revision>.<ext>.
func (m *Manager) SaveDocument(ctx context.Context, docID, ownerID, ext string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.mustDoc(docID)
	if err != nil {
		return "", err
	}
	if err := m.checkLock(docID, ownerID); err != nil {
		return "", err
	}

	doc.State = StateSaving

	tmp := filepath.Join(m.workDir, docID+"-"+uuid.NewString()+ext)
	defer os.Remove(tmp)
	if err := m.adapter.Save(ctx, docID, tmp); err != nil {
		doc.State = StateError
		return "", err
	}

	key := fmt.Sprintf("documents/%s/v%d%c%s", docID, doc.Version, doc.Revision, ext)
	f, err := os.Open(tmp)
	if err != nil {
		doc.State = StateError
		return "", err
	}
	defer f.Close()

	if err := m.store.UploadStream(ctx, key, f, "application/octet-stream"); err != nil {
		doc.State = StateError
		return "", err
	}

	doc.State = StateOpen
	doc.UpdatedAt = time.Now()
	m.record("save", nil)
	return key, nil
}

// CloseDocument releases all manager-held state for docID.
func (m *Manager) CloseDocument(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.mustDoc(docID)
	if err != nil {
		return err
	}
	if _, active := m.txns[docID]; active {
		return errors.TransactionState(docID, "active", "none")
	}

	if err := m.adapter.Close(ctx, docID); err != nil {
		return err
	}
	doc.State = StateClosed
	delete(m.locks, docID)
	m.record("close", nil)
	return nil
}

// CreateBackup persists a full snapshot of docID as a retained backup.
func (m *Manager) CreateBackup(ctx context.Context, docID string) (*Backup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.mustDoc(docID); err != nil {
		return nil, err
	}

	data, err := m.adapter.TakeSnapshot(ctx, docID)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	key := fmt.Sprintf("backups/%s/%s.snap", docID, id)
	if err := m.store.UploadStream(ctx, key, bytes.NewReader(data), "application/octet-stream"); err != nil {
		return nil, err
	}

	return &Backup{
		ID:            id,
		DocumentID:    docID,
		CreatedAt:     time.Now(),
		RetentionDays: m.cfg.BackupRetentionDays,
		ObjectKey:     key,
		SizeBytes:     int64(len(data)),
	}, nil
}

// RestoreBackup restores docID's content from a previously created backup.
func (m *Manager) RestoreBackup(ctx context.Context, backup *Backup) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.mustDoc(backup.DocumentID); err != nil {
		return err
	}

	rc, err := m.store.DownloadStream(ctx, backup.ObjectKey)
	if err != nil {
		return err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return errors.Internal("failed to read backup", err)
	}

	if err := m.adapter.RestoreSnapshot(ctx, backup.DocumentID, data); err != nil {
		return err
	}
	m.record("restore_backup", nil)
	return nil
}

// PruneBackups deletes backups that exceed MaxBackupsPerDoc (oldest first)
// or whose age exceeds their own RetentionDays, returning the deleted IDs.
// Callers are expected to pass backups sorted newest-first.
func (m *Manager) PruneBackups(ctx context.Context, backups []Backup) ([]string, error) {
	now := time.Now()
	var deleted []string
	for i, b := range backups {
		expired := now.Sub(b.CreatedAt) > time.Duration(b.RetentionDays)*24*time.Hour
		overCount := i >= m.cfg.MaxBackupsPerDoc
		if !expired && !overCount {
			continue
		}
		if err := m.store.Delete(ctx, b.ObjectKey); err != nil {
			return deleted, err
		}
		deleted = append(deleted, b.ID)
	}
	return deleted, nil
}

// MigrateDocument applies rule to bring an older document version up to the
// current schema, failing loudly rather than silently producing corrupt
// state.
func (m *Manager) MigrateDocument(ctx context.Context, docID, rule string, migrate func([]byte) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.mustDoc(docID); err != nil {
		return err
	}

	data, err := m.adapter.TakeSnapshot(ctx, docID)
	if err != nil {
		return errors.MigrationFailed(docID, rule, err)
	}
	migrated, err := migrate(data)
	if err != nil {
		return errors.MigrationFailed(docID, rule, err)
	}
	if err := m.adapter.RestoreSnapshot(ctx, docID, migrated); err != nil {
		return errors.MigrationFailed(docID, rule, err)
	}
	return nil
}

// AutoRecover attempts to bring docID back to state "open" from state
// "error" or "recovering" by restoring the most recent undo snapshot or
// backup.
func (m *Manager) AutoRecover(ctx context.Context, docID string, fallback *Backup) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.mustDoc(docID)
	if err != nil {
		return err
	}
	doc.State = StateRecovering

	if len(doc.UndoStack) > 0 {
		last := doc.UndoStack[len(doc.UndoStack)-1]
		if err := m.adapter.RestoreSnapshot(ctx, docID, last.Data); err == nil {
			doc.State = StateOpen
			return nil
		}
	}

	if fallback != nil {
		m.mu.Unlock()
		err := m.RestoreBackup(ctx, fallback)
		m.mu.Lock()
		if err == nil {
			doc.State = StateOpen
			return nil
		}
	}

	doc.State = StateError
	return errors.DocumentCorrupt(docID, "auto-recovery exhausted undo history and fallback backup")
}

// GetDocumentStatus returns a snapshot of docID's current tracked state.
func (m *Manager) GetDocumentStatus(docID string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mustDoc(docID)
}
