package document

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/cncaiprojem/projem-sub004/infrastructure/errors"
	"github.com/google/uuid"
)

// Adapter is the seam between the document manager and whatever actually
// holds the in-memory CAD document: a subprocess bound to the real engine in
// production, or a JSON-persisting stand-in in tests. The manager never
// touches the kernel directly, only through this interface.
type Adapter interface {
	Create(ctx context.Context, docID string, template string) error
	Open(ctx context.Context, docID, path string) error
	Save(ctx context.Context, docID, path string) error
	Close(ctx context.Context, docID string) error

	TakeSnapshot(ctx context.Context, docID string) ([]byte, error)
	RestoreSnapshot(ctx context.Context, docID string, data []byte) error

	StartTransaction(ctx context.Context, docID string) error
	CommitTransaction(ctx context.Context, docID string) error
	AbortTransaction(ctx context.Context, docID string) error
}

// RealAdapter binds document operations to the CAD engine binary, invoked as
// a short-lived subprocess per operation. The exact invocation mirrors the
// one used by the job executor so both paths exercise the same engine
// binary and environment hardening.
type RealAdapter struct {
	enginePath string
	workDir    string
}

// NewRealAdapter returns an Adapter that shells out to enginePath for every
// operation, using workDir as the scratch root for transient script files.
func NewRealAdapter(enginePath, workDir string) *RealAdapter {
	return &RealAdapter{enginePath: enginePath, workDir: workDir}
}

func (a *RealAdapter) run(ctx context.Context, script string) error {
	tmp, err := os.CreateTemp(a.workDir, "docop-*.py")
	if err != nil {
		return errors.Internal("failed to stage document operation script", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(script); err != nil {
		tmp.Close()
		return errors.Internal("failed to write document operation script", err)
	}
	tmp.Close()

	cmd := exec.CommandContext(ctx, a.enginePath, tmp.Name())
	cmd.Env = []string{"HOME=" + a.workDir, "LC_ALL=C", "LANG=C"}
	out, err := cmd.CombinedOutput()
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return errors.SubprocessFailed(exitCode, string(out))
	}
	return nil
}

func (a *RealAdapter) Create(ctx context.Context, docID, template string) error {
	return a.run(ctx, fmt.Sprintf("doc_create(%q, %q)", docID, template))
}

func (a *RealAdapter) Open(ctx context.Context, docID, path string) error {
	return a.run(ctx, fmt.Sprintf("doc_open(%q, %q)", docID, path))
}

func (a *RealAdapter) Save(ctx context.Context, docID, path string) error {
	return a.run(ctx, fmt.Sprintf("doc_save(%q, %q)", docID, path))
}

func (a *RealAdapter) Close(ctx context.Context, docID string) error {
	return a.run(ctx, fmt.Sprintf("doc_close(%q)", docID))
}

func (a *RealAdapter) TakeSnapshot(ctx context.Context, docID string) ([]byte, error) {
	path := filepath.Join(a.workDir, docID+"-"+uuid.NewString()+".snap")
	if err := a.run(ctx, fmt.Sprintf("doc_snapshot(%q, %q)", docID, path)); err != nil {
		return nil, err
	}
	defer os.Remove(path)
	return os.ReadFile(path)
}

func (a *RealAdapter) RestoreSnapshot(ctx context.Context, docID string, data []byte) error {
	path := filepath.Join(a.workDir, docID+"-"+uuid.NewString()+".snap")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Internal("failed to stage snapshot for restore", err)
	}
	defer os.Remove(path)
	return a.run(ctx, fmt.Sprintf("doc_restore(%q, %q)", docID, path))
}

func (a *RealAdapter) StartTransaction(ctx context.Context, docID string) error {
	return a.run(ctx, fmt.Sprintf("doc_txn_start(%q)", docID))
}

func (a *RealAdapter) CommitTransaction(ctx context.Context, docID string) error {
	return a.run(ctx, fmt.Sprintf("doc_txn_commit(%q)", docID))
}

func (a *RealAdapter) AbortTransaction(ctx context.Context, docID string) error {
	return a.run(ctx, fmt.Sprintf("doc_txn_abort(%q)", docID))
}

// MockAdapter persists document state as JSON on the local filesystem. It
// exists so the manager's state machine, locking and transaction logic can
// be exercised without a real engine binary, and it backs the default
// development configuration.
type MockAdapter struct {
	dir string
	// txns tracks whether a document currently has an open transaction,
	// so CommitTransaction/AbortTransaction outside one can fail loudly.
	txns map[string]bool
}

// NewMockAdapter returns an Adapter that writes documents as JSON files
// under dir.
func NewMockAdapter(dir string) *MockAdapter {
	return &MockAdapter{dir: dir, txns: make(map[string]bool)}
}

type mockDoc struct {
	ID       string                 `json:"id"`
	Template string                 `json:"template"`
	Props    map[string]interface{} `json:"props"`
}

func (a *MockAdapter) path(docID string) string {
	return filepath.Join(a.dir, docID+".json")
}

func (a *MockAdapter) write(docID string, d mockDoc) error {
	data, err := json.Marshal(d)
	if err != nil {
		return errors.Internal("failed to marshal mock document", err)
	}
	if err := os.WriteFile(a.path(docID), data, 0o600); err != nil {
		return errors.Internal("failed to write mock document", err)
	}
	return nil
}

func (a *MockAdapter) read(docID string) (mockDoc, error) {
	data, err := os.ReadFile(a.path(docID))
	if err != nil {
		return mockDoc{}, errors.DocumentNotFound(docID)
	}
	var d mockDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return mockDoc{}, errors.DocumentCorrupt(docID, err.Error())
	}
	return d, nil
}

func (a *MockAdapter) Create(ctx context.Context, docID, template string) error {
	if _, err := os.Stat(a.path(docID)); err == nil {
		return errors.DocumentAlreadyExists(docID)
	}
	return a.write(docID, mockDoc{ID: docID, Template: template, Props: map[string]interface{}{}})
}

func (a *MockAdapter) Open(ctx context.Context, docID, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.DocumentNotFound(docID)
	}
	var d mockDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return errors.DocumentCorrupt(docID, err.Error())
	}
	d.ID = docID
	return a.write(docID, d)
}

func (a *MockAdapter) Save(ctx context.Context, docID, path string) error {
	d, err := a.read(docID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(d)
	if err != nil {
		return errors.Internal("failed to marshal mock document", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func (a *MockAdapter) Close(ctx context.Context, docID string) error {
	_, err := a.read(docID)
	return err
}

func (a *MockAdapter) TakeSnapshot(ctx context.Context, docID string) ([]byte, error) {
	d, err := a.read(docID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(d)
}

func (a *MockAdapter) RestoreSnapshot(ctx context.Context, docID string, data []byte) error {
	var d mockDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return errors.DocumentCorrupt(docID, err.Error())
	}
	d.ID = docID
	return a.write(docID, d)
}

func (a *MockAdapter) StartTransaction(ctx context.Context, docID string) error {
	if a.txns[docID] {
		return errors.TransactionState(docID, "active", "none")
	}
	a.txns[docID] = true
	return nil
}

func (a *MockAdapter) CommitTransaction(ctx context.Context, docID string) error {
	if !a.txns[docID] {
		return errors.TransactionState(docID, "none", "active")
	}
	delete(a.txns, docID)
	return nil
}

func (a *MockAdapter) AbortTransaction(ctx context.Context, docID string) error {
	if !a.txns[docID] {
		return errors.TransactionState(docID, "none", "active")
	}
	delete(a.txns, docID)
	return nil
}
