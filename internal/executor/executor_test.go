package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cncaiprojem/projem-sub004/infrastructure/config"
	svcerrors "github.com/cncaiprojem/projem-sub004/infrastructure/errors"
	"github.com/cncaiprojem/projem-sub004/internal/canon"
)

// fakeEngine writes a shell script standing in for freecadcmd: it drops a
// fixed output file next to the staged job script, mirroring how the real
// engine leaves artifacts in its working directory.
func fakeEngine(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-engine.sh")
	script := "#!/bin/sh\necho done > \"$(dirname \"$1\")/result.step\"\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("failed to stage fake engine: %v", err)
	}
	return path
}

type fakeLifecycle struct {
	begun, completed, aborted []string
	failBegin, failComplete   bool
}

func (f *fakeLifecycle) BeginJob(ctx context.Context, docID, ownerID, jobID string) error {
	if f.failBegin {
		return svcerrors.Internal("begin failed", nil)
	}
	f.begun = append(f.begun, docID)
	return nil
}

func (f *fakeLifecycle) CompleteJob(ctx context.Context, docID, ownerID, ext string) error {
	if f.failComplete {
		return svcerrors.Internal("complete failed", nil)
	}
	f.completed = append(f.completed, docID+ext)
	return nil
}

func (f *fakeLifecycle) AbortJob(ctx context.Context, docID string) error {
	f.aborted = append(f.aborted, docID)
	return nil
}

func testTiers() config.TierSet {
	return config.DefaultTierSet()
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.2.0", "1.10.0", -1},
		{"2.0.0", "1.9.9", 1},
		{"1.0", "1.0.0", 0},
	}
	for _, c := range cases {
		if got := compareVersions(c.a, c.b); got != c.want {
			t.Errorf("compareVersions(%s, %s) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestParseEngineVersion(t *testing.T) {
	got := parseEngineVersion("FreeCAD 0.21.2, Libs: 0.21.2R")
	if got != "0.21.2" {
		t.Errorf("parseEngineVersion() = %q", got)
	}
}

func TestExecuteRejectsUnknownTier(t *testing.T) {
	e := New(testTiers(), Config{WorkDir: t.TempDir()}, nil, nil)
	_, err := e.Execute(context.Background(), Request{Tier: "nonexistent", TenantID: "t1"})
	if err == nil {
		t.Fatal("expected error for unknown tier")
	}
}

func TestExecuteRejectsDisallowedFormat(t *testing.T) {
	e := New(testTiers(), Config{WorkDir: t.TempDir(), EnginePath: "/bin/true"}, nil, nil)
	req := Request{
		Tier:          config.TierBasic,
		TenantID:      "t1",
		OutputFormats: []string{"ifc"},
	}
	_, err := e.Execute(context.Background(), req)
	se := svcerrors.GetServiceError(err)
	if se == nil || se.Code != svcerrors.ErrCodeLicenseRestriction {
		t.Fatalf("error = %v, want license restriction", err)
	}
}

func TestExecuteRejectsOverComplexScript(t *testing.T) {
	req := Request{
		Tier:     config.TierBasic,
		TenantID: "t1",
		Script:   "import Part\nBody.Pad(1)\ncompute_and_show();\n",
	}
	// Basic tier allows complexity up to 1000; force a tiny ceiling via a
	// private tier set to exercise the guard deterministically.
	tiny := config.TierSet{config.TierBasic: config.ResourceTier{
		Name: config.TierBasic, MaxComplexity: 1, MaxConcurrentPerTenant: 1,
	}}
	e := New(tiny, Config{WorkDir: t.TempDir(), EnginePath: "/bin/true"}, nil, nil)
	_, err := e.Execute(context.Background(), req)
	if err == nil {
		t.Fatal("expected complexity rejection")
	}
}

func TestAcquireSlotEnforcesPerTenantLimit(t *testing.T) {
	e := New(testTiers(), Config{WorkDir: t.TempDir()}, nil, nil)
	release1, err := e.acquireSlot("tenant-a", 1)
	if err != nil {
		t.Fatalf("first acquireSlot() error = %v", err)
	}
	if _, err := e.acquireSlot("tenant-a", 1); err == nil {
		t.Fatal("expected second acquireSlot() to fail at the concurrency limit")
	}
	release1()
	if _, err := e.acquireSlot("tenant-a", 1); err != nil {
		t.Fatalf("acquireSlot() after release error = %v", err)
	}
}

func TestEstimateComplexity(t *testing.T) {
	r := &canon.ScriptResult{
		Metadata: canon.ScriptMetadata{
			SolidCount:  2,
			Features:    []string{"Pad", "Pocket"},
			ModulesUsed: []string{"Part"},
		},
	}
	if got := estimateComplexity(r); got != 2*10+2*5+1 {
		t.Fatalf("estimateComplexity() = %d", got)
	}
}

func TestExecuteHashesAndRetainsOutputsPastScratchCleanup(t *testing.T) {
	work := t.TempDir()
	e := New(testTiers(), Config{WorkDir: work, EnginePath: fakeEngine(t)}, nil, nil)

	req := Request{Tier: config.TierBasic, TenantID: "t1", JobID: "job-1", OutputFormats: []string{"step"},
		Script: "import Part\nBody.Pad(1)\ncompute_and_show();\n"}
	res, err := e.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	path, ok := res.OutputFiles["step"]
	if !ok {
		t.Fatal("expected a step output file")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("output file must still exist after Execute returns: %v", err)
	}
	if filepath.Dir(path) == work {
		t.Fatalf("output path %q should be retained under a job subdirectory, not workDir itself", path)
	}

	hash, ok := res.OutputHashes["step"]
	if !ok || len(hash) != 64 {
		t.Fatalf("OutputHashes[step] = %q, want a 64-char hex sha256", hash)
	}
}

func TestExecuteDrivesDocumentLifecycleOnSuccess(t *testing.T) {
	e := New(testTiers(), Config{WorkDir: t.TempDir(), EnginePath: fakeEngine(t)}, nil, nil)
	lc := &fakeLifecycle{}
	e.cfg.Lifecycle = lc

	req := Request{Tier: config.TierBasic, TenantID: "t1", JobID: "job-2", DocumentID: "doc-1", OutputFormats: []string{"step"},
		Script: "import Part\nBody.Pad(1)\ncompute_and_show();\n"}
	if _, err := e.Execute(context.Background(), req); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(lc.begun) != 1 || lc.begun[0] != "doc-1" {
		t.Fatalf("begun = %v, want [doc-1]", lc.begun)
	}
	if len(lc.completed) != 1 || lc.completed[0] != "doc-1.step" {
		t.Fatalf("completed = %v, want [doc-1.step]", lc.completed)
	}
	if len(lc.aborted) != 0 {
		t.Fatalf("aborted = %v, want none on success", lc.aborted)
	}
}

func TestExecuteAbortsDocumentLifecycleOnFailedComplete(t *testing.T) {
	e := New(testTiers(), Config{WorkDir: t.TempDir(), EnginePath: fakeEngine(t)}, nil, nil)
	lc := &fakeLifecycle{failComplete: true}
	e.cfg.Lifecycle = lc

	req := Request{Tier: config.TierBasic, TenantID: "t1", JobID: "job-3", DocumentID: "doc-2", OutputFormats: []string{"step"},
		Script: "import Part\nBody.Pad(1)\ncompute_and_show();\n"}
	if _, err := e.Execute(context.Background(), req); err == nil {
		t.Fatal("expected the failed CompleteJob error to propagate")
	}

	if len(lc.aborted) != 1 || lc.aborted[0] != "doc-2" {
		t.Fatalf("aborted = %v, want [doc-2]", lc.aborted)
	}
}
