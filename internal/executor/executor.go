package executor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cncaiprojem/projem-sub004/infrastructure/config"
	"github.com/cncaiprojem/projem-sub004/infrastructure/errors"
	"github.com/cncaiprojem/projem-sub004/infrastructure/logging"
	"github.com/cncaiprojem/projem-sub004/infrastructure/metrics"
	"github.com/cncaiprojem/projem-sub004/infrastructure/resilience"
	"github.com/cncaiprojem/projem-sub004/internal/canon"
	"github.com/cncaiprojem/projem-sub004/internal/rules"
	"github.com/cncaiprojem/projem-sub004/internal/workerruntime"
)

// Config tunes executor-wide behaviour not fixed by a resource tier.
type Config struct {
	EnginePath      string
	MinEngineVersion string
	WorkDir         string
	MonitorInterval time.Duration
	// Lifecycle, when set, is consulted for every Request carrying a
	// DocumentID: Execute opens a transaction before running the engine
	// and commits/saves (or aborts) it depending on the outcome.
	Lifecycle DocumentLifecycle
}

// Executor runs canonicalized scripts against the CAD engine binary,
// enforcing the resource tier's limits and protecting the engine with a
// per-operation-type circuit breaker.
type Executor struct {
	tiers  config.TierSet
	cfg    Config
	log    *logging.Logger
	met    *metrics.Metrics

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker

	concMu      sync.Mutex
	concurrency map[string]*int64
}

// New constructs an Executor.
func New(tiers config.TierSet, cfg Config, log *logging.Logger, met *metrics.Metrics) *Executor {
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 200 * time.Millisecond
	}
	return &Executor{
		tiers:       tiers,
		cfg:         cfg,
		log:         log,
		met:         met,
		breakers:    make(map[string]*resilience.CircuitBreaker),
		concurrency: make(map[string]*int64),
	}
}

func (e *Executor) breakerFor(opType string) *resilience.CircuitBreaker {
	e.breakersMu.Lock()
	defer e.breakersMu.Unlock()
	cb, ok := e.breakers[opType]
	if !ok {
		cb = resilience.New(resilience.DefaultEngineCBConfig(e.log))
		e.breakers[opType] = cb
	}
	return cb
}

func (e *Executor) acquireSlot(tenantID string, limit int) (func(), error) {
	e.concMu.Lock()
	counter, ok := e.concurrency[tenantID]
	if !ok {
		var zero int64
		counter = &zero
		e.concurrency[tenantID] = counter
	}
	e.concMu.Unlock()

	if atomic.AddInt64(counter, 1) > int64(limit) {
		atomic.AddInt64(counter, -1)
		return nil, errors.ResourceExhausted(tenantID, limit)
	}
	return func() { atomic.AddInt64(counter, -1) }, nil
}

// Execute runs req's script through the full precondition, sandboxing and
// monitoring sequence, returning the engine's output files on success.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	// 1. resource tier limits
	tier, ok := e.tiers[req.Tier]
	if !ok {
		return nil, errors.ResourceExhausted(req.TenantID, 0)
	}

	// 2. output-format allow-list
	for _, f := range req.OutputFormats {
		if !tier.AllowsFormat(f) {
			return nil, errors.LicenseRestriction(f, string(req.Tier))
		}
	}

	// 3. per-tenant concurrency
	release, err := e.acquireSlot(req.TenantID, tier.MaxConcurrentPerTenant)
	if err != nil {
		return nil, err
	}
	defer release()

	// 4. engine binary location + version
	enginePath, err := e.resolveEngine()
	if err != nil {
		return nil, err
	}
	if e.cfg.MinEngineVersion != "" {
		if err := e.checkEngineVersion(ctx, enginePath); err != nil {
			return nil, err
		}
	}

	// 5. defensive param sanitization, reusing the canonicalizer's script rules
	scriptResult, err := rules.ValidateScript(req.Script)
	if err != nil {
		return nil, err
	}
	if complexity := estimateComplexity(scriptResult); complexity > tier.MaxComplexity {
		return nil, errors.ResourceExhausted(req.TenantID, tier.MaxComplexity)
	}

	// 6. document lifecycle: open a transaction and log the run against it
	hasDoc := req.DocumentID != "" && e.cfg.Lifecycle != nil
	if hasDoc {
		if err := e.cfg.Lifecycle.BeginJob(ctx, req.DocumentID, req.TenantID, req.JobID); err != nil {
			return nil, err
		}
	}

	// 7. scoped temp dir
	scratch, err := os.MkdirTemp(e.cfg.WorkDir, "job-"+req.JobID+"-")
	if err != nil {
		if hasDoc {
			_ = e.cfg.Lifecycle.AbortJob(ctx, req.DocumentID)
		}
		return nil, errors.Internal("failed to create scoped job directory", err)
	}
	defer os.RemoveAll(scratch)

	env, err := workerruntime.Setup(workerruntime.HermeticConfig{BaseDir: scratch, WorkerID: req.JobID})
	if err != nil {
		if hasDoc {
			_ = e.cfg.Lifecycle.AbortJob(ctx, req.DocumentID)
		}
		return nil, err
	}
	defer workerruntime.Teardown(env)

	scriptPath := filepath.Join(scratch, "job.py")
	if err := os.WriteFile(scriptPath, []byte(scriptResult.CanonicalText), 0o600); err != nil {
		if hasDoc {
			_ = e.cfg.Lifecycle.AbortJob(ctx, req.DocumentID)
		}
		return nil, errors.Internal("failed to stage job script", err)
	}

	cb := e.breakerFor(req.OpType)

	var result *Result
	runErr := cb.Execute(ctx, func() error {
		res, err := e.runSubprocess(ctx, enginePath, scriptPath, env, tier)
		if err != nil {
			return err
		}
		result = res
		return nil
	})

	// 12. compute per-output hashes and retain the files before scratch is
	// torn down, then close out the document lifecycle on success.
	if runErr == nil {
		if err := e.finalizeOutputs(result, req.JobID); err != nil {
			runErr = err
			result = nil
		}
	}
	if runErr == nil && hasDoc {
		if err := e.cfg.Lifecycle.CompleteJob(ctx, req.DocumentID, req.TenantID, primaryExt(req.OutputFormats)); err != nil {
			runErr = err
			result = nil
		}
	}
	if runErr != nil && hasDoc {
		_ = e.cfg.Lifecycle.AbortJob(ctx, req.DocumentID)
	}

	status := "ok"
	if runErr != nil {
		status = "error"
		if runErr == resilience.ErrCircuitOpen {
			runErr = errors.CircuitBreakerOpen()
		}
	}
	if e.met != nil {
		e.met.RecordJob(req.OpType, status, time.Since(start))
		if result != nil {
			e.met.SetEngineRSS(req.OpType, uint64(result.PeakRSSMB)*1024*1024)
		}
	}
	if e.log != nil {
		e.log.LogJobExecution(ctx, req.TenantID, req.OpType, time.Since(start), runErr)
	}
	if runErr != nil {
		return nil, runErr
	}
	result.JobID = req.JobID
	result.Duration = time.Since(start)
	return result, nil
}

// finalizeOutputs hashes each discovered output file and moves it out of
// the scratch dir into a per-job retention directory so the paths in
// result survive Execute's deferred scratch cleanup.
func (e *Executor) finalizeOutputs(result *Result, jobID string) error {
	if result == nil || len(result.OutputFiles) == 0 {
		return nil
	}
	destDir := filepath.Join(e.cfg.WorkDir, "outputs", jobID)
	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return errors.Internal("failed to create output retention directory", err)
	}

	hashes := make(map[string]string, len(result.OutputFiles))
	resolved := make(map[string]string, len(result.OutputFiles))
	for format, path := range result.OutputFiles {
		sum, err := hashFile(path)
		if err != nil {
			return err
		}
		dest := filepath.Join(destDir, filepath.Base(path))
		if err := os.Rename(path, dest); err != nil {
			return errors.Internal("failed to retain output file", err)
		}
		hashes[format] = sum
		resolved[format] = dest
	}
	result.OutputFiles = resolved
	result.OutputHashes = hashes
	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Internal("failed to open output file for hashing", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Internal("failed to hash output file", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// primaryExt picks the save extension from the request's first requested
// output format, defaulting to the native document format.
func primaryExt(formats []string) string {
	if len(formats) == 0 {
		return ".fcstd"
	}
	return "." + strings.ToLower(formats[0])
}

func (e *Executor) resolveEngine() (string, error) {
	if e.cfg.EnginePath != "" {
		if _, err := os.Stat(e.cfg.EnginePath); err == nil {
			return e.cfg.EnginePath, nil
		}
		return "", errors.EngineNotFound([]string{e.cfg.EnginePath})
	}
	candidates := []string{"/usr/bin/freecadcmd", "/usr/local/bin/freecadcmd", "freecadcmd"}
	for _, c := range candidates {
		if path, err := exec.LookPath(c); err == nil {
			return path, nil
		}
	}
	return "", errors.EngineNotFound(candidates)
}

func (e *Executor) checkEngineVersion(ctx context.Context, enginePath string) error {
	cmd := exec.CommandContext(ctx, enginePath, "--version")
	out, err := cmd.Output()
	if err != nil {
		return errors.EngineNotFound([]string{enginePath})
	}
	found := parseEngineVersion(string(out))
	if found == "" || compareVersions(found, e.cfg.MinEngineVersion) < 0 {
		return errors.InvalidVersion(found, e.cfg.MinEngineVersion)
	}
	return nil
}

func (e *Executor) runSubprocess(ctx context.Context, enginePath, scriptPath string, env *workerruntime.Environment, tier config.ResourceTier) (*Result, error) {
	wallCtx, cancel := context.WithTimeout(ctx, time.Duration(tier.MaxWallSeconds)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(wallCtx, enginePath, scriptPath)
	cmd.Env = env.EnvSlice()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, errors.Internal("failed to start engine subprocess", err)
	}

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()

	killed := false
	monitorDone := make(chan *monitorResult, 1)
	go func() {
		monitorDone <- monitorMemory(monitorCtx, int32(cmd.Process.Pid), tier.MaxMemMB, e.cfg.MonitorInterval, func() error {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		})
	}()

	waitErr := cmd.Wait()
	stopMonitor()
	monResult := <-monitorDone
	killed = monResult.killed

	if wallCtx.Err() != nil {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		return nil, errors.TimeoutExceeded(tier.MaxWallSeconds)
	}
	if killed {
		return nil, errors.MemoryLimitExceeded(tier.MaxMemMB, monResult.peakRSSMB)
	}

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
		return nil, errors.SubprocessFailed(exitCode, stderr.String())
	}

	return &Result{
		ExitCode:   exitCode,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		PeakRSSMB:  monResult.peakRSSMB,
		OutputFiles: discoverOutputs(filepath.Dir(scriptPath)),
	}, nil
}

func discoverOutputs(dir string) map[string]string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	out := make(map[string]string)
	for _, ent := range entries {
		if ent.IsDir() || ent.Name() == "job.py" {
			continue
		}
		ext := strings.TrimPrefix(filepath.Ext(ent.Name()), ".")
		if ext == "" {
			continue
		}
		out[ext] = filepath.Join(dir, ent.Name())
	}
	return out
}

// estimateComplexity derives a rough job-complexity score from a
// canonicalized script's extracted metadata: solids and parametric
// features dominate cost, imported modules contribute less.
func estimateComplexity(r *canon.ScriptResult) int {
	return r.Metadata.SolidCount*10 + len(r.Metadata.Features)*5 + len(r.Metadata.ModulesUsed)
}

func parseEngineVersion(output string) string {
	fields := strings.Fields(output)
	for _, f := range fields {
		if len(f) > 0 && (f[0] >= '0' && f[0] <= '9') {
			return strings.Trim(f, ",")
		}
	}
	return ""
}

// compareVersions compares dotted numeric version strings (e.g. "1.0.3")
// and returns -1/0/1 the way strings.Compare does. Non-numeric or missing
// components compare as 0.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var an, bn int
		if i < len(as) {
			an, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bn, _ = strconv.Atoi(bs[i])
		}
		if an != bn {
			if an < bn {
				return -1
			}
			return 1
		}
	}
	return 0
}
