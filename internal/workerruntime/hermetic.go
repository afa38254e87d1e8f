// Package workerruntime hardens the process environment a CAD engine
// subprocess runs in: deterministic thread counts, offscreen rendering, a
// scoped home directory, and the warm-up/lifecycle hooks that amortize
// engine startup cost across many jobs.
package workerruntime

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cncaiprojem/projem-sub004/infrastructure/errors"
)

// HermeticConfig controls the environment a worker process is set up with.
type HermeticConfig struct {
	// BaseDir roots the per-worker scoped home directory. Defaults to
	// os.TempDir() if empty.
	BaseDir string
	// WorkerID distinguishes concurrent worker processes sharing BaseDir.
	WorkerID string
	// HashSeed pins Python's hash randomization so repeated runs of the
	// same script produce byte-identical output. The zero value sets
	// PYTHONHASHSEED=0, which turns hash randomization off.
	HashSeed int
}

// Environment is the result of a hermetic setup: the scoped directories and
// the environment variables a subprocess should inherit.
type Environment struct {
	HomeDir   string
	ConfigDir string
	CacheDir  string
	Vars      map[string]string
}

// EnvSlice returns Vars formatted as os/exec-compatible "K=V" entries.
func (e *Environment) EnvSlice() []string {
	out := make([]string, 0, len(e.Vars))
	for k, v := range e.Vars {
		out = append(out, k+"="+v)
	}
	return out
}

// Setup prepares a hermetic environment: single-threaded numeric libraries,
// offscreen rendering, a POSIX locale, a deterministic hash seed and a
// scoped home directory isolated from the host user's.
func Setup(cfg HermeticConfig) (*Environment, error) {
	base := cfg.BaseDir
	if base == "" {
		base = os.TempDir()
	}
	worker := cfg.WorkerID
	if worker == "" {
		worker = "worker"
	}

	home := filepath.Join(base, "cadhome-"+worker)
	config := filepath.Join(home, ".config")
	cache := filepath.Join(home, ".cache")
	for _, d := range []string{home, config, cache} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, errors.Internal(fmt.Sprintf("failed to create scoped runtime directory %s", d), err)
		}
	}

	// cfg.HashSeed's zero value doubles as PYTHONHASHSEED=0, which disables
	// hash randomization rather than leaving it unset.
	env := &Environment{
		HomeDir:   home,
		ConfigDir: config,
		CacheDir:  cache,
		Vars: map[string]string{
			"HOME":               home,
			"XDG_CONFIG_HOME":    config,
			"XDG_CACHE_HOME":     cache,
			"LC_ALL":             "C",
			"LANG":               "C",
			"QT_QPA_PLATFORM":    "offscreen",
			"DISPLAY":            "",
			"OMP_NUM_THREADS":    "1",
			"OPENBLAS_NUM_THREADS": "1",
			"MKL_NUM_THREADS":    "1",
			"NUMEXPR_NUM_THREADS": "1",
			"VECLIB_MAXIMUM_THREADS": "1",
			"PYTHONHASHSEED":     strconv.Itoa(cfg.HashSeed),
			"PYTHONDONTWRITEBYTECODE": "1",
		},
	}
	return env, nil
}

// Teardown removes the scoped directories created by Setup.
func Teardown(env *Environment) error {
	if env == nil {
		return nil
	}
	return os.RemoveAll(env.HomeDir)
}
