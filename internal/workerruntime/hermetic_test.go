package workerruntime

import (
	"os"
	"testing"
)

func TestSetupCreatesScopedDirsAndVars(t *testing.T) {
	base := t.TempDir()
	env, err := Setup(HermeticConfig{BaseDir: base, WorkerID: "w1", HashSeed: 0})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer Teardown(env)

	for _, dir := range []string{env.HomeDir, env.ConfigDir, env.CacheDir} {
		if _, err := os.Stat(dir); err != nil {
			t.Fatalf("expected %s to exist: %v", dir, err)
		}
	}

	for _, key := range []string{"OMP_NUM_THREADS", "MKL_NUM_THREADS", "QT_QPA_PLATFORM", "PYTHONHASHSEED", "LC_ALL"} {
		if _, ok := env.Vars[key]; !ok {
			t.Errorf("expected env var %s to be set", key)
		}
	}
	if env.Vars["OMP_NUM_THREADS"] != "1" {
		t.Errorf("OMP_NUM_THREADS = %s, want 1", env.Vars["OMP_NUM_THREADS"])
	}
}

func TestTeardownRemovesHomeDir(t *testing.T) {
	base := t.TempDir()
	env, err := Setup(HermeticConfig{BaseDir: base, WorkerID: "w2"})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := Teardown(env); err != nil {
		t.Fatalf("Teardown() error = %v", err)
	}
	if _, err := os.Stat(env.HomeDir); !os.IsNotExist(err) {
		t.Fatalf("expected home dir to be removed, stat err = %v", err)
	}
}

func TestEnvSliceFormatsKeyValuePairs(t *testing.T) {
	env := &Environment{Vars: map[string]string{"A": "1"}}
	slice := env.EnvSlice()
	if len(slice) != 1 || slice[0] != "A=1" {
		t.Fatalf("EnvSlice() = %v, want [A=1]", slice)
	}
}
