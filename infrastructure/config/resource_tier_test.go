package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTierNameAtLeastOrdering(t *testing.T) {
	if !TierEnterprise.AtLeast(TierBasic) {
		t.Fatal("expected enterprise to be at least basic")
	}
	if TierBasic.AtLeast(TierPro) {
		t.Fatal("expected basic to not be at least pro")
	}
}

func TestDefaultTierSetAllowsFormat(t *testing.T) {
	tiers := DefaultTierSet()
	if !tiers[TierBasic].AllowsFormat("stl") {
		t.Fatal("expected basic tier to allow stl")
	}
	if tiers[TierBasic].AllowsFormat("ifc") {
		t.Fatal("expected basic tier to reject ifc")
	}
}

func TestLoadTierSetMissingFileReturnsDefaults(t *testing.T) {
	tiers, err := LoadTierSet(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadTierSet() error = %v", err)
	}
	if tiers[TierPro].MaxMemMB != DefaultTierSet()[TierPro].MaxMemMB {
		t.Fatal("expected missing file to fall back to defaults")
	}
}

func TestLoadTierSetOverridesNamedTier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	yaml := `
tiers:
  - name: basic
    max_mem_mb: 2048
    max_cpu_pct: 100
    max_wall_s: 60
    max_complexity: 1000
    max_concurrent_per_tenant: 1
    allowed_export_formats: [stl]
    max_file_mb: 50
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	tiers, err := LoadTierSet(path)
	if err != nil {
		t.Fatalf("LoadTierSet() error = %v", err)
	}
	if tiers[TierBasic].MaxMemMB != 2048 {
		t.Fatalf("MaxMemMB = %d, want 2048", tiers[TierBasic].MaxMemMB)
	}
	if tiers[TierPro].MaxMemMB != DefaultTierSet()[TierPro].MaxMemMB {
		t.Fatal("expected pro tier to remain at default")
	}
}

func TestLoadTierSetRejectsUnknownTierName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	yaml := `
tiers:
  - name: ultra
    max_mem_mb: 1
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadTierSet(path); err == nil {
		t.Fatal("expected error for unknown tier name")
	}
}
