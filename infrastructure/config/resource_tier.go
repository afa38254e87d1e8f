package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TierName orders the service tiers from least to most capable.
type TierName string

const (
	TierBasic      TierName = "basic"
	TierPro        TierName = "pro"
	TierEnterprise TierName = "enterprise"
)

var tierRank = map[TierName]int{TierBasic: 0, TierPro: 1, TierEnterprise: 2}

// AtLeast reports whether t is the same as or above other in the total
// order Basic < Pro < Enterprise.
func (t TierName) AtLeast(other TierName) bool {
	return tierRank[t] >= tierRank[other]
}

// ResourceTier is an immutable per-tier limit record enforced by the job
// executor before it ever spawns an engine subprocess.
type ResourceTier struct {
	Name                   TierName `yaml:"name"`
	MaxMemMB               int      `yaml:"max_mem_mb"`
	MaxCPUPercent          int      `yaml:"max_cpu_pct"`
	MaxWallSeconds         int      `yaml:"max_wall_s"`
	MaxComplexity          int      `yaml:"max_complexity"`
	MaxConcurrentPerTenant int      `yaml:"max_concurrent_per_tenant"`
	AllowedExportFormats   []string `yaml:"allowed_export_formats"`
	MaxFileMB              int      `yaml:"max_file_mb"`
}

// AllowsFormat reports whether format is in the tier's export allow-list.
func (t ResourceTier) AllowsFormat(format string) bool {
	for _, f := range t.AllowedExportFormats {
		if f == format {
			return true
		}
	}
	return false
}

// TierSet indexes resource tiers by name.
type TierSet map[TierName]ResourceTier

// DefaultTierSet returns a baked-in tier set used when no YAML override is
// configured, calibrated conservatively for shared multi-tenant hardware.
func DefaultTierSet() TierSet {
	return TierSet{
		TierBasic: {
			Name: TierBasic, MaxMemMB: 1024, MaxCPUPercent: 100, MaxWallSeconds: 60,
			MaxComplexity: 1000, MaxConcurrentPerTenant: 1,
			AllowedExportFormats: []string{"stl", "step"}, MaxFileMB: 50,
		},
		TierPro: {
			Name: TierPro, MaxMemMB: 4096, MaxCPUPercent: 200, MaxWallSeconds: 300,
			MaxComplexity: 10000, MaxConcurrentPerTenant: 4,
			AllowedExportFormats: []string{"stl", "step", "iges", "dxf", "obj"}, MaxFileMB: 500,
		},
		TierEnterprise: {
			Name: TierEnterprise, MaxMemMB: 16384, MaxCPUPercent: 400, MaxWallSeconds: 1800,
			MaxComplexity: 100000, MaxConcurrentPerTenant: 16,
			AllowedExportFormats: []string{"stl", "step", "iges", "dxf", "obj", "ifc", "gltf", "glb"}, MaxFileMB: 5000,
		},
	}
}

// LoadTierSet reads a YAML document describing resource tiers, structured
// as a top-level "tiers" list. Tiers not mentioned keep their
// DefaultTierSet values.
func LoadTierSet(path string) (TierSet, error) {
	tiers := DefaultTierSet()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tiers, nil
		}
		return nil, fmt.Errorf("reading resource tier config: %w", err)
	}

	var doc struct {
		Tiers []ResourceTier `yaml:"tiers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing resource tier config: %w", err)
	}

	for _, t := range doc.Tiers {
		if _, known := tierRank[t.Name]; !known {
			return nil, fmt.Errorf("unknown resource tier name %q", t.Name)
		}
		tiers[t.Name] = t
	}
	return tiers, nil
}
