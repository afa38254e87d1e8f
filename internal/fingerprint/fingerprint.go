// Package fingerprint identifies the running CAD engine build and
// configuration with a single stable ASCII string. The fingerprint is the
// root cache invalidation lever: changing any field changes the string,
// which changes every downstream cache key.
package fingerprint

import (
	"fmt"
	"sort"
	"strings"
)

// Fingerprint is constructed once at process start and treated as immutable
// for the lifetime of the process.
type Fingerprint struct {
	EngineVersion string
	KernelVersion string
	RuntimeVersion string
	MeshParamsTag string
	BuildCommit   string
	FeatureModules []string
	FeatureFlags   map[string]string
}

// New builds a Fingerprint, sorting FeatureModules and normalizing
// BuildCommit to a 7-character prefix. The caller's slices/maps are copied,
// not aliased.
func New(engineVersion, kernelVersion, runtimeVersion, meshParamsTag, buildCommit string, featureModules []string, featureFlags map[string]string) Fingerprint {
	modules := append([]string(nil), featureModules...)
	sort.Strings(modules)

	flags := make(map[string]string, len(featureFlags))
	for k, v := range featureFlags {
		flags[k] = v
	}

	commit := buildCommit
	if len(commit) > 7 {
		commit = commit[:7]
	}

	return Fingerprint{
		EngineVersion:  engineVersion,
		KernelVersion:  kernelVersion,
		RuntimeVersion: runtimeVersion,
		MeshParamsTag:  meshParamsTag,
		BuildCommit:    commit,
		FeatureModules: modules,
		FeatureFlags:   flags,
	}
}

// String produces the stable ASCII identifier:
// fc{engine}-kernel{kernel}-rt{runtime}-mesh{meshtag}-git{commit}-wb{modules}-flags{flags}
//
// Feature modules are comma-joined in sorted order; feature flags are
// rendered as sorted "k=v" pairs comma-joined. Any change to any field
// produces a different string.
func (f Fingerprint) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "fc{%s}-kernel{%s}-rt{%s}-mesh{%s}-git{%s}-wb{%s}-flags{%s}",
		f.EngineVersion,
		f.KernelVersion,
		f.RuntimeVersion,
		f.MeshParamsTag,
		f.BuildCommit,
		strings.Join(f.FeatureModules, ","),
		renderFlags(f.FeatureFlags),
	)

	return sb.String()
}

func renderFlags(flags map[string]string) string {
	if len(flags) == 0 {
		return ""
	}

	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+flags[k])
	}
	return strings.Join(pairs, ",")
}

// process holds the singleton fingerprint for this process lifetime.
var process Fingerprint

// Bind sets the process-wide fingerprint. Intended to be called exactly once
// at startup before any cache operation occurs.
func Bind(fp Fingerprint) {
	process = fp
}

// Current returns the process-wide fingerprint bound via Bind.
func Current() Fingerprint {
	return process
}
