package cachekey

import (
	"strings"
	"testing"

	"github.com/cncaiprojem/projem-sub004/internal/fingerprint"
)

func testFingerprint() fingerprint.Fingerprint {
	return fingerprint.New("1.0.0", "occt-7.7", "go1.23", "mesh-v1", "abcdef1", []string{"core"}, nil)
}

func TestKeyGrammar(t *testing.T) {
	fp := testFingerprint()
	key := KeyFor(fp, FlowGeometry, []byte(`{"r":10}`), "data")

	if !strings.HasPrefix(key, "mgf:v2:") {
		t.Fatalf("key missing prefix: %s", key)
	}
	if !strings.Contains(key, ":f:geometry:a:data:") {
		t.Fatalf("key missing flow/artifact segment: %s", key)
	}
}

func TestKeyDeterministic(t *testing.T) {
	fp := testFingerprint()
	k1 := KeyFor(fp, FlowGeometry, []byte(`{"r":10}`), "data")
	k2 := KeyFor(fp, FlowGeometry, []byte(`{"r":10}`), "data")
	if k1 != k2 {
		t.Fatalf("identical inputs produced different keys: %s != %s", k1, k2)
	}
}

func TestKeyDiffersOnFingerprintChange(t *testing.T) {
	fp1 := testFingerprint()
	fp2 := fingerprint.New("1.0.1", "occt-7.7", "go1.23", "mesh-v1", "abcdef1", []string{"core"}, nil)

	k1 := KeyFor(fp1, FlowGeometry, []byte(`{"r":10}`), "data")
	k2 := KeyFor(fp2, FlowGeometry, []byte(`{"r":10}`), "data")
	if k1 == k2 {
		t.Fatal("expected differing fingerprints to produce differing keys")
	}
}

func TestEnginePrefixTruncated(t *testing.T) {
	fp := fingerprint.New("1.0.0-some-very-long-engine-version-string", "k", "r", "m", "abcdef1", nil, nil)
	key := KeyFor(fp, FlowParams, []byte("{}"), "data")

	rest := strings.TrimPrefix(key, "mgf:v2:")
	prefixSegment := rest[:strings.Index(rest, ":f:")]
	if len(prefixSegment) > 20 {
		t.Fatalf("engine prefix segment too long: %d chars", len(prefixSegment))
	}
}

func TestTagKeyAndLockKeyAndStaleKey(t *testing.T) {
	fp := testFingerprint()
	tagKey := TagKeyFor(fp)
	if !strings.HasPrefix(tagKey, "mgf:tag:") {
		t.Fatalf("tag key missing prefix: %s", tagKey)
	}

	cacheKey := KeyFor(fp, FlowDoc, []byte("{}"), "data")
	lockKey := LockKey(cacheKey)
	if lockKey != "mgf:lock:"+cacheKey {
		t.Fatalf("lock key = %s, want mgf:lock: + cache key", lockKey)
	}

	staleKey := StaleKey(cacheKey)
	if staleKey != cacheKey+":stale" {
		t.Fatalf("stale key = %s, want cache key + :stale", staleKey)
	}
}

func TestFlowsRoundTripThroughKeySegment(t *testing.T) {
	fp := testFingerprint()
	flows := []Flow{FlowPrompt, FlowParams, FlowUpload, FlowAssembly, FlowGeometry, FlowExport, FlowMetrics, FlowAI, FlowDoc}

	seen := make(map[string]bool)
	for _, f := range flows {
		key := KeyFor(fp, f, []byte("{}"), "data")
		if seen[key] {
			t.Fatalf("duplicate key across distinct flows: %s", key)
		}
		seen[key] = true
		if !strings.Contains(key, ":f:"+string(f)+":") {
			t.Fatalf("key %s missing flow segment for %s", key, f)
		}
	}
}
