// Package cachekey derives cache keys, tag keys, lock keys and stale-copy
// keys from an engine fingerprint and a canonical input, following the
// fixed-width grammar consumed by both cache tiers.
package cachekey

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/cncaiprojem/projem-sub004/internal/fingerprint"
)

const (
	keyPrefix      = "mgf:v2:"
	tagPrefix      = "mgf:tag:"
	lockPrefix     = "mgf:lock:"
	staleSuffix    = ":stale"
	enginePrefixMax = 20
	digestMaxLen    = 32
)

// Flow enumerates the recognized pipeline stages a cache key can belong to.
type Flow string

const (
	FlowPrompt   Flow = "prompt"
	FlowParams   Flow = "params"
	FlowUpload   Flow = "upload"
	FlowAssembly Flow = "assembly"
	FlowGeometry Flow = "geometry"
	FlowExport   Flow = "export"
	FlowMetrics  Flow = "metrics"
	FlowAI       Flow = "ai"
	FlowDoc      Flow = "doc"
)

// Key derives the cache key for (flow, canonical, artifact) under the
// current process-bound engine fingerprint:
//
//	mgf:v2:<engine_prefix[<=20]>:f:<flow>:a:<artifact>:base64url(sha256(engine_full|canonical))
func Key(flow Flow, canonical []byte, artifact string) string {
	return KeyFor(fingerprint.Current(), flow, canonical, artifact)
}

// KeyFor is Key but takes an explicit fingerprint, useful for tests and for
// computing keys under a fingerprint other than the process-current one
// (e.g. invalidating an old fingerprint's tag set).
func KeyFor(fp fingerprint.Fingerprint, flow Flow, canonical []byte, artifact string) string {
	engineFull := fp.String()
	enginePrefix := engineFull
	if len(enginePrefix) > enginePrefixMax {
		enginePrefix = enginePrefix[:enginePrefixMax]
	}

	digest := digestOf(engineFull, canonical)

	var sb strings.Builder
	sb.WriteString(keyPrefix)
	sb.WriteString(enginePrefix)
	sb.WriteString(":f:")
	sb.WriteString(string(flow))
	sb.WriteString(":a:")
	sb.WriteString(artifact)
	sb.WriteString(":")
	sb.WriteString(digest)
	return sb.String()
}

// TagKey returns the tag-set key for the current engine fingerprint.
func TagKey() string {
	return TagKeyFor(fingerprint.Current())
}

// TagKeyFor returns the tag-set key for an explicit fingerprint.
func TagKeyFor(fp fingerprint.Fingerprint) string {
	return tagPrefix + fp.String()
}

// LockKey returns the distributed lock key guarding computation of key.
func LockKey(key string) string {
	return lockPrefix + key
}

// StaleKey returns the stale-copy key paired with key.
func StaleKey(key string) string {
	return key + staleSuffix
}

// digestOf computes base64url(sha256(engineFull "|" canonical)), truncated
// to digestMaxLen characters — a fixed-width encoding that keeps keys within
// a documented maximum length regardless of canonical input size.
func digestOf(engineFull string, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(engineFull))
	h.Write([]byte("|"))
	h.Write(canonical)
	sum := h.Sum(nil)

	encoded := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(sum)
	if len(encoded) > digestMaxLen {
		encoded = encoded[:digestMaxLen]
	}
	return encoded
}
