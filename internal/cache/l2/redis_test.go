package l2

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c, err := New(client, DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k1", []byte(`{"a":1}`), ContentJSON, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("got %s, want {\"a\":1}", got)
	}
}

func TestGetMiss(t *testing.T) {
	c, _ := newTestCache(t)
	_, ok, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Fatal("expected miss")
	}
}

func TestCompressionAboveThresholdShrinks(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	large := []byte(strings.Repeat("a", 4096))
	if err := c.Set(ctx, "big", large, ContentBytes, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := c.Get(ctx, "big")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v, %v", got, ok, err)
	}
	if string(got) != string(large) {
		t.Fatal("round-tripped payload does not match original")
	}
}

func TestIncompressibleSmallPayloadStoredRaw(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	small := []byte("x")
	if err := c.Set(ctx, "small", small, ContentText, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := c.Get(ctx, "small")
	if err != nil || !ok || string(got) != "x" {
		t.Fatalf("got %v, %v, %v", got, ok, err)
	}
}

func TestAcquireAndReleaseLock(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "lock:x", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first AcquireLock() = %v, %v, want true, nil", ok, err)
	}

	ok, err = c.AcquireLock(ctx, "lock:x", time.Minute)
	if err != nil {
		t.Fatalf("second AcquireLock() error = %v", err)
	}
	if ok {
		t.Fatal("second AcquireLock() should fail while held")
	}

	if err := c.ReleaseLock(ctx, "lock:x"); err != nil {
		t.Fatalf("ReleaseLock() error = %v", err)
	}

	ok, err = c.AcquireLock(ctx, "lock:x", time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireLock() after release = %v, %v, want true, nil", ok, err)
	}
}

func TestInvalidateTagDeletesMembersAndTagSet(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	tagKey := "mgf:tag:engine1"
	keys := []string{"mgf:v2:a:b:c:1", "mgf:v2:a:b:c:2", "mgf:v2:a:b:c:3"}
	for _, k := range keys {
		if err := c.Set(ctx, k, []byte("v"), ContentText, time.Minute); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		if err := c.AddToTag(ctx, tagKey, k); err != nil {
			t.Fatalf("AddToTag() error = %v", err)
		}
	}

	deleted, err := c.InvalidateTag(ctx, tagKey)
	if err != nil {
		t.Fatalf("InvalidateTag() error = %v", err)
	}
	if deleted != len(keys) {
		t.Fatalf("deleted = %d, want %d", deleted, len(keys))
	}

	for _, k := range keys {
		if mr.Exists(k) {
			t.Fatalf("expected %s to be deleted", k)
		}
	}
	if mr.Exists(tagKey) {
		t.Fatal("expected tag set itself to be deleted")
	}
}

func TestInvalidateTagEmptySet(t *testing.T) {
	c, _ := newTestCache(t)
	deleted, err := c.InvalidateTag(context.Background(), "mgf:tag:nonexistent")
	if err != nil {
		t.Fatalf("InvalidateTag() error = %v", err)
	}
	if deleted != 0 {
		t.Fatalf("deleted = %d, want 0", deleted)
	}
}

func TestTTLForFlowDefaults(t *testing.T) {
	cases := map[string]time.Duration{
		"geometry": 24 * time.Hour,
		"mesh":     7 * 24 * time.Hour,
		"unknown":  time.Hour,
	}
	for flow, want := range cases {
		if got := TTLForFlow(flow); got != want {
			t.Fatalf("TTLForFlow(%s) = %v, want %v", flow, got, want)
		}
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	if err := c.Set(ctx, "del-me", []byte("v"), ContentText, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := c.Delete(ctx, "del-me"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if mr.Exists("del-me") {
		t.Fatal("expected key to be gone")
	}
}
