package upload

import (
	"bytes"
	"context"
	"testing"

	"github.com/cncaiprojem/projem-sub004/infrastructure/objectstore"
)

func TestPipelineRunNormalizesAndStoresSTL(t *testing.T) {
	store := objectstore.NewMemoryStore()
	ctx := context.Background()

	if err := store.UploadStream(ctx, "raw/job-1", bytes.NewBufferString(asciiCube), "application/octet-stream"); err != nil {
		t.Fatalf("UploadStream() error = %v", err)
	}

	p := New(store, t.TempDir(), nil)
	res, err := p.Run(ctx, Request{
		JobID:         "job-1",
		SourceKey:     "raw/job-1",
		Filename:      "cube.stl",
		DeclaredUnits: "mm",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Format != FormatSTL {
		t.Fatalf("Format = %s, want stl", res.Format)
	}
	if res.SHA256 == "" {
		t.Fatal("expected non-empty SHA256")
	}
	if res.NativeKey == "" {
		t.Fatal("expected non-empty NativeKey")
	}

	if _, err := store.DownloadStream(ctx, res.NativeKey); err != nil {
		t.Fatalf("expected uploaded native output to be retrievable: %v", err)
	}
}

func TestPipelineRunUnsupportedFormatFails(t *testing.T) {
	store := objectstore.NewMemoryStore()
	ctx := context.Background()
	if err := store.UploadStream(ctx, "raw/job-2", bytes.NewBufferString("garbage"), "application/octet-stream"); err != nil {
		t.Fatalf("UploadStream() error = %v", err)
	}

	p := New(store, t.TempDir(), nil)
	_, err := p.Run(ctx, Request{JobID: "job-2", SourceKey: "raw/job-2", Filename: "mystery.qqq"})
	if err == nil {
		t.Fatal("expected unsupported_format error")
	}
}
