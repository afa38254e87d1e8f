package upload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const asciiCube = `solid cube
facet normal 0 0 1
  outer loop
    vertex 0 0 10
    vertex 10 0 10
    vertex 10 10 10
  endloop
endfacet
facet normal 0 0 1
  outer loop
    vertex 0 0 10
    vertex 10 10 10
    vertex 0 10 10
  endloop
endfacet
endsolid cube
`

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestSTLLoadAndNormalizeASCII(t *testing.T) {
	path := writeTempFile(t, "cube.stl", asciiCube)
	h := stlHandler{}

	doc, err := h.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer doc.Close()

	stl := doc.(*stlHandle)
	if len(stl.triangles) != 2 {
		t.Fatalf("triangles = %d, want 2", len(stl.triangles))
	}

	metrics, err := h.Normalize(context.Background(), doc, NormalizeConfig{DeclaredUnits: "mm"}, path)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if metrics.UnitScaleApplied != 1.0 {
		t.Fatalf("UnitScaleApplied = %v, want 1.0", metrics.UnitScaleApplied)
	}
}

func TestSTLNormalizeConvertsUnits(t *testing.T) {
	path := writeTempFile(t, "cube.stl", asciiCube)
	h := stlHandler{}

	doc, err := h.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer doc.Close()

	metrics, err := h.Normalize(context.Background(), doc, NormalizeConfig{DeclaredUnits: "cm"}, path)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if metrics.UnitScaleApplied != 10.0 {
		t.Fatalf("UnitScaleApplied = %v, want 10.0", metrics.UnitScaleApplied)
	}

	stl := doc.(*stlHandle)
	bbox := boundingBox(stl.triangles)
	if bbox[5] != 100 {
		t.Fatalf("max Z = %v, want 100 (10mm * 10 after cm->mm)", bbox[5])
	}
}

func TestSTLValidateDetectsNonManifold(t *testing.T) {
	nonManifold := `solid open
facet normal 0 0 1
  outer loop
    vertex 0 0 0
    vertex 1 0 0
    vertex 0 1 0
  endloop
endfacet
endsolid open
`
	path := writeTempFile(t, "open.stl", nonManifold)
	h := stlHandler{}
	doc, err := h.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer doc.Close()

	warnings, err := h.Validate(context.Background(), doc)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(warnings) == 0 {
		t.Fatal("expected a manifold warning for an open single-triangle mesh")
	}
}

func TestSTLExportRoundTrips(t *testing.T) {
	path := writeTempFile(t, "cube.stl", asciiCube)
	h := stlHandler{}
	doc, err := h.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer doc.Close()

	outPath := filepath.Join(t.TempDir(), "out.stl")
	if err := h.Export(context.Background(), doc, outPath); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	reloaded, err := h.Load(context.Background(), outPath)
	if err != nil {
		t.Fatalf("reload Load() error = %v", err)
	}
	defer reloaded.Close()

	if len(reloaded.(*stlHandle).triangles) != 2 {
		t.Fatalf("reloaded triangles = %d, want 2", len(reloaded.(*stlHandle).triangles))
	}
}

func TestDedupTrianglesRemovesExactDuplicates(t *testing.T) {
	tri := triangle{v: [3]vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}}
	out, merged := dedupTriangles([]triangle{tri, tri, tri})
	if merged != 2 {
		t.Fatalf("merged = %d, want 2", merged)
	}
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
}

func TestRepairMeshDropsDegenerate(t *testing.T) {
	good := triangle{v: [3]vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}}
	degenerate := triangle{v: [3]vec3{{0, 0, 0}, {0, 0, 0}, {0, 1, 0}}}
	out, repaired, dropped := repairMesh([]triangle{good, degenerate})
	if repaired != 1 || dropped != 1 {
		t.Fatalf("repaired=%d dropped=%d, want 1,1", repaired, dropped)
	}
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
}
