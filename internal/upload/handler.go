package upload

import "context"

// DocHandle is an opaque reference to a loaded document, scoped to the
// handler that produced it. Concrete handlers type-assert their own handles.
type DocHandle interface {
	// Close releases any resources (temp files, subprocess handles) held by
	// the document.
	Close() error
}

// NormalizeConfig carries the caller-declared and pipeline-derived knobs
// that influence normalization.
type NormalizeConfig struct {
	DeclaredUnits    string
	TargetUnits      string // always "mm" in the current pipeline
	Center            bool
	MergeDuplicates   bool
	RepairMesh        bool
	ExtrudeThickness  float64 // DXF 2D->3D extrusion thickness; no handler reads it, so nothing is extruded
}

// NormalizeMetrics summarizes what normalization actually did, fed into the
// result record returned to the caller.
type NormalizeMetrics struct {
	DetectedUnits      string
	UnitScaleApplied   float64
	OrientationApplied bool
	Centered           bool
	DuplicatesMerged   int
	FacesRepaired      int
	VerticesDropped    int
	BoundingBox        [6]float64 // xmin,ymin,zmin,xmax,ymax,zmax
}

// Handler is implemented once per supported format.
type Handler interface {
	// DetectUnits inspects format-specific metadata in the raw file bytes
	// and returns a unit string ("mm","cm","m","in","ft") or "" if
	// undetermined.
	DetectUnits(ctx context.Context, path string) (string, error)

	// Load parses path into a document handle.
	Load(ctx context.Context, path string) (DocHandle, error)

	// Normalize applies unit conversion, orientation, centering and
	// dedup/repair per cfg, returning the metrics it produced.
	Normalize(ctx context.Context, doc DocHandle, cfg NormalizeConfig, path string) (NormalizeMetrics, error)

	// Validate runs shape-validity / watertightness checks and returns
	// non-fatal warnings.
	Validate(ctx context.Context, doc DocHandle) ([]string, error)

	// Export writes doc to outPath in this handler's native format.
	Export(ctx context.Context, doc DocHandle, outPath string) error
}

var handlers = map[Format]Handler{}

// register is called from each handler's init(), grounding the dispatch
// table in one-registration-per-file the way the document manager's
// adapters are wired.
func register(f Format, h Handler) {
	handlers[f] = h
}

// HandlerFor returns the registered handler for a format, or false if the
// format is not dispatchable.
func HandlerFor(f Format) (Handler, bool) {
	h, ok := handlers[f]
	return h, ok
}
