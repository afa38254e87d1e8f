package upload

import (
	"context"

	"github.com/cncaiprojem/projem-sub004/infrastructure/errors"
)

// passthroughHandler backs every format whose geometry interpretation
// requires a dedicated kernel or scene-graph library this process does not
// embed (mesh-exchange containers, architectural/point-cloud formats, and
// FreeCAD's own native container). It performs the format-agnostic parts of
// the contract — existence checks, declared-unit resolution, byte-level
// export — and defers interpretation to the engine subprocess.
type passthroughHandler struct {
	format Format
}

func init() {
	for _, f := range []Format{
		FormatOBJ, FormatPLY, FormatOFF, Format3MF, FormatAMF,
		FormatDWG, FormatSVG, FormatDAE, FormatGLTF, FormatGLB,
		FormatVRML, FormatX3D, FormatXYZ, FormatPCD, FormatLAS, FormatFCStd,
	} {
		register(f, passthroughHandler{format: f})
	}
}

func (passthroughHandler) DetectUnits(ctx context.Context, path string) (string, error) {
	return "", nil
}

func (h passthroughHandler) Load(ctx context.Context, path string) (DocHandle, error) {
	fh, err := openHandle(path)
	if err != nil {
		return nil, err
	}
	return &kernelHandle{fileHandle: fh, format: h.format}, nil
}

func (h passthroughHandler) Normalize(ctx context.Context, doc DocHandle, cfg NormalizeConfig, path string) (NormalizeMetrics, error) {
	return normalizeKernelFormat(doc, cfg, path, h.DetectUnits)
}

func (passthroughHandler) Validate(ctx context.Context, doc DocHandle) ([]string, error) {
	if _, ok := doc.(*kernelHandle); !ok {
		return nil, errors.GeometryInvalid("not a kernel document handle")
	}
	return []string{"deep validation deferred to engine invocation"}, nil
}

func (passthroughHandler) Export(ctx context.Context, doc DocHandle, outPath string) error {
	h, ok := doc.(*kernelHandle)
	if !ok {
		return errors.GeometryInvalid("not a kernel document handle")
	}
	return copyFile(h.path, outPath)
}
