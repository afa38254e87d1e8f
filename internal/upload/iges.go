package upload

import (
	"context"
	"os"
	"strings"

	"github.com/cncaiprojem/projem-sub004/infrastructure/errors"
)

type igesHandler struct{}

func init() { register(FormatIGES, igesHandler{}) }

// IGES global section parameter 14 carries the unit flag (1=inch, 2=mm...);
// full field-position parsing needs a real parameter-record reader, so this
// falls back to a textual scan of the global section for the unit name,
// which IGES writers commonly echo as a human-readable string.
func (igesHandler) DetectUnits(ctx context.Context, path string) (string, error) {
	return detectUnitsFromHeader(path, 4096, func(head string) string {
		upper := strings.ToUpper(head)
		switch {
		case strings.Contains(upper, "MM"):
			return "mm"
		case strings.Contains(upper, "IN"):
			return "in"
		default:
			return ""
		}
	})
}

func (igesHandler) Load(ctx context.Context, path string) (DocHandle, error) {
	fh, err := openHandle(path)
	if err != nil {
		return nil, err
	}
	return &kernelHandle{fileHandle: fh, format: FormatIGES}, nil
}

func (h igesHandler) Normalize(ctx context.Context, doc DocHandle, cfg NormalizeConfig, path string) (NormalizeMetrics, error) {
	return normalizeKernelFormat(doc, cfg, path, h.DetectUnits)
}

// Validate cannot determine untrimmed surfaces without a kernel; it reports
// a warning rather than failing, since trimming status only matters once
// the engine actually evaluates the surfaces.
func (igesHandler) Validate(ctx context.Context, doc DocHandle) ([]string, error) {
	h, ok := doc.(*kernelHandle)
	if !ok {
		return nil, errors.GeometryInvalid("not a kernel document handle")
	}
	if _, err := os.Stat(h.path); err != nil {
		return nil, err
	}
	return []string{"IGES trimming validity requires engine evaluation"}, nil
}

func (igesHandler) Export(ctx context.Context, doc DocHandle, outPath string) error {
	h, ok := doc.(*kernelHandle)
	if !ok {
		return errors.GeometryInvalid("not a kernel document handle")
	}
	return copyFile(h.path, outPath)
}

type brepHandler struct{}

func init() { register(FormatBREP, brepHandler{}) }

func (brepHandler) DetectUnits(ctx context.Context, path string) (string, error) {
	return "", nil // BREP carries no unit metadata; always resolves from declared units
}

func (brepHandler) Load(ctx context.Context, path string) (DocHandle, error) {
	fh, err := openHandle(path)
	if err != nil {
		return nil, err
	}
	return &kernelHandle{fileHandle: fh, format: FormatBREP}, nil
}

func (h brepHandler) Normalize(ctx context.Context, doc DocHandle, cfg NormalizeConfig, path string) (NormalizeMetrics, error) {
	return normalizeKernelFormat(doc, cfg, path, h.DetectUnits)
}

func (brepHandler) Validate(ctx context.Context, doc DocHandle) ([]string, error) {
	return nil, nil
}

func (brepHandler) Export(ctx context.Context, doc DocHandle, outPath string) error {
	h, ok := doc.(*kernelHandle)
	if !ok {
		return errors.GeometryInvalid("not a kernel document handle")
	}
	return copyFile(h.path, outPath)
}
