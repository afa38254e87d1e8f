package upload

import (
	"bufio"
	"context"
	"os"
	"regexp"
	"strings"

	"github.com/cncaiprojem/projem-sub004/infrastructure/errors"
)

var ifcSIUnitRe = regexp.MustCompile(`(?i)IFCSIUNIT\([^)]*\.([A-Z]+)\.`)

type ifcHandler struct{}

func init() { register(FormatIFC, ifcHandler{}) }

func (ifcHandler) DetectUnits(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "IFCSIUNIT") {
			continue
		}
		if m := ifcSIUnitRe.FindStringSubmatch(line); m != nil {
			switch strings.ToUpper(m[1]) {
			case "METRE":
				return "m", nil
			case "MILLI":
				return "mm", nil
			case "CENTI":
				return "cm", nil
			}
		}
	}
	return "m", nil // IFC's base SI length unit defaults to metre when unprefixed
}

func (ifcHandler) Load(ctx context.Context, path string) (DocHandle, error) {
	fh, err := openHandle(path)
	if err != nil {
		return nil, err
	}
	return &kernelHandle{fileHandle: fh, format: FormatIFC}, nil
}

// Normalize resolves the base scale-from-meters factor; flattening
// architectural entities to solids and harvesting a bill of materials both
// require the IFC geometry kernel and happen in the engine subprocess, not
// here — recorded as a prerequisite the executor must satisfy.
func (h ifcHandler) Normalize(ctx context.Context, doc DocHandle, cfg NormalizeConfig, path string) (NormalizeMetrics, error) {
	return normalizeKernelFormat(doc, cfg, path, h.DetectUnits)
}

func (ifcHandler) Validate(ctx context.Context, doc DocHandle) ([]string, error) {
	hd, ok := doc.(*kernelHandle)
	if !ok {
		return nil, errors.GeometryInvalid("not a kernel document handle")
	}
	buf, err := os.ReadFile(hd.path)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(string(buf), "IFCPROJECT") {
		return nil, errors.IFCGeomFail("missing IFCPROJECT root entity")
	}
	return nil, nil
}

func (ifcHandler) Export(ctx context.Context, doc DocHandle, outPath string) error {
	h, ok := doc.(*kernelHandle)
	if !ok {
		return errors.GeometryInvalid("not a kernel document handle")
	}
	return copyFile(h.path, outPath)
}
