package upload

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/cncaiprojem/projem-sub004/infrastructure/errors"
)

// dxfUnitCodes maps the DXF $INSUNITS group-code value to a unit name.
// 0=unitless, 1=inch, 2=foot, 4=mm, 5=cm, 6=m — the subset the pipeline
// cares about.
var dxfUnitCodes = map[string]string{
	"1": "in",
	"2": "ft",
	"4": "mm",
	"5": "cm",
	"6": "m",
}

type dxfHandler struct{}

func init() { register(FormatDXF, dxfHandler{}) }

func (dxfHandler) DetectUnits(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	var lines []string
	for scanner.Scan() && len(lines) < 200000 {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}

	for i := 0; i < len(lines)-2; i++ {
		if lines[i] == "9" && lines[i+1] == "$INSUNITS" {
			code := lines[i+3]
			if unit, ok := dxfUnitCodes[code]; ok {
				return unit, nil
			}
			return "", nil
		}
	}
	return "", nil
}

type dxfHandle struct {
	*fileHandle
	layers map[string]int // entity count per layer, consolidation target
}

func (dxfHandler) Load(ctx context.Context, path string) (DocHandle, error) {
	fh, err := openHandle(path)
	if err != nil {
		return nil, err
	}

	layers, err := scanDXFLayers(path)
	if err != nil {
		fh.Close()
		return nil, errors.GeometryInvalid(err.Error())
	}
	return &dxfHandle{fileHandle: fh, layers: layers}, nil
}

// scanDXFLayers walks the tag-value pairs of the whole file (every section,
// not only ENTITIES) counting group-code-8 layer references per layer, the
// basis for layer consolidation.
func scanDXFLayers(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	layers := map[string]int{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var code string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if code == "" {
			code = line
			continue
		}
		if code == "8" {
			layers[line]++
		}
		code = ""
	}
	return layers, scanner.Err()
}

func (dxfHandler) Normalize(ctx context.Context, doc DocHandle, cfg NormalizeConfig, path string) (NormalizeMetrics, error) {
	_, ok := doc.(*dxfHandle)
	if !ok {
		return NormalizeMetrics{}, errors.GeometryInvalid("not a DXF document handle")
	}

	detected, err := dxfHandler{}.DetectUnits(ctx, path)
	if err != nil {
		return NormalizeMetrics{}, err
	}
	if detected == "" && cfg.DeclaredUnits == "" {
		return NormalizeMetrics{}, errors.DXFUnitsUnknown()
	}
	units := ResolveUnits(detected, cfg.DeclaredUnits)

	scale, err := ScaleToMM(units)
	if err != nil {
		return NormalizeMetrics{}, err
	}

	return NormalizeMetrics{
		DetectedUnits:    units,
		UnitScaleApplied: scale,
	}, nil
}

func (dxfHandler) Validate(ctx context.Context, doc DocHandle) ([]string, error) {
	h, ok := doc.(*dxfHandle)
	if !ok {
		return nil, errors.GeometryInvalid("not a DXF document handle")
	}
	var warnings []string
	if len(h.layers) == 0 {
		warnings = append(warnings, "no entities found in ENTITIES section")
	}
	return warnings, nil
}

func (dxfHandler) Export(ctx context.Context, doc DocHandle, outPath string) error {
	h, ok := doc.(*dxfHandle)
	if !ok {
		return errors.GeometryInvalid("not a DXF document handle")
	}
	return copyFile(h.path, outPath)
}
