package upload

import (
	"bufio"
	"context"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/cncaiprojem/projem-sub004/infrastructure/errors"
)

// kernelHandle represents a document whose solid geometry is opaque to this
// process: STEP/IGES/BREP require an actual geometry kernel to interpret,
// which lives in the CAD engine subprocess the Job Executor spawns, not
// here. This handler does everything that is legitimately doable without a
// kernel: header-level unit/validity inspection and byte-level export.
type kernelHandle struct {
	*fileHandle
	format Format
}

type stepHandler struct{}

func init() { register(FormatSTEP, stepHandler{}) }

var (
	stepHeaderRe = regexp.MustCompile(`(?i)ISO-10303-21`)
	stepEndsecRe = regexp.MustCompile(`(?i)ENDSEC`)
)

func (stepHandler) DetectUnits(ctx context.Context, path string) (string, error) {
	return detectUnitsFromHeader(path, 8192, func(head string) string {
		switch {
		case strings.Contains(strings.ToUpper(head), "MILLIMETRE"):
			return "mm"
		case strings.Contains(strings.ToUpper(head), "CENTIMETRE"):
			return "cm"
		case strings.Contains(strings.ToUpper(head), "METRE"):
			return "m"
		case strings.Contains(strings.ToUpper(head), "INCH"):
			return "in"
		default:
			return ""
		}
	})
}

func detectUnitsFromHeader(path string, maxBytes int, classify func(string) string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, maxBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return classify(string(buf[:n])), nil
}

func (h stepHandler) Load(ctx context.Context, path string) (DocHandle, error) {
	fh, err := openHandle(path)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(fh.f)
	head := make([]byte, 64)
	n, _ := br.Read(head)
	if !stepHeaderRe.Match(head[:n]) {
		fh.Close()
		return nil, errors.StepTopology("missing ISO-10303-21 header")
	}

	return &kernelHandle{fileHandle: fh, format: FormatSTEP}, nil
}

// Normalize for kernel formats cannot perform real geometric transforms in
// pure Go; it resolves the unit scale that the subsequent engine invocation
// will apply and records it, leaving OrientationApplied/Centered for the
// kernel step to report back.
func (stepHandler) Normalize(ctx context.Context, doc DocHandle, cfg NormalizeConfig, path string) (NormalizeMetrics, error) {
	return normalizeKernelFormat(doc, cfg, path, stepHandler{}.DetectUnits)
}

func normalizeKernelFormat(doc DocHandle, cfg NormalizeConfig, path string, detect func(context.Context, string) (string, error)) (NormalizeMetrics, error) {
	h, ok := doc.(*kernelHandle)
	if !ok {
		return NormalizeMetrics{}, errors.GeometryInvalid("not a kernel document handle")
	}

	detected, err := detect(context.Background(), h.path)
	if err != nil {
		return NormalizeMetrics{}, err
	}
	units := ResolveUnits(detected, cfg.DeclaredUnits)

	scale, err := ScaleToMM(units)
	if err != nil {
		return NormalizeMetrics{}, err
	}

	return NormalizeMetrics{
		DetectedUnits:    units,
		UnitScaleApplied: scale,
		Centered:         false,
	}, nil
}

func (stepHandler) Validate(ctx context.Context, doc DocHandle) ([]string, error) {
	h, ok := doc.(*kernelHandle)
	if !ok {
		return nil, errors.GeometryInvalid("not a kernel document handle")
	}

	buf, err := os.ReadFile(h.path)
	if err != nil {
		return nil, err
	}
	if !stepEndsecRe.Match(buf) {
		return nil, errors.StepTopology("missing ENDSEC, file appears truncated")
	}
	return nil, nil
}

func (stepHandler) Export(ctx context.Context, doc DocHandle, outPath string) error {
	h, ok := doc.(*kernelHandle)
	if !ok {
		return errors.GeometryInvalid("not a kernel document handle")
	}
	return copyFile(h.path, outPath)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
