package upload

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/cncaiprojem/projem-sub004/infrastructure/errors"
)

type vec3 [3]float32

type triangle struct {
	normal vec3
	v      [3]vec3
}

type stlHandle struct {
	*fileHandle
	triangles []triangle
}

type stlHandler struct{}

func init() { register(FormatSTL, stlHandler{}) }

// DetectUnits has no format-level unit metadata in STL, so this returns "";
// Normalize guesses units from the bounding-box diagonal and falls back to
// the declared units when the guess is inconclusive.
func (stlHandler) DetectUnits(ctx context.Context, path string) (string, error) {
	return "", nil
}

func (stlHandler) Load(ctx context.Context, path string) (DocHandle, error) {
	fh, err := openHandle(path)
	if err != nil {
		return nil, err
	}

	tris, err := parseSTL(fh.f)
	if err != nil {
		fh.Close()
		return nil, errors.GeometryInvalid(err.Error())
	}
	return &stlHandle{fileHandle: fh, triangles: tris}, nil
}

func parseSTL(f *os.File) ([]triangle, error) {
	br := bufio.NewReader(f)
	peek, _ := br.Peek(5)
	if string(peek) == "solid" {
		tris, err := parseASCIISTL(br)
		if err == nil && len(tris) > 0 {
			return tris, nil
		}
		// fall through: some binary files start with "solid" in the header
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		br = bufio.NewReader(f)
	}
	return parseBinarySTL(br)
}

func parseASCIISTL(r *bufio.Reader) ([]triangle, error) {
	var tris []triangle
	var cur triangle
	vertIdx := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "facet normal"):
			fields := strings.Fields(line)
			if len(fields) == 5 {
				cur.normal = parseVec3Fields(fields[2:5])
			}
			vertIdx = 0
		case strings.HasPrefix(line, "vertex"):
			fields := strings.Fields(line)
			if len(fields) == 4 && vertIdx < 3 {
				cur.v[vertIdx] = parseVec3Fields(fields[1:4])
				vertIdx++
			}
		case strings.HasPrefix(line, "endfacet"):
			tris = append(tris, cur)
			cur = triangle{}
		}
	}
	return tris, scanner.Err()
}

func parseVec3Fields(fields []string) vec3 {
	var v vec3
	for i, s := range fields {
		f, _ := strconv.ParseFloat(s, 32)
		v[i] = float32(f)
	}
	return v
}

func parseBinarySTL(r *bufio.Reader) ([]triangle, error) {
	header := make([]byte, 80)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("truncated STL header: %w", err)
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("truncated STL triangle count: %w", err)
	}

	tris := make([]triangle, 0, count)
	for i := uint32(0); i < count; i++ {
		var rec [12]float32
		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			return nil, fmt.Errorf("truncated STL triangle %d: %w", i, err)
		}
		var attr uint16
		if err := binary.Read(r, binary.LittleEndian, &attr); err != nil {
			return nil, fmt.Errorf("truncated STL attribute byte count at %d: %w", i, err)
		}
		tris = append(tris, triangle{
			normal: vec3{rec[0], rec[1], rec[2]},
			v:      [3]vec3{{rec[3], rec[4], rec[5]}, {rec[6], rec[7], rec[8]}, {rec[9], rec[10], rec[11]}},
		})
	}
	return tris, nil
}

func (stlHandler) Normalize(ctx context.Context, doc DocHandle, cfg NormalizeConfig, path string) (NormalizeMetrics, error) {
	h, ok := doc.(*stlHandle)
	if !ok {
		return NormalizeMetrics{}, errors.GeometryInvalid("not an STL document handle")
	}

	bbox := boundingBox(h.triangles)
	diagonal := bboxDiagonal(bbox)
	detected := unitsFromBoundingBoxHeuristic(diagonal)
	units := ResolveUnits(detected, cfg.DeclaredUnits)

	scale, err := ScaleToMM(units)
	if err != nil {
		return NormalizeMetrics{}, err
	}
	if scale != 1.0 {
		scaleTriangles(h.triangles, scale)
		bbox = boundingBox(h.triangles)
	}

	merged := 0
	if cfg.MergeDuplicates {
		h.triangles, merged = dedupTriangles(h.triangles)
	}

	repaired, dropped := 0, 0
	if cfg.RepairMesh {
		h.triangles, repaired, dropped = repairMesh(h.triangles)
		bbox = boundingBox(h.triangles)
	}

	if cfg.Center {
		center := bboxCenter(bbox)
		translateTriangles(h.triangles, center)
		bbox = boundingBox(h.triangles)
	}

	return NormalizeMetrics{
		DetectedUnits:      units,
		UnitScaleApplied:   scale,
		OrientationApplied: false,
		Centered:           cfg.Center,
		DuplicatesMerged:   merged,
		FacesRepaired:       repaired,
		VerticesDropped:    dropped,
		BoundingBox:        bbox,
	}, nil
}

func (stlHandler) Validate(ctx context.Context, doc DocHandle) ([]string, error) {
	h, ok := doc.(*stlHandle)
	if !ok {
		return nil, errors.GeometryInvalid("not an STL document handle")
	}

	var warnings []string
	if len(h.triangles) == 0 {
		return nil, errors.STLNotManifold()
	}

	edgeCounts := map[[2]vec3]int{}
	for _, t := range h.triangles {
		for i := 0; i < 3; i++ {
			a, b := t.v[i], t.v[(i+1)%3]
			key := edgeKey(a, b)
			edgeCounts[key]++
		}
	}
	for _, c := range edgeCounts {
		if c != 2 {
			warnings = append(warnings, "mesh is not manifold: an edge is shared by other than two faces")
			break
		}
	}
	return warnings, nil
}

func (stlHandler) Export(ctx context.Context, doc DocHandle, outPath string) error {
	h, ok := doc.(*stlHandle)
	if !ok {
		return errors.GeometryInvalid("not an STL document handle")
	}
	return writeBinarySTL(outPath, h.triangles)
}

func writeBinarySTL(path string, tris []triangle) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	var header [80]byte
	copy(header[:], "normalized export")
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(tris))); err != nil {
		return err
	}
	for _, t := range tris {
		rec := [12]float32{
			t.normal[0], t.normal[1], t.normal[2],
			t.v[0][0], t.v[0][1], t.v[0][2],
			t.v[1][0], t.v[1][1], t.v[1][2],
			t.v[2][0], t.v[2][1], t.v[2][2],
		}
		if err := binary.Write(w, binary.LittleEndian, rec); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(0)); err != nil {
			return err
		}
	}
	return w.Flush()
}

func boundingBox(tris []triangle) [6]float64 {
	if len(tris) == 0 {
		return [6]float64{}
	}
	min := [3]float32{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	max := [3]float32{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	for _, t := range tris {
		for _, v := range t.v {
			for i := 0; i < 3; i++ {
				if v[i] < min[i] {
					min[i] = v[i]
				}
				if v[i] > max[i] {
					max[i] = v[i]
				}
			}
		}
	}
	return [6]float64{float64(min[0]), float64(min[1]), float64(min[2]), float64(max[0]), float64(max[1]), float64(max[2])}
}

func bboxDiagonal(b [6]float64) float64 {
	dx, dy, dz := b[3]-b[0], b[4]-b[1], b[5]-b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func bboxCenter(b [6]float64) vec3 {
	return vec3{float32((b[0] + b[3]) / 2), float32((b[1] + b[4]) / 2), float32((b[2] + b[5]) / 2)}
}

// unitsFromBoundingBoxHeuristic guesses source units from the model's
// overall scale: CAD parts this small are almost always authored in meters,
// and this large almost always in millimeters; the broad middle is left
// undetermined for the caller's declaration to resolve.
func unitsFromBoundingBoxHeuristic(diagonal float64) string {
	switch {
	case diagonal > 0 && diagonal < 10:
		return "m"
	case diagonal > 100000:
		return "mm"
	default:
		return ""
	}
}

func scaleTriangles(tris []triangle, scale float64) {
	s := float32(scale)
	for i := range tris {
		for j := range tris[i].v {
			tris[i].v[j][0] *= s
			tris[i].v[j][1] *= s
			tris[i].v[j][2] *= s
		}
	}
}

func translateTriangles(tris []triangle, delta vec3) {
	for i := range tris {
		for j := range tris[i].v {
			tris[i].v[j][0] -= delta[0]
			tris[i].v[j][1] -= delta[1]
			tris[i].v[j][2] -= delta[2]
		}
	}
}

func edgeKey(a, b vec3) [2]vec3 {
	if vecLess(b, a) {
		a, b = b, a
	}
	return [2]vec3{roundVec(a), roundVec(b)}
}

func vecLess(a, b vec3) bool {
	for i := 0; i < 3; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func roundVec(v vec3) vec3 {
	const scale = 1e4
	return vec3{
		float32(math.Round(float64(v[0])*scale) / scale),
		float32(math.Round(float64(v[1])*scale) / scale),
		float32(math.Round(float64(v[2])*scale) / scale),
	}
}

// dedupTriangles drops triangles that are exact duplicates after rounding,
// the mesh analog of the structured canonical form's geometric-hash merge.
func dedupTriangles(tris []triangle) ([]triangle, int) {
	seen := map[[3]vec3]bool{}
	out := make([]triangle, 0, len(tris))
	merged := 0
	for _, t := range tris {
		key := [3]vec3{roundVec(t.v[0]), roundVec(t.v[1]), roundVec(t.v[2])}
		if seen[key] {
			merged++
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out, merged
}

// repairMesh drops degenerate (zero-area) faces and triangles referencing
// coincident vertices, returning the number of faces repaired/dropped.
func repairMesh(tris []triangle) ([]triangle, int, int) {
	out := make([]triangle, 0, len(tris))
	dropped := 0
	for _, t := range tris {
		if isDegenerate(t) {
			dropped++
			continue
		}
		out = append(out, t)
	}
	return out, dropped, dropped
}

func isDegenerate(t triangle) bool {
	a, b, c := t.v[0], t.v[1], t.v[2]
	if a == b || b == c || a == c {
		return true
	}
	ux, uy, uz := b[0]-a[0], b[1]-a[1], b[2]-a[2]
	vx, vy, vz := c[0]-a[0], c[1]-a[1], c[2]-a[2]
	cx, cy, cz := uy*vz-uz*vy, uz*vx-ux*vz, ux*vy-uy*vx
	area := math.Sqrt(float64(cx*cx + cy*cy + cz*cz))
	return area < 1e-9
}
