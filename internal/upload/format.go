// Package upload implements the per-format CAD/mesh upload pipeline: format
// detection, unit and orientation normalization, optional mesh repair, and
// canonical export, fronted by a single handler interface dispatched by
// detected format.
package upload

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Format enumerates the supported upload formats.
type Format string

const (
	FormatSTEP  Format = "step"
	FormatIGES  Format = "iges"
	FormatBREP  Format = "brep"
	FormatSTL   Format = "stl"
	FormatOBJ   Format = "obj"
	FormatPLY   Format = "ply"
	FormatOFF   Format = "off"
	Format3MF   Format = "3mf"
	FormatAMF   Format = "amf"
	FormatDXF   Format = "dxf"
	FormatDWG   Format = "dwg"
	FormatSVG   Format = "svg"
	FormatIFC   Format = "ifc"
	FormatDAE   Format = "dae"
	FormatGLTF  Format = "gltf"
	FormatGLB   Format = "glb"
	FormatVRML  Format = "vrml"
	FormatX3D   Format = "x3d"
	FormatXYZ   Format = "xyz"
	FormatPCD   Format = "pcd"
	FormatLAS   Format = "las"
	FormatFCStd Format = "fcstd"
	FormatUnknown Format = ""
)

var extensionToFormat = map[string]Format{
	".step": FormatSTEP, ".stp": FormatSTEP,
	".iges": FormatIGES, ".igs": FormatIGES,
	".brep": FormatBREP,
	".stl":  FormatSTL,
	".obj":  FormatOBJ,
	".ply":  FormatPLY,
	".off":  FormatOFF,
	".3mf":  Format3MF,
	".amf":  FormatAMF,
	".dxf":  FormatDXF,
	".dwg":  FormatDWG,
	".svg":  FormatSVG,
	".ifc":  FormatIFC,
	".dae":  FormatDAE,
	".gltf": FormatGLTF,
	".glb":  FormatGLB,
	".wrl":  FormatVRML,
	".vrml": FormatVRML,
	".x3d":  FormatX3D,
	".xyz":  FormatXYZ,
	".pcd":  FormatPCD,
	".las":  FormatLAS,
	".fcstd": FormatFCStd,
}

// magicSignature pairs a byte prefix with the format it identifies. Checked
// in order; the first match wins.
type magicSignature struct {
	prefix []byte
	format Format
}

var magicSignatures = []magicSignature{
	{[]byte("ISO-10303-21"), FormatSTEP},
	{[]byte("solid "), FormatSTL}, // ASCII STL; binary STL has no reliable text magic
	{[]byte{0x67, 0x6C, 0x54, 0x46}, FormatGLB}, // "glTF" binary magic
	{[]byte("PK\x03\x04"), Format3MF},           // zip container; 3MF/AMF both zip-based, extension breaks the tie
	{[]byte("<?xml"), FormatDAE},                // COLLADA/X3D/SVG all XML; extension breaks the tie
}

// DetectFormat determines the upload format from filename extension and
// leading bytes, with magic bytes winning on conflict as specified.
func DetectFormat(filename string, head []byte) Format {
	ext := strings.ToLower(filepath.Ext(filename))
	byExt, extKnown := extensionToFormat[ext]

	for _, sig := range magicSignatures {
		if bytes.HasPrefix(head, sig.prefix) {
			// XML and zip magics are ambiguous across several formats;
			// defer to the extension when one was recognized.
			if (sig.format == FormatDAE || sig.format == Format3MF) && extKnown {
				return byExt
			}
			return sig.format
		}
	}

	// Binary STL: no text magic, but starts with an 80-byte header followed
	// by a uint32 triangle count; heuristically distinguished from other
	// binary containers by extension alone here.
	if extKnown {
		return byExt
	}
	return FormatUnknown
}

// IsSupported reports whether f is a recognized, dispatchable format.
func IsSupported(f Format) bool {
	_, ok := handlers[f]
	return ok
}
