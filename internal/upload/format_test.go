package upload

import "testing"

func TestDetectFormatByExtension(t *testing.T) {
	cases := map[string]Format{
		"part.step": FormatSTEP,
		"part.stp":  FormatSTEP,
		"part.stl":  FormatSTL,
		"part.dxf":  FormatDXF,
		"part.ifc":  FormatIFC,
		"part.obj":  FormatOBJ,
	}
	for name, want := range cases {
		if got := DetectFormat(name, nil); got != want {
			t.Errorf("DetectFormat(%s) = %s, want %s", name, got, want)
		}
	}
}

func TestDetectFormatMagicWinsOverExtension(t *testing.T) {
	head := []byte("ISO-10303-21;\nHEADER;\n")
	got := DetectFormat("mystery.dat", head)
	if got != FormatSTEP {
		t.Fatalf("DetectFormat() = %s, want step", got)
	}
}

func TestDetectFormatAsciiStlMagic(t *testing.T) {
	got := DetectFormat("mystery.dat", []byte("solid cube\n"))
	if got != FormatSTL {
		t.Fatalf("DetectFormat() = %s, want stl", got)
	}
}

func TestDetectFormatUnknown(t *testing.T) {
	got := DetectFormat("mystery.xyz123", []byte{0x01, 0x02})
	if got != FormatUnknown {
		t.Fatalf("DetectFormat() = %s, want unknown", got)
	}
}

func TestAllRegisteredFormatsAreSupported(t *testing.T) {
	all := []Format{
		FormatSTEP, FormatIGES, FormatBREP, FormatSTL, FormatOBJ, FormatPLY,
		FormatOFF, Format3MF, FormatAMF, FormatDXF, FormatDWG, FormatSVG,
		FormatIFC, FormatDAE, FormatGLTF, FormatGLB, FormatVRML, FormatX3D,
		FormatXYZ, FormatPCD, FormatLAS, FormatFCStd,
	}
	for _, f := range all {
		if !IsSupported(f) {
			t.Errorf("format %s has no registered handler", f)
		}
	}
}
