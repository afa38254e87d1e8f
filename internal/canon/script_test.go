package canon

import (
	"strings"
	"testing"
)

const validScript = `import Part, Sketcher
width_cm = 5
Sketcher.AddGeometry("line")
Sketcher.AddConstraint("Distance", 0, 50)
Body.Pad(10, 5)
compute_and_show();
`

func TestScriptHappyPath(t *testing.T) {
	res, err := Script(validScript)
	if err != nil {
		t.Fatalf("Script() error = %v", err)
	}
	if res.Metadata.Dims["width"] != 50 {
		t.Fatalf("Dims[width] = %v, want 50 (5cm -> 50mm)", res.Metadata.Dims["width"])
	}
	if res.Metadata.ConversionsApplied != 1 {
		t.Fatalf("ConversionsApplied = %d, want 1", res.Metadata.ConversionsApplied)
	}
	if res.Metadata.SolidCount != 1 {
		t.Fatalf("SolidCount = %d, want 1", res.Metadata.SolidCount)
	}
	if res.Metadata.SketchConstraints["Distance"] != 1 {
		t.Fatalf("SketchConstraints[Distance] = %d, want 1", res.Metadata.SketchConstraints["Distance"])
	}
	if !strings.Contains(res.CanonicalText, "compute_and_show();") {
		t.Fatal("expected canonical text to end with the required final call")
	}
}

func TestScriptMissingImportsFails(t *testing.T) {
	_, err := Script("Body.Pad(1)\ncompute_and_show();\n")
	se, ok := err.(*ScriptError)
	if !ok || se.Code != "missing_required" {
		t.Fatalf("err = %v, want missing_required ScriptError", err)
	}
}

func TestScriptDisallowedImportFails(t *testing.T) {
	_, err := Script("import os\ncompute_and_show();\n")
	se, ok := err.(*ScriptError)
	if !ok || se.Code != "security_violation" {
		t.Fatalf("err = %v, want security_violation ScriptError", err)
	}
}

func TestScriptForbiddenNameFails(t *testing.T) {
	src := "import Part\nx = eval(\"1\")\ncompute_and_show();\n"
	_, err := Script(src)
	se, ok := err.(*ScriptError)
	if !ok || se.Code != "security_violation" {
		t.Fatalf("err = %v, want security_violation ScriptError", err)
	}
}

func TestScriptAppendsFinalCallIfMissing(t *testing.T) {
	src := "import Part\nBody.Pad(1)\n"
	res, err := Script(src)
	if err != nil {
		t.Fatalf("Script() error = %v", err)
	}
	if !strings.HasSuffix(strings.TrimRight(res.CanonicalText, "\n"), "compute_and_show();") {
		t.Fatalf("expected final call appended, got %q", res.CanonicalText)
	}
}

func TestScriptUnitCallAndTrailingCommentForms(t *testing.T) {
	src := "import Part\ndepth = cm(2)\nheight = 3 # inch\ncompute_and_show();\n"
	res, err := Script(src)
	if err != nil {
		t.Fatalf("Script() error = %v", err)
	}
	if res.Metadata.ConversionsApplied != 2 {
		t.Fatalf("ConversionsApplied = %d, want 2", res.Metadata.ConversionsApplied)
	}
	if !strings.Contains(res.CanonicalText, "depth = 20") {
		t.Fatalf("expected cm(2) rewritten to 20mm, got %q", res.CanonicalText)
	}
}

func TestScriptDeprecatedAPIFails(t *testing.T) {
	src := "import Part\nPart.MakeBox(1,2,3)\ncompute_and_show();\n"
	_, err := Script(src)
	se, ok := err.(*ScriptError)
	if !ok || se.Code != "api_deprecated" {
		t.Fatalf("err = %v, want api_deprecated ScriptError", err)
	}
}

func TestScriptCommentGlossaryTranslation(t *testing.T) {
	src := "import Part\n# ftr: pctn for base\ncompute_and_show();\n"
	res, err := Script(src)
	if err != nil {
		t.Fatalf("Script() error = %v", err)
	}
	if !strings.Contains(res.CanonicalText, "feature") || !strings.Contains(res.CanonicalText, "pocket") {
		t.Fatalf("expected glossary translation in comment, got %q", res.CanonicalText)
	}
}

func TestScriptIdempotentCanonicalText(t *testing.T) {
	res1, err := Script(validScript)
	if err != nil {
		t.Fatalf("Script() error = %v", err)
	}
	res2, err := Script(res1.CanonicalText)
	if err != nil {
		t.Fatalf("second Script() error = %v", err)
	}
	if res1.CanonicalText != res2.CanonicalText {
		t.Fatalf("canonicalization not idempotent:\n%q\n!=\n%q", res1.CanonicalText, res2.CanonicalText)
	}
}
