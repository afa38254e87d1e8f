package workerruntime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cncaiprojem/projem-sub004/infrastructure/errors"
)

// PreloadModules lists the CAD engine modules a worker imports once at
// startup so the first real job does not pay import cost.
var PreloadModules = []string{
	"Part", "PartDesign", "Sketcher", "Mesh", "MeshPart", "Draft", "Import", "Export",
}

// WarmUpResult reports what the warm-up pass accomplished.
type WarmUpResult struct {
	ModulesLoaded []string
	TessellationMS int64
	Duration      time.Duration
}

// WarmUp preloads CAD modules, creates and discards a minimal template
// document, and tessellates a small reference box to force any lazy
// mesh-library initialization before the worker accepts real jobs.
func WarmUp(ctx context.Context, env *Environment, enginePath string) (*WarmUpResult, error) {
	start := time.Now()

	script := buildWarmUpScript()
	tmp := filepath.Join(env.HomeDir, "warmup.py")
	if err := os.WriteFile(tmp, []byte(script), 0o600); err != nil {
		return nil, errors.Internal("failed to stage warm-up script", err)
	}
	defer os.Remove(tmp)

	cmd := exec.CommandContext(ctx, enginePath, tmp)
	cmd.Env = env.EnvSlice()
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, errors.SubprocessFailed(exitCodeOf(err), string(out))
	}

	return &WarmUpResult{
		ModulesLoaded: PreloadModules,
		Duration:      time.Since(start),
	}, nil
}

func buildWarmUpScript() string {
	script := "import FreeCAD as App\nimport time\n"
	for _, m := range PreloadModules {
		script += fmt.Sprintf("import %s\n", m)
	}
	script += `
doc = App.newDocument("warmup")
box = doc.addObject("Part::Box", "box")
box.Length = box.Width = box.Height = 10
doc.recompute()
mesh = MeshPart.meshFromShape(box.Shape, LinearDeflection=0.1)
App.closeDocument(doc.Name)
`
	return script
}

func exitCodeOf(err error) int {
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}
