package canon

import "strings"

// APICategory groups registry entries by the kind of operation they perform.
type APICategory string

const (
	CategorySketch    APICategory = "sketch"
	CategoryFeature   APICategory = "feature"
	CategoryPattern   APICategory = "pattern"
	CategoryAssembly  APICategory = "assembly"
	CategoryUtility   APICategory = "utility"
)

// APIEntry describes one callable in the registry: accepted arity range,
// category, and an optional deprecation notice with a suggested replacement.
type APIEntry struct {
	MinArgs     int
	MaxArgs     int
	Category    APICategory
	Deprecated  bool
	Suggestion  string
}

// apiRegistry is the known set of API calls a script may invoke, keyed by
// dotted call path (e.g. "Body.Pad").
var apiRegistry = map[string]APIEntry{
	"Body.Pad":               {MinArgs: 1, MaxArgs: 2, Category: CategoryFeature},
	"Body.Pocket":            {MinArgs: 1, MaxArgs: 2, Category: CategoryFeature},
	"Body.Revolution":        {MinArgs: 1, MaxArgs: 3, Category: CategoryFeature},
	"Body.LinearPattern":     {MinArgs: 2, MaxArgs: 3, Category: CategoryPattern},
	"Body.PolarPattern":      {MinArgs: 2, MaxArgs: 3, Category: CategoryPattern},
	"Sketcher.AddConstraint": {MinArgs: 1, MaxArgs: 4, Category: CategorySketch},
	"Sketcher.AddGeometry":   {MinArgs: 1, MaxArgs: 2, Category: CategorySketch},
	"Sketcher.Close":         {MinArgs: 0, MaxArgs: 0, Category: CategorySketch},
	"Assembly4.AddPart":      {MinArgs: 1, MaxArgs: 3, Category: CategoryAssembly},
	"Assembly4.Constrain":    {MinArgs: 2, MaxArgs: 5, Category: CategoryAssembly},
	"Part.MakeBox":           {MinArgs: 1, MaxArgs: 3, Category: CategoryFeature, Deprecated: true, Suggestion: "Body.Pad"},
	"compute_and_show":       {MinArgs: 0, MaxArgs: 0, Category: CategoryUtility},
}

// LookupAPI returns the registry entry for a dotted call path and whether it
// was found.
func LookupAPI(path string) (APIEntry, bool) {
	e, ok := apiRegistry[path]
	return e, ok
}

// SuggestAPI finds the closest registered call path by suffix match, used to
// suggest a registered path for a call like "App.Body.Pad" -> "Body.Pad".
func SuggestAPI(path string) (string, bool) {
	best := ""
	bestLen := 0
	for candidate := range apiRegistry {
		if candidate == path {
			continue
		}
		if strings.HasSuffix(path, candidate) || strings.HasSuffix(candidate, path) {
			if len(candidate) > bestLen {
				best = candidate
				bestLen = len(candidate)
			}
		}
	}
	return best, best != ""
}

// allowedImports is the hard allow-list of modules a script may reference.
var allowedImports = map[string]bool{
	"Part":      true,
	"Sketcher":  true,
	"Assembly4": true,
	"Draft":     true,
	"Mesh":      true,
}

// forbiddenNames is the hard deny-list of identifiers scripts must not use,
// primarily host/process escape hatches.
var forbiddenNames = map[string]bool{
	"os":      true,
	"subprocess": true,
	"eval":    true,
	"exec":    true,
	"__import__": true,
	"open":    true,
}

// IsAllowedImport reports whether a module name is on the import allow-list.
func IsAllowedImport(name string) bool {
	return allowedImports[name]
}

// IsForbiddenName reports whether an identifier is on the forbidden-name list.
func IsForbiddenName(name string) bool {
	return forbiddenNames[name]
}
