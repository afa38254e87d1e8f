package upload

import "github.com/cncaiprojem/projem-sub004/infrastructure/errors"

// unitToMM is the multiplier table converting a unit name to millimeters.
var unitToMM = map[string]float64{
	"mm": 1.0,
	"cm": 10.0,
	"m":  1000.0,
	"in": 25.4,
	"ft": 304.8,
}

// ScaleToMM returns the multiplier to convert from unit to millimeters.
func ScaleToMM(unit string) (float64, error) {
	scale, ok := unitToMM[unit]
	if !ok {
		return 0, errors.UnitConversionFailed(unit)
	}
	return scale, nil
}

// ResolveUnits applies the documented precedence: format-detected units,
// else the caller's declared units, else millimeters.
func ResolveUnits(detected, declared string) string {
	if detected != "" {
		return detected
	}
	if declared != "" {
		return declared
	}
	return "mm"
}
