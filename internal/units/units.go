// Package units provides shared constants and conversions for the physical
// quantities reported by the flight computer.
package units

import "strings"

// Speed unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
	FPS  = "fps"
)

// Height unit constants
const (
	Metres = "m"
	Feet   = "ft"
)

// ValidSpeedUnits contains all valid speed unit values
var ValidSpeedUnits = []string{MPS, MPH, KMPH, KPH, FPS}

// ValidHeightUnits contains all valid height unit values
var ValidHeightUnits = []string{Metres, Feet}

// IsValidSpeed checks if the given unit is in the list of valid speed units
func IsValidSpeed(unit string) bool {
	for _, validUnit := range ValidSpeedUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// IsValidHeight checks if the given unit is in the list of valid height units
func IsValidHeight(unit string) bool {
	for _, validUnit := range ValidHeightUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidSpeedUnitsString returns a comma-separated string of valid units for error messages
func GetValidSpeedUnitsString() string {
	return strings.Join(ValidSpeedUnits, ", ")
}

// ConvertSpeed converts a speed from meters per second to the target units.
// The flight computer reports speeds in m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 2.23694
	case KMPH, KPH:
		return speedMPS * 3.6
	case FPS:
		return speedMPS * 3.28084
	default:
		return speedMPS
	}
}

// ConvertHeight converts a height in meters to the target units.
func ConvertHeight(heightM float64, targetUnits string) float64 {
	if targetUnits == Feet {
		return heightM * 3.28084
	}
	return heightM
}
