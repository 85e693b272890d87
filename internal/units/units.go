// Package units provides shared constants and conversion for distance units
// and duration display.
package units

import "fmt"

// Unit constants
const (
	CM = "cm"
	IN = "in"
)

// CMPerInch is the conversion factor between centimetres and inches.
const CMPerInch = 2.54

// ValidUnits contains all valid unit values
var ValidUnits = []string{CM, IN}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// ConvertDistance converts a distance from centimetres to the target units.
// The database stores distances in cm.
func ConvertDistance(distanceCM float64, targetUnits string) float64 {
	switch targetUnits {
	case IN:
		return distanceCM / CMPerInch
	case CM:
		return distanceCM
	default:
		return distanceCM // default to cm if unknown unit
	}
}

// FormatDuration renders a second count the way the dashboard shows it:
// "42s", "3m 12s", "2h 5m". Hours drop the seconds component.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	mins, secs := seconds/60, seconds%60
	if seconds < 3600 {
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	hours, mins := mins/60, mins%60
	if mins == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, mins)
}
