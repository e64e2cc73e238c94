package robot

import (
	"fmt"
	"math"
)

// Unit is the physical unit a normalized position is expressed in.
type Unit int

const (
	// Degrees spans the full joint travel, 0..270 degrees.
	Degrees Unit = iota
	// Radians spans the same travel expressed in radians.
	Radians
	// Percent spans 0..100 of the calibrated range, used for grippers.
	Percent
)

// FullScale returns the value a joint at range_max normalizes to.
func (u Unit) FullScale() float64 {
	switch u {
	case Radians:
		return 270 * math.Pi / 180
	case Percent:
		return 100
	default:
		return 270
	}
}

// FromMillidegrees converts a threshold expressed in millidegrees to this
// unit. Thresholds are configured in millidegrees regardless of the pose
// unit, matching the convention of the arm controllers.
func (u Unit) FromMillidegrees(md float64) float64 {
	return md / 1000 / 270 * u.FullScale()
}

func (u Unit) String() string {
	switch u {
	case Degrees:
		return "degrees"
	case Radians:
		return "radians"
	case Percent:
		return "percent"
	default:
		return fmt.Sprintf("unit(%d)", int(u))
	}
}

// ParseUnit parses a unit name as it appears in configuration files.
func ParseUnit(s string) (Unit, error) {
	switch s {
	case "degrees", "":
		return Degrees, nil
	case "radians":
		return Radians, nil
	case "percent":
		return Percent, nil
	default:
		return Degrees, fmt.Errorf("unknown unit %q", s)
	}
}
