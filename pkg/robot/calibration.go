package robot

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
)

// Calibration errors. Both are fatal at startup: a degenerate range would
// make normalization divide by zero, and a missing motor means the file
// does not describe the connected arm.
var (
	ErrDegenerateRange = errors.New("degenerate calibration range")
	ErrMissingMotor    = errors.New("motor missing from calibration")
)

// MotorCalibration holds calibration data for a single motor.
//
// HomingOffset is subtracted from the raw sensor reading before the value
// is clamped to [RangeMin, RangeMax] and normalized. DriveMode 1 inverts
// the sign of the normalized output to compensate mechanically mirrored
// joints. A loaded calibration is never mutated.
type MotorCalibration struct {
	ID           int `json:"id"`
	DriveMode    int `json:"drive_mode"`
	HomingOffset int `json:"homing_offset"`
	RangeMin     int `json:"range_min"`
	RangeMax     int `json:"range_max"`
}

// Validate rejects calibrations the normalization math cannot handle.
func (c MotorCalibration) Validate() error {
	if c.RangeMax <= c.RangeMin {
		return fmt.Errorf("%w: range_min=%d range_max=%d", ErrDegenerateRange, c.RangeMin, c.RangeMax)
	}
	if c.DriveMode != 0 && c.DriveMode != 1 {
		return fmt.Errorf("invalid drive_mode %d (must be 0 or 1)", c.DriveMode)
	}
	return nil
}

// RawToPhysical converts a raw sensor reading to a physical position in
// the given unit. Out-of-range readings are clamped, never rejected, so a
// noisy sensor sample cannot crash the control loop.
func (c MotorCalibration) RawToPhysical(raw int, unit Unit) (float64, error) {
	if c.RangeMax == c.RangeMin {
		return 0, fmt.Errorf("%w: range_min=%d range_max=%d", ErrDegenerateRange, c.RangeMin, c.RangeMax)
	}
	calibrated := raw - c.HomingOffset
	if calibrated < c.RangeMin {
		calibrated = c.RangeMin
	}
	if calibrated > c.RangeMax {
		calibrated = c.RangeMax
	}
	fraction := float64(calibrated-c.RangeMin) / float64(c.RangeMax-c.RangeMin)
	value := fraction * unit.FullScale()
	if c.DriveMode == 1 {
		value = -value
	}
	return value, nil
}

// PhysicalToRaw is the exact inverse of RawToPhysical, used when a command
// must be converted back to raw counts before a bus write. The result is
// rounded to the nearest count, so a round trip stays within one count.
func (c MotorCalibration) PhysicalToRaw(value float64, unit Unit) (int, error) {
	if c.RangeMax == c.RangeMin {
		return 0, fmt.Errorf("%w: range_min=%d range_max=%d", ErrDegenerateRange, c.RangeMin, c.RangeMax)
	}
	if c.DriveMode == 1 {
		value = -value
	}
	fraction := value / unit.FullScale()
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	raw := int(math.Round(fraction * float64(c.RangeMax-c.RangeMin)))
	return raw + c.RangeMin + c.HomingOffset, nil
}

// Center returns the raw reading at the middle of the calibrated range,
// used as a stand-in when a motor has never produced a valid reading.
func (c MotorCalibration) Center() int {
	return (c.RangeMin+c.RangeMax)/2 + c.HomingOffset
}

// Calibration holds calibration data for all motors, keyed by motor name.
type Calibration map[MotorName]MotorCalibration

// LoadCalibration loads calibration data from a JSON file. A missing or
// malformed file, or a calibration Validate rejects, is a startup-fatal
// error and is returned to the caller rather than retried.
func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}

	var raw map[string]MotorCalibration
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse calibration JSON: %w", err)
	}

	cal := make(Calibration, len(raw))
	for name, mc := range raw {
		cal[MotorName(name)] = mc
	}
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	return cal, nil
}

// Validate checks every motor calibration in the set.
func (c Calibration) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("calibration is empty")
	}
	for _, name := range c.Names() {
		if err := c[name].Validate(); err != nil {
			return fmt.Errorf("motor %s: %w", name, err)
		}
	}
	return nil
}

// Names returns the motor names ordered by servo ID. This is the joint
// order of every pose produced against this calibration set.
func (c Calibration) Names() []MotorName {
	names := make([]MotorName, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if c[names[i]].ID != c[names[j]].ID {
			return c[names[i]].ID < c[names[j]].ID
		}
		return names[i] < names[j]
	})
	return names
}

// MotorIDs returns the servo IDs for all motors, in joint order.
func (c Calibration) MotorIDs() []int {
	names := c.Names()
	ids := make([]int, 0, len(names))
	for _, name := range names {
		ids = append(ids, c[name].ID)
	}
	return ids
}

// ByID returns motor name and calibration for a given servo ID.
func (c Calibration) ByID(id int) (MotorName, MotorCalibration, bool) {
	for name, mc := range c {
		if mc.ID == id {
			return name, mc, true
		}
	}
	return "", MotorCalibration{}, false
}

// ForName returns the calibration for a motor name.
func (c Calibration) ForName(name MotorName) (MotorCalibration, error) {
	mc, ok := c[name]
	if !ok {
		return MotorCalibration{}, fmt.Errorf("%w: %s", ErrMissingMotor, name)
	}
	return mc, nil
}
