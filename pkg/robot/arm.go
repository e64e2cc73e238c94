package robot

import (
	"context"
	"fmt"
)

// Arm couples a motor bus with its calibration set and the unit its poses
// are expressed in. All positions crossing the Arm boundary are physical;
// raw counts never leave this package.
type Arm struct {
	bus         Bus
	calibration Calibration
	unit        Unit
	names       []MotorName
	ids         []int

	// lastRaw holds the most recent valid reading per motor so a failed
	// read degrades to a stale value instead of blocking the tick.
	lastRaw map[int]int
}

// NewArm creates an arm over the given bus. The calibration is validated
// once here; a degenerate range is fatal at startup, never retried.
func NewArm(bus Bus, cal Calibration, unit Unit) (*Arm, error) {
	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}
	return &Arm{
		bus:         bus,
		calibration: cal,
		unit:        unit,
		names:       cal.Names(),
		ids:         cal.MotorIDs(),
		lastRaw:     make(map[int]int, len(cal)),
	}, nil
}

// Connect opens the underlying bus connection.
func (a *Arm) Connect(ctx context.Context) error {
	return a.bus.Connect(ctx)
}

// Close releases the bus connection. Safe to call more than once.
func (a *Arm) Close() error {
	return a.bus.Close()
}

// Names returns the motor names in joint order.
func (a *Arm) Names() []MotorName { return a.names }

// Unit returns the unit this arm's poses are expressed in.
func (a *Arm) Unit() Unit { return a.unit }

// Writable reports whether the arm accepts position commands.
func (a *Arm) Writable() bool { return a.bus.Writable() }

// ReadPose reads all motors and converts them to physical units. Motors
// that did not answer are filled with their last known value (or the
// calibrated center before any valid read) and reported in stale, so one
// silent motor never blocks telemetry for the others.
func (a *Arm) ReadPose(ctx context.Context) (Pose, []MotorName, error) {
	raw, err := a.bus.ReadPositions(ctx, a.ids)
	if err != nil {
		return Pose{}, nil, fmt.Errorf("read positions: %w", err)
	}

	pose := NewPose(a.unit, len(a.ids))
	var stale []MotorName
	for i, id := range a.ids {
		mc := a.calibration[a.names[i]]
		r, ok := raw[id]
		if ok {
			a.lastRaw[id] = r
		} else {
			stale = append(stale, a.names[i])
			if last, okLast := a.lastRaw[id]; okLast {
				r = last
			} else {
				r = mc.Center()
			}
		}
		v, err := mc.RawToPhysical(r, a.unit)
		if err != nil {
			return Pose{}, nil, fmt.Errorf("motor %s: %w", a.names[i], err)
		}
		pose.Values[i] = v
	}
	return pose, stale, nil
}

// WritePose converts a physical pose back to raw counts and writes it to
// the bus in one exchange.
func (a *Arm) WritePose(ctx context.Context, pose Pose) error {
	if pose.Unit != a.unit {
		return fmt.Errorf("pose unit %s does not match arm unit %s", pose.Unit, a.unit)
	}
	if pose.Len() != len(a.ids) {
		return fmt.Errorf("pose has %d joints, arm has %d", pose.Len(), len(a.ids))
	}
	if !a.bus.Writable() {
		return fmt.Errorf("write pose: %w", ErrReadOnlyBus)
	}

	positions := make(map[int]int, len(a.ids))
	for i, id := range a.ids {
		mc := a.calibration[a.names[i]]
		raw, err := mc.PhysicalToRaw(pose.Values[i], a.unit)
		if err != nil {
			return fmt.Errorf("motor %s: %w", a.names[i], err)
		}
		positions[id] = raw
	}
	return a.bus.WritePositions(ctx, positions)
}

// EnableTorque powers the servos, when the bus supports it. Passive buses
// are a no-op.
func (a *Arm) EnableTorque(ctx context.Context) error {
	if tc, ok := a.bus.(TorqueController); ok {
		return tc.EnableTorque(ctx)
	}
	return nil
}

// DisableTorque makes the servos passive, when the bus supports it.
func (a *Arm) DisableTorque(ctx context.Context) error {
	if tc, ok := a.bus.(TorqueController); ok {
		return tc.DisableTorque(ctx)
	}
	return nil
}

// Configure applies follower servo settings when the bus supports them.
func (a *Arm) Configure(ctx context.Context) error {
	type followerConfigurer interface {
		ConfigureFollower(ctx context.Context) error
	}
	if fc, ok := a.bus.(followerConfigurer); ok {
		return fc.ConfigureFollower(ctx)
	}
	return nil
}
