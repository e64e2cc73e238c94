package robot

import (
	"context"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

const (
	feetechBaudRate = 1_000_000
	feetechTimeout  = 100 * time.Millisecond
)

// followerRegisters is the servo setup applied to follower arms: position
// control mode with the PID and dead zone values the arm ships with.
var followerRegisters = []struct {
	name  string
	value byte
}{
	{"operating_mode", 0}, // position control
	{"p_coefficient", 16},
	{"i_coefficient", 0},
	{"d_coefficient", 32},
	{"cw_dead_zone", 4},
	{"ccw_dead_zone", 4},
}

// FeetechBus drives Feetech STS register protocol servos. Reads and writes
// are batched sync exchanges across the whole servo group, one bus
// transaction per direction per tick.
type FeetechBus struct {
	port string
	ids  []int

	bus   *feetech.Bus
	group *feetech.ServoGroup
}

// NewFeetechBus creates a bus for the motors with the given servo IDs.
// The connection is not opened until Connect.
func NewFeetechBus(port string, ids []int) *FeetechBus {
	return &FeetechBus{port: port, ids: ids}
}

// Connect opens the serial bus and builds the servo group.
func (b *FeetechBus) Connect(ctx context.Context) error {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     b.port,
		BaudRate: feetechBaudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  feetechTimeout,
	})
	if err != nil {
		return &BusError{Op: "connect", Err: err}
	}
	b.bus = bus
	b.group = feetech.NewServoGroupByIDs(bus, b.ids...)
	return nil
}

// Close releases the serial bus. Safe to call more than once.
func (b *FeetechBus) Close() error {
	if b.bus == nil {
		return nil
	}
	err := b.bus.Close()
	b.bus = nil
	b.group = nil
	return err
}

// Writable reports true: Feetech servos accept goal positions.
func (b *FeetechBus) Writable() bool { return true }

// ReadPositions reads raw positions for the requested motors using one
// sync read across the group.
func (b *FeetechBus) ReadPositions(ctx context.Context, ids []int) (map[int]int, error) {
	if b.group == nil {
		return nil, &BusError{Op: "read", Err: ErrNotConnected}
	}
	raw, err := b.group.Positions(ctx)
	if err != nil {
		return nil, &BusError{Op: "read", Err: err}
	}
	positions := make(map[int]int, len(ids))
	for _, id := range ids {
		if v, ok := raw[id]; ok {
			positions[id] = v
		}
	}
	return positions, nil
}

// WritePositions writes raw goal positions using one sync write.
func (b *FeetechBus) WritePositions(ctx context.Context, positions map[int]int) error {
	if b.group == nil {
		return &BusError{Op: "write", Err: ErrNotConnected}
	}
	if err := b.group.SetPositions(ctx, feetech.PositionMap(positions)); err != nil {
		return &BusError{Op: "write", Err: err}
	}
	return nil
}

// EnableTorque powers the servos so they hold and track goal positions.
func (b *FeetechBus) EnableTorque(ctx context.Context) error {
	if b.group == nil {
		return &BusError{Op: "enable", Err: ErrNotConnected}
	}
	return b.group.EnableAll(ctx)
}

// DisableTorque makes the servos passive so the arm can be moved by hand.
func (b *FeetechBus) DisableTorque(ctx context.Context) error {
	if b.group == nil {
		return &BusError{Op: "disable", Err: ErrNotConnected}
	}
	return b.group.DisableAll(ctx)
}

// ConfigureFollower puts every servo into position mode and applies the
// PID and dead zone settings used for follower arms. Torque is dropped
// while the registers are written; callers re-enable it afterwards.
func (b *FeetechBus) ConfigureFollower(ctx context.Context) error {
	if b.bus == nil {
		return &BusError{Op: "configure", Err: ErrNotConnected}
	}
	if err := b.group.DisableAll(ctx); err != nil {
		return &BusError{Op: "configure", Err: err}
	}
	for _, id := range b.ids {
		servo := feetech.NewServo(b.bus, id, &feetech.ModelSTS3215)
		for _, s := range followerRegisters {
			if err := servo.WriteRegister(ctx, s.name, []byte{s.value}); err != nil {
				return &BusError{Op: "configure", MotorID: id, Err: err}
			}
		}
	}
	return nil
}
