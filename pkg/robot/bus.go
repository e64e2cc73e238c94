package robot

import (
	"context"
	"errors"
	"fmt"
)

// Bus errors. Read and write failures are recoverable per exchange; the
// control loop treats missing readings as stale values and failed writes
// as dropped commands. Only the caller decides whether a disconnect is
// fatal (follower) or degrades to telemetry loss (leader).
var (
	ErrNotConnected = errors.New("bus not connected")
	ErrReadOnlyBus  = errors.New("bus is read-only")
)

// BusError wraps a protocol failure with the operation and motor it
// occurred on.
type BusError struct {
	Op      string
	MotorID int
	Err     error
}

func (e *BusError) Error() string {
	if e.MotorID > 0 {
		return fmt.Sprintf("bus %s motor %d: %v", e.Op, e.MotorID, e.Err)
	}
	return fmt.Sprintf("bus %s: %v", e.Op, e.Err)
}

func (e *BusError) Unwrap() error { return e.Err }

// Bus is the capability set shared by the supported servo bus protocols.
// Implementations own the physical connection and their retry behavior.
//
// ReadPositions returns raw positions keyed by servo ID. Motors that did
// not answer within the protocol's retry budget are simply absent from the
// map; an error is returned only for connection-level failures. Callers
// substitute the last known value for absent motors.
//
// Buses backing passive leader hardware are read-only: Writable reports
// false and WritePositions fails with ErrReadOnlyBus.
type Bus interface {
	Connect(ctx context.Context) error
	ReadPositions(ctx context.Context, ids []int) (map[int]int, error)
	WritePositions(ctx context.Context, positions map[int]int) error
	Writable() bool
	Close() error
}

// TorqueController is implemented by buses whose servos can be switched
// between actuated and passive. Leaders are made passive so the operator
// can move them freely; followers are actuated before teleoperation.
type TorqueController interface {
	EnableTorque(ctx context.Context) error
	DisableTorque(ctx context.Context) error
}
