// Package teleop implements the teleoperation engine: pose mapping,
// divergence-based safety gating and the per-tick control loop.
package teleop

import (
	"fmt"
	"time"

	"github.com/gwillem/armctl/pkg/robot"
)

// Input and output event names on the dataflow boundary. Inputs carry
// ordered numeric sequences of length N (plus an optional trailing gripper
// value); outputs use the same convention.
const (
	InputLeaderPose       = "leader_pose"
	InputLeaderPoseManual = "leader_pose_manual"

	OutputFollowerPose    = "follower_pose"
	OutputLeaderTelemetry = "leader_telemetry_pose"
)

// EventKind classifies an input event.
type EventKind int

const (
	// EventTick is the fixed-period telemetry tick.
	EventTick EventKind = iota
	// EventCommand is an ordinary leader pose command.
	EventCommand
	// EventManualCommand is a manual override command. It bypasses the
	// rate limiter and suppresses ordinary commands for a cooldown period.
	EventManualCommand
	// EventStop requests shutdown.
	EventStop
)

// Event is one input delivered by the external event source.
type Event struct {
	Kind EventKind
	Pose robot.Pose // payload for command events
}

// Output is one pose sample published to the external bus.
type Output struct {
	Name string
	Pose robot.Pose
	Time time.Time
}

// PoseEvent builds a command event from the raw numeric sequence of an
// input event. Sequences longer than the joint count keep their leading
// joints (covers the optional trailing gripper value); shorter sequences
// are rejected.
func PoseEvent(kind EventKind, unit robot.Unit, values []float64, joints int) (Event, error) {
	if len(values) < joints {
		return Event{}, fmt.Errorf("input has %d values, need %d", len(values), joints)
	}
	pose := robot.Pose{Unit: unit, Values: append([]float64(nil), values[:joints]...)}
	return Event{Kind: kind, Pose: pose}, nil
}
