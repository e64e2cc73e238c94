package teleop

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gwillem/armctl/pkg/robot"
)

// ErrEmergencyLatched is the verdict for every command after the monitor
// has tripped. The latch is one-way; only a process restart clears it.
var ErrEmergencyLatched = errors.New("emergency stop latched")

// warnInterval rate-limits warning emission so a sustained divergence does
// not flood the logs.
const warnInterval = 500 * time.Millisecond

// Action is the monitor's verdict on one command.
type Action int

const (
	// ActionExecute forwards the command to the motor bus.
	ActionExecute Action = iota
	// ActionDrop discards this command; newer commands are still welcome.
	ActionDrop
	// ActionReject discards the command under the emergency latch.
	ActionReject
)

// Divergence describes how far a target strays from the current pose.
type Divergence struct {
	Joint    int
	Max      float64
	PerJoint []float64
}

// Decision is the outcome of gating one command.
type Decision struct {
	Action Action
	Reason string
	// Tripped is true on the command that set the latch.
	Tripped bool
	// Divergence is set when the warning threshold was crossed (command
	// still executes) or when the latch tripped.
	Divergence *Divergence
}

// Monitor gates commands before they reach the motor bus. It enforces the
// minimum inter-command interval, classifies the divergence between the
// follower's current pose and the proposed target, and latches an
// emergency stop that rejects everything afterwards.
//
// The monitor is a synchronous gate. The only state it keeps is the latch,
// the last forwarded command time, and the last warning time.
type Monitor struct {
	warnThreshold  float64 // pose units
	emergThreshold float64 // pose units
	minInterval    time.Duration

	latched     bool
	lastCommand time.Time
	lastWarn    time.Time
}

// NewMonitor builds a monitor from the configured millidegree thresholds,
// converted into the follower's pose unit.
func NewMonitor(cfg robot.TeleopConfig, unit robot.Unit) *Monitor {
	return &Monitor{
		warnThreshold:  unit.FromMillidegrees(float64(cfg.WarningMillideg)),
		emergThreshold: unit.FromMillidegrees(float64(cfg.EmergencyMillideg)),
		minInterval:    time.Duration(cfg.MinIntervalMs) * time.Millisecond,
	}
}

// Latched reports whether the emergency stop has tripped.
func (m *Monitor) Latched() bool { return m.latched }

// RateOpen reports whether enough time has passed since the last forwarded
// command. It does not mutate the monitor, so callers may consult it
// before doing bus I/O for a command that would be dropped anyway.
func (m *Monitor) RateOpen(now time.Time) bool {
	return now.Sub(m.lastCommand) >= m.minInterval
}

// Check gates an ordinary command.
func (m *Monitor) Check(current, target robot.Pose, now time.Time) Decision {
	return m.check(current, target, now, false)
}

// CheckManual gates a manual override command. Manual commands bypass the
// rate limiter but stay subject to the latch and divergence thresholds.
func (m *Monitor) CheckManual(current, target robot.Pose, now time.Time) Decision {
	return m.check(current, target, now, true)
}

func (m *Monitor) check(current, target robot.Pose, now time.Time, manual bool) Decision {
	if m.latched {
		return Decision{Action: ActionReject, Reason: ErrEmergencyLatched.Error()}
	}
	if !manual && !m.RateOpen(now) {
		return Decision{Action: ActionDrop, Reason: "rate limited"}
	}

	maxDiff, joint, err := current.MaxDiff(target)
	if err != nil {
		return Decision{Action: ActionDrop, Reason: err.Error()}
	}

	if maxDiff > m.emergThreshold {
		m.latched = true
		return Decision{
			Action:     ActionReject,
			Reason:     ErrEmergencyLatched.Error(),
			Tripped:    true,
			Divergence: &Divergence{Joint: joint, Max: maxDiff, PerJoint: current.Diffs(target)},
		}
	}

	d := Decision{Action: ActionExecute}
	if maxDiff > m.warnThreshold && now.Sub(m.lastWarn) >= warnInterval {
		m.lastWarn = now
		d.Divergence = &Divergence{Joint: joint, Max: maxDiff, PerJoint: current.Diffs(target)}
	}
	m.lastCommand = now
	return d
}

// EmergencyReport renders the operator-facing diagnostic block emitted
// when the latch trips. It is deliberately loud: an emergency stop must
// never pass unnoticed.
func EmergencyReport(div Divergence, current, target robot.Pose) string {
	border := strings.Repeat("=", 70)
	var sb strings.Builder
	fmt.Fprintln(&sb, border)
	fmt.Fprintln(&sb, "EMERGENCY STOP: position divergence too large")
	fmt.Fprintln(&sb, border)
	fmt.Fprintf(&sb, "joint %d diverges by %.1f %s\n", div.Joint+1, div.Max, current.Unit)
	fmt.Fprintf(&sb, "current pose:  %s\n", formatValues(current.Values))
	fmt.Fprintf(&sb, "target pose:   %s\n", formatValues(target.Values))
	fmt.Fprintf(&sb, "divergence:    %s\n", formatValues(div.PerJoint))
	fmt.Fprintln(&sb)
	fmt.Fprintln(&sb, "Check that:")
	fmt.Fprintln(&sb, "  1. the leader arm is not moving too fast")
	fmt.Fprintln(&sb, "  2. leader and follower are aligned")
	fmt.Fprintln(&sb, "  3. the follower is not blocked by an obstacle")
	fmt.Fprintln(&sb)
	fmt.Fprintln(&sb, "All commands are rejected until the process is restarted.")
	fmt.Fprint(&sb, border)
	return sb.String()
}

func formatValues(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%.1f", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
