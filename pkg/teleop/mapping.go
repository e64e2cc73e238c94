package teleop

import (
	"errors"
	"fmt"

	"github.com/gwillem/armctl/pkg/robot"
)

// Session holds the per-run state owned by the control loop: the baselines
// captured on the first valid command and the first-command flag. It is
// created empty at session start and discarded at session end; baselines
// are set exactly once.
type Session struct {
	LeaderBaseline   *robot.Pose
	FollowerBaseline *robot.Pose
	FirstCommandSeen bool
}

// AlignmentError reports that the very first command diverged too far from
// the follower's current pose and was dropped instead of executed.
type AlignmentError struct {
	Joint     int
	Diff      float64
	Threshold float64
	Current   robot.Pose
	Target    robot.Pose
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("first command misaligned: joint %d differs by %.1f (threshold %.1f); move the leader close to the follower pose before starting",
		e.Joint+1, e.Diff, e.Threshold)
}

// Strategy maps a leader pose onto a follower target pose.
//
// Begin is called once, on the first valid leader command, before the
// first Target call. Direct mapping runs its initial alignment check
// there; baseline-relative mapping records its baselines.
type Strategy interface {
	Name() string
	Begin(s *Session, leader, current robot.Pose) error
	Target(s *Session, leader, current robot.Pose) (robot.Pose, error)
}

// NewStrategy builds the configured mapping strategy. The direct
// strategy's alignment threshold reuses the warning threshold, converted
// into the follower's pose unit.
func NewStrategy(cfg robot.TeleopConfig, unit robot.Unit) (Strategy, error) {
	switch cfg.Strategy {
	case robot.StrategyBaseline:
		return &BaselineRelative{}, nil
	case robot.StrategyDirect, "":
		return &DirectMapping{
			Signs:              cfg.SignInversion,
			AlignmentThreshold: unit.FromMillidegrees(float64(cfg.WarningMillideg)),
		}, nil
	default:
		return nil, fmt.Errorf("unknown mapping strategy %q", cfg.Strategy)
	}
}

// DirectMapping sends the leader's calibrated position to the follower
// unchanged, optionally sign-inverted per joint. It assumes leader and
// follower share a zero reference, so the first command is dropped when
// the two arms start too far apart; after that only the safety monitor's
// continuous divergence check applies.
type DirectMapping struct {
	// Signs inverts individual joints to compensate mechanically mirrored
	// hardware. A nil slice means no inversion.
	Signs []bool
	// AlignmentThreshold is the maximum divergence allowed on the first
	// command, in the pose unit.
	AlignmentThreshold float64
}

func (m *DirectMapping) Name() string { return robot.StrategyDirect }

// Begin checks first-command alignment and drops the command with an
// AlignmentError when leader and follower start in different poses.
func (m *DirectMapping) Begin(s *Session, leader, current robot.Pose) error {
	target, err := m.Target(s, leader, current)
	if err != nil {
		return err
	}
	diff, joint, err := target.MaxDiff(current)
	if err != nil {
		return err
	}
	if diff > m.AlignmentThreshold {
		return &AlignmentError{
			Joint:     joint,
			Diff:      diff,
			Threshold: m.AlignmentThreshold,
			Current:   current,
			Target:    target,
		}
	}
	return nil
}

func (m *DirectMapping) Target(s *Session, leader, current robot.Pose) (robot.Pose, error) {
	if m.Signs != nil && len(m.Signs) != leader.Len() {
		return robot.Pose{}, fmt.Errorf("sign inversion has %d entries, pose has %d joints", len(m.Signs), leader.Len())
	}
	target := leader.Clone()
	for i := range target.Values {
		if m.Signs != nil && m.Signs[i] {
			target.Values[i] = -target.Values[i]
		}
	}
	return target, nil
}

// BaselineRelative tracks relative leader motion from first contact:
// target = follower baseline + (leader - leader baseline). It tolerates
// calibration mismatches between the two arms because only deltas cross
// over, and needs no alignment check since the follower holds still until
// the leader actually moves.
type BaselineRelative struct{}

func (m *BaselineRelative) Name() string { return robot.StrategyBaseline }

// Begin records both baselines at the instant of the first valid command.
func (m *BaselineRelative) Begin(s *Session, leader, current robot.Pose) error {
	lb := leader.Clone()
	fb := current.Clone()
	s.LeaderBaseline = &lb
	s.FollowerBaseline = &fb
	return nil
}

func (m *BaselineRelative) Target(s *Session, leader, current robot.Pose) (robot.Pose, error) {
	if s.LeaderBaseline == nil || s.FollowerBaseline == nil {
		return robot.Pose{}, errors.New("baselines not recorded")
	}
	if leader.Len() != s.LeaderBaseline.Len() {
		return robot.Pose{}, fmt.Errorf("leader pose has %d joints, baseline has %d", leader.Len(), s.LeaderBaseline.Len())
	}
	target := s.FollowerBaseline.Clone()
	for i := range target.Values {
		target.Values[i] += leader.Values[i] - s.LeaderBaseline.Values[i]
	}
	return target, nil
}
