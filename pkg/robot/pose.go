package robot

import (
	"fmt"
	"math"
)

// Pose is an ordered vector of physical joint positions tagged with the
// unit they are expressed in. The order matches the arm's motor order
// (ascending servo ID). Comparing poses with different units or lengths is
// invalid; MaxDiff reports it as an error rather than guessing.
type Pose struct {
	Unit   Unit
	Values []float64
}

// NewPose returns a zero pose of n joints in the given unit.
func NewPose(unit Unit, n int) Pose {
	return Pose{Unit: unit, Values: make([]float64, n)}
}

// Clone returns a deep copy of the pose.
func (p Pose) Clone() Pose {
	values := make([]float64, len(p.Values))
	copy(values, p.Values)
	return Pose{Unit: p.Unit, Values: values}
}

// Len returns the joint count.
func (p Pose) Len() int { return len(p.Values) }

// MaxDiff returns the largest per-joint absolute difference between two
// poses and the index of the joint it occurs at.
func (p Pose) MaxDiff(other Pose) (float64, int, error) {
	if p.Unit != other.Unit {
		return 0, 0, fmt.Errorf("pose unit mismatch: %s vs %s", p.Unit, other.Unit)
	}
	if len(p.Values) != len(other.Values) {
		return 0, 0, fmt.Errorf("pose length mismatch: %d vs %d", len(p.Values), len(other.Values))
	}
	var maxDiff float64
	joint := 0
	for i := range p.Values {
		d := math.Abs(p.Values[i] - other.Values[i])
		if d > maxDiff {
			maxDiff = d
			joint = i
		}
	}
	return maxDiff, joint, nil
}

// Diffs returns the per-joint absolute differences between two poses.
// Both poses must have the same unit and length.
func (p Pose) Diffs(other Pose) []float64 {
	n := min(len(p.Values), len(other.Values))
	diffs := make([]float64, n)
	for i := 0; i < n; i++ {
		diffs[i] = math.Abs(p.Values[i] - other.Values[i])
	}
	return diffs
}
