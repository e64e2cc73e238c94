package teleop

import "github.com/gwillem/armctl/pkg/robot"

// DefaultFilterAlpha smooths leader sensor noise without adding noticeable
// lag at 30 Hz.
const DefaultFilterAlpha = 0.2

// LowPass is an exponential moving average over leader pose samples.
type LowPass struct {
	alpha float64
	state []float64
}

// NewLowPass creates a filter with the given smoothing factor in (0, 1].
// Higher alpha follows the input faster.
func NewLowPass(alpha float64) *LowPass {
	return &LowPass{alpha: alpha}
}

// Apply folds a sample into the filter and returns the smoothed pose. The
// first sample initializes the filter state and passes through unchanged.
func (f *LowPass) Apply(p robot.Pose) robot.Pose {
	if len(f.state) != p.Len() {
		f.state = append([]float64(nil), p.Values...)
	} else {
		for i, v := range p.Values {
			f.state[i] = f.alpha*v + (1-f.alpha)*f.state[i]
		}
	}
	out := p.Clone()
	copy(out.Values, f.state)
	return out
}
