package robot

import (
	"math"
	"testing"
)

func TestPose_MaxDiff(t *testing.T) {
	a := Pose{Unit: Degrees, Values: []float64{0, 10, 20, 30}}
	b := Pose{Unit: Degrees, Values: []float64{1, 10, 65, 28}}

	diff, joint, err := a.MaxDiff(b)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(diff-45) > 0.001 {
		t.Errorf("MaxDiff = %f, want 45", diff)
	}
	if joint != 2 {
		t.Errorf("MaxDiff joint = %d, want 2", joint)
	}
}

func TestPose_MaxDiff_Identical(t *testing.T) {
	a := Pose{Unit: Degrees, Values: []float64{1, 2, 3}}

	diff, _, err := a.MaxDiff(a.Clone())
	if err != nil {
		t.Fatal(err)
	}
	if diff != 0 {
		t.Errorf("MaxDiff of identical poses = %f, want 0", diff)
	}
}

func TestPose_MaxDiff_Mismatch(t *testing.T) {
	deg := Pose{Unit: Degrees, Values: []float64{0, 0}}
	rad := Pose{Unit: Radians, Values: []float64{0, 0}}
	short := Pose{Unit: Degrees, Values: []float64{0}}

	if _, _, err := deg.MaxDiff(rad); err == nil {
		t.Error("MaxDiff across units should fail")
	}
	if _, _, err := deg.MaxDiff(short); err == nil {
		t.Error("MaxDiff across lengths should fail")
	}
}

func TestPose_Clone(t *testing.T) {
	a := Pose{Unit: Percent, Values: []float64{10, 20}}
	b := a.Clone()
	b.Values[0] = 99

	if a.Values[0] != 10 {
		t.Error("Clone shares backing storage with the original")
	}
}

func TestUnit_FullScale(t *testing.T) {
	if Degrees.FullScale() != 270 {
		t.Errorf("Degrees.FullScale() = %f", Degrees.FullScale())
	}
	if math.Abs(Radians.FullScale()-270*math.Pi/180) > 1e-9 {
		t.Errorf("Radians.FullScale() = %f", Radians.FullScale())
	}
	if Percent.FullScale() != 100 {
		t.Errorf("Percent.FullScale() = %f", Percent.FullScale())
	}
}

func TestUnit_FromMillidegrees(t *testing.T) {
	// 60000 millideg = 60 degrees.
	if got := Degrees.FromMillidegrees(60000); math.Abs(got-60) > 1e-9 {
		t.Errorf("Degrees.FromMillidegrees(60000) = %f, want 60", got)
	}
	if got := Radians.FromMillidegrees(60000); math.Abs(got-60*math.Pi/180) > 1e-9 {
		t.Errorf("Radians.FromMillidegrees(60000) = %f", got)
	}
	// 270 degrees is full scale, so 100 percent.
	if got := Percent.FromMillidegrees(270000); math.Abs(got-100) > 1e-9 {
		t.Errorf("Percent.FromMillidegrees(270000) = %f, want 100", got)
	}
}

func TestParseUnit(t *testing.T) {
	tests := []struct {
		in   string
		want Unit
	}{
		{"degrees", Degrees},
		{"", Degrees},
		{"radians", Radians},
		{"percent", Percent},
	}
	for _, tt := range tests {
		got, err := ParseUnit(tt.in)
		if err != nil {
			t.Errorf("ParseUnit(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseUnit(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if _, err := ParseUnit("furlongs"); err == nil {
		t.Error("ParseUnit should reject unknown units")
	}
}
