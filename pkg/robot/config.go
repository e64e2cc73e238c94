package robot

import (
	"encoding/json"
	"fmt"
	"os"
)

const DefaultConfigFile = "armctl.json"

// Bus protocol names recognized in configuration.
const (
	ProtocolFeetech  = "feetech"
	ProtocolZhonglin = "zhonglin"
)

// Mapping strategy names recognized in configuration.
const (
	StrategyDirect   = "direct"
	StrategyBaseline = "baseline"
)

// Default safety limits, in millidegrees. Direct mapping tracks absolute
// calibrated positions and tolerates wider divergence; baseline-relative
// mapping runs at higher speed and uses the tighter bounds.
const (
	DefaultDirectWarningMillideg     = 60000
	DefaultDirectEmergencyMillideg   = 80000
	DefaultBaselineWarningMillideg   = 30000
	DefaultBaselineEmergencyMillideg = 60000
	DefaultMinIntervalMs             = 33
)

// Config holds the robot configuration.
type Config struct {
	Leader   ArmConfig    `json:"leader"`
	Follower ArmConfig    `json:"follower"`
	Teleop   TeleopConfig `json:"teleop"`
}

// ArmConfig holds configuration for a single arm. Calibration may be
// embedded in the config or referenced as a separate file.
type ArmConfig struct {
	Port            string      `json:"port"`
	Protocol        string      `json:"protocol,omitempty"` // feetech (default) or zhonglin
	Unit            string      `json:"unit,omitempty"`     // degrees (default), radians or percent
	Calibration     Calibration `json:"calibration,omitempty"`
	CalibrationFile string      `json:"calibration_file,omitempty"`
}

// TeleopConfig holds the recognized teleoperation options. Zero values are
// replaced by per-strategy defaults in ApplyDefaults.
type TeleopConfig struct {
	Strategy          string `json:"strategy,omitempty"` // direct (default) or baseline
	WarningMillideg   int    `json:"warning_threshold_millideg,omitempty"`
	EmergencyMillideg int    `json:"emergency_threshold_millideg,omitempty"`
	MinIntervalMs     int    `json:"min_command_interval_ms,omitempty"`
	SignInversion     []bool `json:"per_joint_sign_inversion,omitempty"`
	Hz                int    `json:"hz,omitempty"`

	// SafeHome, when set, is a pose in the follower's unit the arm moves
	// to before teleoperation starts.
	SafeHome []float64 `json:"safe_home,omitempty"`
}

// IsCalibrated returns true if the arm has calibration data.
func (a *ArmConfig) IsCalibrated() bool {
	return len(a.Calibration) > 0 || a.CalibrationFile != ""
}

// LoadCalibration returns the arm's calibration set, preferring inline
// data over the referenced file. Missing or invalid calibration is fatal
// at startup.
func (a *ArmConfig) LoadCalibration() (Calibration, error) {
	if len(a.Calibration) > 0 {
		if err := a.Calibration.Validate(); err != nil {
			return nil, err
		}
		return a.Calibration, nil
	}
	if a.CalibrationFile != "" {
		return LoadCalibration(a.CalibrationFile)
	}
	return nil, fmt.Errorf("arm on %s has no calibration", a.Port)
}

// NewBus constructs the configured bus type for this arm, serving the
// motors in the loaded calibration set.
func (a *ArmConfig) NewBus(cal Calibration) (Bus, error) {
	ids := cal.MotorIDs()
	switch a.Protocol {
	case ProtocolZhonglin:
		return NewZhonglinBus(a.Port, ids), nil
	case ProtocolFeetech, "":
		return NewFeetechBus(a.Port, ids), nil
	default:
		return nil, fmt.Errorf("unknown bus protocol %q", a.Protocol)
	}
}

// ApplyDefaults fills in the per-strategy safety defaults for unset
// options. The two strategies ship different factory thresholds; neither
// is "the" correct value, so both are preserved as defaults.
func (t *TeleopConfig) ApplyDefaults() error {
	switch t.Strategy {
	case StrategyDirect, "":
		t.Strategy = StrategyDirect
		if t.WarningMillideg == 0 {
			t.WarningMillideg = DefaultDirectWarningMillideg
		}
		if t.EmergencyMillideg == 0 {
			t.EmergencyMillideg = DefaultDirectEmergencyMillideg
		}
	case StrategyBaseline:
		if t.WarningMillideg == 0 {
			t.WarningMillideg = DefaultBaselineWarningMillideg
		}
		if t.EmergencyMillideg == 0 {
			t.EmergencyMillideg = DefaultBaselineEmergencyMillideg
		}
	default:
		return fmt.Errorf("unknown mapping strategy %q", t.Strategy)
	}
	if t.MinIntervalMs == 0 {
		t.MinIntervalMs = DefaultMinIntervalMs
	}
	if t.Hz == 0 {
		t.Hz = 30
	}
	if t.WarningMillideg >= t.EmergencyMillideg {
		return fmt.Errorf("warning threshold %d must be below emergency threshold %d",
			t.WarningMillideg, t.EmergencyMillideg)
	}
	return nil
}

// LoadConfig loads configuration from the default config file.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists.
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}
