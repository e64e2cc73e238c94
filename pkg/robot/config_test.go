package robot

import (
	"path/filepath"
	"testing"
)

func TestTeleopConfig_ApplyDefaults(t *testing.T) {
	var cfg TeleopConfig
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatal(err)
	}
	if cfg.Strategy != StrategyDirect {
		t.Errorf("default strategy = %s, want direct", cfg.Strategy)
	}
	if cfg.WarningMillideg != DefaultDirectWarningMillideg {
		t.Errorf("warning = %d, want %d", cfg.WarningMillideg, DefaultDirectWarningMillideg)
	}
	if cfg.EmergencyMillideg != DefaultDirectEmergencyMillideg {
		t.Errorf("emergency = %d, want %d", cfg.EmergencyMillideg, DefaultDirectEmergencyMillideg)
	}
	if cfg.MinIntervalMs != DefaultMinIntervalMs {
		t.Errorf("interval = %d, want %d", cfg.MinIntervalMs, DefaultMinIntervalMs)
	}
	if cfg.Hz != 30 {
		t.Errorf("hz = %d, want 30", cfg.Hz)
	}

	baseline := TeleopConfig{Strategy: StrategyBaseline}
	if err := baseline.ApplyDefaults(); err != nil {
		t.Fatal(err)
	}
	if baseline.WarningMillideg != DefaultBaselineWarningMillideg {
		t.Errorf("baseline warning = %d, want %d", baseline.WarningMillideg, DefaultBaselineWarningMillideg)
	}
	if baseline.EmergencyMillideg != DefaultBaselineEmergencyMillideg {
		t.Errorf("baseline emergency = %d, want %d", baseline.EmergencyMillideg, DefaultBaselineEmergencyMillideg)
	}
}

func TestTeleopConfig_ApplyDefaults_PreservesOverrides(t *testing.T) {
	cfg := TeleopConfig{WarningMillideg: 10000, EmergencyMillideg: 20000, Hz: 50}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatal(err)
	}
	if cfg.WarningMillideg != 10000 || cfg.EmergencyMillideg != 20000 || cfg.Hz != 50 {
		t.Errorf("overrides were replaced: %+v", cfg)
	}
}

func TestTeleopConfig_ApplyDefaults_Invalid(t *testing.T) {
	unknown := TeleopConfig{Strategy: "mirror"}
	if err := unknown.ApplyDefaults(); err == nil {
		t.Error("unknown strategy should fail")
	}

	inverted := TeleopConfig{WarningMillideg: 90000, EmergencyMillideg: 80000}
	if err := inverted.ApplyDefaults(); err == nil {
		t.Error("warning above emergency should fail")
	}
}

func TestArmConfig_LoadCalibration(t *testing.T) {
	inline := ArmConfig{
		Port: "/dev/ttyUSB0",
		Calibration: Calibration{
			ShoulderPan: {ID: 1, RangeMin: 500, RangeMax: 2500},
		},
	}
	cal, err := inline.LoadCalibration()
	if err != nil {
		t.Fatal(err)
	}
	if cal[ShoulderPan].ID != 1 {
		t.Errorf("inline calibration not returned: %+v", cal)
	}

	none := ArmConfig{Port: "/dev/ttyUSB0"}
	if _, err := none.LoadCalibration(); err == nil {
		t.Error("missing calibration should fail")
	}
	if none.IsCalibrated() {
		t.Error("IsCalibrated should be false without calibration")
	}
}

func TestArmConfig_NewBus(t *testing.T) {
	cal := Calibration{ShoulderPan: {ID: 1, RangeMin: 0, RangeMax: 1}}

	feetechCfg := ArmConfig{Port: "/dev/ttyUSB0"}
	bus, err := feetechCfg.NewBus(cal)
	if err != nil {
		t.Fatal(err)
	}
	if !bus.Writable() {
		t.Error("feetech bus should be writable")
	}

	zhonglinCfg := ArmConfig{Port: "/dev/ttyUSB1", Protocol: ProtocolZhonglin}
	bus, err = zhonglinCfg.NewBus(cal)
	if err != nil {
		t.Fatal(err)
	}
	if bus.Writable() {
		t.Error("zhonglin bus should be read-only")
	}

	bad := ArmConfig{Port: "/dev/ttyUSB2", Protocol: "canbus"}
	if _, err := bad.NewBus(cal); err == nil {
		t.Error("unknown protocol should fail")
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "armctl.json")

	cfg := Config{
		Leader: ArmConfig{
			Port:     "/dev/ttyUSB0",
			Protocol: ProtocolZhonglin,
			Calibration: Calibration{
				ShoulderPan: {ID: 1, HomingOffset: 5, RangeMin: 500, RangeMax: 2500},
			},
		},
		Follower: ArmConfig{
			Port:            "/dev/ttyUSB1",
			CalibrationFile: "calibration/follower.json",
		},
		Teleop: TeleopConfig{Strategy: StrategyBaseline, Hz: 25},
	}

	if err := cfg.SaveTo(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Leader.Protocol != ProtocolZhonglin {
		t.Errorf("leader protocol = %s", loaded.Leader.Protocol)
	}
	if loaded.Leader.Calibration[ShoulderPan].HomingOffset != 5 {
		t.Errorf("leader calibration lost: %+v", loaded.Leader.Calibration)
	}
	if loaded.Follower.CalibrationFile != "calibration/follower.json" {
		t.Errorf("follower calibration file = %s", loaded.Follower.CalibrationFile)
	}
	if loaded.Teleop.Strategy != StrategyBaseline || loaded.Teleop.Hz != 25 {
		t.Errorf("teleop options lost: %+v", loaded.Teleop)
	}
}
