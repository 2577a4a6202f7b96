package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"imu-sensorhub/pkg/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// writeConfig stores the defaults plus a calibration file path in a temp
// directory.
func writeConfig(t *testing.T) (cfgPath, calPath string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath = filepath.Join(dir, "sensorhub.yaml")
	calPath = filepath.Join(dir, "cal.yaml")
	opts := config.Default()
	opts.Engine.CalibrationFile = calPath
	opts.Log.Level = "error"
	if err := config.Save(cfgPath, &opts); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return cfgPath, calPath
}

func TestConfigInitPrint(t *testing.T) {
	out, err := execute(t, "config", "init", "--print")
	if err != nil {
		t.Fatalf("config init --print: %v", err)
	}
	for _, want := range []string{"acc_range_g: 8", "listen: :7130", "bus: spi"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "sensorhub.yaml")
	if _, err := execute(t, "config", "init", "-o", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("template not written: %v", err)
	}
	if _, err := execute(t, "config", "init", "-o", path); err == nil {
		t.Error("second init without --yes should fail")
	}
	if _, err := execute(t, "config", "init", "-o", path, "-y"); err != nil {
		t.Errorf("init -y: %v", err)
	}
}

func TestSelfTestSimulated(t *testing.T) {
	cfg, _ := writeConfig(t)
	out, err := execute(t, "selftest", "accel", "--simulate", "--config", cfg)
	if err != nil {
		t.Fatalf("selftest: %v\n%s", err, out)
	}
	if !strings.Contains(out, "accel self-test: success") {
		t.Errorf("output = %q, want success", out)
	}
}

func TestCalibrateSimulatedSaves(t *testing.T) {
	cfg, cal := writeConfig(t)
	out, err := execute(t, "calibrate", "gyro", "--simulate", "--save", "--config", cfg)
	if err != nil {
		t.Fatalf("calibrate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "gyro calibration: success") {
		t.Errorf("output = %q, want success", out)
	}
	stored, err := config.LoadCalibration(cal)
	if err != nil {
		t.Fatalf("LoadCalibration() error = %v", err)
	}
	if stored.Gyro == nil {
		t.Error("gyro offsets not stored")
	}
}

func TestRejectsOtherChannels(t *testing.T) {
	if _, err := execute(t, "calibrate", "mag", "--simulate"); err == nil {
		t.Error("calibrate mag should fail")
	}
}
