package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Offsets is a stored hardware offset triple in register units.
type Offsets struct {
	X int32 `yaml:"x"`
	Y int32 `yaml:"y"`
	Z int32 `yaml:"z"`
}

// Array returns the offsets in axis order.
func (o Offsets) Array() [3]int32 {
	return [3]int32{o.X, o.Y, o.Z}
}

// OffsetsFrom builds Offsets from an axis-ordered triple.
func OffsetsFrom(v [3]int32) *Offsets {
	return &Offsets{X: v[0], Y: v[1], Z: v[2]}
}

// Calibration is the result store written by the calibrate command and
// pushed to the chip at startup.
type Calibration struct {
	Accel *Offsets `yaml:"accel,omitempty"`
	Gyro  *Offsets `yaml:"gyro,omitempty"`
}

// LoadCalibration reads a calibration store. A missing file is an empty
// store.
func LoadCalibration(path string) (*Calibration, error) {
	c := &Calibration{}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, WrapError("engine", "calibration_file", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, WrapError("engine", "calibration_file", err)
	}
	return c, nil
}

// SaveCalibration writes a calibration store.
func SaveCalibration(path string, c *Calibration) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return WrapError("engine", "calibration_file", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return WrapError("engine", "calibration_file", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return WrapError("engine", "calibration_file", err)
	}
	return nil
}
