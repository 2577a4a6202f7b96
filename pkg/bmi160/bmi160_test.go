package bmi160

import (
	"testing"

	"imu-sensorhub/pkg/sensor"
)

func TestComputeODR(t *testing.T) {
	tests := []struct {
		rate uint32
		want int
	}{
		{sensor.HZ(25.0 / 32.0), 1},
		{sensor.HZ(25.0 / 8.0), 3},
		{sensor.HZ(50), 7},
		{sensor.HZ(100), 8},
		{sensor.HZ(400), 10},
		{sensor.HZ(3200), 13},
		{sensor.HZ(60), 0},
		{sensor.RateOnChange, 0},
	}
	for _, tt := range tests {
		if got := ComputeODR(tt.rate); got != tt.want {
			t.Errorf("ComputeODR(%d) = %d, want %d", tt.rate, got, tt.want)
		}
	}
}

func TestTimeDelta(t *testing.T) {
	if got := TimeDelta(10); got != 64 {
		t.Errorf("TimeDelta(400Hz) = %d, want 64", got)
	}
	if got := TimeDelta(7); got != 512 {
		t.Errorf("TimeDelta(50Hz) = %d, want 512", got)
	}
}

func TestOversample(t *testing.T) {
	tests := []struct {
		odr    int
		gyro   bool
		hw, ds int
		mode   int
	}{
		{3, false, 5, 2, 2},   // 3.125 Hz accel downsampled from 12.5
		{7, false, 7, 0, 2},   // 50 Hz
		{9, false, 12, 3, 0},  // 200 Hz, OSR4
		{10, false, 12, 2, 1}, // 400 Hz, OSR2
		{5, true, 6, 1, 2},    // 12.5 Hz gyro from 25
		{9, true, 13, 4, 0},
		{10, true, 13, 3, 1},
	}
	for _, tt := range tests {
		hw, ds, mode := Oversample(tt.odr, tt.gyro)
		if hw != tt.hw || ds != tt.ds || mode != tt.mode {
			t.Errorf("Oversample(%d, %v) = %d, %d, %d, want %d, %d, %d",
				tt.odr, tt.gyro, hw, ds, mode, tt.hw, tt.ds, tt.mode)
		}
	}
}

func TestMotionThreshold(t *testing.T) {
	if got := MotionThreshold(MotionODR, 8); got != 5 {
		t.Errorf("MotionThreshold(7, 8g) = %d, want 5", got)
	}
	if got := MotionThreshold(12, 16); got != 1 {
		t.Errorf("MotionThreshold(12, 16g) = %d, want 1", got)
	}
	if got := MotionThreshold(20, 8); got != 2 {
		t.Errorf("MotionThreshold clamps high ODR: got %d, want 2", got)
	}
}

func TestAccOffsetRoundTrip(t *testing.T) {
	for v := int32(AccOffsetMin); v <= AccOffsetMax; v++ {
		if got := DecodeAccOffset(EncodeAccOffset(v)); got != v {
			t.Fatalf("acc round trip %d -> %d", v, got)
		}
	}
}

func TestGyrOffsetRoundTrip(t *testing.T) {
	for v := int32(GyrOffsetMin); v <= GyrOffsetMax; v++ {
		gyr := [3]int32{v, -v - 1, v / 2}
		var lo [3]byte
		for i, g := range gyr {
			lo[i], _ = EncodeGyrOffset(g)
		}
		off6 := Offset6(true, false, gyr)
		if off6&Offset6GyrEn == 0 || off6&Offset6AccEn != 0 {
			t.Fatalf("Offset6 enable bits = %#x", off6)
		}
		if got := DecodeGyrOffsets(lo, off6); got != gyr {
			t.Fatalf("gyro round trip %v -> %v", gyr, got)
		}
	}
}

func TestDecodeGyrOffsetsSignExtension(t *testing.T) {
	// x = 0x3ff (-1), y = 0x200 (-512), z = 0x1ff (511)
	lo := [3]byte{0xff, 0x00, 0xff}
	off6 := byte(0x3 | 0x2<<2 | 0x1<<4)
	want := [3]int32{-1, -512, 511}
	if got := DecodeGyrOffsets(lo, off6); got != want {
		t.Errorf("DecodeGyrOffsets = %v, want %v", got, want)
	}
}

func TestDecodeTemperature(t *testing.T) {
	if _, ok := DecodeTemperature(0x00, 0x80); ok {
		t.Error("0x8000 should be invalid")
	}
	c, ok := DecodeTemperature(0x00, 0x02)
	if !ok || c != 24 {
		t.Errorf("DecodeTemperature(0x0200) = %v, %v, want 24, true", c, ok)
	}
	c, _ = DecodeTemperature(0x00, 0xfe)
	if c != 22 {
		t.Errorf("DecodeTemperature(0xfe00) = %v, want 22", c)
	}
}

func TestDecodeSensorTime(t *testing.T) {
	if got := DecodeSensorTime([]byte{0x00, 0x10, 0x00}); got != 0x001000 {
		t.Errorf("DecodeSensorTime = %#x, want 0x1000", got)
	}
}
