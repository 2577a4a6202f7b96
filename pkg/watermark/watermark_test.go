package watermark

import (
	"testing"

	"imu-sensorhub/pkg/sensor"
)

func TestFifoSizeTwoChannels(t *testing.T) {
	// min latency 16: 4 samples of the first, 2 of the second, head 4
	size, ok := FifoSize([]int{4, 8, -1}, []int{16, 32, -1}, Factors[:])
	if !ok {
		t.Fatal("FifoSize reported no active channel")
	}
	if want := 4 + 4*6 + 2*6; size != want {
		t.Errorf("FifoSize = %d, want %d", size, want)
	}
}

func TestFifoSizeNoneActive(t *testing.T) {
	if _, ok := FifoSize([]int{-1, -1, -1}, []int{-1, -1, -1}, Factors[:]); ok {
		t.Error("FifoSize with no active channel reported ok")
	}
}

func TestPlan(t *testing.T) {
	ms := uint64(1_000_000)
	tests := []struct {
		name string
		in   [sensor.NumContinuous]Input
		want uint8
		ok   bool
	}{
		{
			name: "none active",
			ok:   false,
		},
		{
			name: "accel 100Hz gyro 50Hz",
			in: [sensor.NumContinuous]Input{
				{Active: true, Rate: sensor.HZ(100), LatencyNs: 40 * ms},
				{Active: true, Rate: sensor.HZ(50), LatencyNs: 80 * ms},
			},
			// periods 4 and 8, latencies 16 and 32 units
			want: 10,
			ok:   true,
		},
		{
			name: "long latency clamps to max",
			in: [sensor.NumContinuous]Input{
				{Active: true, Rate: sensor.HZ(400), LatencyNs: 10_000 * ms},
			},
			want: Max,
			ok:   true,
		},
		{
			name: "zero latency uses one period",
			in: [sensor.NumContinuous]Input{
				{Active: true, Rate: sensor.HZ(400), LatencyNs: 0},
			},
			want: Min,
			ok:   true,
		},
		{
			name: "no-data subscription ignored",
			in: [sensor.NumContinuous]Input{
				{Active: true, Rate: sensor.HZ(50), LatencyNs: sensor.LatencyNoData},
			},
			ok: false,
		},
		{
			name: "mag weighs eight bytes",
			in: [sensor.NumContinuous]Input{
				{}, {},
				{Active: true, Rate: sensor.HZ(25), LatencyNs: 160 * ms},
			},
			// period 16, latency 64: 4 samples, 4 + 32 = 36 bytes
			want: 9,
			ok:   true,
		},
	}
	for _, tt := range tests {
		got, ok := Plan(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("%s: Plan() = %d, %v, want %d, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}
