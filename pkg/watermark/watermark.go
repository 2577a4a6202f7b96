// Package watermark computes the FIFO watermark that keeps every active
// continuous channel within its requested delivery latency.
package watermark

import (
	"math"

	"imu-sensorhub/pkg/sensor"
)

const (
	// Min and Max bound the FIFO_CONFIG_0 watermark register (4-byte units).
	Min = 1
	Max = 200

	maxSensorRateHz = 400
	// TimeUnitNs is the normalized time unit: one period at 400 Hz.
	TimeUnitNs = 1_000_000_000 / maxSensorRateHz
)

// Factors is the FIFO footprint per sample of accel, gyro and mag frames.
var Factors = [sensor.NumContinuous]int{6, 6, 8}

// Input describes one continuous channel. A channel that is not Active
// (not configured, or subscribed without data delivery) is ignored.
type Input struct {
	Active    bool
	Rate      uint32
	LatencyNs uint64
}

// FifoSize returns the FIFO bytes needed so the channel with the smallest
// latency is served in time. periods and latencies are in the common time
// unit; entries with a non-positive period are inactive. The second result
// is false when no channel is active.
func FifoSize(periods, latencies, factors []int) (int, bool) {
	minLatency := math.MaxInt
	for _, l := range latencies {
		if l > 0 && l < minLatency {
			minLatency = l
		}
	}

	active := false
	size, head := 0, 0
	for i, p := range periods {
		if p <= 0 {
			continue
		}
		active = true
		n := minLatency / p
		if n > head {
			head = n
		}
		size += n * factors[i]
	}
	if !active {
		return 0, false
	}
	return head + size, true
}

// Plan returns the watermark register value for the given channels, or
// false when no channel is active and the watermark interrupt must stay
// disarmed. A latency shorter than the channel's own period is raised to
// one period.
func Plan(in [sensor.NumContinuous]Input) (uint8, bool) {
	periods := make([]int, len(in))
	latencies := make([]int, len(in))
	for i, c := range in {
		periods[i], latencies[i] = -1, -1
		if !c.Active || c.Rate == 0 || c.LatencyNs == sensor.LatencyNoData {
			continue
		}
		periods[i] = int(sensor.HZ(maxSensorRateHz) / c.Rate)
		if periods[i] == 0 {
			periods[i] = 1
		}
		latencies[i] = int((c.LatencyNs + TimeUnitNs/2) / TimeUnitNs)
		if latencies[i] < periods[i] {
			latencies[i] = periods[i]
		}
	}

	size, ok := FifoSize(periods, latencies, Factors[:])
	if !ok {
		return 0, false
	}
	wm := size / 4
	if wm < Min {
		wm = Min
	}
	if wm > Max {
		wm = Max
	}
	return uint8(wm), true
}
