// Package sensor defines the channels exposed by the IMU task, their
// descriptors and rate encoding, the sample batches handed to consumers and
// the host-bound result packets.
package sensor

import "fmt"

// Channel indexes one physical or virtual sensor. The first three are the
// FIFO-backed continuous channels.
type Channel int

const (
	Accel Channel = iota
	Gyro
	Mag
	Step
	DoubleTap
	Flat
	AnyMotion
	NoMotion
	StepCount

	NumChannels
)

// NumContinuous is the number of FIFO-backed channels.
const NumContinuous = 3

var channelNames = [NumChannels]string{
	"accel", "gyro", "mag", "step", "double_tap", "flat", "any_motion", "no_motion", "step_count",
}

func (c Channel) String() string {
	if c >= 0 && c < NumChannels {
		return channelNames[c]
	}
	return fmt.Sprintf("channel(%d)", int(c))
}

// Continuous reports whether the channel streams through the FIFO.
func (c Channel) Continuous() bool {
	return c >= Accel && c < NumContinuous
}

// ParseChannel maps a channel name back to its index.
func ParseChannel(s string) (Channel, bool) {
	for i, n := range channelNames {
		if n == s {
			return Channel(i), true
		}
	}
	return 0, false
}

// Rates are fixed point Hz scaled by 1024.
const (
	RateOnChange uint32 = 0xFFFFFF01
	RateOneShot  uint32 = 0xFFFFFF02
)

// LatencyNoData marks a subscription that wants the sensor powered but no
// sample delivery.
const LatencyNoData uint64 = 0xFFFFFFFFFFFFFF00

// HZ encodes a frequency in the 1024-scaled rate format.
func HZ(f float32) uint32 {
	return uint32(f * 1024)
}

// RateHz converts an encoded rate back to Hz for display.
func RateHz(rate uint32) float64 {
	return float64(rate) / 1024
}
