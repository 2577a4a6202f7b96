package imu

import "imu-sensorhub/pkg/sensor"

// BiasEstimator is a runtime bias model fed with every sample of its
// channel. The task only drives it; the estimation itself lives elsewhere.
type BiasEstimator interface {
	// Update feeds one sample in board units at host time ns.
	Update(ns uint64, x, y, z float32)
	// NewBias reports a bias that changed since the last call.
	NewBias() ([3]float32, bool)
	// Remove subtracts the current bias from a sample.
	Remove(x, y, z float32) (float32, float32, float32)
	// SetBias loads a stored bias.
	SetBias(b [3]float32)
}

// HostUpdater is implemented by estimators that keep a model the host
// wants to persist.
type HostUpdater interface {
	HostUpdatePending() bool
	// HostUpdate returns the model update and clears the pending state.
	HostUpdate() (bias [3]float32, ok bool)
}

// sendHostUpdate forwards estimator model updates. It runs last in the
// drain order and causes no bus traffic.
func (t *Task) sendHostUpdate() {
	for i, est := range t.bias {
		hu, ok := est.(HostUpdater)
		if !ok {
			continue
		}
		if b, ok := hu.HostUpdate(); ok {
			t.log.Debug("host update for channel %d: %v", i, b)
			t.fw.Packet(hostUpdatePacket(i, b))
		}
	}
}

// hostUpdatePacket carries a bias in micro-units of the channel.
func hostUpdatePacket(ch int, b [3]float32) sensor.ResultPacket {
	var q [3]int32
	for i, v := range b {
		q[i] = int32(v * 1e6)
	}
	return sensor.CalResult(sensor.Descriptors[ch].Type, sensor.StatusSuccess, q)
}
