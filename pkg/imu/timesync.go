package imu

import (
	"imu-sensorhub/pkg/bmi160"
	"imu-sensorhub/pkg/sensor"
	"imu-sensorhub/pkg/timesync"
)

// timeSyncEvent samples sensortime and temperature. Timer-driven events
// carry the poll generation they were armed in and are dropped once the
// generation moved on; a deferred event (valid false) always runs.
func (t *Task) timeSyncEvent(gen uint32, valid bool) {
	if valid {
		if gen != t.pollGen {
			return
		}
		t.activePollGen = t.pollGen
	}
	if !t.trySwitch(StateTimeSync) {
		t.pendingTimeSync = true
		return
	}
	t.timeSlot = t.read(bmi160.RegSensorTime0, 3, 0)
	t.tempSlot = t.read(bmi160.RegTemperature0, 2, 0)
	t.timeSyncHostNs = t.loop.Now()
	t.submitStep(sensor.Accel)
}

// timeSyncDone records the correlation point of a finished read. A failed
// read only keeps the cycle going.
func (t *Task) timeSyncDone(err error) {
	if err == nil {
		ticks := t.parser.SensorTime(bmi160.DecodeSensorTime(t.timeSlot.Data()))
		t.sync.Add(t.timeSyncHostNs, timesync.TicksToNs(ticks))

		td := t.tempSlot.Data()
		t.tempC, t.tempValid = bmi160.DecodeTemperature(td[0], td[1])
		if t.tempValid {
			t.metrics.SetTemperature(float64(t.tempC))
		}
	}

	if t.activePollGen == t.pollGen {
		gen := t.pollGen
		t.loop.After(t.cfg.TimeSyncPeriod, func() {
			t.complete("time sync", func() { t.timeSyncEvent(gen, true) })
		})
	}
}

// Temperature returns the last die temperature reading. It must be called
// on the loop.
func (t *Task) Temperature() (float32, bool) {
	return t.tempC, t.tempValid
}
