package imu

import (
	"imu-sensorhub/pkg/bmi160"
	"imu-sensorhub/pkg/sensor"
)

// int2Event reads the interrupt status of the embedded detectors.
func (t *Task) int2Event() {
	if !t.trySwitch(StateInt2Handling) {
		t.pendingInt2 = true
		return
	}
	t.statusSlot = t.read(bmi160.RegIntStatus0, 4, 0)
	t.submitStep(sensor.Step)
}

// int2Handling decodes INT_STATUS_0..3 into detector events. Only powered
// detectors report.
func (t *Task) int2Handling() {
	st := t.statusSlot.Data()
	s0, s1, s2, s3 := st[0], st[1], st[2], st[3]
	t.log.Debug("int2 status %02x %02x %02x %02x", s0, s1, s2, s3)

	if s0&bmi160.IntStep != 0 {
		if t.sensors[sensor.Step].powered {
			t.fw.Event(sensor.Step, 1)
		}
		if t.sensors[sensor.StepCount].powered {
			t.pendingStepCnt = true
		}
	}
	if s0&bmi160.IntAnyMotion != 0 && t.sensors[sensor.AnyMotion].powered {
		t.fw.Event(sensor.AnyMotion, uint64(s2&0x0f))
	}
	if s0&bmi160.IntDoubleTap != 0 && t.sensors[sensor.DoubleTap].powered {
		t.fw.Event(sensor.DoubleTap, uint64(s2&0xf0)>>4)
	}
	if s0&bmi160.IntFlat != 0 && t.sensors[sensor.Flat].powered {
		t.fw.Event(sensor.Flat, uint64(s3&0x80)>>7)
	}
	if s1&bmi160.IntNoMotion != 0 && t.sensors[sensor.NoMotion].powered {
		t.fw.Event(sensor.NoMotion, 1)
	}
}

// stepCountRead reads the hardware step counter. It reports false when the
// task is busy and the read has to wait for the drain.
func (t *Task) stepCountRead() bool {
	if !t.trySwitch(StateStepCountRead) {
		t.pendingStepCnt = true
		return false
	}
	t.dataSlot = t.read(bmi160.RegStepCnt0, 2, 0)
	t.submitStep(sensor.StepCount)
	return true
}

// sendStepCount folds the 16-bit hardware count into the running total.
func (t *Task) sendStepCount() {
	d := t.dataSlot.Data()
	cur := uint16(d[1])<<8 | uint16(d[0])
	s := &t.sensors[sensor.StepCount]

	var steps uint64
	if cur >= t.lastStepCnt {
		steps = uint64(cur - t.lastStepCnt)
	} else {
		// counter wrapped
		steps = uint64(cur) + 0x10000 - uint64(t.lastStepCnt)
	}
	t.lastStepCnt = cur
	t.totalStepCnt += steps
	t.metrics.SetStepTotal(t.totalStepCnt)

	if steps > 0 || s.flush > 0 {
		if s.rate == sensor.RateOnChange || s.flush > 0 {
			t.fw.Event(sensor.StepCount, t.totalStepCnt)
			t.stepCntChanged = false
		} else {
			t.stepCntChanged = true
		}
	}
	for ; s.flush > 0; s.flush-- {
		t.fw.Flush(sensor.StepCount)
	}
}

// stepCntSample is the periodic report of a rate-limited step counter.
func (t *Task) stepCntSample() {
	if t.sensors[sensor.StepCount].powered && t.stepCntChanged {
		t.stepCntChanged = false
		t.fw.Event(sensor.StepCount, t.totalStepCnt)
	}
}
