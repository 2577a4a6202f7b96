// Fast offset compensation, self-test and calibration persistence
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package imu

import (
	"encoding/binary"

	"imu-sensorhub/pkg/bmi160"
	"imu-sensorhub/pkg/errors"
	"imu-sensorhub/pkg/sensor"
)

// calibrate starts FOC on the accelerometer or gyroscope. The channel must
// be off and the task idle, otherwise a BUSY result goes to the host.
func (t *Task) calibrate(ch sensor.Channel) {
	if ch != sensor.Accel && ch != sensor.Gyro {
		t.log.Warn("%v", errors.Newf(errors.ErrUnsupported, "no calibration for %s", ch))
		return
	}
	typ := sensor.Descriptors[ch].Type
	if t.sensors[ch].powered {
		t.log.Warn("%v", errors.New(errors.ErrCalBusy, ch.String()+" calibration refused while powered"))
		t.fw.Packet(sensor.CalResult(typ, sensor.StatusBusy, [3]int32{}))
		return
	}
	if !t.trySwitch(StateCalibrating) {
		t.log.Warn("%v", errors.TaskBusyError(ch.String()+" calibration", t.State().String()))
		t.fw.Packet(sensor.CalResult(typ, sensor.StatusBusy, [3]int32{}))
		return
	}

	t.retries = t.cfg.CalibrationRetries
	t.calStep = calStart
	if ch == sensor.Accel {
		t.write(bmi160.RegCmd, bmi160.CmdAccNormal, normalModeWait)
	} else {
		t.write(bmi160.RegCmd, bmi160.CmdGyrNormal, normalModeWait)
	}
	t.calStep = calFoc
	t.submitStep(ch)
}

func (t *Task) calibrationStep(ch sensor.Channel) {
	switch t.calStep {
	case calFoc:
		if ch == sensor.Accel {
			t.write(bmi160.RegAccRange, bmi160.AccRangeSetting(t.cfg.AccRangeG), regDelay)
			t.write(bmi160.RegFocConf, bmi160.FocConfAcc, regDelay)
		} else {
			t.write(bmi160.RegGyrRange, bmi160.GyrRange2000, regDelay)
			t.write(bmi160.RegFocConf, bmi160.FocConfGyr, regDelay)
		}
		t.write(bmi160.RegCmd, bmi160.CmdStartFOC, focStartWait)
		t.statusSlot = t.read(bmi160.RegStatus, 1, statusPollWait)
		t.calStep = calWaitFocDone
		t.submitStep(ch)

	case calWaitFocDone:
		if t.statusSlot.Data()[0]&bmi160.StatusFocReady != 0 {
			t.write(bmi160.RegFocConf, 0, regDelay)
			if ch == sensor.Accel {
				t.dataSlot = t.read(bmi160.RegOffset0, 3, 0)
			} else {
				t.dataSlot = t.read(bmi160.RegOffset3, 4, 0)
			}
			t.calStep = calSetOffset
		} else {
			t.statusSlot = t.read(bmi160.RegStatus, 1, statusPollWait)
			t.retries--
		}
		t.submitStep(ch)
		if t.retries <= 0 && t.calStep == calWaitFocDone {
			t.calStep = calTimeout
		}

	case calSetOffset:
		d := t.dataSlot.Data()
		s := &t.sensors[ch]
		if ch == sensor.Accel {
			for i := range s.offset {
				s.offset[i] = bmi160.DecodeAccOffset(d[i])
			}
		} else {
			s.offset = bmi160.DecodeGyrOffsets([3]byte{d[0], d[1], d[2]}, d[3])
		}
		s.offsetEnable = true
		t.log.Info("%s calibration done, offsets %v", ch, s.offset)
		t.fw.Packet(sensor.CalResult(sensor.Descriptors[ch].Type, sensor.StatusSuccess, s.offset))

		t.write(bmi160.RegOffset6, t.offset6Mode(), regDelay)
		if ch == sensor.Accel {
			t.write(bmi160.RegCmd, bmi160.CmdAccSuspend, suspendWait)
		} else {
			t.write(bmi160.RegCmd, bmi160.CmdGyrSuspend, gyrSuspendWait)
		}
		t.calStep = calDone
		t.submitStep(ch)

	default:
		t.log.Error("calibration step %d out of sequence", t.calStep)
		t.setState(StateIdle)
	}
}

// selfTest starts the accelerometer or gyroscope self-test under the same
// busy rules as calibration.
func (t *Task) selfTest(ch sensor.Channel) {
	if ch != sensor.Accel && ch != sensor.Gyro {
		t.log.Warn("%v", errors.Newf(errors.ErrUnsupported, "no self test for %s", ch))
		return
	}
	if t.sensors[ch].powered || !t.trySwitch(StateTesting) {
		t.log.Warn("%v", errors.TaskBusyError(ch.String()+" self test", t.State().String()))
		t.fw.Packet(sensor.TestResult(sensor.Descriptors[ch].Type, sensor.StatusBusy))
		return
	}
	if ch == sensor.Accel {
		t.accTestStep = accTestStart
		t.write(bmi160.RegCmd, bmi160.CmdAccNormal, normalModeWait)
		t.accTestStep = accTestConfig
	} else {
		t.gyrTestStep = gyrTestStart
		t.write(bmi160.RegCmd, bmi160.CmdGyrNormal, normalModeWait)
		t.gyrTestStep = gyrTestRun
	}
	t.submitStep(ch)
}

func (t *Task) accSelfTestStep() {
	switch t.accTestStep {
	case accTestConfig:
		t.write(bmi160.RegAccConf, bmi160.AccConfSelfTest, regDelay)
		t.write(bmi160.RegAccRange, bmi160.AccRangeSetting(8), regDelay)
		// first sample after the mode change is stale
		t.dataSlot = t.read(bmi160.RegData14, 6, 0)
		t.accTestStep = accTestRun0

	case accTestRun0:
		t.write(bmi160.RegSelfTest, bmi160.SelfTestAccNeg, selfTestWait)
		t.dataSlot = t.read(bmi160.RegData14, 6, 0)
		t.accTestStep = accTestRun1

	case accTestRun1:
		t.accTest = readAxes(t.dataSlot.Data())
		t.write(bmi160.RegSelfTest, bmi160.SelfTestAccPos, selfTestWait)
		t.dataSlot = t.read(bmi160.RegData14, 6, 0)
		t.accTestStep = accTestVerify

	case accTestVerify:
		pos := readAxes(t.dataSlot.Data())
		status := sensor.StatusSuccess
		if absDiff(pos[0], t.accTest[0]) < bmi160.SelfTestAccXYMin ||
			absDiff(pos[1], t.accTest[1]) < bmi160.SelfTestAccXYMin ||
			absDiff(pos[2], t.accTest[2]) < bmi160.SelfTestAccZMin {
			status = sensor.StatusError
		}
		t.log.Info("accel self test neg %v pos %v status %d", t.accTest, pos, status)
		t.fw.Packet(sensor.TestResult(sensor.TypeAccel, status))

		t.write(bmi160.RegSelfTest, 0x00, regDelay)
		t.write(bmi160.RegAccRange, bmi160.AccRangeSetting(t.cfg.AccRangeG), regDelay)
		t.write(bmi160.RegCmd, bmi160.CmdAccSuspend, suspendWait)
		t.accTestStep = accTestDone

	default:
		t.setState(StateIdle)
		return
	}
	t.submitStep(sensor.Accel)
}

func (t *Task) gyrSelfTestStep() {
	switch t.gyrTestStep {
	case gyrTestRun:
		t.write(bmi160.RegSelfTest, bmi160.SelfTestGyr, selfTestWait)
		t.statusSlot = t.read(bmi160.RegStatus, 1, 0)
		t.gyrTestStep = gyrTestVerify

	case gyrTestVerify:
		status := sensor.StatusError
		if t.statusSlot.Data()[0]&bmi160.StatusGyrSelfTestOK != 0 {
			status = sensor.StatusSuccess
		}
		t.log.Info("gyro self test status %d", status)
		t.fw.Packet(sensor.TestResult(sensor.TypeGyro, status))
		t.write(bmi160.RegCmd, bmi160.CmdGyrSuspend, gyrSuspendWait)
		t.gyrTestStep = gyrTestDone

	default:
		t.setState(StateIdle)
		return
	}
	t.submitStep(sensor.Gyro)
}

func readAxes(b []byte) [3]int16 {
	return [3]int16{
		int16(binary.LittleEndian.Uint16(b[0:])),
		int16(binary.LittleEndian.Uint16(b[2:])),
		int16(binary.LittleEndian.Uint16(b[4:])),
	}
}

func absDiff(a, b int16) int {
	d := int(a) - int(b)
	if d < 0 {
		return -d
	}
	return d
}

// CfgData is calibration pushed from persistent storage. Offset holds the
// hardware offsets of accel and gyro; Bias is the software bias of the gyro
// and magnetometer estimators.
type CfgData struct {
	Offset  [3]int32   `json:"offset"`
	Bias    [3]float32 `json:"bias"`
	HasBias bool       `json:"has_bias"`
}

func (t *Task) configData(ch sensor.Channel, data CfgData) {
	switch ch {
	case sensor.Accel:
		s := &t.sensors[ch]
		s.offset = data.Offset
		s.offsetEnable = true
		t.log.Info("accel hw offsets %v", s.offset)
		t.saveCalibration()
	case sensor.Gyro:
		if !data.HasBias {
			t.log.Error("gyro config data without bias payload")
			return
		}
		s := &t.sensors[ch]
		s.offset = data.Offset
		s.offsetEnable = true
		if est := t.bias[ch]; est != nil {
			est.SetBias(data.Bias)
		}
		t.log.Info("gyro hw offsets %v sw bias %v", s.offset, data.Bias)
		t.saveCalibration()
	case sensor.Mag:
		if est := t.bias[ch]; est != nil {
			est.SetBias(data.Bias)
		}
		t.log.Info("mag bias %v", data.Bias)
	default:
		t.log.Warn("config data for %s ignored", ch)
	}
}

// saveCalibration writes the enabled offsets and OFFSET_6 and reads them
// back. A busy task defers it to the pending drain.
func (t *Task) saveCalibration() {
	if !t.trySwitch(StateSaveCalibration) {
		t.pendingCalSave = true
		return
	}
	acc := &t.sensors[sensor.Accel]
	if acc.offsetEnable {
		for i, v := range acc.offset {
			t.write(bmi160.RegOffset0+byte(i), bmi160.EncodeAccOffset(v), regDelay)
		}
	}
	gyr := &t.sensors[sensor.Gyro]
	if gyr.offsetEnable {
		for i, v := range gyr.offset {
			lo, _ := bmi160.EncodeGyrOffset(v)
			t.write(bmi160.RegOffset3+byte(i), lo, regDelay)
		}
	}
	t.write(bmi160.RegOffset6, t.offset6Mode(), regDelay)
	t.dataSlot = t.read(bmi160.RegOffset0, 7, 0)
	t.submitStep(sensor.Accel)
}
