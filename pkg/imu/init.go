package imu

import (
	"imu-sensorhub/pkg/bmi160"
	"imu-sensorhub/pkg/errors"
	"imu-sensorhub/pkg/sensor"
)

// verifyID checks the chip id read during Boot. A mismatch retries from
// Boot after a delay until the retry budget runs out; the task then stays
// in VerifyID and never reports init complete.
func (t *Task) verifyID() {
	id := t.dataSlot.Data()[0]
	if id == bmi160.ChipID {
		t.log.Info("detected bmi160 (id 0x%02x)", id)
		t.setState(StateInitializing)
		t.initStep = initReset
		t.initSequence()
		return
	}

	t.retries--
	err := errors.InitIDError(id, bmi160.ChipID, t.retries)
	if t.retries <= 0 {
		t.log.WithError(err).Error("giving up on device detection")
		t.metrics.InitFailed()
		return
	}
	t.log.WithError(err).Warn("unexpected chip id, retrying")
	t.setState(StateBoot)
	t.loop.After(t.cfg.IDRetryDelay, func() { t.busDone(nil) })
}

// initSequence queues the next init step and submits it.
func (t *Task) initSequence() {
	switch t.initStep {
	case initReset:
		// sensortime restarts from zero after the reset
		t.parser.ResetSensorTime()
		t.write(bmi160.RegCmd, bmi160.CmdSoftReset, resetWait)
		// SPI mode is latched by a read after reset
		t.read(bmi160.RegMagic, 1, magicReadWait)
		t.initStep = initRegisters

	case initRegisters:
		t.read(bmi160.RegIntStatus0, 4, 0)

		// header mode FIFO with sensortime, all data disabled
		t.write(bmi160.RegFifoConfig1, bmi160.FifoConfig1Base, regDelay)
		t.write(bmi160.RegFifoConfig0, 0x06, regDelay)

		t.intEnable0 = 0x00
		t.intEnable2 = 0x00
		t.write(bmi160.RegIntEn0, t.intEnable0, regDelay)
		t.write(bmi160.RegIntEn1, 0x60, regDelay) // FIFO watermark and full
		t.write(bmi160.RegIntEn2, t.intEnable2, regDelay)

		t.write(bmi160.RegIntOutCtrl, 0xbb, regDelay)
		t.write(bmi160.RegIntLatch, 0x00, regDelay)
		t.write(bmi160.RegIntMap0, 0x00, regDelay)
		t.write(bmi160.RegIntMap1, 0xe1, regDelay) // FIFO on INT1
		t.write(bmi160.RegIntMap2, 0xff, regDelay) // detectors on INT2
		t.write(bmi160.RegIntData0, 0x08, 0)

		t.write(bmi160.RegPMUTrigger, 0, regDelay)

		for ch := sensor.Accel; ch <= sensor.Gyro; ch++ {
			t.sensors[ch].offsetEnable = false
		}
		t.write(bmi160.RegOffset6, t.offset6Mode(), regDelay)

		t.write(bmi160.RegAccRange, bmi160.AccRangeSetting(t.cfg.AccRangeG), regDelay)
		t.write(bmi160.RegGyrRange, bmi160.GyrRange2000, regDelay)

		t.write(bmi160.RegCmd, bmi160.CmdStepCntClear, intCmdWait)
		t.write(bmi160.RegCmd, bmi160.CmdIntReset, intCmdWait)
		t.write(bmi160.RegCmd, bmi160.CmdFifoFlush, intCmdWait)
		t.initStep = initOnChange

	case initOnChange:
		t.configMotion(bmi160.MotionODR)
		t.write(bmi160.RegIntMotion3, 0x15, regDelay)

		t.write(bmi160.RegIntTap0, 0x42, regDelay)
		t.write(bmi160.RegIntTap1, bmi160.TapThreshold, regDelay)

		if t.cfg.StepCountSensitive {
			t.write(bmi160.RegStepConf0, bmi160.StepConf0Sensitive, regDelay)
			t.write(bmi160.RegStepConf1, bmi160.StepConf1Sensitive, regDelay)
		} else {
			t.write(bmi160.RegStepConf0, bmi160.StepConf0Normal, regDelay)
			t.write(bmi160.RegStepConf1, bmi160.StepConf1Normal, regDelay)
		}

		t.write(bmi160.RegIntFlat0, 0x10, regDelay)
		t.write(bmi160.RegIntFlat1, 0x14, regDelay)
		t.initStep = initDone

	default:
		t.log.Error("init step %d out of sequence", t.initStep)
		return
	}
	t.submitStep(sensor.Accel)
}

// configMotion writes the any/no-motion thresholds for an accel ODR.
func (t *Task) configMotion(odr int) {
	th := bmi160.MotionThreshold(odr, t.cfg.AccRangeG)
	t.write(bmi160.RegIntMotion0, 0x0c, regDelay)
	t.write(bmi160.RegIntMotion1, th, regDelay)
	t.write(bmi160.RegIntMotion2, th, regDelay)
}

// offset6Mode is OFFSET_6 for the current enables and gyro offsets.
func (t *Task) offset6Mode() byte {
	return bmi160.Offset6(t.sensors[sensor.Gyro].offsetEnable,
		t.sensors[sensor.Accel].offsetEnable, t.sensors[sensor.Gyro].offset)
}
