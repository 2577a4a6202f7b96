package imu

import (
	"time"

	"imu-sensorhub/pkg/bmi160"
	"imu-sensorhub/pkg/bus"
	"imu-sensorhub/pkg/errors"
	"imu-sensorhub/pkg/sensor"
	"imu-sensorhub/pkg/watermark"
)

// Step counter sampling periods, in StepCountRates order.
var stepCntPeriods = [...]time.Duration{
	300 * time.Second, 240 * time.Second, 180 * time.Second, 120 * time.Second,
	90 * time.Second, 60 * time.Second, 45 * time.Second, 30 * time.Second,
	15 * time.Second, 10 * time.Second, 5 * time.Second,
}

// power switches a channel. A busy task records the request and replays
// it from the pending drain.
func (t *Task) power(ch sensor.Channel, on bool) {
	if ch < 0 || ch >= sensor.NumChannels {
		return
	}
	if on && !t.Available(ch) {
		t.log.Warn("%s not fitted, power request ignored", ch)
		return
	}
	next := StatePoweringDown
	if on {
		next = StatePoweringUp
	}
	if !t.trySwitch(next) {
		s := &t.sensors[ch]
		s.pending = true
		s.pendingCfg.enable = on
		return
	}
	t.log.Debug("%s power %v", ch, on)

	switch ch {
	case sensor.Accel:
		t.sensors[ch].powered = on
		if on {
			t.write(bmi160.RegCmd, bmi160.CmdAccNormal, normalModeWait)
		} else {
			t.sensors[ch].configed = false
			t.configFifo()
			t.write(bmi160.RegCmd, bmi160.CmdAccSuspend, suspendWait)
		}
	case sensor.Gyro:
		if t.parser.AnyFifoEnabled() && on != t.sensors[ch].powered {
			// the gyro mode change disturbs sensortime, keep only the
			// newest points and hold the estimate
			t.sync.Truncate(2)
			t.sync.Hold(2)
		}
		t.sensors[ch].powered = on
		if on {
			t.write(bmi160.RegCmd, bmi160.CmdGyrNormal, normalModeWait)
		} else {
			t.sensors[ch].configed = false
			t.configFifo()
			t.write(bmi160.RegCmd, bmi160.CmdGyrSuspend, suspendWait)
		}
	case sensor.Mag:
		t.sensors[ch].powered = on
		if on {
			t.write(bmi160.RegCmd, bmi160.CmdMagNormal, magNormalWait)
		} else {
			t.sensors[ch].configed = false
			t.configFifo()
			t.write(bmi160.RegCmd, bmi160.CmdMagSuspend, suspendWait)
		}
	case sensor.Step:
		t.sensors[ch].powered = on
		if on {
			t.intEnable2 |= bmi160.EnStep
		} else {
			if !t.sensors[sensor.StepCount].powered {
				t.intEnable2 &^= bmi160.EnStep
			}
			t.sensors[ch].configed = false
		}
		t.write(bmi160.RegIntEn2, t.intEnable2, regDelay)
	case sensor.Flat:
		t.toggleInt(ch, on, &t.intEnable0, bmi160.RegIntEn0, bmi160.EnFlat)
	case sensor.DoubleTap:
		t.toggleInt(ch, on, &t.intEnable0, bmi160.RegIntEn0, bmi160.EnDoubleTap)
	case sensor.AnyMotion:
		t.toggleInt(ch, on, &t.intEnable0, bmi160.RegIntEn0, bmi160.EnAnyMotion)
	case sensor.NoMotion:
		t.toggleInt(ch, on, &t.intEnable2, bmi160.RegIntEn2, bmi160.EnNoMotion)
	case sensor.StepCount:
		t.sensors[ch].powered = on
		if on {
			if !t.sensors[sensor.Step].powered {
				t.intEnable2 |= bmi160.EnStep
			}
			t.write(bmi160.RegIntEn2, t.intEnable2, regDelay)
			t.write(bmi160.RegStepConf1, bmi160.StepCounterEnable|bmi160.StepConf1Normal, stepConfWait)
		} else {
			t.cancelStepCntTimer()
			if !t.sensors[sensor.Step].powered {
				t.intEnable2 &^= bmi160.EnStep
			}
			t.write(bmi160.RegIntEn2, t.intEnable2, regDelay)
			t.write(bmi160.RegStepConf1, bmi160.StepConf1Normal, stepConfWait)
			t.lastStepCnt = 0
			t.sensors[ch].configed = false
		}
	}
	t.submitStep(ch)
}

func (t *Task) toggleInt(ch sensor.Channel, on bool, reg *byte, addr, bits byte) {
	t.sensors[ch].powered = on
	if on {
		*reg |= bits
	} else {
		*reg &^= bits
		t.sensors[ch].configed = false
	}
	t.write(addr, *reg, regDelay)
}

// setRate applies a rate and latency. Unsupported rates are refused before
// any state change.
func (t *Task) setRate(ch sensor.Channel, rate uint32, latency uint64) error {
	if ch < 0 || ch >= sensor.NumChannels {
		return errors.Newf(errors.ErrUnsupported, "unknown channel %d", int(ch))
	}
	if !t.Available(ch) {
		return errors.Newf(errors.ErrUnsupported, "%s not fitted", ch)
	}
	if !(ch == sensor.Mag && rate == sensor.RateOnChange) && !sensor.Descriptors[ch].Supports(rate) {
		return errors.InvalidRateError(ch.String(), rate)
	}
	if !t.trySwitch(StateConfigChanging) {
		s := &t.sensors[ch]
		s.pending = true
		s.pendingCfg = pendingConfig{enable: true, rate: rate, latency: latency}
		return nil
	}

	s := &t.sensors[ch]
	t.log.Debug("%s rate %.3f Hz latency %d", ch, sensor.RateHz(rate), latency)

	switch ch {
	case sensor.Accel, sensor.Gyro:
		odr := bmi160.ComputeODR(rate)
		t.parser.UpdateTimeDelta(ch, odr)
		hw, ds, mode := bmi160.Oversample(odr, ch == sensor.Gyro)
		s.rate, s.latency, s.configed = rate, latency, true
		conf := byte(bmi160.RegAccConf)
		if ch == sensor.Gyro {
			t.gyrDownsamp = ds
			conf = bmi160.RegGyrConf
		} else {
			t.accDownsamp = ds
			t.configMotion(hw)
		}
		t.write(conf, byte(mode<<4|hw), regDelay)
		t.write(bmi160.RegFifoDowns, byte(t.accDownsamp<<4|t.gyrDownsamp|0x88), regDelay)
		t.configFifo()
		t.submitStep(ch)

	case sensor.Mag:
		if rate == sensor.RateOnChange {
			rate = sensor.HZ(100)
		}
		odr := bmi160.ComputeODR(rate)
		t.parser.UpdateTimeDelta(ch, odr)
		s.rate, s.latency, s.configed = rate, latency, true
		if odr > bmi160.MagMaxODR {
			odr = bmi160.MagMaxODR
		}
		t.write(bmi160.RegMagConf, byte(odr), regDelay)
		t.configFifo()
		t.submitStep(ch)

	default:
		s.rate, s.latency, s.configed = rate, latency, true
		if ch == sensor.StepCount {
			t.armStepCntTimer(rate)
		}
		t.fw.RateChanged(ch, rate, latency)
		t.setState(StateIdle)
	}
	return nil
}

func (t *Task) armStepCntTimer(rate uint32) {
	t.cancelStepCntTimer()
	if rate == sensor.RateOnChange {
		return
	}
	var period time.Duration
	for i, r := range sensor.StepCountRates {
		if r == rate && i < len(stepCntPeriods) {
			period = stepCntPeriods[i]
		}
	}
	if period == 0 {
		return
	}
	t.stepCntTimer = t.loop.RegisterTimer(func(now uint64) uint64 {
		t.post("step count timer", t.stepCntSample)
		return now + uint64(period)
	}, t.loop.Now()+uint64(period))
}

func (t *Task) cancelStepCntTimer() {
	if t.stepCntTimer != nil {
		t.loop.UnregisterTimer(t.stepCntTimer)
		t.stepCntTimer = nil
	}
}

// configFifo recomputes which channels stream into the FIFO and queues the
// matching FIFO_CONFIG writes into the current batch.
func (t *Task) configFifo() {
	wasEnabled := t.parser.AnyFifoEnabled()

	val := byte(bmi160.FifoConfig1Base)
	var in [sensor.NumContinuous]watermark.Input
	for ch := sensor.Accel; ch < sensor.NumContinuous; ch++ {
		s := &t.sensors[ch]
		on := t.Available(ch) && s.configed && s.latency != sensor.LatencyNoData
		if on {
			val |= fifoEnableBit[ch]
		}
		t.parser.SetFifoEnabled(ch, on)
		t.parser.SetActive(ch, on)
		in[ch] = watermark.Input{Active: on, Rate: s.rate, LatencyNs: s.latency}
	}
	nowEnabled := t.parser.AnyFifoEnabled()

	switch {
	case !wasEnabled && nowEnabled:
		t.sync.Reset()
		gen := t.pollGen
		t.complete("time sync", func() { t.timeSyncEvent(gen, true) })
	case wasEnabled && !nowEnabled:
		t.pollGen++
	case wasEnabled && nowEnabled:
		// drain what was sampled under the old configuration
		t.pendingDispatch = true
		t.fifoSlot = t.read(bmi160.RegFifoData, bus.FifoReadSize, 0)
	}

	if nowEnabled {
		wm, ok := watermark.Plan(in)
		if ok {
			t.watermark = wm
		}
		t.metrics.SetWatermark(int(t.watermark))
		t.write(bmi160.RegFifoConfig0, t.watermark, regDelay)
	}
	t.write(bmi160.RegFifoConfig1, val, regDelay)

	if !nowEnabled {
		t.write(bmi160.RegCmd, bmi160.CmdFifoFlush, intCmdWait)
		t.parser.Invalidate()
	}
}

var fifoEnableBit = [sensor.NumContinuous]byte{
	sensor.Accel: bmi160.FifoEnableAcc,
	sensor.Gyro:  bmi160.FifoEnableGyr,
	sensor.Mag:   bmi160.FifoEnableMag,
}

// flush emits a flush marker once everything buffered for ch is out.
func (t *Task) flush(ch sensor.Channel) {
	switch {
	case ch.Continuous():
		t.sensors[ch].flush++
		t.initiateFifoRead()
	case ch == sensor.StepCount:
		t.sensors[ch].flush++
		t.stepCountRead()
	case ch >= 0 && ch < sensor.NumChannels:
		t.fw.Flush(ch)
	}
}

// dispatchPending parses the FIFO read queued by configFifo, if any.
func (t *Task) dispatchPending() {
	if !t.pendingDispatch {
		return
	}
	t.pendingDispatch = false
	t.dispatchData(t.fifoSlot.Data())
	t.sendFlushEvents()
}
