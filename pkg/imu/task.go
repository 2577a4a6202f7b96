// BMI160 sensor task
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package imu runs the BMI160 sensor task: a state machine that serializes
// every hardware operation of the accelerometer, gyroscope, magnetometer
// and the embedded motion detectors over one bus, decodes the FIFO, keeps
// sensortime correlated with host time and runs factory calibration and
// self-test.
//
// All task state is owned by the reactor loop. Public methods post to the
// loop and return immediately; bus completions, timers and interrupt
// watchers do the same.
package imu

import (
	"sync/atomic"
	"time"

	"imu-sensorhub/pkg/bmi160"
	"imu-sensorhub/pkg/bus"
	"imu-sensorhub/pkg/errors"
	"imu-sensorhub/pkg/fifo"
	"imu-sensorhub/pkg/log"
	"imu-sensorhub/pkg/metrics"
	"imu-sensorhub/pkg/pool"
	"imu-sensorhub/pkg/reactor"
	"imu-sensorhub/pkg/sensor"
	"imu-sensorhub/pkg/timesync"
)

// Bus delays of the init and interrupt configuration writes.
const (
	regDelay       = 450 * time.Microsecond
	defaultDelay   = 2 * time.Microsecond
	normalModeWait = 50 * time.Millisecond
	magNormalWait  = 10 * time.Millisecond
	suspendWait    = 5 * time.Millisecond
	gyrSuspendWait = time.Millisecond
	focStartWait   = 100 * time.Millisecond
	statusPollWait = 50 * time.Millisecond
	selfTestWait   = 50 * time.Millisecond
	resetWait      = 100 * time.Millisecond
	intCmdWait     = 10 * time.Millisecond
	magicReadWait  = 100 * time.Microsecond
	stepConfWait   = time.Millisecond
)

// Config holds the task tunables.
type Config struct {
	AccRangeG          int
	StepCountSensitive bool
	TimeSyncPeriod     time.Duration
	IDRetries          int
	IDRetryDelay       time.Duration
	CalibrationRetries int
	SlabEvents         int
	BootDelay          time.Duration
	// Magnetometer reports a magnetometer behind the auxiliary
	// interface. Without it the Mag channel is never offered.
	Magnetometer bool
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		AccRangeG:          8,
		TimeSyncPeriod:     100 * time.Millisecond,
		IDRetries:          5,
		IDRetryDelay:       100 * time.Millisecond,
		CalibrationRetries: 10,
		SlabEvents:         20,
		BootDelay:          100 * time.Millisecond,
	}
}

// MagDecoder converts an 8-byte magnetometer FIFO payload to microtesla.
type MagDecoder func(raw []byte) (x, y, z float32)

type pendingConfig struct {
	enable  bool
	rate    uint32
	latency uint64
}

type channelState struct {
	powered  bool
	configed bool
	rate     uint32
	latency  uint64

	pending    bool
	pendingCfg pendingConfig

	offset       [3]int32
	offsetEnable bool
	flush        int

	batch  *sensor.SampleBatch
	prevNs uint64
}

// Option customizes a Task.
type Option func(*Task)

// WithLogger sets the task logger.
func WithLogger(l *log.Logger) Option {
	return func(t *Task) { t.log = l }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m *metrics.SensorMetrics) Option {
	return func(t *Task) { t.metrics = m }
}

// WithInt1Level supplies the INT1 line level, sampled after each FIFO read.
func WithInt1Level(fn func() bool) Option {
	return func(t *Task) { t.int1Level = fn }
}

// WithMagDecoder replaces the default magnetometer payload decoder.
func WithMagDecoder(fn MagDecoder) Option {
	return func(t *Task) { t.magDecode = fn }
}

// WithBiasEstimator attaches a runtime bias estimator to a continuous
// channel.
func WithBiasEstimator(ch sensor.Channel, est BiasEstimator) Option {
	return func(t *Task) {
		if ch.Continuous() {
			t.bias[ch] = est
		}
	}
}

// Task is the sensor task.
type Task struct {
	cfg     Config
	loop    *reactor.Reactor
	bus     *bus.Scheduler
	fw      sensor.Framework
	log     *log.Logger
	metrics *metrics.SensorMetrics

	state   atomic.Int32
	sensors [sensor.NumChannels]channelState

	// operation in flight
	opCh    sensor.Channel
	retries int

	initStep    initStep
	calStep     calStep
	accTestStep accTestStep
	gyrTestStep gyrTestStep
	accTest     [3]int16

	// read slots of the batch in flight
	statusSlot bus.Slot
	fifoSlot   bus.Slot
	dataSlot   bus.Slot
	timeSlot   bus.Slot
	tempSlot   bus.Slot

	pendingInt1     bool
	pendingInt2     bool
	pendingTimeSync bool
	pendingStepCnt  bool
	pendingCalSave  bool
	pendingDispatch bool
	pendingHost     bool

	// FIFO
	parser       *fifo.Parser
	watermark    uint8
	fifoAttempts int
	int1Level    func() bool
	accDownsamp  int
	gyrDownsamp  int

	// time sync
	sync           *timesync.Estimator
	pollGen        uint32
	activePollGen  uint32
	timeSyncHostNs uint64
	tempC          float32
	tempValid      bool

	intEnable0 byte
	intEnable2 byte

	oneShotActive int

	// step counter
	lastStepCnt    uint16
	totalStepCnt   uint64
	stepCntChanged bool
	stepCntTimer   *reactor.Timer

	slab      *pool.Slab[sensor.SampleBatch]
	bias      [sensor.NumContinuous]BiasEstimator
	magDecode MagDecoder
}

// New creates a task. Start must be called to begin the boot sequence.
func New(cfg Config, loop *reactor.Reactor, sched *bus.Scheduler, fw sensor.Framework, opts ...Option) *Task {
	if cfg.AccRangeG != 16 {
		cfg.AccRangeG = 8
	}
	if cfg.IDRetries <= 0 {
		cfg.IDRetries = 5
	}
	if cfg.CalibrationRetries <= 0 {
		cfg.CalibrationRetries = 10
	}
	if cfg.SlabEvents <= 0 {
		cfg.SlabEvents = 20
	}
	if cfg.TimeSyncPeriod <= 0 {
		cfg.TimeSyncPeriod = 100 * time.Millisecond
	}
	t := &Task{
		cfg:       cfg,
		loop:      loop,
		bus:       sched,
		fw:        fw,
		sync:      timesync.New(),
		magDecode: decodeMagRaw,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = log.GetLogger("imu")
	}
	t.parser = fifo.NewParser(t.log.WithPrefix("fifo"))
	t.slab = pool.NewSlab(cfg.SlabEvents, func() *sensor.SampleBatch {
		b := &sensor.SampleBatch{}
		b.Reset(sensor.Accel)
		return b
	})
	t.state.Store(int32(StateBoot))
	return t
}

// Available reports whether the board carries ch.
func (t *Task) Available(ch sensor.Channel) bool {
	return ch != sensor.Mag || t.cfg.Magnetometer
}

// Start schedules the boot sequence on the loop.
func (t *Task) Start() {
	t.post("start", func() {
		t.setState(StateBoot)
		t.retries = t.cfg.IDRetries
		if now := t.loop.Now(); now < uint64(t.cfg.BootDelay) {
			t.loop.After(time.Duration(uint64(t.cfg.BootDelay)-now), func() { t.busDone(nil) })
			return
		}
		t.busDone(nil)
	})
}

// guard converts a panic in fn into a logged error.
func (t *Task) guard(what string, fn func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				t.log.WithError(errors.FromPanic(r)).Errorf("%s handler panicked", what)
			}
		}()
		fn()
	}
}

// complete queues a bus completion or a continuation the task posts to
// itself. These are never dropped: a lost one would leave the task in a
// transient state, or the time sync disarmed, for good.
func (t *Task) complete(what string, fn func()) {
	t.loop.Deliver(t.guard(what, fn))
}

// post runs fn on the loop.
func (t *Task) post(what string, fn func()) bool {
	ok := t.loop.Post(t.guard(what, fn))
	if !ok {
		t.log.Error("event queue full, dropping %s", what)
		t.metrics.Dropped("event")
	}
	return ok
}

// Power switches a channel on or off.
func (t *Task) Power(ch sensor.Channel, on bool) {
	t.post("power", func() { t.power(ch, on) })
}

// SetRate configures a channel rate and latency.
func (t *Task) SetRate(ch sensor.Channel, rate uint32, latency uint64) {
	t.post("set rate", func() {
		if err := t.setRate(ch, rate, latency); err != nil {
			t.log.Error("%v", err)
		}
	})
}

// Flush requests a flush marker after all data buffered for ch.
func (t *Task) Flush(ch sensor.Channel) {
	t.post("flush", func() { t.flush(ch) })
}

// Calibrate runs fast offset compensation on the accelerometer or gyro.
func (t *Task) Calibrate(ch sensor.Channel) {
	t.post("calibrate", func() { t.calibrate(ch) })
}

// SelfTest runs the accelerometer or gyro self-test.
func (t *Task) SelfTest(ch sensor.Channel) {
	t.post("self test", func() { t.selfTest(ch) })
}

// ConfigData pushes stored calibration to a channel.
func (t *Task) ConfigData(ch sensor.Channel, data CfgData) {
	t.post("config data", func() { t.configData(ch, data) })
}

// Int1 signals the FIFO watermark interrupt line.
func (t *Task) Int1() {
	t.post("int1", t.initiateFifoRead)
}

// Int2 signals the motion interrupt line.
func (t *Task) Int2() {
	t.post("int2", t.int2Event)
}

// StepCountLast posts the accumulated step total to the framework.
func (t *Task) StepCountLast() {
	t.post("step count", func() { t.fw.Event(sensor.StepCount, t.totalStepCnt) })
}

// Snapshot is a read-only view of the task for diagnostics.
type Snapshot struct {
	State        State
	Powered      [sensor.NumChannels]bool
	Watermark    uint8
	Temperature  float32
	TempValid    bool
	StepTotal    uint64
	SyncPoints   int
	PollGen      uint32
	BatchesInUse int
	Offsets      [sensor.NumContinuous][3]int32
	FifoStats    fifo.Stats
}

// Snapshot must be called on the loop.
func (t *Task) Snapshot() Snapshot {
	s := Snapshot{
		State:        t.State(),
		Watermark:    t.watermark,
		Temperature:  t.tempC,
		TempValid:    t.tempValid,
		StepTotal:    t.totalStepCnt,
		SyncPoints:   t.sync.Len(),
		PollGen:      t.pollGen,
		BatchesInUse: t.slab.InUse(),
		FifoStats:    t.parser.Stats(),
	}
	for i := range t.sensors {
		s.Powered[i] = t.sensors[i].powered
	}
	for i := 0; i < sensor.NumContinuous; i++ {
		s.Offsets[i] = t.sensors[i].offset
	}
	return s
}

// --- bus helpers ---

func (t *Task) write(addr, val byte, delay time.Duration) {
	if delay == 0 {
		delay = defaultDelay
	}
	if err := t.bus.QueueWrite(addr, val, delay); err != nil {
		t.metrics.BusError()
	}
}

func (t *Task) read(addr byte, n int, delay time.Duration) bus.Slot {
	slot, err := t.bus.QueueRead(addr, n, delay)
	if err != nil {
		t.metrics.BusError()
	}
	return slot
}

// submit sends the queued batch for ch; done runs on the loop.
func (t *Task) submit(ch sensor.Channel, done func(error)) {
	t.opCh = ch
	err := t.bus.Submit(func(err error) {
		t.complete("bus done", func() { done(err) })
	})
	if err != nil {
		// no completion will arrive; keep the state machine moving
		t.bus.Discard()
		t.metrics.BusError()
		t.complete("bus error", func() { done(err) })
	}
}

func (t *Task) submitStep(ch sensor.Channel) {
	t.submit(ch, t.busDone)
}

// busDone advances the state machine after a batch completes.
func (t *Task) busDone(err error) {
	if err != nil {
		t.metrics.BusError()
		t.log.WithError(err).Warnf("bus batch failed in %s", t.State())
	}

	returnIdle := false
	ch := t.opCh
	switch t.State() {
	case StateBoot:
		t.setState(StateVerifyID)
		t.read(bmi160.RegMagic, 1, magicReadWait)
		t.dataSlot = t.read(bmi160.RegID, 1, 0)
		t.submitStep(ch)
	case StateVerifyID:
		t.verifyID()
	case StateInitializing:
		if t.initStep == initDone {
			for c := sensor.Channel(0); c < sensor.NumChannels; c++ {
				if t.Available(c) {
					t.fw.InitComplete(c)
				}
			}
			t.log.Info("init complete")
			returnIdle = true
		} else {
			t.initSequence()
		}
	case StatePoweringUp:
		if ch >= sensor.Step {
			t.oneShotActive++
			if t.oneShotActive == 1 {
				t.fw.Request(sensor.Accel, sensor.HZ(50), sensor.LatencyNoData)
			}
		}
		t.fw.PowerStateChanged(ch, true)
		returnIdle = true
	case StatePoweringDown:
		if ch >= sensor.Step {
			t.oneShotActive--
			if t.oneShotActive == 0 {
				t.fw.Release(sensor.Accel)
			}
		}
		t.fw.PowerStateChanged(ch, false)
		t.dispatchPending()
		returnIdle = true
	case StateInt2Handling:
		if err == nil {
			t.int2Handling()
		}
		returnIdle = true
	case StateConfigChanging:
		s := &t.sensors[ch]
		t.fw.RateChanged(ch, s.rate, s.latency)
		t.dispatchPending()
		returnIdle = true
	case StateCalibrating:
		switch {
		case t.calStep == calDone:
			returnIdle = true
		case t.calStep == calTimeout:
			t.log.Error("%v", errors.Newf(errors.ErrCalTimeout, "%s calibration timed out", ch))
			t.fw.Packet(sensor.CalResult(sensor.Descriptors[ch].Type, sensor.StatusError, [3]int32{}))
			returnIdle = true
		default:
			t.calibrationStep(ch)
		}
	case StateTesting:
		if ch == sensor.Accel {
			if t.accTestStep == accTestDone {
				returnIdle = true
			} else {
				t.accSelfTestStep()
			}
		} else if ch == sensor.Gyro {
			if t.gyrTestStep == gyrTestDone {
				returnIdle = true
			} else {
				t.gyrSelfTestStep()
			}
		}
	case StateStepCountRead:
		if err == nil {
			t.sendStepCount()
		}
		returnIdle = true
	case StateTimeSync:
		t.timeSyncDone(err)
		returnIdle = true
	case StateSaveCalibration:
		d := t.dataSlot.Data()
		t.log.Debug("offsets read back % x", d)
		returnIdle = true
	}

	if returnIdle {
		t.setState(StateIdle)
		t.processPending()
	}
}

// processPending starts at most one deferred request, in fixed priority
// order. Requests that complete without bus traffic let the drain go on.
func (t *Task) processPending() {
	for t.State() == StateIdle {
		switch {
		case t.pendingInt1:
			t.pendingInt1 = false
			t.initiateFifoRead()
			return
		case t.pendingInt2:
			t.pendingInt2 = false
			t.int2Event()
			return
		case t.pendingTimeSync:
			t.pendingTimeSync = false
			t.timeSyncEvent(0, false)
			return
		}

		if ch, ok := t.nextPendingConfig(); ok {
			s := &t.sensors[ch]
			s.pending = false
			t.configEvent(ch, s.pendingCfg)
			continue
		}

		switch {
		case t.sensors[sensor.StepCount].flush > 0 || t.pendingStepCnt:
			t.pendingStepCnt = false
			t.stepCountRead()
			return
		case t.pendingCalSave:
			t.pendingCalSave = false
			t.saveCalibration()
			return
		case t.pendingHost:
			t.pendingHost = false
			t.sendHostUpdate()
		}
		return
	}
}

func (t *Task) nextPendingConfig() (sensor.Channel, bool) {
	for ch := sensor.Channel(0); ch < sensor.NumChannels; ch++ {
		if t.sensors[ch].pending {
			return ch, true
		}
	}
	return 0, false
}

func (t *Task) configEvent(ch sensor.Channel, cfg pendingConfig) {
	s := &t.sensors[ch]
	switch {
	case !cfg.enable && s.powered:
		t.power(ch, false)
	case cfg.enable && !s.powered:
		t.power(ch, true)
	default:
		if err := t.setRate(ch, cfg.rate, cfg.latency); err != nil {
			t.log.Error("%v", err)
		}
	}
}
