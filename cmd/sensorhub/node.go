package main

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"imu-sensorhub/pkg/bus"
	"imu-sensorhub/pkg/config"
	"imu-sensorhub/pkg/hostclock"
	"imu-sensorhub/pkg/imu"
	"imu-sensorhub/pkg/irq"
	"imu-sensorhub/pkg/log"
	"imu-sensorhub/pkg/metrics"
	"imu-sensorhub/pkg/reactor"
	"imu-sensorhub/pkg/sensor"
	"imu-sensorhub/pkg/sim"
)

const (
	eventQueueLen = 1024
	simTick       = time.Millisecond
	int1PollTick  = 10 * time.Millisecond
	readyTimeout  = 3 * time.Second
)

// node is the assembled sensor stack: loop, bus, task and hub.
type node struct {
	opts    *config.Options
	log     *log.Logger
	loop    *reactor.Reactor
	sched   *bus.Scheduler
	hub     *sensor.Hub
	task    *imu.Task
	metrics *metrics.SensorMetrics

	sim        *sim.Device
	int1, int2 *irq.Line
	closers    []func() error
	desc       string
}

func engineConfig(o *config.Options) imu.Config {
	return imu.Config{
		AccRangeG:          o.Engine.AccRangeG,
		StepCountSensitive: o.Engine.StepCountSensitive,
		TimeSyncPeriod:     o.Engine.TimeSyncPeriod,
		IDRetries:          o.Engine.IDRetries,
		IDRetryDelay:       o.Engine.IDRetryDelay,
		CalibrationRetries: o.Engine.CalibrationRetries,
		SlabEvents:         o.Engine.SlabEvents,
		BootDelay:          o.Engine.BootDelay,
		Magnetometer:       o.Device.Magnetometer,
	}
}

// newNode opens the device (or the simulator) and wires the task.
func newNode(opts *config.Options, simulate bool) (*node, error) {
	n := &node{
		opts:    opts,
		log:     log.GetLogger("sensorhub"),
		loop:    reactor.New(hostclock.Monotonic{}, eventQueueLen),
		hub:     sensor.NewHub(log.GetLogger("hub")),
		metrics: metrics.NewSensorMetrics(),
	}

	var drv bus.Driver
	if simulate {
		n.sim = sim.New(hostclock.Monotonic{})
		drv = n.sim
		n.desc = "simulated bmi160"
	} else {
		d, err := n.openBus()
		if err != nil {
			n.close()
			return nil, err
		}
		drv = d
		n.desc = d.String()
	}
	n.sched = bus.NewScheduler(drv, log.GetLogger("bus"))

	taskOpts := []imu.Option{
		imu.WithLogger(log.GetLogger("imu")),
		imu.WithMetrics(n.metrics),
	}
	switch {
	case n.sim != nil:
		taskOpts = append(taskOpts, imu.WithInt1Level(n.sim.Int1Level))
	case n.int1 != nil:
		taskOpts = append(taskOpts, imu.WithInt1Level(n.int1.Level))
	}
	n.task = imu.New(engineConfig(opts), n.loop, n.sched, n.hub, taskOpts...)
	n.hub.SetController(n.task)
	if !opts.Device.Magnetometer {
		n.hub.Disable(sensor.Mag)
	}
	if n.sim != nil {
		n.sim.OnInt1 = n.task.Int1
		n.sim.OnInt2 = n.task.Int2
	}
	return n, nil
}

func (n *node) openBus() (*bus.PeriphDriver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	d := n.opts.Device

	var drv *bus.PeriphDriver
	switch d.Bus {
	case "i2c":
		b, err := i2creg.Open(d.I2CBus)
		if err != nil {
			return nil, fmt.Errorf("open i2c bus %q: %w", d.I2CBus, err)
		}
		n.closers = append(n.closers, b.Close)
		drv = bus.OpenI2C(b, d.I2CAddr)
	default:
		p, err := spireg.Open(d.SPIPort)
		if err != nil {
			return nil, fmt.Errorf("open spi port %q: %w", d.SPIPort, err)
		}
		n.closers = append(n.closers, p.Close)
		drv, err = bus.OpenSPI(p, d.SPISpeedHz, d.SPIMode)
		if err != nil {
			return nil, err
		}
	}

	var err error
	if d.Int1Pin != "" {
		if n.int1, err = irq.Open(d.Int1Pin); err != nil {
			return nil, err
		}
	} else {
		n.log.Warn("no int1 pin configured, polling the FIFO every %v", int1PollTick)
	}
	if d.Int2Pin != "" {
		if n.int2, err = irq.Open(d.Int2Pin); err != nil {
			return nil, err
		}
	} else {
		n.log.Warn("no int2 pin configured, motion detectors will not report")
	}
	return drv, nil
}

// start launches the loop and the interrupt sources on g and boots the task.
func (n *node) start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return ignoreCancel(n.loop.Run(ctx)) })

	switch {
	case n.sim != nil:
		g.Go(func() error { return tick(ctx, simTick, n.sim.Advance) })
	default:
		if n.int1 != nil {
			g.Go(func() error { return ignoreCancel(n.int1.Watch(ctx, n.task.Int1)) })
		} else {
			g.Go(func() error { return tick(ctx, int1PollTick, n.task.Int1) })
		}
		if n.int2 != nil {
			g.Go(func() error { return ignoreCancel(n.int2.Watch(ctx, n.task.Int2)) })
		}
	}
	n.task.Start()
}

// waitReady blocks until the task finished init.
func (n *node) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		if n.ready() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s not ready, task in state %s", n.desc, n.task.State())
		case <-t.C:
		}
	}
}

func (n *node) ready() bool {
	switch n.task.State() {
	case imu.StateBoot, imu.StateVerifyID, imu.StateInitializing:
		return false
	}
	return true
}

// snapshot reads the task state on its loop.
func (n *node) snapshot(ctx context.Context) (imu.Snapshot, error) {
	ch := make(chan imu.Snapshot, 1)
	if !n.loop.Post(func() { ch <- n.task.Snapshot() }) {
		return imu.Snapshot{}, fmt.Errorf("event queue full")
	}
	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return imu.Snapshot{}, ctx.Err()
	}
}

// pushCalibration sends stored offsets to the chip.
func (n *node) pushCalibration() error {
	path := n.opts.Engine.CalibrationFile
	if path == "" {
		return nil
	}
	cal, err := config.LoadCalibration(path)
	if err != nil {
		return err
	}
	if cal.Accel != nil {
		n.task.ConfigData(sensor.Accel, imu.CfgData{Offset: cal.Accel.Array()})
	}
	if cal.Gyro != nil {
		n.task.ConfigData(sensor.Gyro, imu.CfgData{Offset: cal.Gyro.Array(), HasBias: true})
	}
	return nil
}

func (n *node) close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](); err != nil {
			n.log.WithError(err).Warn("close")
		}
	}
	n.closers = nil
}

func tick(ctx context.Context, d time.Duration, fn func()) error {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			fn()
		}
	}
}

func ignoreCancel(err error) error {
	if err == context.Canceled || err == context.DeadlineExceeded {
		return nil
	}
	return err
}
