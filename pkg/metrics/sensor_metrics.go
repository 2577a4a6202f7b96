package metrics

import "time"

// SensorMetrics holds the sensor task metrics. All methods are safe on a
// nil receiver so the task runs unchanged without metrics.
type SensorMetrics struct {
	registry *Registry

	drains      *Counter
	samples     *Counter
	busErrors   *Counter
	corrupted   *Counter
	dropped     *Counter
	transitions *Counter
	initFailed  *Counter
	temperature *Gauge
	watermark   *Gauge
	stepTotal   *Gauge
	busLatency  *Histogram
}

// NewSensorMetrics creates the metrics in a fresh registry.
func NewSensorMetrics() *SensorMetrics {
	m := &SensorMetrics{
		registry:    NewRegistry(),
		drains:      NewCounter("imu_fifo_drains_total", "FIFO deliveries parsed"),
		samples:     NewCounter("imu_samples_total", "Samples emitted per channel"),
		busErrors:   NewCounter("imu_bus_errors_total", "Failed bus batches"),
		corrupted:   NewCounter("imu_fifo_corrupt_total", "FIFO deliveries with a malformed header"),
		dropped:     NewCounter("imu_dropped_total", "Samples or events dropped, by reason"),
		transitions: NewCounter("imu_state_transitions_total", "Task state entries"),
		initFailed:  NewCounter("imu_init_failures_total", "Device detections given up"),
		temperature: NewGauge("imu_temperature_celsius", "Die temperature"),
		watermark:   NewGauge("imu_fifo_watermark", "FIFO watermark in 4-byte units"),
		stepTotal:   NewGauge("imu_step_count", "Accumulated step count"),
		busLatency: NewHistogram("imu_bus_batch_seconds", "Bus batch duration",
			ExponentialBuckets(0.0001, 4, 8)),
	}
	for _, x := range []Metric{
		m.drains, m.samples, m.busErrors, m.corrupted, m.dropped, m.transitions,
		m.initFailed, m.temperature, m.watermark, m.stepTotal, m.busLatency,
	} {
		m.registry.MustRegister(x)
	}
	return m
}

// Registry returns the backing registry.
func (m *SensorMetrics) Registry() *Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Gather renders all sensor metrics.
func (m *SensorMetrics) Gather() string {
	if m == nil {
		return ""
	}
	return m.registry.Gather()
}

func (m *SensorMetrics) Drain() {
	if m != nil {
		m.drains.Inc(nil)
	}
}

func (m *SensorMetrics) AddSamples(ch string, n int) {
	if m != nil && n > 0 {
		m.samples.Add(Labels{"channel": ch}, uint64(n))
	}
}

func (m *SensorMetrics) BusError() {
	if m != nil {
		m.busErrors.Inc(nil)
	}
}

func (m *SensorMetrics) Corrupted() {
	if m != nil {
		m.corrupted.Inc(nil)
	}
}

func (m *SensorMetrics) Dropped(reason string) {
	if m != nil {
		m.dropped.Inc(Labels{"reason": reason})
	}
}

func (m *SensorMetrics) Transition(state string) {
	if m != nil {
		m.transitions.Inc(Labels{"state": state})
	}
}

func (m *SensorMetrics) InitFailed() {
	if m != nil {
		m.initFailed.Inc(nil)
	}
}

func (m *SensorMetrics) SetTemperature(c float64) {
	if m != nil {
		m.temperature.Set(nil, c)
	}
}

func (m *SensorMetrics) SetWatermark(wm int) {
	if m != nil {
		m.watermark.Set(nil, float64(wm))
	}
}

func (m *SensorMetrics) SetStepTotal(n uint64) {
	if m != nil {
		m.stepTotal.Set(nil, float64(n))
	}
}

// ObserveBus records how long one bus batch took.
func (m *SensorMetrics) ObserveBus(d time.Duration) {
	if m != nil {
		m.busLatency.Observe(nil, d.Seconds())
	}
}

// Samples returns the emitted sample count of a channel.
func (m *SensorMetrics) Samples(ch string) uint64 {
	if m == nil {
		return 0
	}
	return m.samples.Get(Labels{"channel": ch})
}

// Transitions returns how often state was entered.
func (m *SensorMetrics) Transitions(state string) uint64 {
	if m == nil {
		return 0
	}
	return m.transitions.Get(Labels{"state": state})
}
