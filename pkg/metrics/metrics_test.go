// Unit tests for the metric primitives
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"strings"
	"sync"
	"testing"
)

func TestCounter(t *testing.T) {
	c := NewCounter("test_counter", "A test counter")
	if v := c.Get(nil); v != 0 {
		t.Errorf("Get() = %d, want 0", v)
	}
	c.Inc(nil)
	c.Add(nil, 10)
	if v := c.Get(nil); v != 11 {
		t.Errorf("Get() = %d, want 11", v)
	}

	get := Labels{"method": "GET"}
	c.Inc(get)
	if v := c.Get(get); v != 1 {
		t.Errorf("Get(GET) = %d, want 1", v)
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("temp", "Temperature")
	g.Set(nil, 25.5)
	g.Add(nil, -0.5)
	if v := g.Get(nil); v != 25 {
		t.Errorf("Get() = %v, want 25", v)
	}
}

func TestHistogramBuckets(t *testing.T) {
	h := NewHistogram("lat", "Latency", []float64{1, 0.1})
	h.Observe(nil, 0.05)
	h.Observe(nil, 0.5)
	h.Observe(nil, 5)
	if n := h.Count(nil); n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}

	var sb strings.Builder
	h.Write(&sb)
	out := sb.String()
	for _, want := range []string{
		`lat_bucket{le="0.1"} 1`,
		`lat_bucket{le="1"} 2`,
		`lat_bucket{le="+Inf"} 3`,
		`lat_count 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLabelsFormatting(t *testing.T) {
	l := Labels{"b": "2", "a": `x"y`}
	if got, want := l.String(), `{a="x\"y",b="2"}`; got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}
	if got, want := l.Key(), `a=x"y,b=2`; got != want {
		t.Errorf("Key() = %s, want %s", got, want)
	}
	if Labels(nil).String() != "" {
		t.Error("empty labels should render empty")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	c := NewCounter("b_total", "B")
	g := NewGauge("a_value", "A")
	if err := r.Register(c); err != nil {
		t.Fatal(err)
	}
	r.MustRegister(g)
	if err := r.Register(NewCounter("b_total", "dup")); err == nil {
		t.Error("duplicate registration should fail")
	}
	c.Inc(nil)
	g.Set(nil, 2)

	out := r.Gather()
	if !strings.Contains(out, "# TYPE b_total counter") || !strings.Contains(out, "a_value 2") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if strings.Index(out, "a_value") > strings.Index(out, "b_total") {
		t.Error("metrics should be sorted by name")
	}
}

func TestCounterConcurrent(t *testing.T) {
	c := NewCounter("c", "C")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Inc(Labels{"k": "v"})
			}
		}()
	}
	wg.Wait()
	if v := c.Get(Labels{"k": "v"}); v != 8000 {
		t.Errorf("Get() = %d, want 8000", v)
	}
}

func TestSensorMetricsNilSafe(t *testing.T) {
	var m *SensorMetrics
	m.Drain()
	m.AddSamples("accel", 3)
	m.Transition("idle")
	m.SetTemperature(30)
	if m.Gather() != "" {
		t.Error("nil metrics should gather nothing")
	}
}

func TestSensorMetrics(t *testing.T) {
	m := NewSensorMetrics()
	m.AddSamples("accel", 15)
	m.AddSamples("accel", 0)
	m.Transition("idle")
	m.Transition("idle")
	m.Dropped("slab")
	m.SetWatermark(10)

	if n := m.Samples("accel"); n != 15 {
		t.Errorf("Samples(accel) = %d, want 15", n)
	}
	if n := m.Transitions("idle"); n != 2 {
		t.Errorf("Transitions(idle) = %d, want 2", n)
	}
	out := m.Gather()
	for _, want := range []string{
		`imu_samples_total{channel="accel"} 15`,
		`imu_dropped_total{reason="slab"} 1`,
		`imu_fifo_watermark 10`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}
