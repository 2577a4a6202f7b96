package imu

import (
	"fmt"
	"testing"
	"time"

	"imu-sensorhub/pkg/bmi160"
	"imu-sensorhub/pkg/sensor"
)

// stepEstimator settles on a fixed bias after a number of samples and then
// asks for a host update once.
type stepEstimator struct {
	after   int
	bias    [3]float32
	seen    int
	settled bool
	hostDue bool
	stored  [3]float32
}

func (e *stepEstimator) Update(ns uint64, x, y, z float32) { e.seen++ }

func (e *stepEstimator) NewBias() ([3]float32, bool) {
	if e.settled || e.seen < e.after {
		return [3]float32{}, false
	}
	e.settled, e.hostDue = true, true
	return e.bias, true
}

func (e *stepEstimator) Remove(x, y, z float32) (float32, float32, float32) {
	if !e.settled {
		return x, y, z
	}
	return x - e.bias[0], y - e.bias[1], z - e.bias[2]
}

func (e *stepEstimator) SetBias(b [3]float32)    { e.stored = b }
func (e *stepEstimator) HostUpdatePending() bool { return e.hostDue }

func (e *stepEstimator) HostUpdate() ([3]float32, bool) {
	if !e.hostDue {
		return [3]float32{}, false
	}
	e.hostDue = false
	return e.bias, true
}

func TestGyroBiasEstimator(t *testing.T) {
	est := &stepEstimator{after: 5, bias: [3]float32{0.5, -0.25, 0.125}}
	h := newHarness(t, DefaultConfig(), WithBiasEstimator(sensor.Gyro, est))
	h.boot()
	h.task.Power(sensor.Gyro, true)
	h.task.SetRate(sensor.Gyro, sensor.HZ(100), uint64(50*time.Millisecond))
	h.run(500 * time.Millisecond)

	var biases []sensor.SampleBatch
	for _, b := range h.fw.batches {
		if b.Bias {
			biases = append(biases, b)
		}
	}
	if len(biases) != 1 {
		t.Fatalf("got %d bias batches, want 1", len(biases))
	}
	b := biases[0]
	if b.Channel != sensor.Gyro || len(b.Samples) != 1 {
		t.Fatalf("bias batch = %s with %d samples", b.Channel, len(b.Samples))
	}
	if s := b.Samples[0]; s.X != 0.5 || s.Y != -0.25 || s.Z != 0.125 {
		t.Errorf("bias = (%v, %v, %v), want (0.5, -0.25, 0.125)", s.X, s.Y, s.Z)
	}

	got := h.fw.samples(sensor.Gyro)
	if len(got) <= est.after {
		t.Fatalf("got %d gyro samples", len(got))
	}
	// the simulated gyro reads zero on x and y; the sample that settles
	// the estimate is the first one corrected
	for i, s := range got {
		fixed := i >= est.after-1
		wantX := float32(0)
		if fixed {
			wantX = -0.5
		}
		if s.X != wantX || (fixed && s.Y != 0.25) {
			t.Errorf("sample %d = (%v, %v), want x %v", i, s.X, s.Y, wantX)
			break
		}
	}

	if len(h.fw.packets) != 1 {
		t.Fatalf("got %d packets, want one host update", len(h.fw.packets))
	}
	want := sensor.CalResult(sensor.TypeGyro, sensor.StatusSuccess, [3]int32{500000, -250000, 125000})
	if p := h.fw.packets[0]; p != want {
		t.Errorf("host update = %+v, want %+v", p, want)
	}
	if est.hostDue {
		t.Error("host update still pending")
	}
	if h.task.slab.InUse() != 0 {
		t.Errorf("slab in use = %d, want 0", h.task.slab.InUse())
	}
}

func TestHostUpdateDrainsLast(t *testing.T) {
	est := &stepEstimator{bias: [3]float32{0, 0, 1}, settled: true}
	h := newHarness(t, DefaultConfig(), WithBiasEstimator(sensor.Gyro, est))
	h.boot()
	h.task.Power(sensor.AnyMotion, true)
	h.run(10 * time.Millisecond)
	h.fw.calls = nil

	// latch the detector status without raising INT2
	h.dev.OnInt2 = nil
	h.dev.TriggerInt2([4]byte{bmi160.IntAnyMotion, 0, 0x01, 0})
	h.dev.OnInt2 = h.task.Int2

	h.loop.Post(func() {
		est.hostDue = true
		h.task.pendingHost = true
		h.task.pendingInt2 = true
		h.task.processPending()
	})
	h.run(50 * time.Millisecond)

	want := []string{"event any_motion", "packet"}
	if fmt.Sprint(h.fw.calls) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", h.fw.calls, want)
	}
	if len(h.fw.packets) == 1 && h.fw.packets[0].Bias != [3]int32{0, 0, 1000000} {
		t.Errorf("host update bias = %v", h.fw.packets[0].Bias)
	}
	if s := h.task.State(); s != StateIdle {
		t.Errorf("state = %s, want idle", s)
	}
}
