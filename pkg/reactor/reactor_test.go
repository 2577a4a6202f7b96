package reactor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"imu-sensorhub/pkg/hostclock"
)

func TestPostRunsInOrder(t *testing.T) {
	r := New(hostclock.NewFake(0), 8)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		if !r.Post(func() { order = append(order, i) }) {
			t.Fatalf("Post(%d) refused", i)
		}
	}
	if n := r.RunPending(); n != 3 {
		t.Errorf("RunPending() = %d, want 3", n)
	}
	for i, v := range order {
		if v != i {
			t.Errorf("order[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestPostQueueFull(t *testing.T) {
	r := New(hostclock.NewFake(0), 2)
	r.Post(func() {})
	r.Post(func() {})
	if r.Post(func() {}) {
		t.Error("Post on full queue = true, want false")
	}
	if r.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", r.Dropped())
	}
}

func TestDeliverOnFullQueue(t *testing.T) {
	r := New(hostclock.NewFake(0), 1)
	var got []string
	r.Post(func() { got = append(got, "queued") })
	r.Deliver(func() { got = append(got, "completion") })
	r.Deliver(func() { got = append(got, "completion") })
	if r.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", r.Dropped())
	}
	if n := r.RunPending(); n != 3 {
		t.Errorf("RunPending() = %d, want 3", n)
	}
	if len(got) != 3 || got[0] != "completion" || got[2] != "queued" {
		t.Errorf("ran %v, want overflow before queue", got)
	}

	// the overflow list is empty again
	if n := r.RunPending(); n != 0 {
		t.Errorf("second RunPending() = %d, want 0", n)
	}
}

func TestTimerFiresWhenDue(t *testing.T) {
	clk := hostclock.NewFake(0)
	r := New(clk, 8)

	var called int
	r.After(10*time.Millisecond, func() { called++ })

	r.RunPending()
	if called != 0 {
		t.Fatalf("timer fired early")
	}
	clk.Advance(10 * time.Millisecond)
	r.RunPending()
	if called != 1 {
		t.Errorf("timer called %d times, want 1", called)
	}
	clk.Advance(time.Second)
	r.RunPending()
	if called != 1 {
		t.Errorf("one-shot timer called %d times, want 1", called)
	}
}

func TestTimerRepeat(t *testing.T) {
	clk := hostclock.NewFake(0)
	r := New(clk, 8)

	var called int
	r.RegisterTimer(func(eventtime uint64) uint64 {
		called++
		if called < 3 {
			return eventtime + uint64(time.Millisecond)
		}
		return NEVER
	}, NOW)

	for i := 0; i < 5; i++ {
		r.RunPending()
		clk.Advance(time.Millisecond)
	}
	if called != 3 {
		t.Errorf("timer called %d times, want 3", called)
	}
}

func TestUnregisterTimer(t *testing.T) {
	clk := hostclock.NewFake(0)
	r := New(clk, 8)

	var called int
	timer := r.After(time.Millisecond, func() { called++ })
	r.UnregisterTimer(timer)
	clk.Advance(time.Second)
	r.RunPending()
	if called != 0 {
		t.Errorf("unregistered timer fired %d times", called)
	}
}

func TestRunProcessesPostsFromOtherGoroutines(t *testing.T) {
	r := New(hostclock.Monotonic{}, 8)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	var count atomic.Int32
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			for !r.Post(func() {
				if count.Add(1) == 5 {
					close(done)
				}
			}) {
				time.Sleep(time.Millisecond)
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("posted events were not run")
	}
	cancel()
	r.Wait()
}

func TestRunRejectsSecondLoop(t *testing.T) {
	r := New(hostclock.Monotonic{}, 8)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	defer func() {
		cancel()
		r.Wait()
	}()

	deadline := time.Now().Add(time.Second)
	for !r.running.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := r.Run(ctx); err != ErrRunning {
		t.Errorf("second Run() = %v, want %v", err, ErrRunning)
	}
}
