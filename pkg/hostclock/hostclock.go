// Package hostclock supplies the host monotonic time base used to stamp
// sensor samples and to schedule event-loop timers.
package hostclock

import (
	"sync"
	"time"
)

// Clock returns monotonic host time in nanoseconds.
type Clock interface {
	NowNs() uint64
}

// Fake is a manually advanced clock for deterministic tests.
type Fake struct {
	mu  sync.Mutex
	now uint64
}

// NewFake returns a fake clock starting at startNs.
func NewFake(startNs uint64) *Fake {
	return &Fake{now: startNs}
}

func (f *Fake) NowNs() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now += uint64(d)
	f.mu.Unlock()
}

// Set jumps the clock to an absolute value.
func (f *Fake) Set(ns uint64) {
	f.mu.Lock()
	f.now = ns
	f.mu.Unlock()
}
