// Package reactor provides the serial event loop that owns all sensor task
// state. Interrupt watchers and bus completions never touch task state
// directly; they Post a closure which the loop runs one at a time.
package reactor

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"imu-sensorhub/pkg/hostclock"
	"imu-sensorhub/pkg/log"
)

// Wake times are host nanoseconds.
const (
	NOW   uint64 = 0
	NEVER uint64 = math.MaxUint64
)

// DefaultQueueLen bounds the private event queue.
const DefaultQueueLen = 64

var (
	ErrReactorClosed = errors.New("reactor: reactor closed")
	ErrRunning       = errors.New("reactor: already running")
)

// TimerCallback is called when a timer fires.
// The callback receives the event time and returns the next wake time.
// Return NEVER to disarm the timer.
type TimerCallback func(eventtime uint64) uint64

// Timer represents a registered timer.
type Timer struct {
	id       uint64
	callback TimerCallback
	waketime uint64
	running  bool
	removed  bool
	oneshot  bool
}

// Reactor manages timers and the posted-event queue.
type Reactor struct {
	mu          sync.Mutex
	timers      []*Timer
	nextTimerID uint64

	queue    chan func()
	overflow []func()
	kick     chan struct{}
	clock    hostclock.Clock
	log      *log.Logger
	dropped  atomic.Uint64

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Reactor on the given clock.
func New(clock hostclock.Clock, queueLen int) *Reactor {
	if queueLen <= 0 {
		queueLen = DefaultQueueLen
	}
	return &Reactor{
		queue: make(chan func(), queueLen),
		kick:  make(chan struct{}, 1),
		clock: clock,
		log:   log.GetLogger("reactor"),
	}
}

// Now returns the current host time in nanoseconds.
func (r *Reactor) Now() uint64 {
	return r.clock.NowNs()
}

// Post enqueues fn for the loop. It never blocks and reports false when the
// queue is full, so it is safe from interrupt-watcher goroutines.
func (r *Reactor) Post(fn func()) bool {
	select {
	case r.queue <- fn:
		return true
	default:
		n := r.dropped.Add(1)
		r.log.Warn("event queue full (%d slots), %d events dropped", cap(r.queue), n)
		return false
	}
}

// Deliver is Post for events that must not be lost, such as bus
// completions. It never blocks; when the queue is full fn waits on an
// overflow list that the loop serves ahead of the queue.
func (r *Reactor) Deliver(fn func()) {
	select {
	case r.queue <- fn:
		return
	default:
	}
	r.mu.Lock()
	r.overflow = append(r.overflow, fn)
	r.mu.Unlock()
	r.wakeup()
}

// Dropped returns how many posts were refused because the queue was full.
func (r *Reactor) Dropped() uint64 {
	return r.dropped.Load()
}

// RegisterTimer registers a new timer with the given callback and wake time.
func (r *Reactor) RegisterTimer(callback TimerCallback, waketime uint64) *Timer {
	return r.register(callback, waketime, false)
}

func (r *Reactor) register(callback TimerCallback, waketime uint64, oneshot bool) *Timer {
	r.mu.Lock()
	r.nextTimerID++
	timer := &Timer{
		id:       r.nextTimerID,
		callback: callback,
		waketime: waketime,
		oneshot:  oneshot,
	}
	r.timers = append(r.timers, timer)
	r.mu.Unlock()
	r.wakeup()
	return timer
}

// UnregisterTimer removes a timer. Safe to call from inside its callback.
func (r *Reactor) UnregisterTimer(timer *Timer) {
	if timer == nil {
		return
	}
	r.mu.Lock()
	r.removeLocked(timer)
	r.mu.Unlock()
}

func (r *Reactor) removeLocked(timer *Timer) {
	timer.waketime = NEVER
	timer.removed = true
	for i, t := range r.timers {
		if t.id == timer.id {
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			break
		}
	}
}

// UpdateTimer changes a timer's wake time.
func (r *Reactor) UpdateTimer(timer *Timer, waketime uint64) {
	r.mu.Lock()
	if !timer.removed {
		timer.waketime = waketime
	}
	r.mu.Unlock()
	r.wakeup()
}

// After arms a one-shot timer firing fn once d has elapsed.
func (r *Reactor) After(d time.Duration, fn func()) *Timer {
	return r.register(func(uint64) uint64 {
		fn()
		return NEVER
	}, r.Now()+uint64(d), true)
}

func (r *Reactor) wakeup() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// RunPending runs every queued event and every due timer, repeating until
// nothing is left to do at the current clock reading. It returns the number
// of callbacks run. Tests drive the loop with it on a fake clock.
func (r *Reactor) RunPending() int {
	total := 0
	for {
		n := r.processQueue()
		fired, _ := r.checkTimers(r.Now())
		n += fired
		total += n
		if n == 0 {
			return total
		}
	}
}

// Run executes the dispatch loop until ctx is cancelled or End is called.
func (r *Reactor) Run(ctx context.Context) error {
	if r.running.Swap(true) {
		return ErrRunning
	}
	defer r.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		r.processQueue()
		_, next := r.checkTimers(r.Now())

		delay := time.Second
		if next != NEVER {
			now := r.Now()
			if next <= now {
				continue
			}
			if d := time.Duration(next - now); d < delay {
				delay = d
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(delay)

		select {
		case fn := <-r.queue:
			fn()
		case <-r.kick:
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Start runs the loop on its own goroutine.
func (r *Reactor) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.Run(ctx)
	}()
}

// End signals the loop to stop.
func (r *Reactor) End() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait waits for a loop started with Start to return.
func (r *Reactor) Wait() {
	r.wg.Wait()
}

func (r *Reactor) processQueue() int {
	r.mu.Lock()
	held := r.overflow
	r.overflow = nil
	r.mu.Unlock()
	for _, fn := range held {
		fn()
	}

	n := len(held)
	for {
		select {
		case fn := <-r.queue:
			fn()
			n++
		default:
			return n
		}
	}
}

// checkTimers fires due timers and returns how many fired together with
// the earliest remaining wake time.
func (r *Reactor) checkTimers(eventtime uint64) (int, uint64) {
	r.mu.Lock()
	var due []*Timer
	for _, t := range r.timers {
		if !t.running && t.waketime <= eventtime {
			t.waketime = NEVER
			t.running = true
			due = append(due, t)
		}
	}
	r.mu.Unlock()

	for _, t := range due {
		next := t.callback(eventtime)
		r.mu.Lock()
		t.running = false
		if t.oneshot && !t.removed {
			r.removeLocked(t)
		} else if !t.removed && next < t.waketime {
			t.waketime = next
		}
		r.mu.Unlock()
	}

	r.mu.Lock()
	nextWake := NEVER
	for _, t := range r.timers {
		if t.waketime < nextWake {
			nextWake = t.waketime
		}
	}
	r.mu.Unlock()
	return len(due), nextWake
}
