// Package irq watches the chip interrupt lines. Watchers only forward edges
// to a callback that queues work on the task loop.
package irq

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// pollTimeout bounds how long a cancelled watcher keeps waiting.
const pollTimeout = 100 * time.Millisecond

// Line is one interrupt input configured for rising edges.
type Line struct {
	pin gpio.PinIn
}

// Open looks up a pin by its periph name and arms it.
func Open(name string) (*Line, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.Errorf("gpio %q not found", name)
	}
	return New(p)
}

// New arms an already resolved pin.
func New(pin gpio.PinIn) (*Line, error) {
	if err := pin.In(gpio.PullNoChange, gpio.RisingEdge); err != nil {
		return nil, errors.Wrapf(err, "configure %s for rising edges", pin)
	}
	return &Line{pin: pin}, nil
}

// Level reports whether the line is asserted.
func (l *Line) Level() bool {
	return l.pin.Read() == gpio.High
}

// Watch calls fn for every rising edge until ctx is done. It returns
// ctx.Err() and disarms edge detection on the way out.
func (l *Line) Watch(ctx context.Context, fn func()) error {
	defer l.pin.In(gpio.PullNoChange, gpio.NoEdge)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.pin.WaitForEdge(pollTimeout) {
			fn()
		}
	}
}

func (l *Line) String() string {
	return l.pin.String()
}
