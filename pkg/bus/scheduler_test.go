package bus

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	herrors "imu-sensorhub/pkg/errors"
	"imu-sensorhub/pkg/log"
)

// holdDriver records batches and completes them only when told to.
type holdDriver struct {
	mu      sync.Mutex
	batches [][]Op
	pending []func(error)
	fail    error
}

func (d *holdDriver) Transfer(ops []Op, buf []byte, done func(error)) error {
	if d.fail != nil {
		return d.fail
	}
	d.mu.Lock()
	d.batches = append(d.batches, ops)
	d.pending = append(d.pending, done)
	d.mu.Unlock()
	return nil
}

func (d *holdDriver) complete(err error) {
	d.mu.Lock()
	done := d.pending[0]
	d.pending = d.pending[1:]
	d.mu.Unlock()
	done(err)
}

func quietLogger() *log.Logger {
	l := log.New("bus")
	l.SetWriter(io.Discard)
	return l
}

func TestQueueAndSubmit(t *testing.T) {
	drv := &holdDriver{}
	s := NewScheduler(drv, quietLogger())

	if err := s.QueueWrite(0x7e, 0xb6, 100*time.Millisecond); err != nil {
		t.Fatalf("QueueWrite: %v", err)
	}
	slot, err := s.QueueRead(0x00, 1, 0)
	if err != nil {
		t.Fatalf("QueueRead: %v", err)
	}
	if slot.Offset() != 2 {
		t.Errorf("slot offset = %d, want 2", slot.Offset())
	}

	var got error
	calls := 0
	if err := s.Submit(func(err error) { got = err; calls++ }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() after submit = %d, want 0", s.Pending())
	}
	if !s.Busy() {
		t.Error("Busy() = false after submit")
	}

	ops := drv.batches[0]
	if len(ops) != 2 || !ops[0].Write || ops[0].Delay != 100*time.Millisecond || ops[1].Len != 2 {
		t.Errorf("batch ops = %+v", ops)
	}

	s.Buffer()[slot.Offset()+1] = 0xd1
	drv.complete(nil)
	if calls != 1 || got != nil {
		t.Errorf("done called %d times with %v", calls, got)
	}
	if s.Busy() {
		t.Error("Busy() = true after completion")
	}
	if slot.Data()[0] != 0xd1 {
		t.Errorf("slot data = %#x, want 0xd1", slot.Data()[0])
	}
}

func TestSubmitWhileBusyRejected(t *testing.T) {
	drv := &holdDriver{}
	s := NewScheduler(drv, quietLogger())
	s.QueueWrite(0x40, 0x28, 0)
	if err := s.Submit(func(error) {}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	for i := 0; i < 2; i++ {
		err := s.Submit(func(error) { t.Error("rejected submit completed") })
		if !herrors.Is(err, herrors.ErrBusBusy) {
			t.Errorf("Submit #%d while busy = %v, want BUS_BUSY", i+2, err)
		}
	}
	if len(drv.batches) != 1 || len(drv.batches[0]) != 1 || drv.batches[0][0].Addr != 0x40 {
		t.Errorf("in-flight batch changed: %+v", drv.batches)
	}
	if !s.Busy() {
		t.Error("Busy() = false, in-flight batch lost")
	}

	if err := s.QueueWrite(0x41, 0x08, 0); !herrors.Is(err, herrors.ErrBusBusy) {
		t.Errorf("QueueWrite while busy = %v, want BUS_BUSY", err)
	}
	if _, err := s.QueueRead(0x00, 1, 0); !herrors.Is(err, herrors.ErrBusBusy) {
		t.Errorf("QueueRead while busy = %v, want BUS_BUSY", err)
	}

	drv.complete(nil)
	if err := s.QueueWrite(0x41, 0x08, 0); err != nil {
		t.Errorf("QueueWrite after completion: %v", err)
	}
}

func TestOverflow(t *testing.T) {
	s := NewScheduler(&holdDriver{}, quietLogger())
	for i := 0; i < MaxOps; i++ {
		if err := s.QueueWrite(0x50, 0, 0); err != nil {
			t.Fatalf("QueueWrite #%d: %v", i, err)
		}
	}
	if err := s.QueueWrite(0x50, 0, 0); !herrors.Is(err, herrors.ErrBusOverflow) {
		t.Errorf("op table overflow = %v, want BUS_OVERFLOW", err)
	}
	if s.Pending() != MaxOps {
		t.Errorf("Pending() = %d, want %d", s.Pending(), MaxOps)
	}

	s.Discard()
	if _, err := s.QueueRead(0x24, BufSize, 0); !herrors.Is(err, herrors.ErrBusOverflow) {
		t.Errorf("buffer overflow = %v, want BUS_OVERFLOW", err)
	}
	if _, err := s.QueueRead(0x24, FifoReadSize, 0); err != nil {
		t.Errorf("full FIFO read: %v", err)
	}
}

func TestSubmitEmpty(t *testing.T) {
	s := NewScheduler(&holdDriver{}, quietLogger())
	if err := s.Submit(func(error) {}); !herrors.Is(err, herrors.ErrBusEmpty) {
		t.Errorf("empty Submit = %v, want BUS_EMPTY", err)
	}
}

func TestDriverErrors(t *testing.T) {
	drv := &holdDriver{}
	s := NewScheduler(drv, quietLogger())
	s.QueueWrite(0x7e, 0x11, 0)
	var got error
	s.Submit(func(err error) { got = err })
	drv.complete(errors.New("nak"))
	if !herrors.Is(got, herrors.ErrBusTransfer) {
		t.Errorf("completion error = %v, want BUS_TRANSFER", got)
	}
	if _, failed := s.Stats(); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}

	drv.fail = errors.New("closed")
	s.QueueWrite(0x7e, 0x11, 0)
	if err := s.Submit(func(error) {}); !herrors.Is(err, herrors.ErrBusTransfer) {
		t.Errorf("sync driver failure = %v, want BUS_TRANSFER", err)
	}
	if s.Busy() {
		t.Error("Busy() stuck after synchronous driver failure")
	}
}

func TestSetCursor(t *testing.T) {
	s := NewScheduler(&holdDriver{}, quietLogger())
	s.SetCursor(100)
	slot, _ := s.QueueRead(0x24, 64, 0)
	if slot.Offset() != 100 || len(slot.Raw()) != 65 {
		t.Errorf("slot at %d len %d, want 100 len 65", slot.Offset(), len(slot.Raw()))
	}
	s.Discard()
	s.SetCursor(FifoReadSize + 1)
	slot, _ = s.QueueRead(0x24, 64, 0)
	if slot.Offset() != 0 {
		t.Errorf("out of range cursor gave offset %d, want 0", slot.Offset())
	}
	if !bytes.Equal(slot.Raw()[:1], []byte{0x24}) {
		t.Errorf("address slot = % x", slot.Raw()[:1])
	}
}
