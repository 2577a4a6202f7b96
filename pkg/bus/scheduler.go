// Register transaction batching for the IMU bus
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package bus batches register reads and writes into one shared I/O buffer
// and submits them as a single asynchronous transfer. At most one batch is
// in flight at any time.
package bus

import (
	"sync/atomic"
	"time"

	"imu-sensorhub/pkg/errors"
	"imu-sensorhub/pkg/log"
)

// Buffer geometry.
const (
	FifoReadSize  = 1024 + 4
	ChunkReadSize = 64
	bufMargin     = 32

	// BufSize is the shared I/O buffer capacity.
	BufSize = FifoReadSize + ChunkReadSize + bufMargin
	// MaxOps is the largest number of operations in one batch.
	MaxOps = 30
)

// Op is one register access within a batch. Its bytes live in the shared
// buffer at Offset: a write occupies two bytes (address, value); a read
// occupies Len bytes whose first byte is the address slot and the rest the
// data clocked back from the device.
type Op struct {
	Addr   byte
	Write  bool
	Offset int
	Len    int
	Delay  time.Duration
}

// Driver executes a batch. Transfer must call done exactly once, on any
// goroutine, after all ops ran or one failed.
type Driver interface {
	Transfer(ops []Op, buf []byte, done func(error)) error
}

// Slot addresses the bytes of a queued read in the shared buffer.
type Slot struct {
	buf []byte
	off int
	n   int
}

// Data returns the bytes read from the device.
func (s Slot) Data() []byte {
	return s.buf[s.off+1 : s.off+1+s.n]
}

// Raw returns the read including the leading address slot.
func (s Slot) Raw() []byte {
	return s.buf[s.off : s.off+1+s.n]
}

// Offset is the position of the address slot in the shared buffer.
func (s Slot) Offset() int {
	return s.off
}

// Scheduler builds and submits transaction batches.
type Scheduler struct {
	drv    Driver
	log    *log.Logger
	buf    []byte
	cursor int
	ops    []Op
	busy   atomic.Bool

	submitted atomic.Uint64
	failed    atomic.Uint64
}

// NewScheduler creates a scheduler over drv.
func NewScheduler(drv Driver, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.GetLogger("bus")
	}
	return &Scheduler{
		drv: drv,
		log: logger,
		buf: make([]byte, BufSize),
		ops: make([]Op, 0, MaxOps),
	}
}

// Busy reports whether a batch is in flight.
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

// Pending returns the number of queued, unsubmitted operations.
func (s *Scheduler) Pending() int {
	return len(s.ops)
}

// Buffer exposes the shared I/O buffer.
func (s *Scheduler) Buffer() []byte {
	return s.buf
}

// Stats returns how many batches were submitted and how many completed
// with an error.
func (s *Scheduler) Stats() (submitted, failed uint64) {
	return s.submitted.Load(), s.failed.Load()
}

func (s *Scheduler) reserve(op string, n int) error {
	if s.busy.Load() {
		err := errors.BusBusyError(op)
		s.log.Error("%v", err)
		return err
	}
	if len(s.ops) >= MaxOps {
		err := errors.BusOverflowError("op table", len(s.ops)+1, MaxOps)
		s.log.Error("%v", err)
		return err
	}
	if s.cursor+n > len(s.buf) {
		err := errors.BusOverflowError("buffer", s.cursor+n, len(s.buf))
		s.log.Error("%v", err)
		return err
	}
	return nil
}

// QueueWrite appends a register write.
func (s *Scheduler) QueueWrite(addr, data byte, delay time.Duration) error {
	if err := s.reserve("write", 2); err != nil {
		return err
	}
	s.buf[s.cursor] = addr
	s.buf[s.cursor+1] = data
	s.ops = append(s.ops, Op{Addr: addr, Write: true, Offset: s.cursor, Len: 2, Delay: delay})
	s.cursor += 2
	return nil
}

// QueueRead appends a read of n bytes starting at addr.
func (s *Scheduler) QueueRead(addr byte, n int, delay time.Duration) (Slot, error) {
	if err := s.reserve("read", n+1); err != nil {
		return Slot{}, err
	}
	s.buf[s.cursor] = addr
	s.ops = append(s.ops, Op{Addr: addr, Offset: s.cursor, Len: n + 1, Delay: delay})
	slot := Slot{buf: s.buf, off: s.cursor, n: n}
	s.cursor += n + 1
	return slot, nil
}

// SetCursor moves the write position for the next queued op. Chunked FIFO
// reads use it to land each chunk right after the previous complete frame.
// Positions past the FIFO read area fall back to 0.
func (s *Scheduler) SetCursor(index int) {
	if len(s.ops) != 0 {
		s.log.Error("cursor moved with %d ops queued, dropping them", len(s.ops))
		s.ops = s.ops[:0]
	}
	if index < 0 || index > FifoReadSize {
		index = 0
	}
	s.cursor = index
}

// Submit hands the queued ops to the driver. The op table and cursor are
// reset immediately; bytes already placed in the buffer stay untouched
// until the next batch is built. done runs exactly once on the driver's
// goroutine and must only post an event to the task loop.
func (s *Scheduler) Submit(done func(error)) error {
	if s.busy.Load() {
		err := errors.BusBusyError("submit")
		s.log.Error("%v", err)
		return err
	}
	if len(s.ops) == 0 {
		err := errors.New(errors.ErrBusEmpty, "submit with no queued ops").SetSection("bus")
		s.log.Error("%v", err)
		return err
	}

	ops := make([]Op, len(s.ops))
	copy(ops, s.ops)
	s.ops = s.ops[:0]
	s.cursor = 0
	s.busy.Store(true)
	s.submitted.Add(1)

	err := s.drv.Transfer(ops, s.buf, func(err error) {
		if err != nil {
			s.failed.Add(1)
			err = errors.BusTransferError(err)
		}
		s.busy.Store(false)
		done(err)
	})
	if err != nil {
		s.busy.Store(false)
		s.failed.Add(1)
		return errors.BusTransferError(err)
	}
	return nil
}

// Discard drops queued, unsubmitted ops.
func (s *Scheduler) Discard() {
	s.ops = s.ops[:0]
	s.cursor = 0
}
