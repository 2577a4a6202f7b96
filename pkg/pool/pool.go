// Fixed-capacity object pools for the sensor data path
//
// Provides two kinds of pools:
// - Slab: a bounded set of preallocated objects (sample batches) whose
//   exhaustion is reported instead of growing the heap
// - ByteBuffer: reusable encode buffers for outbound messages
//
// Usage:
//
//	slab := pool.NewSlab(20, func() *sensor.SampleBatch { return new(sensor.SampleBatch) })
//	b, ok := slab.Alloc()
//	if !ok {
//		// drop the sample
//	}
//	defer slab.Free(b)
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pool

import (
	"sync"
	"sync/atomic"
)

// Slab hands out at most Cap objects. Alloc and Free may be called from
// different goroutines.
type Slab[T any] struct {
	mu    sync.Mutex
	free  []*T
	owned map[*T]bool
	cap   int

	failed atomic.Uint64
}

// NewSlab preallocates capacity objects using newFn.
func NewSlab[T any](capacity int, newFn func() *T) *Slab[T] {
	s := &Slab[T]{
		free:  make([]*T, 0, capacity),
		owned: make(map[*T]bool, capacity),
		cap:   capacity,
	}
	for i := 0; i < capacity; i++ {
		obj := newFn()
		s.free = append(s.free, obj)
		s.owned[obj] = false
	}
	return s
}

// Alloc takes an object from the slab. It returns false when all objects
// are in use.
func (s *Slab[T]) Alloc() (*T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.free)
	if n == 0 {
		s.failed.Add(1)
		return nil, false
	}
	obj := s.free[n-1]
	s.free = s.free[:n-1]
	s.owned[obj] = true
	return obj, true
}

// Free returns obj to the slab. Objects that did not come from this slab,
// or are already free, are ignored and reported as false.
func (s *Slab[T]) Free(obj *T) bool {
	if obj == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inUse, ok := s.owned[obj]
	if !ok || !inUse {
		return false
	}
	s.owned[obj] = false
	s.free = append(s.free, obj)
	return true
}

// InUse returns the number of allocated objects.
func (s *Slab[T]) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cap - len(s.free)
}

// Cap returns the slab capacity.
func (s *Slab[T]) Cap() int {
	return s.cap
}

// Failed returns how many allocations found the slab empty.
func (s *Slab[T]) Failed() uint64 {
	return s.failed.Load()
}

// ByteBuffer pool - for encoding outbound messages
type ByteBuffer struct {
	buf []byte
}

var byteBufferPool = sync.Pool{
	New: func() any {
		return &ByteBuffer{
			buf: make([]byte, 0, 256), // one JSON sample batch
		}
	},
}

// GetByteBuffer gets a byte buffer from the pool
func GetByteBuffer() *ByteBuffer {
	b := byteBufferPool.Get().(*ByteBuffer)
	b.buf = b.buf[:0]
	return b
}

// PutByteBuffer returns a byte buffer to the pool
func PutByteBuffer(b *ByteBuffer) {
	if b == nil {
		return
	}
	// Don't pool oversized buffers (> 4KB)
	if cap(b.buf) > 4096 {
		return
	}
	byteBufferPool.Put(b)
}

// Bytes returns the buffer's byte slice
func (b *ByteBuffer) Bytes() []byte {
	return b.buf
}

// Write appends bytes to the buffer
func (b *ByteBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// WriteByte appends a single byte
func (b *ByteBuffer) WriteByte(c byte) error {
	b.buf = append(b.buf, c)
	return nil
}

// Len returns the buffer length
func (b *ByteBuffer) Len() int {
	return len(b.buf)
}

// Reset clears the buffer
func (b *ByteBuffer) Reset() {
	b.buf = b.buf[:0]
}
