// FIFO frame parser for the BMI160 header-mode FIFO
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package fifo decodes the BMI160 FIFO byte stream into per-channel samples
// carrying a reconstructed sensortime.
package fifo

import (
	"math"

	"imu-sensorhub/pkg/bmi160"
	"imu-sensorhub/pkg/errors"
	"imu-sensorhub/pkg/log"
	"imu-sensorhub/pkg/sensor"
	"imu-sensorhub/pkg/timesync"
)

// Frame headers with a fixed meaning.
const (
	HeaderEnd  = 0x80 // FIFO empty, nothing follows
	HeaderSkip = 0x81 // single-byte filler written over chunk seams
)

// MinSensorTimeIncrement is the smallest step between two data frames.
const MinSensorTimeIncrement = 64

const (
	noFrame    = math.MaxUint64     // channel not running
	staleFrame = math.MaxUint64 - 1 // not seen in the last data frame before a sensortime frame
)

// Frame payload sizes, indexed by channel.
var payloadSize = [sensor.NumContinuous]int{6, 6, 8}

// Sink receives decoded samples. raw is only valid during the call.
type Sink interface {
	Sample(ch sensor.Channel, raw []byte, sensorTime uint64)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ch sensor.Channel, raw []byte, sensorTime uint64)

// Sample implements Sink.
func (f SinkFunc) Sample(ch sensor.Channel, raw []byte, sensorTime uint64) {
	f(ch, raw, sensorTime)
}

// Stats counts parser activity.
type Stats struct {
	Frames    uint64
	Samples   uint64
	Restarts  uint64
	Corrupted uint64
}

// Parser holds the frame-time reconstruction state that persists across
// FIFO deliveries.
type Parser struct {
	log *log.Logger

	active       [sensor.NumContinuous]bool
	fifoEnabled  [sensor.NumContinuous]bool
	timeDelta    [sensor.NumContinuous]uint64
	nextDelta    [sensor.NumContinuous]uint64
	pendingDelta [sensor.NumContinuous]bool
	prevFrame    [sensor.NumContinuous]uint64

	frameTime  uint64
	frameValid bool
	clock      timesync.Unwrapper

	stats Stats
}

// NewParser returns a parser with no frame time established.
func NewParser(logger *log.Logger) *Parser {
	if logger == nil {
		logger = log.GetLogger("fifo")
	}
	p := &Parser{log: logger}
	for i := range p.prevFrame {
		p.prevFrame[i] = noFrame
		p.timeDelta[i] = bmi160.TimeDelta(bmi160.ODR100Hz)
	}
	p.frameTime = noFrame
	return p
}

// SetActive marks whether ch is configured with data delivery. Only active
// channels take part in sensortime masking, and inactive channels lose
// their frame reference at the next sensortime frame.
func (p *Parser) SetActive(ch sensor.Channel, on bool) {
	if ch.Continuous() {
		p.active[ch] = on
	}
}

// SetFifoEnabled records whether ch currently streams into the FIFO.
func (p *Parser) SetFifoEnabled(ch sensor.Channel, on bool) {
	if ch.Continuous() {
		p.fifoEnabled[ch] = on
	}
}

// FifoEnabled reports whether ch streams into the FIFO.
func (p *Parser) FifoEnabled(ch sensor.Channel) bool {
	return ch.Continuous() && p.fifoEnabled[ch]
}

// AnyFifoEnabled reports whether any channel streams into the FIFO.
func (p *Parser) AnyFifoEnabled() bool {
	for _, on := range p.fifoEnabled {
		if on {
			return true
		}
	}
	return false
}

// UpdateTimeDelta sets the sample spacing of ch for register ODR odr. A
// channel already in the FIFO keeps its old spacing until the matching
// config-change frame is parsed.
func (p *Parser) UpdateTimeDelta(ch sensor.Channel, odr int) {
	if !ch.Continuous() {
		return
	}
	d := bmi160.TimeDelta(odr)
	if p.fifoEnabled[ch] {
		p.nextDelta[ch] = d
		p.pendingDelta[ch] = true
		return
	}
	p.timeDelta[ch] = d
}

// TimeDelta returns the current sample spacing of ch in sensortime ticks.
func (p *Parser) TimeDelta(ch sensor.Channel) uint64 {
	return p.timeDelta[ch]
}

// PendingDelta reports whether a spacing change of ch awaits its
// config-change frame.
func (p *Parser) PendingDelta(ch sensor.Channel) bool {
	return p.pendingDelta[ch]
}

// Invalidate drops the frame time so the next delivery starts with a dry
// run. It is used once the FIFO is empty of channels.
func (p *Parser) Invalidate() {
	p.frameValid = false
	for i := range p.prevFrame {
		p.pendingDelta[i] = false
		p.prevFrame[i] = noFrame
	}
}

// FrameValid reports whether the frame time is established.
func (p *Parser) FrameValid() bool {
	return p.frameValid
}

// FrameTime is the sensortime of the last parsed data frame.
func (p *Parser) FrameTime() uint64 {
	return p.frameTime
}

// SensorTime extends a 24-bit sensortime register value against the same
// reference the FIFO uses.
func (p *Parser) SensorTime(t24 uint32) uint64 {
	return p.clock.Unwrap(t24)
}

// ResetSensorTime forgets the sensortime reference, as after a chip
// reset. The next delivery is anchored afresh.
func (p *Parser) ResetSensorTime() {
	p.clock.Reset()
	p.frameTime = noFrame
	p.frameValid = false
}

// Stats returns a snapshot of the counters.
func (p *Parser) Stats() Stats {
	return p.stats
}

func (p *Parser) minDelta() uint64 {
	lo := uint64(math.MaxUint64)
	for i := range p.active {
		if p.active[i] && p.timeDelta[i] < lo {
			lo = p.timeDelta[i]
		}
	}
	return lo
}

// Parse walks data until an end header or the end of the slice and hands
// every sample to sink. When no frame time is established yet the first
// sensortime frame anchors time and the data is parsed a second time; only
// that second pass emits samples. A malformed header drops the rest of the
// data and returns a FIFO_CORRUPT error after the valid prefix has been
// delivered.
func (p *Parser) Parse(data []byte, sink Sink) error {
	restart, err := p.parse(data, sink)
	if restart {
		p.stats.Restarts++
		_, err = p.parse(data, sink)
	}
	return err
}

func (p *Parser) parse(data []byte, sink Sink) (bool, error) {
	var observed [sensor.NumContinuous]bool
	var savedPending [sensor.NumContinuous]bool
	var savedDelta [sensor.NumContinuous]uint64

	valid := p.frameValid
	frame := p.frameTime
	if !valid {
		// dry run from time zero; the state is restored once time is known
		frame = 0
		savedPending = p.pendingDelta
		savedDelta = p.timeDelta
	}

	i, size := 0, len(data)
	for size > 0 {
		switch data[i] {
		case HeaderEnd:
			return false, nil
		case HeaderSkip:
			i++
			size--
			continue
		}

		hdr := data[i]
		mode, param := hdr>>6, (hdr>>2)&0xf
		at := i
		i++
		size--
		p.stats.Frames++

		switch mode {
		case 1:
			switch param {
			case 0:
				if size < 1 {
					return false, nil
				}
				i++
				size--
			case 1:
				if size < 3 {
					return false, nil
				}
				t24 := bmi160.DecodeSensorTime(data[i : i+3])
				if d := p.minDelta(); d != math.MaxUint64 {
					// drop the read latency bits below the fastest sample period
					t24 &^= uint32(d - 1)
				}
				full := p.clock.Unwrap(t24)

				if !valid {
					p.frameValid = true
					p.frameTime = full - frame
					for j := range p.prevFrame {
						p.prevFrame[j] = noFrame
					}
					p.pendingDelta = savedPending
					p.timeDelta = savedDelta
					p.log.Debug("sensortime anchored at %#x, reparsing", p.frameTime)
					return true, nil
				}
				p.frameTime = full

				for j := range p.prevFrame {
					if observed[j] {
						p.prevFrame[j] = full
					} else {
						p.prevFrame[j] = staleFrame
					}
					if !p.active[j] {
						p.prevFrame[j] = noFrame
						p.pendingDelta[j] = false
					}
				}
				i += 3
				size -= 3
			case 2:
				if size < 1 {
					return false, nil
				}
				for j := range p.pendingDelta {
					if data[i]&(1<<(2*j)) != 0 && p.pendingDelta[j] {
						p.pendingDelta[j] = false
						p.timeDelta[j] = p.nextDelta[j]
						p.log.Debug("%s spacing now %d ticks", sensor.Channel(j), p.timeDelta[j])
					}
				}
				i++
				size--
			default:
				return false, p.corrupt(data, at)
			}

		case 2:
			var next uint64
			for j := range observed {
				observed[j] = false
				if p.prevFrame[j] < staleFrame && param&(1<<j) != 0 {
					if t := p.prevFrame[j] + p.timeDelta[j]; t > next {
						next = t
					}
				}
			}
			if frame+MinSensorTimeIncrement > next {
				next = frame + MinSensorTimeIncrement
			}

			truncated := false
			for _, ch := range [...]sensor.Channel{sensor.Mag, sensor.Gyro, sensor.Accel} {
				if param&(1<<ch) == 0 {
					continue
				}
				n := payloadSize[ch]
				if size < n {
					truncated = true
					break
				}
				if valid {
					sink.Sample(ch, data[i:i+n], next)
					p.stats.Samples++
				}
				p.prevFrame[ch] = next
				observed[ch] = true
				i += n
				size -= n
			}
			if observed[sensor.Accel] || observed[sensor.Gyro] || observed[sensor.Mag] {
				frame = next
				if valid {
					p.frameTime = next
				}
			}
			if truncated {
				return false, nil
			}

		default:
			return false, p.corrupt(data, at)
		}
	}
	return false, nil
}

func (p *Parser) corrupt(data []byte, at int) error {
	p.stats.Corrupted++
	err := errors.FifoCorruptError(at, data[at])
	p.log.Error("%v, dropping %d bytes", err, len(data)-at)

	// dump a window around the bad header
	lo := 0
	if at >= 0x80 {
		lo = (at - 0x80) &^ 0x0f
	}
	hi := at + 0x80
	if hi > len(data) {
		hi = len(data)
	}
	hi = (hi + 0x0f) &^ 0x0f
	if hi > len(data) {
		hi = len(data)
	}
	p.log.HexDump(log.ERROR, lo, data[lo:hi])
	return err
}

// ShallowParse checks whether data, one chunk of a FIFO read, ends the
// FIFO. It returns done when an end header is reached or a malformed
// header is found; the latter is overwritten with HeaderEnd so the full
// parse stops there too. Otherwise next is the offset where the following
// chunk must start: the header of a frame cut by the chunk boundary, or
// len(data) when the chunk ends exactly on a frame boundary.
func ShallowParse(data []byte) (next int, done bool) {
	i, size := 0, len(data)
	last := 0
	for size > 0 {
		last = i
		switch data[i] {
		case HeaderEnd:
			return 0, true
		case HeaderSkip:
			i++
			size--
			continue
		}

		mode, param := data[i]>>6, (data[i]>>2)&0xf
		i++
		size--

		switch mode {
		case 1:
			switch param {
			case 0, 2:
				i++
				size--
			case 1:
				i += 3
				size -= 3
			default:
				data[last] = HeaderEnd
				return 0, true
			}
		case 2:
			for ch := sensor.Channel(0); ch < sensor.NumContinuous; ch++ {
				if param&(1<<ch) != 0 {
					i += payloadSize[ch]
					size -= payloadSize[ch]
				}
			}
		default:
			data[last] = HeaderEnd
			return 0, true
		}
	}
	if size == 0 {
		return i, false
	}
	return last, false
}
