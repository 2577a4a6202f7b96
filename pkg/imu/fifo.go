package imu

import (
	"encoding/binary"

	"imu-sensorhub/pkg/bmi160"
	"imu-sensorhub/pkg/bus"
	"imu-sensorhub/pkg/errors"
	"imu-sensorhub/pkg/fifo"
	"imu-sensorhub/pkg/sensor"
	"imu-sensorhub/pkg/timesync"
)

const (
	gyrScale = 0.00053263221 // rad/s per LSB at 2000 dps
	magScale = 1.0 / 16      // uT per LSB of the raw decoder

	minTimeIncrementNs = 1250000

	maxFifoReadAttempts = 3
)

func (t *Task) accScale() float32 {
	return 9.81 * float32(t.cfg.AccRangeG) / 32768
}

func decodeMagRaw(raw []byte) (x, y, z float32) {
	x = float32(int16(binary.LittleEndian.Uint16(raw[0:]))) * magScale
	y = float32(int16(binary.LittleEndian.Uint16(raw[2:]))) * magScale
	z = float32(int16(binary.LittleEndian.Uint16(raw[4:]))) * magScale
	return
}

// initiateFifoRead starts a chunked FIFO drain, or leaves it pending when
// the task is busy. The first read covers the watermark plus a margin;
// each following read fetches one chunk placed over the last partial
// frame so that the buffer holds one contiguous stream at the end.
func (t *Task) initiateFifoRead() {
	if !t.trySwitch(StateInt1Handling) {
		t.pendingInt1 = true
		return
	}
	size := int(t.watermark)*4 + 32
	if size < bus.ChunkReadSize {
		size = bus.ChunkReadSize
	}
	if size > bus.FifoReadSize {
		size = bus.FifoReadSize
	}
	t.fifoAttempts = 0
	t.queueFifoRead(0, size)
}

func (t *Task) queueFifoRead(at, size int) {
	t.bus.SetCursor(at)
	t.fifoSlot = t.read(bmi160.RegFifoData, size, 0)
	t.submit(sensor.Accel, t.int1Done)
}

func (t *Task) int1Done(err error) {
	if err != nil {
		t.metrics.BusError()
		t.fifoAttempts++
		if t.fifoAttempts < maxFifoReadAttempts {
			t.log.WithError(err).Warn("fifo read failed, restarting")
			t.queueFifoRead(0, bus.FifoReadSize)
			return
		}
		t.log.WithError(err).Error("fifo read failed, giving up")
		t.finishInt1()
		return
	}

	buf := t.bus.Buffer()
	slot := t.fifoSlot
	buf[slot.Offset()] = fifo.HeaderSkip

	next, done := fifo.ShallowParse(slot.Data())
	at := slot.Offset() + 1 + next
	if !done && at+1+bus.ChunkReadSize <= 1+bus.FifoReadSize {
		t.queueFifoRead(at, bus.ChunkReadSize)
		return
	}

	end := slot.Offset() + 1 + len(slot.Data())
	t.dispatchData(buf[1:end])
	t.sendFlushEvents()
	t.finishInt1()
}

func (t *Task) finishInt1() {
	t.setState(StateIdle)
	if t.int1Level != nil && t.int1Level() {
		t.pendingInt1 = true
	}
	t.processPending()
}

// dispatchData parses one FIFO delivery and hands out every batch.
func (t *Task) dispatchData(data []byte) {
	err := t.parser.Parse(data, fifo.SinkFunc(t.parseSample))
	if errors.Is(err, errors.ErrFifoCorrupt) {
		t.metrics.Corrupted()
	} else if err != nil {
		t.log.Error("%v", err)
	}
	t.flushAllBatches()
	t.metrics.Drain()
}

// parseSample turns one FIFO frame into a timestamped sample.
func (t *Task) parseSample(ch sensor.Channel, raw []byte, sensorTime uint64) {
	ns, ok := t.sync.Estimate(timesync.TicksToNs(sensorTime))
	if !ok {
		t.metrics.Dropped("no_time")
		return
	}

	s := &t.sensors[ch]
	now := t.loop.Now()
	if ns > now+minTimeIncrementNs {
		t.log.Info("%s future timestamp %d, now %d", ch, ns, now)
		ns = now + minTimeIncrementNs
	}
	if s.prevNs != 0 && ns < s.prevNs+minTimeIncrementNs {
		ns = s.prevNs + minTimeIncrementNs
	}

	var x, y, z float32
	switch ch {
	case sensor.Accel, sensor.Gyro:
		scale := float32(gyrScale)
		if ch == sensor.Accel {
			scale = t.accScale()
		}
		x = float32(int16(binary.LittleEndian.Uint16(raw[0:]))) * scale
		y = float32(int16(binary.LittleEndian.Uint16(raw[2:]))) * scale
		z = float32(int16(binary.LittleEndian.Uint16(raw[4:]))) * scale
	case sensor.Mag:
		x, y, z = t.magDecode(raw)
	default:
		return
	}
	x, y, z = remap(x, y, z)

	if est := t.bias[ch]; est != nil {
		est.Update(ns, x, y, z)
		if b, ok := est.NewBias(); ok {
			t.flushBatch(ch)
			t.emitBias(ch, ns, b)
		}
		if hu, ok := est.(HostUpdater); ok && hu.HostUpdatePending() {
			t.pendingHost = true
		}
		x, y, z = est.Remove(x, y, z)
	}

	if s.batch == nil {
		b, ok := t.slab.Alloc()
		if !ok {
			t.log.Warn("%v", errors.New(errors.ErrSlabExhausted, "no free sample batch"))
			t.metrics.Dropped("slab")
			return
		}
		b.Reset(ch)
		s.batch = b
	}
	if s.batch.Full() {
		t.log.Error("BAD INDEX %d for %s", len(s.batch.Samples), ch)
		t.flushAllBatches()
		return
	}
	s.batch.Append(ns, x, y, z)
	s.prevNs = ns
	t.metrics.AddSamples(ch.String(), 1)
	if s.batch.Full() {
		t.flushAllBatches()
	}
}

// remap rotates device axes into the board frame. The mounting of the
// supported boards matches the device axes.
func remap(x, y, z float32) (float32, float32, float32) {
	return x, y, z
}

func (t *Task) emitBias(ch sensor.Channel, ns uint64, bias [3]float32) {
	b, ok := t.slab.Alloc()
	if !ok {
		t.metrics.Dropped("slab")
		return
	}
	b.Reset(ch)
	b.Bias = true
	b.Append(ns, bias[0], bias[1], bias[2])
	t.fw.Samples(b, t.releaser(b))
}

func (t *Task) releaser(b *sensor.SampleBatch) func() {
	return func() {
		if !t.slab.Free(b) {
			t.log.Error("sample batch released twice")
		}
	}
}

func (t *Task) flushBatch(ch sensor.Channel) {
	s := &t.sensors[ch]
	b := s.batch
	if b == nil {
		return
	}
	s.batch = nil
	if len(b.Samples) == 0 {
		t.slab.Free(b)
		return
	}
	t.fw.Samples(b, t.releaser(b))
}

func (t *Task) flushAllBatches() {
	for ch := sensor.Accel; ch < sensor.NumContinuous; ch++ {
		t.flushBatch(ch)
	}
}

// sendFlushEvents emits the flush markers owed to the FIFO channels.
func (t *Task) sendFlushEvents() {
	for ch := sensor.Accel; ch < sensor.NumContinuous; ch++ {
		for ; t.sensors[ch].flush > 0; t.sensors[ch].flush-- {
			t.fw.Flush(ch)
		}
	}
}
