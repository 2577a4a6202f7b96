// Simulated BMI160
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package sim is a register-level BMI160 simulation implementing the bus
// driver boundary. It models the header-mode FIFO (including re-delivery
// of frames cut by a short burst read and the trailing sensortime frame),
// sensortime, power mode commands, FOC, self-test and the step counter.
// Tests drive it directly; the daemon uses it for --simulate.
package sim

import (
	"math"
	"sync"

	pkgerrors "github.com/pkg/errors"

	"imu-sensorhub/pkg/bmi160"
	"imu-sensorhub/pkg/bus"
	"imu-sensorhub/pkg/hostclock"
	"imu-sensorhub/pkg/sensor"
)

const (
	fifoCapacity = 1024
	timeEnable   = 0x02 // FIFO_CONFIG_1 sensortime frame enable
)

// Write records one register write seen by the device.
type Write struct {
	Addr, Val byte
}

// Device is a simulated BMI160. The zero value is not usable; use New.
type Device struct {
	mu    sync.Mutex
	clock hostclock.Clock
	fake  *hostclock.Fake

	regs   [128]byte
	frames [][]byte
	fill   int

	accNormal, gyrNormal, magNormal bool
	nextDue                         [sensor.NumContinuous]uint64
	seq                             int

	focRemaining int
	focActive    bool
	intStatus    [4]byte
	steps        uint16
	writes       []Write
	transfers    int

	badID    int
	failNext int

	// FocPolls is how many STATUS reads an FOC takes; negative never
	// completes.
	FocPolls int
	// FocAcc and FocGyr are the offsets FOC produces.
	FocAcc [3]int32
	FocGyr [3]int32
	// AccNeg and AccPos are the accel readings under negative and positive
	// self-test excitation.
	AccNeg, AccPos [3]int16
	// GyrSelfTestOK is the gyro self-test outcome.
	GyrSelfTestOK bool
	// TempRaw is the TEMPERATURE register value.
	TempRaw uint16

	// OnInt1 and OnInt2 are called, without the lock held, when the
	// corresponding interrupt asserts.
	OnInt1 func()
	OnInt2 func()
}

// New creates a device on clock. When clock is a *hostclock.Fake, op
// delays advance it.
func New(clock hostclock.Clock) *Device {
	d := &Device{
		clock:         clock,
		FocPolls:      1,
		GyrSelfTestOK: true,
		AccNeg:        [3]int16{-2000, -2000, -1000},
		AccPos:        [3]int16{2000, 2000, 1000},
	}
	d.fake, _ = clock.(*hostclock.Fake)
	d.reset()
	return d
}

func (d *Device) reset() {
	d.regs = [128]byte{}
	d.regs[bmi160.RegID] = bmi160.ChipID
	d.regs[bmi160.RegAccConf] = 0x28
	d.regs[bmi160.RegGyrConf] = 0x28
	d.regs[bmi160.RegFifoConfig1] = bmi160.FifoConfig1Base
	d.frames = nil
	d.fill = 0
	d.accNormal, d.gyrNormal, d.magNormal = false, false, false
	d.focActive = false
}

// BadID makes the next n ID reads return a wrong chip id.
func (d *Device) BadID(n int) {
	d.mu.Lock()
	d.badID = n
	d.mu.Unlock()
}

// FailNext makes the next n transfers fail without touching the device.
func (d *Device) FailNext(n int) {
	d.mu.Lock()
	d.failNext = n
	d.mu.Unlock()
}

// SetSteps sets the hardware step counter.
func (d *Device) SetSteps(n uint16) {
	d.mu.Lock()
	d.steps = n
	d.mu.Unlock()
}

// Reg returns a register value.
func (d *Device) Reg(addr byte) byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[addr&0x7f]
}

// Writes returns every register write so far.
func (d *Device) Writes() []Write {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Write(nil), d.writes...)
}

// Transfers returns the number of batches executed.
func (d *Device) Transfers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transfers
}

// Powered reports the power mode of a continuous channel.
func (d *Device) Powered(ch sensor.Channel) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch ch {
	case sensor.Accel:
		return d.accNormal
	case sensor.Gyro:
		return d.gyrNormal
	case sensor.Mag:
		return d.magNormal
	}
	return false
}

// Transfer implements bus.Driver. It runs the batch synchronously.
func (d *Device) Transfer(ops []bus.Op, buf []byte, done func(error)) error {
	d.mu.Lock()
	d.transfers++
	if d.failNext > 0 {
		d.failNext--
		d.mu.Unlock()
		done(pkgerrors.Wrapf(errTransfer, "batch of %d ops", len(ops)))
		return nil
	}
	for _, op := range ops {
		if op.Offset+op.Len > len(buf) {
			d.mu.Unlock()
			return pkgerrors.Errorf("op at %d+%d past buffer", op.Offset, op.Len)
		}
		if op.Write {
			d.write(op.Addr, buf[op.Offset+1])
		} else {
			d.read(op.Addr, buf[op.Offset+1:op.Offset+op.Len])
		}
		if d.fake != nil && op.Delay > 0 {
			d.fake.Advance(op.Delay)
		}
	}
	d.mu.Unlock()
	done(nil)
	return nil
}

var errTransfer = pkgerrors.New("simulated bus error")

func (d *Device) write(addr, val byte) {
	addr &= 0x7f
	d.writes = append(d.writes, Write{addr, val})
	switch addr {
	case bmi160.RegCmd:
		d.command(val)
		return
	case bmi160.RegAccConf, bmi160.RegGyrConf, bmi160.RegMagConf, bmi160.RegFifoDowns:
		if d.regs[addr] != val {
			d.regs[addr] = val
			d.configChanged()
		}
		return
	case bmi160.RegFifoConfig1:
		if d.regs[addr] != val {
			now := d.clock.NowNs()
			for ch := range d.nextDue {
				d.nextDue[ch] = now
			}
		}
	}
	d.regs[addr] = val
}

func (d *Device) command(cmd byte) {
	switch cmd {
	case bmi160.CmdSoftReset:
		d.reset()
	case bmi160.CmdFifoFlush:
		d.frames = nil
		d.fill = 0
	case bmi160.CmdAccNormal, bmi160.CmdAccSuspend:
		d.accNormal = cmd == bmi160.CmdAccNormal
		d.nextDue[sensor.Accel] = d.clock.NowNs()
	case bmi160.CmdGyrNormal, bmi160.CmdGyrSuspend:
		d.gyrNormal = cmd == bmi160.CmdGyrNormal
		d.nextDue[sensor.Gyro] = d.clock.NowNs()
	case bmi160.CmdMagNormal, bmi160.CmdMagSuspend:
		d.magNormal = cmd == bmi160.CmdMagNormal
		d.nextDue[sensor.Mag] = d.clock.NowNs()
	case bmi160.CmdStartFOC:
		d.focActive = true
		d.focRemaining = d.FocPolls
		d.regs[bmi160.RegStatus] &^= bmi160.StatusFocReady
	case bmi160.CmdStepCntClear:
		d.steps = 0
	}
}

// configChanged appends a config change frame for the FIFO channels.
func (d *Device) configChanged() {
	var bits byte
	cfg := d.regs[bmi160.RegFifoConfig1]
	if cfg&bmi160.FifoEnableAcc != 0 {
		bits |= 1 << (2 * sensor.Accel)
	}
	if cfg&bmi160.FifoEnableGyr != 0 {
		bits |= 1 << (2 * sensor.Gyro)
	}
	if cfg&bmi160.FifoEnableMag != 0 {
		bits |= 1 << (2 * sensor.Mag)
	}
	if bits != 0 {
		d.push([]byte{0x48, bits})
	}
}

func (d *Device) read(addr byte, out []byte) {
	addr &= 0x7f
	switch addr {
	case bmi160.RegID:
		out[0] = d.regs[bmi160.RegID]
		if d.badID > 0 {
			d.badID--
			out[0] = 0x00
		}
		copyRegs(out[1:], d.regs[addr+1:])
	case bmi160.RegFifoData:
		d.readFifo(out)
	case bmi160.RegSensorTime0:
		t := d.sensorTime()
		d.regs[addr], d.regs[addr+1], d.regs[addr+2] = byte(t), byte(t>>8), byte(t>>16)
		copyRegs(out, d.regs[addr:])
	case bmi160.RegTemperature0:
		d.regs[addr], d.regs[addr+1] = byte(d.TempRaw), byte(d.TempRaw>>8)
		copyRegs(out, d.regs[addr:])
	case bmi160.RegStatus:
		out[0] = d.status()
	case bmi160.RegIntStatus0:
		n := copy(out, d.intStatus[:])
		d.intStatus = [4]byte{}
		for i := n; i < len(out); i++ {
			out[i] = 0
		}
	case bmi160.RegData14:
		v := [3]int16{0, 0, 4096}
		switch d.regs[bmi160.RegSelfTest] {
		case bmi160.SelfTestAccNeg:
			v = d.AccNeg
		case bmi160.SelfTestAccPos:
			v = d.AccPos
		}
		for i := 0; i < 3 && 2*i+1 < len(out); i++ {
			out[2*i], out[2*i+1] = byte(v[i]), byte(uint16(v[i])>>8)
		}
	case bmi160.RegStepCnt0:
		out[0] = byte(d.steps)
		if len(out) > 1 {
			out[1] = byte(d.steps >> 8)
		}
	default:
		copyRegs(out, d.regs[addr:])
	}
}

func copyRegs(out []byte, regs []byte) {
	n := copy(out, regs)
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
}

func (d *Device) status() byte {
	st := d.regs[bmi160.RegStatus]
	if d.focActive && d.focRemaining > 0 {
		d.focRemaining--
		if d.focRemaining == 0 {
			d.focDone()
			st |= bmi160.StatusFocReady
		}
	}
	if d.regs[bmi160.RegSelfTest] == bmi160.SelfTestGyr && d.GyrSelfTestOK {
		st |= bmi160.StatusGyrSelfTestOK
	}
	d.regs[bmi160.RegStatus] = st &^ bmi160.StatusGyrSelfTestOK
	return st
}

func (d *Device) focDone() {
	d.focActive = false
	if d.regs[bmi160.RegFocConf]&bmi160.FocConfGyr != 0 {
		for i, v := range d.FocGyr {
			lo, _ := bmi160.EncodeGyrOffset(v)
			d.regs[bmi160.RegOffset3+byte(i)] = lo
		}
		keep := d.regs[bmi160.RegOffset6] & (bmi160.Offset6AccEn | bmi160.Offset6GyrEn)
		d.regs[bmi160.RegOffset6] = keep | bmi160.Offset6(false, false, d.FocGyr)
		return
	}
	for i, v := range d.FocAcc {
		d.regs[bmi160.RegOffset0+byte(i)] = bmi160.EncodeAccOffset(v)
	}
}

func (d *Device) sensorTime() uint32 {
	return uint32(d.clock.NowNs()/bmi160.SensorTickNs) & 0xffffff
}

// --- FIFO ---

func (d *Device) push(frame []byte) {
	for d.fill+len(frame) > fifoCapacity && len(d.frames) > 0 {
		d.fill -= len(d.frames[0])
		d.frames = d.frames[1:]
	}
	d.frames = append(d.frames, frame)
	d.fill += len(frame)
}

// readFifo fills out from the FIFO. Frames that do not fit whole stay
// queued and are delivered again, from their header, by the next read.
func (d *Device) readFifo(out []byte) {
	i := 0
	for len(d.frames) > 0 && i < len(out) {
		f := d.frames[0]
		n := copy(out[i:], f)
		i += n
		if n < len(f) {
			return
		}
		d.frames = d.frames[1:]
		d.fill -= len(f)
	}
	if i+4 <= len(out) && d.regs[bmi160.RegFifoConfig1]&timeEnable != 0 {
		t := d.sensorTime()
		i += copy(out[i:], []byte{0x44, byte(t), byte(t >> 8), byte(t >> 16)})
	}
	for ; i < len(out); i++ {
		out[i] = 0x80
	}
}

// PushFrame queues a raw FIFO frame.
func (d *Device) PushFrame(frame ...byte) {
	d.mu.Lock()
	d.push(append([]byte(nil), frame...))
	d.mu.Unlock()
}

// PushAccGyr queues one data frame carrying gyro then accel payloads.
func (d *Device) PushAccGyr(acc, gyr [3]int16) {
	f := []byte{0x8c}
	f = appendAxes(f, gyr)
	f = appendAxes(f, acc)
	d.PushFrame(f...)
}

// PushAcc queues one accel-only data frame.
func (d *Device) PushAcc(acc [3]int16) {
	d.PushFrame(appendAxes([]byte{0x84}, acc)...)
}

func appendAxes(b []byte, v [3]int16) []byte {
	for _, x := range v {
		b = append(b, byte(x), byte(uint16(x)>>8))
	}
	return b
}

// FifoBytes is the number of queued FIFO bytes.
func (d *Device) FifoBytes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fill
}

// Int1Level reports whether the watermark interrupt is asserted.
func (d *Device) Int1Level() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.watermarkReached()
}

func (d *Device) watermarkReached() bool {
	wm := int(d.regs[bmi160.RegFifoConfig0]) * 4
	return d.regs[bmi160.RegFifoConfig1]&(bmi160.FifoEnableAcc|bmi160.FifoEnableGyr|bmi160.FifoEnableMag) != 0 &&
		wm > 0 && d.fill >= wm
}

// TriggerInt2 latches detector status bytes and asserts INT2.
func (d *Device) TriggerInt2(status [4]byte) {
	d.mu.Lock()
	for i := range status {
		d.intStatus[i] |= status[i]
	}
	cb := d.OnInt2
	d.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Advance generates the samples due up to the current clock reading for
// every powered, FIFO-enabled channel and raises INT1 at the watermark.
func (d *Device) Advance() {
	d.mu.Lock()
	now := d.clock.NowNs()
	cfg := d.regs[bmi160.RegFifoConfig1]
	var period [sensor.NumContinuous]uint64
	on := [sensor.NumContinuous]bool{
		d.accNormal && cfg&bmi160.FifoEnableAcc != 0,
		d.gyrNormal && cfg&bmi160.FifoEnableGyr != 0,
		d.magNormal && cfg&bmi160.FifoEnableMag != 0,
	}
	downs := d.regs[bmi160.RegFifoDowns]
	period[sensor.Accel] = odrPeriod(d.regs[bmi160.RegAccConf]&0x0f, (downs>>4)&0x07)
	period[sensor.Gyro] = odrPeriod(d.regs[bmi160.RegGyrConf]&0x0f, downs&0x07)
	period[sensor.Mag] = odrPeriod(d.regs[bmi160.RegMagConf]&0x0f, 0)

	for {
		due := uint64(math.MaxUint64)
		for ch := range on {
			if on[ch] && d.nextDue[ch] < due {
				due = d.nextDue[ch]
			}
		}
		if due > now {
			break
		}
		hdr := byte(0x80)
		var payload []byte
		for _, ch := range []sensor.Channel{sensor.Mag, sensor.Gyro, sensor.Accel} {
			if !on[ch] || d.nextDue[ch] != due {
				continue
			}
			hdr |= 1 << (2 + uint(ch))
			payload = append(payload, d.sample(ch)...)
			d.nextDue[ch] += period[ch]
		}
		d.seq++
		d.push(append([]byte{hdr}, payload...))
	}
	fire := d.watermarkReached() && d.regs[bmi160.RegIntEn1]&0x40 != 0
	cb := d.OnInt1
	d.mu.Unlock()
	if fire && cb != nil {
		cb()
	}
}

// sample synthesizes a reading: gravity on z for the accel, a slow
// rotation for the gyro and a fixed field for the magnetometer.
func (d *Device) sample(ch sensor.Channel) []byte {
	ph := float64(d.seq) / 50
	switch ch {
	case sensor.Accel:
		return appendAxes(nil, [3]int16{int16(40 * math.Sin(ph)), 0, 4096})
	case sensor.Gyro:
		return appendAxes(nil, [3]int16{0, 0, int16(200 * math.Cos(ph))})
	}
	// x, y, z then the hall resistance word
	return append(appendAxes(nil, [3]int16{320, -80, 640}), 0, 0)
}

// odrPeriod converts an ODR code and FIFO downsampling to a period in ns
// on the sensortime tick.
func odrPeriod(odr, downs byte) uint64 {
	if odr == 0 {
		odr = bmi160.ODR100Hz
	}
	eff := int(odr) - int(downs)
	if eff < 1 {
		eff = 1
	}
	return bmi160.TimeDelta(eff) * bmi160.SensorTickNs
}
