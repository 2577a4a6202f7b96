package sim

import (
	"testing"
	"time"

	"imu-sensorhub/pkg/bmi160"
	"imu-sensorhub/pkg/bus"
	"imu-sensorhub/pkg/hostclock"
	"imu-sensorhub/pkg/sensor"
)

// run executes ops against d and returns the buffer.
func run(t *testing.T, d *Device, ops ...bus.Op) []byte {
	t.Helper()
	buf := make([]byte, bus.BufSize)
	off := 0
	for i := range ops {
		ops[i].Offset = off
		buf[off] = ops[i].Addr
		off += ops[i].Len
	}
	var got error
	called := false
	if err := d.Transfer(ops, buf, func(err error) { got, called = err, true }); err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if !called || got != nil {
		t.Fatalf("done called %v with %v", called, got)
	}
	return buf
}

func TestChipID(t *testing.T) {
	d := New(hostclock.NewFake(0))
	d.BadID(1)
	buf := run(t, d, bus.Op{Addr: bmi160.RegID, Len: 2})
	if buf[1] == bmi160.ChipID {
		t.Error("first read should mismatch")
	}
	buf = run(t, d, bus.Op{Addr: bmi160.RegID, Len: 2})
	if buf[1] != bmi160.ChipID {
		t.Errorf("id = %#x, want %#x", buf[1], bmi160.ChipID)
	}
}

func TestFifoReDeliversCutFrame(t *testing.T) {
	d := New(hostclock.NewFake(0))
	d.PushAccGyr([3]int16{1, 2, 3}, [3]int16{4, 5, 6})
	d.PushAccGyr([3]int16{7, 8, 9}, [3]int16{10, 11, 12})

	// 13-byte frames; a 20-byte read cuts the second one
	buf := run(t, d, bus.Op{Addr: bmi160.RegFifoData, Len: 21})
	if buf[1] != 0x8c || buf[14] != 0x8c {
		t.Fatalf("headers = %#x %#x, want 0x8c", buf[1], buf[14])
	}
	if n := d.FifoBytes(); n != 13 {
		t.Errorf("FifoBytes() = %d, want 13", n)
	}

	buf = run(t, d, bus.Op{Addr: bmi160.RegFifoData, Len: 1 + 13 + 4 + 3})
	if buf[1] != 0x8c {
		t.Errorf("re-delivered header = %#x, want 0x8c", buf[1])
	}
	if buf[14] != 0x44 {
		t.Errorf("trailer = %#x, want sensortime frame", buf[14])
	}
	if buf[18] != 0x80 || buf[20] != 0x80 {
		t.Errorf("padding = %#x %#x, want 0x80", buf[18], buf[20])
	}
}

func TestFocProducesOffsets(t *testing.T) {
	d := New(hostclock.NewFake(0))
	d.FocAcc = [3]int32{-3, 5, 0}
	d.FocPolls = 2

	buf := make([]byte, 8)
	buf[0], buf[1] = bmi160.RegFocConf, bmi160.FocConfAcc
	buf[2], buf[3] = bmi160.RegCmd, bmi160.CmdStartFOC
	d.Transfer([]bus.Op{
		{Addr: bmi160.RegFocConf, Write: true, Offset: 0, Len: 2},
		{Addr: bmi160.RegCmd, Write: true, Offset: 2, Len: 2},
	}, buf, func(error) {})

	st := run(t, d, bus.Op{Addr: bmi160.RegStatus, Len: 2})
	if st[1]&bmi160.StatusFocReady != 0 {
		t.Error("FOC ready after one poll, want two")
	}
	st = run(t, d, bus.Op{Addr: bmi160.RegStatus, Len: 2})
	if st[1]&bmi160.StatusFocReady == 0 {
		t.Error("FOC not ready after two polls")
	}
	if got := bmi160.DecodeAccOffset(d.Reg(bmi160.RegOffset0)); got != -3 {
		t.Errorf("offset x = %d, want -3", got)
	}
}

func TestAdvanceGeneratesFrames(t *testing.T) {
	clk := hostclock.NewFake(0)
	d := New(clk)
	fired := 0
	d.OnInt1 = func() { fired++ }

	buf := make([]byte, 8)
	buf[0], buf[1] = bmi160.RegCmd, bmi160.CmdAccNormal
	buf[2], buf[3] = bmi160.RegFifoConfig0, 2
	buf[4], buf[5] = bmi160.RegIntEn1, 0x60
	buf[6], buf[7] = bmi160.RegFifoConfig1, bmi160.FifoConfig1Base|bmi160.FifoEnableAcc
	d.Transfer([]bus.Op{
		{Addr: buf[0], Write: true, Offset: 0, Len: 2},
		{Addr: buf[2], Write: true, Offset: 2, Len: 2},
		{Addr: buf[4], Write: true, Offset: 4, Len: 2},
		{Addr: buf[6], Write: true, Offset: 6, Len: 2},
	}, buf, func(error) {})

	clk.Advance(25 * time.Millisecond)
	d.Advance()
	// 100 Hz: frames due at 0, 9.984 and 19.968 ms
	if n := d.FifoBytes(); n != 3*7 {
		t.Errorf("FifoBytes() = %d, want 21", n)
	}
	if fired != 1 {
		t.Errorf("int1 fired %d times, want 1", fired)
	}
	if !d.Int1Level() {
		t.Error("Int1Level() = false above watermark")
	}
	if !d.Powered(sensor.Accel) || d.Powered(sensor.Gyro) {
		t.Error("power modes not tracked")
	}
}

func TestFailNext(t *testing.T) {
	d := New(hostclock.NewFake(0))
	d.FailNext(1)
	var got error
	buf := make([]byte, 4)
	d.Transfer([]bus.Op{{Addr: bmi160.RegID, Len: 2}}, buf, func(err error) { got = err })
	if got == nil {
		t.Error("expected simulated bus error")
	}
}
