package timesync

import "testing"

func TestEstimateEmpty(t *testing.T) {
	e := New()
	if _, ok := e.Estimate(100); ok {
		t.Error("Estimate on empty history succeeded")
	}
}

func TestEstimateSinglePointIsOffset(t *testing.T) {
	e := New()
	e.Add(5_000_000, 1_000_000)
	got, ok := e.Estimate(1_500_000)
	if !ok || got != 5_500_000 {
		t.Errorf("Estimate = %d, %v, want 5500000, true", got, ok)
	}
}

func TestEstimateSlope(t *testing.T) {
	e := New()
	// host runs 25% faster than the sensor clock
	e.Add(1_000_000, 1)
	e.Add(126_000_000, 100_000_001)
	got, _ := e.Estimate(200_000_001)
	if got != 251_000_000 {
		t.Errorf("Estimate = %d, want 251000000", got)
	}
	got, _ = e.Estimate(50_000_001)
	if got != 63_500_000 {
		t.Errorf("Estimate before newest = %d, want 63500000", got)
	}
}

func TestNonMonotonicAddResets(t *testing.T) {
	e := New()
	e.Add(100, 100)
	e.Add(200, 200)
	e.Add(300, 50)
	if e.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after backwards add", e.Len())
	}
}

func TestHistoryBounded(t *testing.T) {
	e := New()
	for i := uint64(1); i <= 40; i++ {
		e.Add(i*1000, i*990)
	}
	if e.Len() != MaxPoints {
		t.Errorf("Len() = %d, want %d", e.Len(), MaxPoints)
	}
}

func TestTruncateAndHold(t *testing.T) {
	e := New()
	for i := uint64(1); i <= 8; i++ {
		e.Add(i*1000, i*1000)
	}
	e.Truncate(2)
	if e.Len() != 2 {
		t.Fatalf("Len() after Truncate(2) = %d", e.Len())
	}
	e.Hold(2)
	e.Add(9000, 9000)
	e.Add(10000, 10000)
	if e.Len() != 2 {
		t.Errorf("Len() during hold = %d, want 2", e.Len())
	}
	e.Add(11000, 11000)
	if e.Len() != 3 {
		t.Errorf("Len() after hold = %d, want 3", e.Len())
	}
	e.Reset()
	if e.Len() != 0 {
		t.Errorf("Len() after Reset = %d", e.Len())
	}
}

func TestUnwrapForwardAndBackward(t *testing.T) {
	var u Unwrapper
	if got := u.Unwrap(0xfffff0); got != 0xfffff0 {
		t.Fatalf("first Unwrap = %#x", got)
	}
	if got := u.Unwrap(0x000010); got != 0x1000010 {
		t.Errorf("wrap forward = %#x, want 0x1000010", got)
	}
	if got := u.Unwrap(0x000010); got != 0x1000010 {
		t.Errorf("repeat = %#x, want 0x1000010", got)
	}
	// an earlier reading straddling the wrap does not move the reference
	if got := u.Unwrap(0xffff00); got != 0xffff00 {
		t.Errorf("backward across wrap = %#x, want 0xffff00", got)
	}
	if u.Last() != 0x1000010 {
		t.Errorf("Last() = %#x, want 0x1000010", u.Last())
	}
	if got := u.Unwrap(0x000008); got != 0x1000008 {
		t.Errorf("backward = %#x, want 0x1000008", got)
	}
}

// Correlation points derived from a wrapping 24-bit counter must give an
// estimate that never decreases across the wrap.
func TestEstimateMonotonicAcrossWrap(t *testing.T) {
	var u Unwrapper
	e := New()

	const periodTicks = 2564 // ~100 ms
	raw := uint32(0xff0000)
	host := uint64(10_000_000_000)
	for i := 0; i < 20; i++ {
		ticks := u.Unwrap(raw)
		e.Add(host, TicksToNs(ticks))
		raw = (raw + periodTicks) & mask24
		host += 100_000_000 + uint64(i%3)*10_000
	}
	if u.Last() < wrap24 {
		t.Fatalf("test did not cross the 24-bit wrap: last %#x", u.Last())
	}

	var prev uint64
	var first = true
	for ticks := uint64(0xff0000); ticks < u.Last()+5000; ticks += 97 {
		got, ok := e.Estimate(TicksToNs(ticks))
		if !ok {
			t.Fatal("Estimate failed")
		}
		if !first && got < prev {
			t.Fatalf("estimate went backwards at ticks %#x: %d < %d", ticks, got, prev)
		}
		prev, first = got, false
	}
}
