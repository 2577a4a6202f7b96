package timesync

const (
	wrap24 = 1 << 24
	half24 = 1 << 23
	mask24 = wrap24 - 1
)

// Unwrapper extends the 24-bit sensortime counter to 64 bits. A value
// ahead of the last one by less than half the range moves time forward
// (crossing a wrap if needed); anything else is treated as an earlier
// reading and is returned without moving the reference.
type Unwrapper struct {
	last uint64
}

// Last returns the newest extended time.
func (u *Unwrapper) Last() uint64 {
	return u.last
}

// Reset forgets the reference.
func (u *Unwrapper) Reset() {
	u.last = 0
}

// Unwrap extends t24.
func (u *Unwrapper) Unwrap(t24 uint32) uint64 {
	t24 &= mask24
	if u.last == 0 {
		u.last = uint64(t24)
		return u.last
	}
	prev := uint32(u.last & mask24)
	if t24 == prev {
		return u.last
	}

	full := u.last&^uint64(mask24) | uint64(t24)
	forward := (prev < t24 && t24-prev < half24) || (prev > t24 && prev-t24 > half24)
	if forward {
		if full < u.last {
			full += wrap24
		}
		u.last = full
		return full
	}
	if full < u.last {
		return full
	}
	return full - wrap24
}

// TicksToNs converts sensortime ticks to nanoseconds.
func TicksToNs(ticks uint64) uint64 {
	return ticks * 39000
}
