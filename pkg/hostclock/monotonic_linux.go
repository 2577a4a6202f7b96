//go:build linux

package hostclock

import "golang.org/x/sys/unix"

// Monotonic reads CLOCK_MONOTONIC, the same clock the kernel uses for
// GPIO edge timestamps.
type Monotonic struct{}

func (Monotonic) NowNs() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return uint64(ts.Nano())
}
