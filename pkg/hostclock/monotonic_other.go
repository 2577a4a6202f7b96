//go:build !linux

package hostclock

import "time"

var epoch = time.Now()

// Monotonic falls back to the runtime monotonic reading off Linux.
type Monotonic struct{}

func (Monotonic) NowNs() uint64 {
	return uint64(time.Since(epoch))
}
