// Package timesync correlates the sensor's free running tick counter with
// host time. It is the sensor-side counterpart of an MCU clock sync: a short
// history of (hardware, host) pairs fitted by a line through its oldest and
// newest points.
package timesync

// MaxPoints bounds the correlation history.
const MaxPoints = 16

type point struct {
	hw   uint64
	host uint64
}

// Estimator maps hardware nanoseconds to host nanoseconds.
// It is not safe for concurrent use; the task loop owns it.
type Estimator struct {
	pts  []point
	hold int
}

// New returns an empty estimator.
func New() *Estimator {
	return &Estimator{pts: make([]point, 0, MaxPoints)}
}

// Len returns the number of correlation points held.
func (e *Estimator) Len() int {
	return len(e.pts)
}

// Add records that hardware time hwNs was observed at host time hostNs.
// A point that does not move forward in both domains restarts the
// history, since it means the hardware counter was reset.
func (e *Estimator) Add(hostNs, hwNs uint64) {
	if n := len(e.pts); n > 0 {
		last := e.pts[n-1]
		if hwNs <= last.hw || hostNs <= last.host {
			e.pts = e.pts[:0]
			e.hold = 0
		}
	}
	if e.hold > 0 && len(e.pts) > 0 {
		e.hold--
		e.dropOldest()
	} else if len(e.pts) == MaxPoints {
		e.dropOldest()
	}
	e.pts = append(e.pts, point{hw: hwNs, host: hostNs})
}

func (e *Estimator) dropOldest() {
	copy(e.pts, e.pts[1:])
	e.pts = e.pts[:len(e.pts)-1]
}

// Estimate converts hwNs to host time. It fails while the history is empty.
func (e *Estimator) Estimate(hwNs uint64) (uint64, bool) {
	n := len(e.pts)
	if n == 0 {
		return 0, false
	}
	newest := e.pts[n-1]
	slope := 1.0
	if n > 1 {
		oldest := e.pts[0]
		slope = float64(newest.host-oldest.host) / float64(newest.hw-oldest.hw)
	}
	var offset float64
	if hwNs >= newest.hw {
		offset = float64(hwNs-newest.hw) * slope
	} else {
		offset = -float64(newest.hw-hwNs) * slope
	}
	est := float64(newest.host) + offset
	if est < 0 {
		return 0, true
	}
	return uint64(est), true
}

// Reset clears the history.
func (e *Estimator) Reset() {
	e.pts = e.pts[:0]
	e.hold = 0
}

// Truncate keeps only the newest n points.
func (e *Estimator) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if len(e.pts) <= n {
		return
	}
	drop := len(e.pts) - n
	copy(e.pts, e.pts[drop:])
	e.pts = e.pts[:n]
}

// Hold keeps the history from growing for the next n additions: each of
// them replaces the oldest point, so stale points age out quickly after a
// change of sampling precision.
func (e *Estimator) Hold(n int) {
	if n < 0 {
		n = 0
	}
	e.hold = n
}
