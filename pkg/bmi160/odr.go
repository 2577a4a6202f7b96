package bmi160

import "imu-sensorhub/pkg/sensor"

// Output data rate register codes and limits.
const (
	ODR100Hz = 8
	ODR200Hz = 9

	AccMinODR = 5
	GyrMinODR = 6
	AccMaxODR = 12
	GyrMaxODR = 13
	MagMaxODR = 11
	AccMaxOSR = 3
	GyrMaxOSR = 4

	// MotionODR is the ODR assumed for motion thresholds at init.
	MotionODR = 7
)

var odrRates = [...]uint32{
	sensor.HZ(25.0 / 32.0),
	sensor.HZ(25.0 / 16.0),
	sensor.HZ(25.0 / 8.0),
	sensor.HZ(25.0 / 4.0),
	sensor.HZ(25.0 / 2.0),
	sensor.HZ(25),
	sensor.HZ(50),
	sensor.HZ(100),
	sensor.HZ(200),
	sensor.HZ(400),
	sensor.HZ(800),
	sensor.HZ(1600),
	sensor.HZ(3200),
}

// ComputeODR maps an encoded rate to its ODR register code: 25/32 Hz is 1
// and each doubling adds one, up to 3200 Hz at 13. Unknown rates give 0.
func ComputeODR(rate uint32) int {
	for i, r := range odrRates {
		if r == rate {
			return i + 1
		}
	}
	return 0
}

// TimeDelta is the sample period of an ODR code in sensortime ticks.
func TimeDelta(odr int) uint64 {
	return 1 << uint(16-odr)
}

// Oversample splits a requested continuous-channel ODR into the hardware
// ODR, the FIFO downsampling exponent and the filter mode written to the
// CONF register, following the accel (isGyro false) or gyro limits.
func Oversample(odr int, isGyro bool) (hwODR, downsample, mode int) {
	minODR, maxODR, maxOSR := AccMinODR, AccMaxODR, AccMaxOSR
	if isGyro {
		minODR, maxODR, maxOSR = GyrMinODR, GyrMaxODR, GyrMaxOSR
	}
	mode = 2
	if odr < minODR {
		downsample = minODR - odr
		odr = minODR
	}
	if odr > ODR100Hz {
		if odr == ODR200Hz {
			mode = 0
		} else {
			mode = 1
		}
		downsample = maxOSR
		if maxOSR+odr > maxODR {
			downsample = maxODR - odr
		}
		odr += downsample
	}
	return odr, downsample, mode
}

var motionThresholds8g = [AccMaxODR + 1]byte{5, 5, 5, 5, 5, 5, 5, 5, 4, 3, 2, 2, 2}
var motionThresholds16g = [AccMaxODR + 1]byte{3, 3, 3, 3, 3, 3, 3, 3, 2, 2, 1, 1, 1}

// MotionThreshold is the any/no-motion threshold for an accel ODR.
func MotionThreshold(odr int, rangeG int) byte {
	if odr < 0 {
		odr = 0
	}
	if odr > AccMaxODR {
		odr = AccMaxODR
	}
	if rangeG == 16 {
		return motionThresholds16g[odr]
	}
	return motionThresholds8g[odr]
}
