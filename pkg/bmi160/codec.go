package bmi160

// Offset register codecs. Accel offsets are 8-bit two's complement in
// OFFSET_0..2. Gyro offsets are 10-bit two's complement: the low byte sits
// in OFFSET_3..5 and the two high bits of x, y, z are packed into bits
// 0-1, 2-3 and 4-5 of OFFSET_6, whose bits 6 and 7 enable the accel and
// gyro compensation.

// AccOffsetMin and friends bound the representable offsets.
const (
	AccOffsetMin = -128
	AccOffsetMax = 127
	GyrOffsetMin = -512
	GyrOffsetMax = 511
)

// DecodeAccOffset sign-extends one accel offset byte.
func DecodeAccOffset(b byte) int32 {
	return int32(int8(b))
}

// EncodeAccOffset keeps the low byte of v.
func EncodeAccOffset(v int32) byte {
	return byte(v)
}

// DecodeGyrOffsets rebuilds the three gyro offsets from OFFSET_3..5 and
// OFFSET_6.
func DecodeGyrOffsets(lo [3]byte, off6 byte) [3]int32 {
	var out [3]int32
	for i := range out {
		raw := int32(off6>>(2*uint(i)))&0x3<<8 | int32(lo[i])
		if raw&0x200 != 0 {
			raw -= 0x400
		}
		out[i] = raw
	}
	return out
}

// EncodeGyrOffset splits a 10-bit offset into its low byte and high two bits.
func EncodeGyrOffset(v int32) (lo byte, hi byte) {
	return byte(v), byte(v>>8) & 0x3
}

// Offset6 builds the OFFSET_6 register from the enable flags and the high
// bits of the gyro offsets.
func Offset6(gyrEn, accEn bool, gyr [3]int32) byte {
	var v byte
	if gyrEn {
		v |= Offset6GyrEn
	}
	if accEn {
		v |= Offset6AccEn
	}
	for i, g := range gyr {
		_, hi := EncodeGyrOffset(g)
		v |= hi << (2 * uint(i))
	}
	return v
}

// DecodeTemperature converts TEMPERATURE_0/1 to degrees Celsius. The
// value 0x8000 means no valid reading.
func DecodeTemperature(lo, hi byte) (float32, bool) {
	raw := uint16(hi)<<8 | uint16(lo)
	if raw == 0x8000 {
		return -1000, false
	}
	return 23 + float32(int16(raw))*0.001953125, true
}

// DecodeSensorTime assembles the 24-bit little-endian sensortime.
func DecodeSensorTime(b []byte) uint32 {
	return uint32(b[2])<<16 | uint32(b[1])<<8 | uint32(b[0])
}

// Accel self-test minimum deviations in LSB at 8 g.
const (
	SelfTestAccXYMin = (800 * 32767) / 8000
	SelfTestAccZMin  = (400 * 32767) / 8000
)

// SensorTickNs is the sensortime tick period.
const SensorTickNs = 39000
