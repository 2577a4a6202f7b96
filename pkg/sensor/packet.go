package sensor

import (
	"encoding/binary"
	"fmt"
)

// AppID identifies the IMU task in host packets (vendor "Googl", app 2).
const AppID uint64 = 0x476F6F676C<<24 | 2

// Message ids and status codes of the result packets.
const (
	MsgCalResult  uint8 = 0x00
	MsgTestResult uint8 = 0x01

	StatusSuccess uint8 = 0x00
	StatusBusy    uint8 = 0x01
	StatusError   uint8 = 0x02
)

const (
	rawHeaderLen   = 9
	eventHeaderLen = 3

	// CalPacketLen and TestPacketLen are the encoded sizes.
	CalPacketLen  = rawHeaderLen + eventHeaderLen + 12
	TestPacketLen = rawHeaderLen + eventHeaderLen
)

// ResultPacket is a calibration or self-test result bound for the host.
// Bias is only encoded for calibration results.
type ResultPacket struct {
	AppID      uint64   `json:"app_id"`
	MsgID      uint8    `json:"msg_id"`
	SensorType Type     `json:"sensor_type"`
	Status     uint8    `json:"status"`
	Bias       [3]int32 `json:"bias"`
}

// CalResult builds a calibration result packet.
func CalResult(t Type, status uint8, bias [3]int32) ResultPacket {
	return ResultPacket{AppID: AppID, MsgID: MsgCalResult, SensorType: t, Status: status, Bias: bias}
}

// TestResult builds a self-test result packet.
func TestResult(t Type, status uint8) ResultPacket {
	return ResultPacket{AppID: AppID, MsgID: MsgTestResult, SensorType: t, Status: status}
}

// Encode packs the packet little-endian with no padding.
func (p ResultPacket) Encode() []byte {
	n := TestPacketLen
	if p.MsgID == MsgCalResult {
		n = CalPacketLen
	}
	b := make([]byte, n)
	binary.LittleEndian.PutUint64(b[0:], p.AppID)
	b[8] = byte(n - rawHeaderLen)
	b[9] = p.MsgID
	b[10] = byte(p.SensorType)
	b[11] = p.Status
	if p.MsgID == MsgCalResult {
		for i, v := range p.Bias {
			binary.LittleEndian.PutUint32(b[12+4*i:], uint32(v))
		}
	}
	return b
}

// DecodeResultPacket parses an encoded result packet.
func DecodeResultPacket(b []byte) (ResultPacket, error) {
	var p ResultPacket
	if len(b) < TestPacketLen {
		return p, fmt.Errorf("result packet too short: %d bytes", len(b))
	}
	if int(b[8]) != len(b)-rawHeaderLen {
		return p, fmt.Errorf("result packet length %d does not match payload %d", b[8], len(b)-rawHeaderLen)
	}
	p.AppID = binary.LittleEndian.Uint64(b[0:])
	p.MsgID = b[9]
	p.SensorType = Type(b[10])
	p.Status = b[11]
	if p.MsgID == MsgCalResult {
		if len(b) != CalPacketLen {
			return p, fmt.Errorf("calibration packet is %d bytes, want %d", len(b), CalPacketLen)
		}
		for i := range p.Bias {
			p.Bias[i] = int32(binary.LittleEndian.Uint32(b[12+4*i:]))
		}
	}
	return p, nil
}
