// BMI160 register map and command set
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package bmi160

// ChipID is the value of RegID on a BMI160.
const ChipID = 0xd1

// Register addresses.
const (
	RegID           = 0x00
	RegErr          = 0x02
	RegPMUStatus    = 0x03
	RegData0        = 0x04
	RegData14       = 0x12
	RegSensorTime0  = 0x18
	RegStatus       = 0x1b
	RegIntStatus0   = 0x1c
	RegIntStatus1   = 0x1d
	RegTemperature0 = 0x20
	RegFifoLength0  = 0x22
	RegFifoData     = 0x24
	RegAccConf      = 0x40
	RegAccRange     = 0x41
	RegGyrConf      = 0x42
	RegGyrRange     = 0x43
	RegMagConf      = 0x44
	RegFifoDowns    = 0x45
	RegFifoConfig0  = 0x46
	RegFifoConfig1  = 0x47
	RegIntEn0       = 0x50
	RegIntEn1       = 0x51
	RegIntEn2       = 0x52
	RegIntOutCtrl   = 0x53
	RegIntLatch     = 0x54
	RegIntMap0      = 0x55
	RegIntMap1      = 0x56
	RegIntMap2      = 0x57
	RegIntData0     = 0x58
	RegIntMotion0   = 0x5f
	RegIntMotion1   = 0x60
	RegIntMotion2   = 0x61
	RegIntMotion3   = 0x62
	RegIntTap0      = 0x63
	RegIntTap1      = 0x64
	RegIntFlat0     = 0x67
	RegIntFlat1     = 0x68
	RegFocConf      = 0x69
	RegPMUTrigger   = 0x6c
	RegSelfTest     = 0x6d
	RegOffset0      = 0x71
	RegOffset3      = 0x74
	RegOffset6      = 0x77
	RegStepCnt0     = 0x78
	RegStepConf0    = 0x7a
	RegStepConf1    = 0x7b
	RegCmd          = 0x7e
	RegMagic        = 0x7f
)

// Values written to RegCmd.
const (
	CmdStartFOC     = 0x03
	CmdAccSuspend   = 0x10
	CmdAccNormal    = 0x11
	CmdGyrSuspend   = 0x14
	CmdGyrNormal    = 0x15
	CmdMagSuspend   = 0x18
	CmdMagNormal    = 0x19
	CmdFifoFlush    = 0xb0
	CmdIntReset     = 0xb1
	CmdStepCntClear = 0xb2
	CmdSoftReset    = 0xb6
)

// Interrupt status bits.
const (
	IntStep      = 0x01 // status 0
	IntAnyMotion = 0x04 // status 0
	IntDoubleTap = 0x10 // status 0
	IntFlat      = 0x80 // status 0
	IntFifoWM    = 0x40 // status 1
	IntNoMotion  = 0x80 // status 1
)

// Interrupt enable bits.
const (
	EnFlat      = 0x80 // INT_EN_0
	EnDoubleTap = 0x10 // INT_EN_0
	EnAnyMotion = 0x07 // INT_EN_0
	EnStep      = 0x08 // INT_EN_2
	EnNoMotion  = 0x07 // INT_EN_2
)

// Status register bits.
const (
	StatusFocReady      = 0x08
	StatusGyrSelfTestOK = 0x02
)

// FIFO_CONFIG_1 bits.
const (
	FifoConfig1Base = 0x12 // header mode, sensortime frames
	FifoEnableMag   = 0x20
	FifoEnableAcc   = 0x40
	FifoEnableGyr   = 0x80
)

// Fixed register values used by the task.
const (
	FocConfAcc         = 0x3d // x 0g, y 0g, z +1g
	FocConfGyr         = 0x40
	GyrRange2000       = 0x01
	StepConf0Normal    = 0x15
	StepConf1Normal    = 0x03
	StepConf0Sensitive = 0x2d
	StepConf1Sensitive = 0x02
	StepCounterEnable  = 0x08
	TapThreshold       = 0x04
	SelfTestAccPos     = 0x0d
	SelfTestAccNeg     = 0x09
	SelfTestGyr        = 0x10
	AccConfSelfTest    = 0x2c
	Offset6AccEn       = 0x40
	Offset6GyrEn       = 0x80
)

// AccRangeSetting returns the ACC_RANGE value for 8 or 16 g.
func AccRangeSetting(g int) byte {
	if g == 16 {
		return 0x0c
	}
	return 0x08
}
