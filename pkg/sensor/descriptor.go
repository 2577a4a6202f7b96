package sensor

// Type is the hub-wide sensor type number carried in host packets.
type Type uint8

const (
	TypeAccel      Type = 1
	TypeAnyMotion  Type = 2
	TypeNoMotion   Type = 3
	TypeFlat       Type = 5
	TypeGyro       Type = 6
	TypeMag        Type = 8
	TypeStepCount  Type = 22
	TypeStepDetect Type = 23
	TypeDoubleTap  Type = 27
)

// Descriptor is what the task registers for each channel.
type Descriptor struct {
	Name   string
	Type   Type
	Rates  []uint32
	Axes   int
	Wakeup bool
	Raw    bool
	Bias   bool
}

var (
	AccelRates = []uint32{
		HZ(25.0 / 8.0), HZ(25.0 / 4.0), HZ(25.0 / 2.0), HZ(25), HZ(50), HZ(100), HZ(200), HZ(400),
	}
	GyroRates = AccelRates
	MagRates  = []uint32{
		HZ(25.0 / 8.0), HZ(25.0 / 4.0), HZ(25.0 / 2.0), HZ(25), HZ(50), HZ(100),
	}
	StepCountRates = []uint32{
		HZ(1.0 / 300.0), HZ(1.0 / 240.0), HZ(1.0 / 180.0), HZ(1.0 / 120.0), HZ(1.0 / 90.0),
		HZ(1.0 / 60.0), HZ(1.0 / 45.0), HZ(1.0 / 30.0), HZ(1.0 / 15.0), HZ(1.0 / 10.0),
		HZ(1.0 / 5.0), RateOnChange,
	}
	OnChangeRates = []uint32{RateOnChange}
	OneShotRates  = []uint32{RateOneShot}
)

// Descriptors lists every channel in index order.
var Descriptors = [NumChannels]Descriptor{
	Accel:     {Name: "Accelerometer", Type: TypeAccel, Rates: AccelRates, Axes: 3, Raw: true},
	Gyro:      {Name: "Gyroscope", Type: TypeGyro, Rates: GyroRates, Axes: 3, Bias: true},
	Mag:       {Name: "Magnetometer", Type: TypeMag, Rates: MagRates, Axes: 3, Bias: true},
	Step:      {Name: "Step Detector", Type: TypeStepDetect, Rates: OnChangeRates, Axes: 0, Wakeup: true},
	DoubleTap: {Name: "Double Tap", Type: TypeDoubleTap, Rates: OnChangeRates, Axes: 0, Wakeup: true},
	Flat:      {Name: "Flat", Type: TypeFlat, Rates: OnChangeRates, Axes: 0, Wakeup: true},
	AnyMotion: {Name: "Any Motion", Type: TypeAnyMotion, Rates: OneShotRates, Axes: 0, Wakeup: true},
	NoMotion:  {Name: "No Motion", Type: TypeNoMotion, Rates: OneShotRates, Axes: 0, Wakeup: true},
	StepCount: {Name: "Step Counter", Type: TypeStepCount, Rates: StepCountRates, Axes: 0},
}

// Supports reports whether rate is in the channel's rate table.
func (d Descriptor) Supports(rate uint32) bool {
	for _, r := range d.Rates {
		if r == rate {
			return true
		}
	}
	return false
}
