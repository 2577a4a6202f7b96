package bus

import (
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// Mode selects the register access framing.
type Mode int

const (
	// ModeSPI sends the address with bit 7 set for reads and clocks the
	// reply back full duplex in the same transaction.
	ModeSPI Mode = iota
	// ModeI2C writes the register address then reads the reply.
	ModeI2C
)

func (m Mode) String() string {
	if m == ModeI2C {
		return "i2c"
	}
	return "spi"
}

const spiReadFlag = 0x80

// PeriphDriver runs batches over a periph.io connection, one op at a time
// on a worker goroutine, sleeping for each op's delay after it completes.
type PeriphDriver struct {
	c     conn.Conn
	mode  Mode
	sleep func(time.Duration)
}

// NewPeriphDriver wraps an already connected periph device.
func NewPeriphDriver(c conn.Conn, mode Mode) *PeriphDriver {
	return &PeriphDriver{c: c, mode: mode, sleep: time.Sleep}
}

// OpenSPI connects a periph SPI port in the given mode and speed.
func OpenSPI(p spi.Port, hz int64, mode int) (*PeriphDriver, error) {
	c, err := p.Connect(physic.Frequency(hz)*physic.Hertz, spi.Mode(mode), 8)
	if err != nil {
		return nil, errors.Wrapf(err, "connect spi at %d Hz mode %d", hz, mode)
	}
	return NewPeriphDriver(c, ModeSPI), nil
}

// OpenI2C addresses a device on a periph I2C bus.
func OpenI2C(b i2c.Bus, addr uint16) *PeriphDriver {
	return NewPeriphDriver(&i2c.Dev{Bus: b, Addr: addr}, ModeI2C)
}

// Transfer implements Driver.
func (d *PeriphDriver) Transfer(ops []Op, buf []byte, done func(error)) error {
	if d.c == nil {
		return errors.New("periph driver has no connection")
	}
	go func() {
		done(d.run(ops, buf))
	}()
	return nil
}

func (d *PeriphDriver) run(ops []Op, buf []byte) error {
	for _, op := range ops {
		var err error
		if op.Write {
			err = d.write(op, buf)
		} else {
			err = d.read(op, buf)
		}
		if err != nil {
			return err
		}
		if op.Delay > 0 {
			d.sleep(op.Delay)
		}
	}
	return nil
}

func (d *PeriphDriver) write(op Op, buf []byte) error {
	w := []byte{op.Addr &^ spiReadFlag, buf[op.Offset+1]}
	var r []byte
	if d.mode == ModeSPI {
		r = make([]byte, len(w))
	}
	if err := d.c.Tx(w, r); err != nil {
		return errors.Wrapf(err, "%s write reg 0x%02x", d.mode, op.Addr)
	}
	return nil
}

func (d *PeriphDriver) read(op Op, buf []byte) error {
	dst := buf[op.Offset : op.Offset+op.Len]
	if d.mode == ModeSPI {
		w := make([]byte, op.Len)
		w[0] = op.Addr | spiReadFlag
		if err := d.c.Tx(w, dst); err != nil {
			return errors.Wrapf(err, "spi read reg 0x%02x len %d", op.Addr, op.Len-1)
		}
		return nil
	}
	if err := d.c.Tx([]byte{op.Addr}, dst[1:]); err != nil {
		return errors.Wrapf(err, "i2c read reg 0x%02x len %d", op.Addr, op.Len-1)
	}
	dst[0] = 0
	return nil
}

// String describes the underlying connection.
func (d *PeriphDriver) String() string {
	return d.mode.String() + ":" + d.c.String()
}
