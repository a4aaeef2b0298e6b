// Package sht1x provides a bit-banged driver for the Sensirion SHT1x
// (SHT10/SHT11/SHT15) temperature/humidity sensors.
//
// The sensor talks a two-wire protocol that looks like I²C but is not: SCK is
// driven by the host, DATA is open drain, and every transaction begins with a
// "transmission start" pattern instead of an address. A measurement is:
//
//	err := d.Reset()                         // once at startup
//	err = d.Configure(sht1x.HighRes)         // status register
//	t, err := d.ReadTemperature(sht1x.Supply3V5, sht1x.Celsius)
//	rh, err := d.ReadHumidity(sht1x.Supply3V5, t)
//
// Device is not safe for concurrent use; it owns both lines.
package sht1x

import (
	"time"

	"envfeed-go/errcode"
)

// Commands (address bits are always 000).
const (
	cmdMeasureTemp = 0x03
	cmdMeasureRH   = 0x05
	cmdReadStatus  = 0x07
	cmdWriteStatus = 0x06
	cmdSoftReset   = 0x1E
)

// Status register bits.
const (
	statusLowRes    = 0x01
	statusNoOTPLoad = 0x02
	statusHeater    = 0x04
	statusWritable  = statusLowRes | statusNoOTPLoad | statusHeater
)

// Errors returned by the driver. They are errcode codes, so errors.Is works
// against both these names and the codes.
var (
	ErrProtocol = errcode.SensorProtocol // no ACK inside the protocol window
	ErrTimeout  = errcode.SensorTimeout  // data-ready never asserted
	ErrChecksum = errcode.SensorChecksum // CRC byte did not match
)

// Config controls timing and checks. All fields are optional.
type Config struct {
	// ClockDelay is the half period of SCK. Default 2µs.
	ClockDelay time.Duration
	// MeasureTimeout bounds the data-ready wait. Default 400ms (14-bit
	// conversions take up to 320ms).
	MeasureTimeout time.Duration
	// PollInterval is the sleep between data-ready checks. Default 1ms.
	PollInterval time.Duration
	// ResetSettle is the wait after a soft reset. Default 11ms.
	ResetSettle time.Duration
	// SkipCRC disables reading and validating the checksum byte.
	SkipCRC bool
	// Supply is the VDD class used by Update and Sense.
	Supply Supply
}

func (c Config) withDefaults() Config {
	if c.ClockDelay <= 0 {
		c.ClockDelay = 2 * time.Microsecond
	}
	if c.MeasureTimeout <= 0 {
		c.MeasureTimeout = 400 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Millisecond
	}
	if c.ResetSettle <= 0 {
		c.ResetSettle = 11 * time.Millisecond
	}
	return c
}

// Device is one sensor on a pair of lines.
type Device struct {
	w   wire
	cfg Config

	status byte // shadow of the status register; seeds the CRC

	rawTemp  uint16
	rawRH    uint16
	celsius  float64 // last converted temperature, °C
	humidity float64 // last converted humidity, %RH
	haveTemp bool
}

// New binds a device to its lines. It does not touch the sensor.
func New(clk Clock, data Data, cfg Config) *Device {
	cfg = cfg.withDefaults()
	return &Device{
		w:   wire{clk: clk, data: data, half: cfg.ClockDelay},
		cfg: cfg,
	}
}

// Resolution returns the mode last written with Configure.
func (d *Device) Resolution() Resolution {
	if d.status&statusLowRes != 0 {
		return LowRes
	}
	return HighRes
}

// Reset resynchronises the interface and issues a soft reset, which also
// clears the status register. It blocks for ResetSettle afterwards.
func (d *Device) Reset() error {
	d.w.err = nil
	d.w.reset()
	if !d.w.writeByte(cmdSoftReset) {
		return d.fail("reset", ErrProtocol)
	}
	d.status = 0
	time.Sleep(d.cfg.ResetSettle)
	return nil
}

// Configure writes the resolution bit of the status register. Heater and
// OTP-reload bits are left cleared.
func (d *Device) Configure(res Resolution) error {
	var reg byte
	if res == LowRes {
		reg |= statusLowRes
	}
	return d.WriteStatus(reg)
}

// WriteStatus writes the raw status register (only writable bits are kept).
func (d *Device) WriteStatus(reg byte) error {
	reg &= statusWritable
	d.w.err = nil
	d.w.start()
	if !d.w.writeByte(cmdWriteStatus) {
		return d.fail("write status", ErrProtocol)
	}
	if !d.w.writeByte(reg) {
		return d.fail("write status", ErrProtocol)
	}
	d.status = reg
	return nil
}

// ReadStatus reads the status register and refreshes the CRC seed from it.
func (d *Device) ReadStatus() (byte, error) {
	d.w.err = nil
	d.w.start()
	if !d.w.writeByte(cmdReadStatus) {
		return 0, d.fail("read status", ErrProtocol)
	}
	if d.cfg.SkipCRC {
		reg := d.w.readByte(false)
		if d.w.err != nil {
			return 0, d.fail("read status", ErrProtocol)
		}
		d.status = reg & statusWritable
		return reg, nil
	}
	reg := d.w.readByte(true)
	crc := d.w.readByte(false)
	if d.w.err != nil {
		return 0, d.fail("read status", ErrProtocol)
	}
	if !checksumOK(d.status, crc, cmdReadStatus, reg) {
		return 0, d.fail("read status", ErrChecksum)
	}
	d.status = reg & statusWritable
	return reg, nil
}

// ReadRawTemperature triggers a temperature conversion and returns the raw
// code (14 or 12 significant bits).
func (d *Device) ReadRawTemperature() (uint16, error) {
	raw, err := d.measure("measure temperature", cmdMeasureTemp)
	if err != nil {
		return 0, err
	}
	raw &= d.Resolution().tempMask()
	d.rawTemp = raw
	return raw, nil
}

// ReadRawHumidity triggers a humidity conversion and returns the raw code
// (12 or 8 significant bits).
func (d *Device) ReadRawHumidity() (uint16, error) {
	raw, err := d.measure("measure humidity", cmdMeasureRH)
	if err != nil {
		return 0, err
	}
	raw &= d.Resolution().humidityMask()
	d.rawRH = raw
	return raw, nil
}

// ReadTemperature measures and converts the temperature for the given supply
// class and unit.
func (d *Device) ReadTemperature(vdd Supply, unit Unit) (float64, error) {
	raw, err := d.ReadRawTemperature()
	if err != nil {
		return 0, err
	}
	d.celsius = Temperature(raw, vdd, Celsius, d.Resolution())
	d.haveTemp = true
	if unit == Celsius {
		return d.celsius, nil
	}
	return Temperature(raw, vdd, unit, d.Resolution()), nil
}

// ReadHumidity measures relative humidity and compensates it for tempC (°C).
// Pass NominalTemperature when no valid temperature is available; the
// correction term is then zero. The vdd class does not enter the humidity
// formula and is accepted for symmetry with ReadTemperature.
func (d *Device) ReadHumidity(_ Supply, tempC float64) (float64, error) {
	raw, err := d.ReadRawHumidity()
	if err != nil {
		return 0, err
	}
	d.humidity = Humidity(raw, tempC, d.Resolution())
	return d.humidity, nil
}

// measure runs one conversion: start, command, wait, clock out data (+CRC).
func (d *Device) measure(op string, cmd byte) (uint16, error) {
	d.w.err = nil
	d.w.start()
	if !d.w.writeByte(cmd) {
		return 0, d.fail(op, ErrProtocol)
	}
	if !d.w.waitReady(d.cfg.MeasureTimeout, d.cfg.PollInterval) {
		if d.w.err != nil {
			return 0, d.fail(op, ErrProtocol)
		}
		return 0, d.fail(op, ErrTimeout)
	}
	msb := d.w.readByte(true)
	lsb := d.w.readByte(!d.cfg.SkipCRC)
	var crc byte
	if !d.cfg.SkipCRC {
		crc = d.w.readByte(false)
	}
	if d.w.err != nil {
		return 0, d.fail(op, ErrProtocol)
	}
	if !d.cfg.SkipCRC && !checksumOK(d.status, crc, cmd, msb, lsb) {
		return 0, d.fail(op, ErrChecksum)
	}
	return uint16(msb)<<8 | uint16(lsb), nil
}

// fail resets the interface so the next transaction starts clean and wraps
// the code with the operation name and any line error.
func (d *Device) fail(op string, code errcode.Code) error {
	cause := d.w.err
	d.w.err = nil
	d.w.reset()
	d.w.err = nil
	return errcode.Wrap(code, "sht1x: "+op, cause)
}
