package sht1x

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"

	"envfeed-go/drivers/sht1x/sht1xsim"
	"envfeed-go/errcode"
)

func newSimDevice(t *testing.T, sim *sht1xsim.Sensor, cfg Config) *Device {
	t.Helper()
	if cfg.ResetSettle == 0 {
		cfg.ResetSettle = time.Microsecond
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Microsecond
	}
	return New(sim.Clock(), sim.Data(), cfg)
}

func TestResetAndConfigure(t *testing.T) {
	sim := sht1xsim.New(6400, 1500)
	d := newSimDevice(t, sim, Config{})

	require.NoError(t, d.Reset())
	require.Equal(t, 1, sim.SoftResets())
	require.Equal(t, HighRes, d.Resolution())

	require.NoError(t, d.Configure(LowRes))
	require.Equal(t, byte(0x01), sim.Status())
	require.Equal(t, LowRes, d.Resolution())

	reg, err := d.ReadStatus()
	require.NoError(t, err)
	require.Equal(t, byte(0x01), reg&0x07)

	require.NoError(t, d.Configure(HighRes))
	require.Equal(t, byte(0x00), sim.Status())
	require.Equal(t, []byte{cmdSoftReset, cmdWriteStatus, cmdReadStatus, cmdWriteStatus}, sim.Commands())
}

func TestReadRawCodes(t *testing.T) {
	sim := sht1xsim.New(0x1900, 0x05DC)
	d := newSimDevice(t, sim, Config{})
	require.NoError(t, d.Reset())

	rt, err := d.ReadRawTemperature()
	require.NoError(t, err)
	require.Equal(t, uint16(6400), rt)

	rh, err := d.ReadRawHumidity()
	require.NoError(t, err)
	require.Equal(t, uint16(1500), rh)
}

func TestReadRawMasksToResolution(t *testing.T) {
	sim := sht1xsim.New(0xFFFF, 0xFFFF)
	d := newSimDevice(t, sim, Config{})
	require.NoError(t, d.Reset())

	rt, err := d.ReadRawTemperature()
	require.NoError(t, err)
	require.Equal(t, uint16(0x3FFF), rt)

	require.NoError(t, d.Configure(LowRes))
	rh, err := d.ReadRawHumidity()
	require.NoError(t, err)
	require.Equal(t, uint16(0x00FF), rh)
}

func TestReadCalibratedAgainstSimulator(t *testing.T) {
	sim := sht1xsim.New(6400, 1500)
	d := newSimDevice(t, sim, Config{})
	require.NoError(t, d.Reset())
	require.NoError(t, d.Configure(HighRes))

	temp, err := d.ReadTemperature(Supply3V5, Celsius)
	require.NoError(t, err)
	require.InDelta(t, 24.30, temp, 1e-9)

	rh, err := d.ReadHumidity(Supply3V5, temp)
	require.NoError(t, err)
	require.InDelta(t, Humidity(1500, 24.30, HighRes), rh, 1e-12)

	tf, err := d.ReadTemperature(Supply3V5, Fahrenheit)
	require.NoError(t, err)
	require.InDelta(t, 75.70, tf, 1e-9)
}

func TestLowResolutionChecksumUsesStatusSeed(t *testing.T) {
	sim := sht1xsim.New(1600, 100)
	d := newSimDevice(t, sim, Config{})
	require.NoError(t, d.Reset())
	require.NoError(t, d.Configure(LowRes))

	temp, err := d.ReadTemperature(Supply3V5, Celsius)
	require.NoError(t, err)
	require.InDelta(t, 24.30, temp, 1e-9)

	rh, err := d.ReadHumidity(Supply3V5, NominalTemperature)
	require.NoError(t, err)
	require.InDelta(t, 52.5887, rh, 1e-9)
}

func TestSlowConversionIsPolled(t *testing.T) {
	sim := sht1xsim.New(6400, 1500)
	sim.ReadyAfter = 25
	d := newSimDevice(t, sim, Config{})
	require.NoError(t, d.Reset())

	raw, err := d.ReadRawTemperature()
	require.NoError(t, err)
	require.Equal(t, uint16(6400), raw)
}

func TestReadyNeverAssertsTimesOut(t *testing.T) {
	sim := sht1xsim.New(6400, 1500)
	sim.ReadyAfter = -1
	d := newSimDevice(t, sim, Config{MeasureTimeout: 5 * time.Millisecond})
	require.NoError(t, d.Reset())

	_, err := d.ReadTemperature(Supply3V5, Celsius)
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, errcode.SensorTimeout, errcode.Of(err))

	// The interface recovers once the sensor behaves again.
	sim.ReadyAfter = 0
	_, err = d.ReadRawHumidity()
	require.NoError(t, err)
}

func TestMissingAckIsProtocolFailure(t *testing.T) {
	sim := sht1xsim.New(6400, 1500)
	sim.Deaf = true
	d := newSimDevice(t, sim, Config{})

	err := d.Reset()
	require.ErrorIs(t, err, ErrProtocol)

	err = d.Configure(LowRes)
	require.ErrorIs(t, err, ErrProtocol)
	require.Equal(t, HighRes, d.Resolution(), "failed write must not update the shadow register")

	var e *errcode.E
	require.True(t, errors.As(err, &e))
	require.Equal(t, "sht1x: write status", e.Op)
}

func TestChecksumMismatch(t *testing.T) {
	sim := sht1xsim.New(6400, 1500)
	sim.CorruptCRC = true
	d := newSimDevice(t, sim, Config{})
	require.NoError(t, d.Reset())

	_, err := d.ReadRawTemperature()
	require.ErrorIs(t, err, ErrChecksum)

	_, err = d.ReadStatus()
	require.ErrorIs(t, err, ErrChecksum)
}

func TestSkipCRCIgnoresChecksumByte(t *testing.T) {
	sim := sht1xsim.New(6400, 1500)
	sim.CorruptCRC = true
	d := newSimDevice(t, sim, Config{SkipCRC: true})
	require.NoError(t, d.Reset())

	raw, err := d.ReadRawTemperature()
	require.NoError(t, err)
	require.Equal(t, uint16(6400), raw)
}

func TestUpdateAndSense(t *testing.T) {
	sim := sht1xsim.New(6400, 1500)
	d := newSimDevice(t, sim, Config{Supply: Supply3V5})
	require.NoError(t, d.Reset())

	require.NoError(t, d.Update(drivers.Temperature|drivers.Humidity))
	require.InDelta(t, 24300, float64(d.Temperature()), 1)
	require.InDelta(t, Humidity(1500, 24.3, HighRes)*100, float64(d.Humidity()), 1)

	var env physic.Env
	require.NoError(t, d.Sense(&env))
	want := physic.ZeroCelsius + physic.Temperature(d.Temperature())*physic.MilliKelvin
	require.Equal(t, want, env.Temperature)
	require.NotZero(t, env.Humidity)
}
