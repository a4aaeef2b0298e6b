package sht1x

import (
	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"
)

var _ drivers.Sensor = (*Device)(nil)

// Update implements drivers.Sensor using Config.Supply. Humidity is
// compensated with the temperature from the same call when both are
// requested, otherwise with the last temperature read.
func (d *Device) Update(which drivers.Measurement) error {
	if which&drivers.Temperature != 0 {
		if _, err := d.ReadTemperature(d.cfg.Supply, Celsius); err != nil {
			return err
		}
	}
	if which&drivers.Humidity != 0 {
		comp := NominalTemperature
		if d.haveTemp {
			comp = d.celsius
		}
		if _, err := d.ReadHumidity(d.cfg.Supply, comp); err != nil {
			return err
		}
	}
	return nil
}

// Temperature returns the last temperature in milli °C.
func (d *Device) Temperature() int32 { return int32(d.celsius * 1000) }

// Humidity returns the last relative humidity in hundredths of a percent.
func (d *Device) Humidity() int32 { return int32(d.humidity * 100) }

// Sense fills e with a fresh temperature and humidity sample, for callers
// written against periph.io's environmental sensor interfaces.
func (d *Device) Sense(e *physic.Env) error {
	if err := d.Update(drivers.Temperature | drivers.Humidity); err != nil {
		return err
	}
	e.Temperature = physic.ZeroCelsius + physic.Temperature(d.Temperature())*physic.MilliKelvin
	e.Humidity = physic.RelativeHumidity(d.Humidity()) * physic.PercentRH / 100
	return nil
}
