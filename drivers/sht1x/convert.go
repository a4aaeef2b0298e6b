package sht1x

import (
	"strings"

	"envfeed-go/x/mathx"
)

// Supply is the VDD class the sensor runs at. It selects the d1 temperature
// coefficient.
type Supply uint8

const (
	Supply5V Supply = iota
	Supply4V
	Supply3V5
	Supply3V
	Supply2V5
)

var supplyNames = [...]string{"5V", "4V", "3.5V", "3V", "2.5V"}

func (s Supply) String() string {
	if int(s) < len(supplyNames) {
		return supplyNames[s]
	}
	return "unknown"
}

// ParseSupply accepts the datasheet labels ("3.5V", "3.5v", "3.5").
func ParseSupply(s string) (Supply, bool) {
	s = strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(s)), "V")
	for i, n := range supplyNames {
		if strings.TrimSuffix(n, "V") == s {
			return Supply(i), true
		}
	}
	return 0, false
}

// Unit selects the temperature scale of ReadTemperature.
type Unit uint8

const (
	Celsius Unit = iota
	Fahrenheit
)

func (u Unit) String() string {
	if u == Fahrenheit {
		return "F"
	}
	return "C"
}

func ParseUnit(s string) (Unit, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "c", "celsius", "":
		return Celsius, true
	case "f", "fahrenheit":
		return Fahrenheit, true
	}
	return 0, false
}

// Resolution is status register bit 0.
//
//	HighRes: 14-bit temperature, 12-bit humidity (power-on default)
//	LowRes:  12-bit temperature,  8-bit humidity
type Resolution uint8

const (
	HighRes Resolution = iota
	LowRes
)

func (r Resolution) String() string {
	if r == LowRes {
		return "low"
	}
	return "high"
}

func ParseResolution(s string) (Resolution, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "":
		return HighRes, true
	case "low":
		return LowRes, true
	}
	return 0, false
}

func (r Resolution) tempMask() uint16 {
	if r == LowRes {
		return 0x0FFF
	}
	return 0x3FFF
}

func (r Resolution) humidityMask() uint16 {
	if r == LowRes {
		return 0x00FF
	}
	return 0x0FFF
}

// NominalTemperature is the compensation temperature at which the humidity
// correction term vanishes.
const NominalTemperature = 25.0

// Specified measurement range of the temperature sensor, °C.
const (
	MinCelsius = -40.0
	MaxCelsius = 123.8
)

// Datasheet coefficients (SHT1x v5).
var (
	d1Celsius    = [...]float64{-40.1, -39.8, -39.7, -39.6, -39.4}
	d1Fahrenheit = [...]float64{-40.2, -39.6, -39.5, -39.3, -38.9}
)

type rhCoeffs struct{ c1, c2, c3, t1, t2 float64 }

var (
	rh12 = rhCoeffs{c1: -2.0468, c2: 0.0367, c3: -1.5955e-6, t1: 0.01, t2: 0.00008}
	rh8  = rhCoeffs{c1: -2.0468, c2: 0.5872, c3: -4.0845e-4, t1: 0.01, t2: 0.00128}
)

// Temperature converts a raw temperature code: T = d1 + d2*SOt.
func Temperature(raw uint16, vdd Supply, unit Unit, res Resolution) float64 {
	i := int(vdd)
	if i >= len(d1Celsius) {
		i = int(Supply3V5)
	}
	var d1, d2 float64
	switch unit {
	case Fahrenheit:
		d1, d2 = d1Fahrenheit[i], 0.018
	default:
		d1, d2 = d1Celsius[i], 0.01
	}
	if res == LowRes {
		d2 *= 4
	}
	return d1 + d2*float64(raw&res.tempMask())
}

// Humidity converts a raw humidity code and compensates it for tempC.
// The result is clamped to the physical range [0, 100] %RH.
func Humidity(raw uint16, tempC float64, res Resolution) float64 {
	k := rh12
	if res == LowRes {
		k = rh8
	}
	so := float64(raw & res.humidityMask())
	linear := k.c1 + k.c2*so + k.c3*so*so
	rh := (tempC-NominalTemperature)*(k.t1+k.t2*so) + linear
	return mathx.Clamp(rh, 0, 100)
}

// FahrenheitToCelsius is used to recover a compensation temperature when
// readings are reported in Fahrenheit.
func FahrenheitToCelsius(f float64) float64 { return (f - 32) * 5 / 9 }
