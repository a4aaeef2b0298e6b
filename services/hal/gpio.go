// Package hal owns the board's pins: the two sensor lines and the indicator
// LEDs. Pins are addressed by name ("GPIO17", "D11", ...) and handed out by
// a PinFactory, which is periph.io on Linux boards and in-memory fakes on a
// development host.
package hal

import (
	"errors"
	"strings"
)

type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	default:
		return "none"
	}
}

// ParsePull accepts "up", "down" and "none" in any case. Empty means none.
func ParsePull(s string) (Pull, error) {
	switch strings.ToLower(s) {
	case "up", "pullup":
		return PullUp, nil
	case "down", "pulldown":
		return PullDown, nil
	case "", "none", "float":
		return PullNone, nil
	}
	return PullNone, ErrInvalidPull
}

// GPIOPin is the subset of pin control the board needs.
type GPIOPin interface {
	ConfigureInput(pull Pull) error
	ConfigureOutput(initial bool) error
	Set(level bool)
	Get() bool
	Name() string
}

// PinFactory supplies pins by name.
type PinFactory interface {
	ByName(name string) (GPIOPin, bool)
}

var (
	ErrUnknownPin  = errors.New("unknown_pin")
	ErrInvalidPull = errors.New("invalid_pull")
)
