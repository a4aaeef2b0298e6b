package hal

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var (
	hostOnce sync.Once
	hostErr  error
)

// Init loads the periph.io host drivers. It is safe to call more than once.
func Init() error {
	hostOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			hostErr = fmt.Errorf("hal: periph host init: %w", err)
		}
	})
	return hostErr
}

// PeriphPin adapts a periph.io pin to GPIOPin.
type PeriphPin struct {
	p gpio.PinIO
}

func NewPeriphPin(p gpio.PinIO) *PeriphPin { return &PeriphPin{p: p} }

func (p *PeriphPin) ConfigureInput(pull Pull) error {
	return p.p.In(periphPull(pull), gpio.NoEdge)
}

func (p *PeriphPin) ConfigureOutput(initial bool) error {
	return p.p.Out(gpio.Level(initial))
}

// Set drives the pin. The pin must already be an output.
func (p *PeriphPin) Set(level bool) { _ = p.p.Out(gpio.Level(level)) }

func (p *PeriphPin) Get() bool { return bool(p.p.Read()) }

func (p *PeriphPin) Name() string { return p.p.Name() }

func periphPull(p Pull) gpio.Pull {
	switch p {
	case PullUp:
		return gpio.PullUp
	case PullDown:
		return gpio.PullDown
	default:
		return gpio.Float
	}
}

// PeriphFactory looks pins up in the periph.io registry. Call Init first.
type PeriphFactory struct{}

func (PeriphFactory) ByName(name string) (GPIOPin, bool) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, false
	}
	return NewPeriphPin(p), true
}
