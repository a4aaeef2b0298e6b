package hal

import (
	"fmt"

	"envfeed-go/bus"
)

// BoardConfig names the pins the firmware uses.
type BoardConfig struct {
	ClockPin string
	DataPin  string
	DataPull Pull

	ErrorPin  string
	AlertPin  string
	ActiveLow bool
}

// Board is the set of opened lines: the two sensor wires and both LEDs.
type Board struct {
	Clock *PushPull
	Data  *OpenDrain
	Error *LED
	Alert *LED
}

const (
	LEDError = "error"
	LEDAlert = "alert"
)

// Open resolves every pin through f, puts the sensor lines in their idle
// state (SCK low, DATA released) and switches both LEDs off. The sensor lines
// are skipped when neither is named, which is how a simulated sensor runs.
// conn may be nil.
func Open(f PinFactory, cfg BoardConfig, conn *bus.Connection) (*Board, error) {
	pin := func(role, name string) (GPIOPin, error) {
		p, ok := f.ByName(name)
		if !ok {
			return nil, fmt.Errorf("hal: %s pin %q: %w", role, name, ErrUnknownPin)
		}
		return p, nil
	}

	b := &Board{}
	if cfg.ClockPin != "" || cfg.DataPin != "" {
		clk, err := pin("clock", cfg.ClockPin)
		if err != nil {
			return nil, err
		}
		data, err := pin("data", cfg.DataPin)
		if err != nil {
			return nil, err
		}
		if b.Clock, err = NewPushPull(clk, false); err != nil {
			return nil, fmt.Errorf("hal: clock pin: %w", err)
		}
		b.Data = NewOpenDrain(data, cfg.DataPull)
		if err := b.Data.Release(); err != nil {
			return nil, fmt.Errorf("hal: data pin: %w", err)
		}
	}

	errPin, err := pin("error led", cfg.ErrorPin)
	if err != nil {
		return nil, err
	}
	alertPin, err := pin("alert led", cfg.AlertPin)
	if err != nil {
		return nil, err
	}
	b.Error = NewLED(LEDError, errPin, cfg.ActiveLow, conn)
	b.Alert = NewLED(LEDAlert, alertPin, cfg.ActiveLow, conn)
	if err := b.Error.Init(false); err != nil {
		return nil, fmt.Errorf("hal: error led: %w", err)
	}
	if err := b.Alert.Init(false); err != nil {
		return nil, fmt.Errorf("hal: alert led: %w", err)
	}
	return b, nil
}

// HasSensorLines reports whether Open configured the sensor lines.
func (b *Board) HasSensorLines() bool { return b.Clock != nil && b.Data != nil }
