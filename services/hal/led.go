package hal

import (
	"sync"

	"envfeed-go/bus"
	"envfeed-go/types"
)

// LED is a single indicator on a GPIO. On is the logical state; ActiveLow
// boards invert it at the pin. When a bus connection is attached, every state
// change is published retained on indicator/<name>, and Init publishes the
// pin description on indicator/<name>/info.
type LED struct {
	name      string
	pin       GPIOPin
	activeLow bool
	conn      *bus.Connection

	mu   sync.Mutex
	last bool
	seen bool
}

func NewLED(name string, pin GPIOPin, activeLow bool, conn *bus.Connection) *LED {
	return &LED{name: name, pin: pin, activeLow: activeLow, conn: conn}
}

func (l *LED) Info() types.Info {
	return types.Info{
		SchemaVersion: 1,
		Driver:        "gpio_led",
		Detail:        types.LEDInfo{Pin: l.pin.Name(), ActiveLow: l.activeLow},
	}
}

// Init configures the pin as an output in the given logical state.
func (l *LED) Init(on bool) error {
	if err := l.pin.ConfigureOutput(l.level(on)); err != nil {
		return err
	}
	l.mu.Lock()
	l.last, l.seen = on, true
	l.mu.Unlock()
	if l.conn != nil {
		l.conn.Publish(l.conn.NewMessage(bus.T(types.TopicIndicator, l.name, types.TopicInfo), l.Info(), true))
	}
	l.emit(on)
	return nil
}

// Set drives the logical state.
func (l *LED) Set(on bool) {
	l.pin.Set(l.level(on))
	l.mu.Lock()
	changed := !l.seen || l.last != on
	l.last, l.seen = on, true
	l.mu.Unlock()
	if changed {
		l.emit(on)
	}
}

// Get reads the logical state back from the pin.
func (l *LED) Get() bool {
	return l.level(l.pin.Get())
}

func (l *LED) level(on bool) bool {
	if l.activeLow {
		return !on
	}
	return on
}

func (l *LED) emit(on bool) {
	if l.conn == nil {
		return
	}
	l.conn.Publish(l.conn.NewMessage(
		bus.T(types.TopicIndicator, l.name),
		types.LEDValue{On: on},
		true,
	))
}
