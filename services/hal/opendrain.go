package hal

// OpenDrain emulates an open-drain line on a push-pull pin: releasing turns
// the pin into an input (the pull-up or the remote end sets the level),
// driving low turns it into an output at 0. It satisfies sht1x.Data.
type OpenDrain struct {
	pin  GPIOPin
	pull Pull
}

// NewOpenDrain wraps pin. pull is applied while released; use PullNone when
// the board has an external resistor.
func NewOpenDrain(pin GPIOPin, pull Pull) *OpenDrain {
	return &OpenDrain{pin: pin, pull: pull}
}

func (o *OpenDrain) Release() error  { return o.pin.ConfigureInput(o.pull) }
func (o *OpenDrain) DriveLow() error { return o.pin.ConfigureOutput(false) }
func (o *OpenDrain) Get() bool       { return o.pin.Get() }

func (o *OpenDrain) Name() string { return o.pin.Name() }

// PushPull drives the clock line. It satisfies sht1x.Clock.
type PushPull struct {
	pin GPIOPin
}

// NewPushPull configures pin as an output at the idle level.
func NewPushPull(pin GPIOPin, idle bool) (*PushPull, error) {
	if err := pin.ConfigureOutput(idle); err != nil {
		return nil, err
	}
	return &PushPull{pin: pin}, nil
}

func (p *PushPull) Set(level bool) { p.pin.Set(level) }

func (p *PushPull) Name() string { return p.pin.Name() }
