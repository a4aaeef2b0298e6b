package hal

import "sync"

// FakePin implements GPIOPin in memory for host runs and tests. As an input
// it reads the level an external party put on it with Drive, or the pull
// level when nothing drives it.
type FakePin struct {
	mu       sync.RWMutex
	name     string
	level    bool
	modeOut  bool
	pull     Pull
	driven   bool
	external bool
	writes   int
}

func NewFakePin(name string) *FakePin { return &FakePin{name: name} }

func (p *FakePin) ConfigureInput(pull Pull) error {
	p.mu.Lock()
	p.modeOut = false
	p.pull = pull
	p.mu.Unlock()
	return nil
}

func (p *FakePin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	p.modeOut = true
	p.level = initial
	p.writes++
	p.mu.Unlock()
	return nil
}

func (p *FakePin) Set(level bool) {
	p.mu.Lock()
	p.level = level
	p.writes++
	p.mu.Unlock()
}

func (p *FakePin) Get() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.modeOut {
		return p.level
	}
	if p.driven {
		return p.external
	}
	return p.pull == PullUp
}

func (p *FakePin) Name() string { return p.name }

// Drive puts an external level on the pin, as seen while it is an input.
func (p *FakePin) Drive(level bool) {
	p.mu.Lock()
	p.driven, p.external = true, level
	p.mu.Unlock()
}

// Float removes the external driver.
func (p *FakePin) Float() {
	p.mu.Lock()
	p.driven = false
	p.mu.Unlock()
}

// IsOutput reports the configured direction.
func (p *FakePin) IsOutput() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modeOut
}

// Writes counts output writes, including ConfigureOutput.
func (p *FakePin) Writes() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.writes
}

// HostPinFactory returns stable *FakePin instances per name.
type HostPinFactory struct {
	mu   sync.Mutex
	pins map[string]*FakePin
}

func NewHostPinFactory() *HostPinFactory {
	return &HostPinFactory{pins: make(map[string]*FakePin)}
}

func (f *HostPinFactory) ByName(name string) (GPIOPin, bool) {
	if name == "" {
		return nil, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pins == nil {
		f.pins = make(map[string]*FakePin)
	}
	p, ok := f.pins[name]
	if !ok {
		p = NewFakePin(name)
		f.pins[name] = p
	}
	return p, true
}

// Get exposes the underlying *FakePin for tests.
func (f *HostPinFactory) Get(name string) (*FakePin, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pins[name]
	return p, ok
}
