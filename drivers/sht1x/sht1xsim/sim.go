// Package sht1xsim simulates an SHT1x sensor behind a pair of virtual lines.
// It reacts to SCK edges and DATA changes exactly as the chip does, so the
// real driver can run against it on a host without hardware.
package sht1xsim

import (
	"sync"
)

type phase uint8

const (
	phaseIdle phase = iota
	phaseRecv       // shifting in a command or status byte
	phaseMeasuring  // conversion running, DATA released
	phaseReady      // conversion done, DATA held low
	phaseSend       // shifting out data bytes
)

// Sensor is the simulated chip. Its exported fields may be changed between
// transactions; they are guarded by the same lock as the line state.
type Sensor struct {
	mu sync.Mutex

	// RawTemperature and RawHumidity are returned by the next conversions.
	RawTemperature uint16
	RawHumidity    uint16
	// ReadyAfter is the number of DATA reads the host has to make before a
	// conversion completes. Negative means never.
	ReadyAfter int
	// Deaf suppresses every ACK, as an absent or unpowered sensor would.
	Deaf bool
	// CorruptCRC flips the checksum byte of every transmission.
	CorruptCRC bool

	status byte

	// line state
	sck        bool
	hostLow    bool // host is pulling DATA low
	sensorLow  bool // sensor is pulling DATA low
	startArmed bool

	ph       phase
	bits     int
	shift    byte
	gotCmd   bool
	acking   bool
	out      []byte
	outIdx   int
	pending  int
	commands []byte

	resets int
}

// New returns a sensor holding the given raw codes.
func New(rawTemp, rawRH uint16) *Sensor {
	return &Sensor{RawTemperature: rawTemp, RawHumidity: rawRH}
}

// Clock returns the SCK line as the host sees it.
func (s *Sensor) Clock() *ClockLine { return &ClockLine{s: s} }

// Data returns the DATA line as the host sees it.
func (s *Sensor) Data() *DataLine { return &DataLine{s: s} }

// Status returns the simulated status register.
func (s *Sensor) Status() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Commands returns every command byte received so far.
func (s *Sensor) Commands() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.commands...)
}

// SoftResets counts soft-reset commands.
func (s *Sensor) SoftResets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Set updates the raw codes of later conversions.
func (s *Sensor) Set(rawTemp, rawRH uint16) {
	s.mu.Lock()
	s.RawTemperature, s.RawHumidity = rawTemp, rawRH
	s.mu.Unlock()
}

// ---- lines ----

type ClockLine struct{ s *Sensor }

func (c *ClockLine) Set(level bool) { c.s.clock(level) }

type DataLine struct{ s *Sensor }

func (d *DataLine) Release() error { d.s.hostData(false); return nil }
func (d *DataLine) DriveLow() error { d.s.hostData(true); return nil }
func (d *DataLine) Get() bool      { return d.s.read() }

// ---- chip behaviour ----

func (s *Sensor) level() bool { return !s.hostLow && !s.sensorLow }

func (s *Sensor) read() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ph == phaseMeasuring && s.pending > 0 {
		s.pending--
		if s.pending == 0 {
			s.ph = phaseReady
			s.sensorLow = true
		}
	}
	return s.level()
}

// hostData tracks host-driven DATA edges while SCK is high, which is how a
// transmission start is recognised from any state.
func (s *Sensor) hostData(low bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if low == s.hostLow {
		return
	}
	s.hostLow = low
	if !s.sck {
		return
	}
	if low {
		s.startArmed = true
		return
	}
	if s.startArmed {
		s.startArmed = false
		s.ph = phaseRecv
		s.bits, s.shift, s.gotCmd, s.acking = 0, 0, false, false
		s.sensorLow = false
	}
}

func (s *Sensor) clock(level bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if level == s.sck {
		return
	}
	s.sck = level
	if level {
		s.rising()
	} else {
		s.falling()
	}
}

func (s *Sensor) rising() {
	switch s.ph {
	case phaseRecv:
		if !s.acking && s.bits < 8 {
			s.shift <<= 1
			if s.level() {
				s.shift |= 1
			}
			s.bits++
		}
	case phaseReady:
		s.ph = phaseSend
		s.outIdx, s.bits = 0, 0
		s.present()
	case phaseSend:
		if s.bits == 8 {
			// ninth clock: the host acknowledges by pulling DATA low
			if !s.hostLow {
				s.out = nil
			}
		}
	}
}

func (s *Sensor) falling() {
	switch s.ph {
	case phaseRecv:
		switch {
		case s.acking:
			s.acking = false
			s.sensorLow = false
			s.accept(s.shift)
		case s.bits == 8:
			if s.Deaf {
				s.ph = phaseIdle
				return
			}
			s.sensorLow = true
			s.acking = true
		}
	case phaseSend:
		s.bits++
		switch {
		case s.bits < 8:
			s.present()
		case s.bits == 8:
			s.sensorLow = false
		default:
			s.outIdx++
			s.bits = 0
			if s.out == nil || s.outIdx >= len(s.out) {
				s.ph = phaseIdle
				s.sensorLow = false
				return
			}
			s.present()
		}
	}
}

func (s *Sensor) present() {
	b := s.out[s.outIdx]
	s.sensorLow = b&(0x80>>uint(s.bits)) == 0
}

// accept handles a complete byte received in phaseRecv.
func (s *Sensor) accept(b byte) {
	if s.gotCmd {
		// second byte of a status write
		s.status = b & 0x07
		s.ph = phaseIdle
		return
	}
	s.gotCmd = true
	s.commands = append(s.commands, b)
	switch b {
	case 0x03:
		s.startConversion(b, s.RawTemperature)
	case 0x05:
		s.startConversion(b, s.RawHumidity)
	case 0x06:
		s.bits, s.shift = 0, 0
	case 0x07:
		s.out = s.frame(b, s.status)
		s.outIdx, s.bits = 0, 0
		s.ph = phaseSend
		s.present()
	case 0x1E:
		s.status = 0
		s.resets++
		s.ph = phaseIdle
	default:
		s.ph = phaseIdle
	}
}

func (s *Sensor) startConversion(cmd byte, raw uint16) {
	s.out = s.frame(cmd, byte(raw>>8), byte(raw))
	s.ph = phaseMeasuring
	s.pending = s.ReadyAfter
	if s.pending == 0 {
		s.ph = phaseReady
		s.sensorLow = true
	}
	if s.pending < 0 {
		s.pending = 0 // never completes
	}
}

// frame appends the transmitted checksum to data.
func (s *Sensor) frame(cmd byte, data ...byte) []byte {
	crc := Checksum(s.status, cmd, data...)
	if s.CorruptCRC {
		crc ^= 0xFF
	}
	return append(append([]byte(nil), data...), crc)
}

// Checksum returns the CRC byte as the chip transmits it: the CRC-8 register
// after cmd and data, seeded with the reversed status nibble, bit-reversed.
func Checksum(status, cmd byte, data ...byte) byte {
	var reg byte
	for i := 0; i < 4; i++ {
		if status&(1<<uint(i)) != 0 {
			reg |= 0x80 >> uint(i)
		}
	}
	for _, b := range append([]byte{cmd}, data...) {
		for i := 7; i >= 0; i-- {
			in := (b >> uint(i)) & 1
			fb := (reg >> 7) ^ in
			reg <<= 1
			if fb != 0 {
				reg ^= 0x31
			}
		}
	}
	var out byte
	for i := 0; i < 8; i++ {
		if reg&(1<<uint(i)) != 0 {
			out |= 0x80 >> uint(i)
		}
	}
	return out
}
