package errcode

import "errors"

// Code is a stable, log-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK            Code = "ok"
	InvalidParams Code = "invalid_params"

	// Sensor bus.
	SensorProtocol Code = "sensor_protocol"
	SensorTimeout  Code = "sensor_timeout"
	SensorChecksum Code = "sensor_checksum"

	// Uplink.
	NetResolve      Code = "net_resolve"
	NetConnect      Code = "net_connect"
	NetDisconnected Code = "net_disconnected"

	Error Code = "error" // generic fallback
)

// E keeps context and a cause alongside a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

// Wrap builds an *E. A nil cause is allowed.
func Wrap(c Code, op string, err error) *E {
	return &E{C: c, Op: op, Err: err}
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, SomeCode) match a wrapped *E.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Of extracts a Code from an error chain, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	return Error
}

// IsSensor reports whether c belongs to the sensor bus family.
func IsSensor(c Code) bool {
	switch c {
	case SensorProtocol, SensorTimeout, SensorChecksum:
		return true
	}
	return false
}

// IsNet reports whether c belongs to the uplink family.
func IsNet(c Code) bool {
	switch c {
	case NetResolve, NetConnect, NetDisconnected:
		return true
	}
	return false
}
