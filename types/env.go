package types

import "time"

// Reading is one calibrated sample. The zero value is not a reading:
// Valid must be set explicitly by whoever produced the numbers.
type Reading struct {
	Temperature float64   `json:"temperature"` // in the configured unit
	Humidity    float64   `json:"humidity"`    // %RH
	Valid       bool      `json:"valid"`
	At          time.Time `json:"at"`
}

// NewReading returns a valid reading taken at at.
func NewReading(temp, rh float64, at time.Time) Reading {
	return Reading{Temperature: temp, Humidity: rh, Valid: true, At: at}
}

// FreshAt reports whether r is valid and no older than maxAge at now.
// maxAge <= 0 disables the age check.
func (r Reading) FreshAt(now time.Time, maxAge time.Duration) bool {
	if !r.Valid {
		return false
	}
	if maxAge <= 0 {
		return true
	}
	return now.Sub(r.At) <= maxAge
}
