package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadingZeroValueIsInvalid(t *testing.T) {
	var r Reading
	require.False(t, r.Valid)
	require.False(t, r.FreshAt(time.Now(), 0))
}

func TestReadingFreshAt(t *testing.T) {
	at := time.Now()
	r := NewReading(-40, 0, at)
	require.True(t, r.Valid, "physically extreme values are still valid readings")

	require.True(t, r.FreshAt(at.Add(3*time.Minute), 3*time.Minute))
	require.False(t, r.FreshAt(at.Add(3*time.Minute+time.Millisecond), 3*time.Minute))
	require.True(t, r.FreshAt(at.Add(time.Hour), 0))
}
