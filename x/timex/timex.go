package timex

import "time"

// UntilNextTick returns how long to wait from elapsed (time since the grid
// epoch) until the next multiple of period. A result of exactly period means
// elapsed sits on a tick. period <= 0 yields 0.
func UntilNextTick(elapsed, period time.Duration) time.Duration {
	if period <= 0 {
		return 0
	}
	off := elapsed % period
	if off < 0 {
		off += period
	}
	return period - off
}
