package sht1x

import "time"

// Clock is the SCK line. The host always drives it.
type Clock interface {
	Set(level bool)
}

// Data is the DATA line. It is open drain: the host either pulls it low or
// releases it and lets the pull-up (or the sensor) decide the level.
type Data interface {
	Release() error
	DriveLow() error
	Get() bool
}

// wire bit-bangs one transaction. The first line error sticks in err and
// every later step becomes a no-op, so callers check once at the end.
type wire struct {
	clk  Clock
	data Data
	half time.Duration
	err  error
}

func (w *wire) delay() { spin(w.half) }

func (w *wire) sck(level bool) {
	if w.err != nil {
		return
	}
	w.clk.Set(level)
}

func (w *wire) release() {
	if w.err == nil {
		w.err = w.data.Release()
	}
}

func (w *wire) low() {
	if w.err == nil {
		w.err = w.data.DriveLow()
	}
}

func (w *wire) read() bool {
	if w.err != nil {
		return true
	}
	return w.data.Get()
}

// start emits the transmission start sequence:
//
//	     _____         ________
//	DATA      |_______|
//	         ___     ___
//	SCK  ___|   |___|   |______
func (w *wire) start() {
	w.release()
	w.sck(false)
	w.delay()
	w.sck(true)
	w.delay()
	w.low()
	w.delay()
	w.sck(false)
	w.delay()
	w.sck(true)
	w.delay()
	w.release()
	w.delay()
	w.sck(false)
	w.delay()
}

// reset clocks nine or more times with DATA high, then starts a transmission.
// It brings the interface back in step after a lost transaction.
func (w *wire) reset() {
	w.release()
	w.sck(false)
	w.delay()
	for i := 0; i < 9; i++ {
		w.sck(true)
		w.delay()
		w.sck(false)
		w.delay()
	}
	w.start()
}

// writeByte shifts b out MSB first and reports the sensor's ACK on the 9th clock.
func (w *wire) writeByte(b byte) bool {
	for i := 7; i >= 0; i-- {
		if b&(1<<uint(i)) != 0 {
			w.release()
		} else {
			w.low()
		}
		w.delay()
		w.sck(true)
		w.delay()
		w.sck(false)
	}
	w.release()
	w.delay()
	w.sck(true)
	w.delay()
	ack := !w.read()
	w.sck(false)
	w.delay()
	return ack && w.err == nil
}

// readByte shifts one byte in MSB first. With ack the host pulls DATA low on
// the 9th clock to ask for the next byte; without it the sensor stops sending.
func (w *wire) readByte(ack bool) byte {
	w.release()
	var b byte
	for i := 0; i < 8; i++ {
		w.sck(true)
		w.delay()
		b <<= 1
		if w.read() {
			b |= 1
		}
		w.sck(false)
		w.delay()
	}
	if ack {
		w.low()
	} else {
		w.release()
	}
	w.delay()
	w.sck(true)
	w.delay()
	w.sck(false)
	w.delay()
	w.release()
	return b
}

// waitReady polls DATA until the sensor pulls it low to signal a finished
// conversion. It returns false when timeout elapses first.
func (w *wire) waitReady(timeout, poll time.Duration) bool {
	w.release()
	deadline := time.Now().Add(timeout)
	for w.err == nil {
		if !w.read() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		if poll > 0 {
			time.Sleep(poll)
		}
	}
	return false
}

// spin waits d. Sub-100µs delays busy-wait because the scheduler cannot
// sleep that precisely.
func spin(d time.Duration) {
	if d <= 0 {
		return
	}
	if d >= 100*time.Microsecond {
		time.Sleep(d)
		return
	}
	for start := time.Now(); time.Since(start) < d; {
	}
}
