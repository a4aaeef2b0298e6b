// Package sampler runs the measurement loop: connect if needed, read the
// sensor, push the reading, update the indicators, sleep to the next slot.
//
// All mutable state lives in Scheduler and is touched only by the goroutine
// that calls Start, Cycle and Run.
package sampler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/physic"

	"envfeed-go/bus"
	"envfeed-go/drivers/sht1x"
	"envfeed-go/errcode"
	"envfeed-go/internal/logging"
	"envfeed-go/internal/metrics"
	"envfeed-go/types"
	"envfeed-go/x/mathx"
	"envfeed-go/x/timex"
)

// Sensor is the driver surface the loop needs; *sht1x.Device implements it.
type Sensor interface {
	Reset() error
	Configure(res sht1x.Resolution) error
	ReadRawTemperature() (uint16, error)
	ReadRawHumidity() (uint16, error)
	ReadTemperature(vdd sht1x.Supply, unit sht1x.Unit) (float64, error)
	ReadHumidity(vdd sht1x.Supply, tempC float64) (float64, error)
	Sense(e *physic.Env) error
}

// Uplink is the telemetry client; *feed.Client implements it.
type Uplink interface {
	EnsureConnected(ctx context.Context) error
	Connected() bool
	SendReading(r types.Reading) error
	Drop()
}

// Indicator is an on/off output such as an LED.
type Indicator interface {
	Set(on bool)
}

type Config struct {
	Period     time.Duration
	StaleAfter time.Duration // zero means 3 periods

	Supply     sht1x.Supply
	Unit       sht1x.Unit
	Resolution sht1x.Resolution

	// Thresholds are in °C whatever Unit is, and %RH; reaching either one
	// turns the alert indicator on.
	HighTemperature float64
	HighHumidity    float64

	// Diagnostics logs raw codes and a compensated sample at both
	// resolutions during Start.
	Diagnostics bool
}

type Scheduler struct {
	cfg      Config
	sensor   Sensor
	uplink   Uplink
	errLED   Indicator
	alertLED Indicator

	log     zerolog.Logger
	metrics metrics.Collector
	bus     *bus.Connection
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	epoch     time.Time
	seq       uint64
	lastValid types.Reading
}

type Option func(*Scheduler)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = logging.Component(l, "sampler") }
}
func WithMetrics(m metrics.Collector) Option { return func(s *Scheduler) { s.metrics = m } }

// WithBus publishes each reading and cycle report retained under env/.
func WithBus(conn *bus.Connection) Option { return func(s *Scheduler) { s.bus = conn } }

// WithClock replaces the time source and the sleep used between cycles.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// New builds a scheduler. The phase grid starts now.
func New(cfg Config, sensor Sensor, uplink Uplink, errLED, alertLED Indicator, opts ...Option) *Scheduler {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 3 * cfg.Period
	}
	s := &Scheduler{
		cfg:      cfg,
		sensor:   sensor,
		uplink:   uplink,
		errLED:   errLED,
		alertLED: alertLED,
		log:      zerolog.Nop(),
		metrics:  metrics.Noop(),
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	s.epoch = s.now()
	return s
}

// LastValid returns the most recent valid reading, which may be the zero
// (invalid) reading before the first success.
func (s *Scheduler) LastValid() types.Reading { return s.lastValid }

// Start resets the sensor, optionally logs diagnostics, and selects the
// configured resolution. Any failure turns the error indicator on and is
// returned; the caller is expected to abort.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.sensor.Reset(); err != nil {
		return s.fatal("reset sensor", err)
	}
	if s.cfg.Diagnostics {
		if err := s.diagnostics(); err != nil {
			return err
		}
	}
	if err := s.sensor.Configure(s.cfg.Resolution); err != nil {
		return s.fatal("configure sensor", err)
	}
	s.log.Info().
		Str("resolution", s.cfg.Resolution.String()).
		Str("supply", s.cfg.Supply.String()).
		Dur("period", s.cfg.Period).
		Msg("sensor ready")
	return ctx.Err()
}

func (s *Scheduler) diagnostics() error {
	for _, res := range []sht1x.Resolution{sht1x.HighRes, sht1x.LowRes} {
		if err := s.sensor.Configure(res); err != nil {
			return s.fatal("configure "+res.String()+" resolution", err)
		}
		ev := s.log.Info().Str("resolution", res.String())
		if raw, err := s.sensor.ReadRawTemperature(); err != nil {
			ev = ev.Str("temperature_err", string(errcode.Of(err)))
		} else {
			ev = ev.Uint16("temperature_raw", raw)
		}
		if raw, err := s.sensor.ReadRawHumidity(); err != nil {
			ev = ev.Str("humidity_err", string(errcode.Of(err)))
		} else {
			ev = ev.Uint16("humidity_raw", raw)
		}
		var env physic.Env
		if err := s.sensor.Sense(&env); err != nil {
			ev = ev.Str("sense_err", string(errcode.Of(err)))
		} else {
			ev = ev.Stringer("temperature", env.Temperature).Stringer("humidity", env.Humidity)
		}
		ev.Msg("sensor diagnostics")
	}
	return nil
}

func (s *Scheduler) fatal(what string, err error) error {
	s.errLED.Set(true)
	s.metrics.SetIndicator("error", true)
	s.log.Error().Err(err).Str("code", string(errcode.Of(err))).Msg(what + " failed")
	return fmt.Errorf("sampler: %s: %w", what, err)
}

// Run executes cycles until ctx is cancelled and returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		rep := s.Cycle(ctx)
		if err := s.sleep(ctx, rep.Sleep); err != nil {
			return err
		}
	}
}

// Cycle performs one iteration and returns its report. It does not sleep;
// Report.Sleep is the wait until the next slot.
func (s *Scheduler) Cycle(ctx context.Context) types.CycleReport {
	s.seq++
	rep := types.CycleReport{Seq: s.seq, Started: s.now()}

	s.errLED.Set(false)
	failed := false
	fail := func(stage types.Stage, err error) {
		if !failed {
			rep.Stage = stage
			rep.Error = string(errcode.Of(err))
		}
		failed = true
		s.errLED.Set(true)
		s.metrics.IncError(string(stage), string(errcode.Of(err)))
		s.log.Warn().Err(err).Str("stage", string(stage)).Str("code", string(errcode.Of(err))).Msg("cycle step failed")
	}

	if !s.uplink.Connected() {
		if err := s.uplink.EnsureConnected(ctx); err != nil {
			fail(types.StageConnect, err)
		}
	}

	if s.uplink.Connected() {
		r, err := s.sample(rep.Started)
		if err != nil {
			fail(types.StageSample, err)
		} else {
			rep.Reading = r
			s.lastValid = r
			s.metrics.SetReading(r.Temperature, r.Humidity)
			s.publish(types.TopicReading, r)
			if err := s.uplink.SendReading(r); err != nil {
				fail(types.StageSend, err)
				s.uplink.Drop()
			} else {
				rep.Sent = true
			}
		}
	}

	now := s.now()
	alert := s.alert(now)
	s.alertLED.Set(alert)

	rep.Connected = s.uplink.Connected()
	rep.LastValid = s.lastValid
	rep.Indicators = types.IndicatorState{Error: failed, Alert: alert}
	rep.Sleep = timex.UntilNextTick(now.Sub(s.epoch), s.cfg.Period)

	s.record(rep)
	return rep
}

// sample reads temperature, then humidity compensated with that temperature.
func (s *Scheduler) sample(at time.Time) (types.Reading, error) {
	temp, err := s.sensor.ReadTemperature(s.cfg.Supply, s.cfg.Unit)
	if err != nil {
		return types.Reading{}, err
	}
	tempC := temp
	if s.cfg.Unit == sht1x.Fahrenheit {
		tempC = sht1x.FahrenheitToCelsius(temp)
	}
	rh, err := s.sensor.ReadHumidity(s.cfg.Supply, tempC)
	if err != nil {
		return types.Reading{}, err
	}
	return types.NewReading(temp, rh, at), nil
}

// alert is computed from the last valid reading while it is fresh enough.
func (s *Scheduler) alert(now time.Time) bool {
	r := s.lastValid
	if !r.FreshAt(now, s.cfg.StaleAfter) {
		return false
	}
	tempC := r.Temperature
	if s.cfg.Unit == sht1x.Fahrenheit {
		tempC = sht1x.FahrenheitToCelsius(tempC)
	}
	return mathx.AtLeast(tempC, s.cfg.HighTemperature) || mathx.AtLeast(r.Humidity, s.cfg.HighHumidity)
}

func (s *Scheduler) record(rep types.CycleReport) {
	result := metrics.ResultSent
	switch {
	case rep.Stage == types.StageConnect:
		result = metrics.ResultSkipped
	case rep.Stage != types.StageNone:
		result = metrics.ResultFailed
	}
	s.metrics.IncCycle(result)
	s.metrics.SetIndicator("error", rep.Indicators.Error)
	s.metrics.SetIndicator("alert", rep.Indicators.Alert)
	s.metrics.ObserveSleep(rep.Sleep)
	s.publish(types.TopicCycle, rep)

	ev := s.log.Info()
	if rep.Stage != types.StageNone {
		ev = s.log.Warn()
	}
	if rep.Reading.Valid {
		ev = ev.Float64("temperature", rep.Reading.Temperature).Float64("humidity", rep.Reading.Humidity)
	}
	ev.Uint64("seq", rep.Seq).
		Bool("sent", rep.Sent).
		Bool("alert", rep.Indicators.Alert).
		Dur("sleep", rep.Sleep).
		Msg("cycle done")
}

func (s *Scheduler) publish(leaf string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(s.bus.NewMessage(bus.T(types.TopicEnv, leaf), payload, true))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
