package sampler

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"envfeed-go/bus"
	"envfeed-go/drivers/sht1x"
	"envfeed-go/drivers/sht1x/sht1xsim"
	"envfeed-go/errcode"
	"envfeed-go/types"
)

// ---- fakes ----

type fakeSensor struct {
	temp, rh       float64
	tempErr, rhErr error
	resetErr       error
	configErr      error

	resets     int
	configures []sht1x.Resolution
	rawReads   int
	senses     int
	senseErr   error
	compTemp   float64
}

func (f *fakeSensor) Reset() error { f.resets++; return f.resetErr }
func (f *fakeSensor) Configure(res sht1x.Resolution) error {
	f.configures = append(f.configures, res)
	return f.configErr
}
func (f *fakeSensor) ReadRawTemperature() (uint16, error) { f.rawReads++; return 6400, nil }
func (f *fakeSensor) ReadRawHumidity() (uint16, error)    { f.rawReads++; return 1500, nil }
func (f *fakeSensor) ReadTemperature(sht1x.Supply, sht1x.Unit) (float64, error) {
	return f.temp, f.tempErr
}
func (f *fakeSensor) ReadHumidity(_ sht1x.Supply, tempC float64) (float64, error) {
	f.compTemp = tempC
	return f.rh, f.rhErr
}
func (f *fakeSensor) Sense(e *physic.Env) error {
	f.senses++
	if f.senseErr != nil {
		return f.senseErr
	}
	e.Temperature = physic.ZeroCelsius + physic.Temperature(f.temp*1000)*physic.MilliKelvin
	e.Humidity = physic.RelativeHumidity(f.rh * float64(physic.PercentRH))
	return nil
}

type fakeUplink struct {
	connected  bool
	connectErr error
	sendErr    error
	connects   int
	drops      int
	sent       []types.Reading
}

func (u *fakeUplink) EnsureConnected(context.Context) error {
	if u.connected {
		return nil
	}
	u.connects++
	if u.connectErr != nil {
		return u.connectErr
	}
	u.connected = true
	return nil
}
func (u *fakeUplink) Connected() bool { return u.connected }
func (u *fakeUplink) SendReading(r types.Reading) error {
	if u.sendErr != nil {
		err := u.sendErr
		u.sendErr = nil
		u.connected = false
		return err
	}
	u.sent = append(u.sent, r)
	return nil
}
func (u *fakeUplink) Drop() { u.drops++; u.connected = false }

type fakeLED struct {
	on      bool
	history []bool
}

func (l *fakeLED) Set(on bool) { l.on = on; l.history = append(l.history, on) }

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.t = c.t.Add(d)
	return nil
}

type rig struct {
	s        *Scheduler
	sensor   *fakeSensor
	uplink   *fakeUplink
	errLED   *fakeLED
	alertLED *fakeLED
	clock    *fakeClock
}

func testConfig() Config {
	return Config{
		Period:          time.Minute,
		Supply:          sht1x.Supply3V5,
		Unit:            sht1x.Celsius,
		Resolution:      sht1x.HighRes,
		HighTemperature: 27,
		HighHumidity:    70,
	}
}

func newRig(t *testing.T, cfg Config, opts ...Option) *rig {
	t.Helper()
	r := &rig{
		sensor:   &fakeSensor{temp: 23.456, rh: 55.1},
		uplink:   &fakeUplink{},
		errLED:   &fakeLED{},
		alertLED: &fakeLED{},
		clock:    &fakeClock{t: time.Date(2013, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	opts = append([]Option{WithClock(r.clock.Now, r.clock.Sleep)}, opts...)
	r.s = New(cfg, r.sensor, r.uplink, r.errLED, r.alertLED, opts...)
	return r
}

// ---- cycle ----

func TestCycleSendsReading(t *testing.T) {
	r := newRig(t, testConfig())

	rep := r.s.Cycle(context.Background())
	require.True(t, rep.Sent)
	require.True(t, rep.Connected)
	require.Equal(t, types.StageNone, rep.Stage)
	require.Empty(t, rep.Error)
	require.Equal(t, uint64(1), rep.Seq)
	require.True(t, rep.Reading.Valid)
	require.Equal(t, 23.456, rep.Reading.Temperature)
	require.Equal(t, rep.Reading, rep.LastValid)

	require.Len(t, r.uplink.sent, 1)
	require.Equal(t, 23.456, r.sensor.compTemp, "humidity is compensated with this cycle's temperature")
	require.Equal(t, []bool{false}, r.errLED.history)
	require.False(t, r.alertLED.on)
}

func TestAlertThresholds(t *testing.T) {
	cases := []struct {
		name     string
		temp, rh float64
		want     bool
	}{
		{"below both", 26.99, 69.99, false},
		{"temperature just below", 26.999, 50, false},
		{"humidity just below", 20, 69.999, false},
		{"not a number", math.NaN(), math.NaN(), false},
		{"temperature at threshold", 27.0, 50, true},
		{"humidity at threshold", 20, 70.0, true},
		{"both above", 35, 90, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t, testConfig())
			r.sensor.temp, r.sensor.rh = tc.temp, tc.rh
			rep := r.s.Cycle(context.Background())
			require.Equal(t, tc.want, rep.Indicators.Alert)
			require.Equal(t, tc.want, r.alertLED.on)
		})
	}
}

func TestConnectFailureSkipsSampling(t *testing.T) {
	r := newRig(t, testConfig())
	r.uplink.connectErr = &errcode.E{C: errcode.NetConnect, Op: "feed: dial"}
	r.sensor.tempErr = errors.New("must not be read")

	rep := r.s.Cycle(context.Background())
	require.False(t, rep.Sent)
	require.False(t, rep.Connected)
	require.Equal(t, types.StageConnect, rep.Stage)
	require.Equal(t, string(errcode.NetConnect), rep.Error)
	require.True(t, rep.Indicators.Error)
	require.True(t, r.errLED.on)
	require.False(t, rep.Reading.Valid)
	require.False(t, r.alertLED.on, "no valid reading yet")

	// the next cycle starts with the error indicator cleared
	r.uplink.connectErr = nil
	r.sensor.tempErr = nil
	rep = r.s.Cycle(context.Background())
	require.True(t, rep.Sent)
	require.False(t, r.errLED.on)
	require.Equal(t, []bool{false, true, false}, r.errLED.history)
	require.Equal(t, 2, r.uplink.connects)
}

func TestSensorFailureKeepsConnection(t *testing.T) {
	r := newRig(t, testConfig())
	r.sensor.temp = 30
	require.True(t, r.s.Cycle(context.Background()).Indicators.Alert)
	first := r.s.LastValid()

	r.sensor.tempErr = &errcode.E{C: errcode.SensorTimeout, Op: "sht1x: measure temperature"}
	rep := r.s.Cycle(context.Background())
	require.Equal(t, types.StageSample, rep.Stage)
	require.Equal(t, string(errcode.SensorTimeout), rep.Error)
	require.True(t, r.errLED.on)
	require.True(t, rep.Connected)
	require.Len(t, r.uplink.sent, 1, "nothing sent on sensor failure")
	require.Equal(t, first, rep.LastValid)
	require.True(t, rep.Indicators.Alert, "alert follows the last valid reading")
}

func TestHumidityFailureIsSensorError(t *testing.T) {
	r := newRig(t, testConfig())
	r.sensor.rhErr = &errcode.E{C: errcode.SensorChecksum}
	rep := r.s.Cycle(context.Background())
	require.Equal(t, types.StageSample, rep.Stage)
	require.Equal(t, string(errcode.SensorChecksum), rep.Error)
	require.False(t, r.s.LastValid().Valid)
}

func TestSendFailureDropsConnection(t *testing.T) {
	r := newRig(t, testConfig())
	r.uplink.sendErr = &errcode.E{C: errcode.NetDisconnected, Op: "feed: send"}

	rep := r.s.Cycle(context.Background())
	require.Equal(t, types.StageSend, rep.Stage)
	require.False(t, rep.Sent)
	require.False(t, rep.Connected, "no reusable connection after a failed write")
	require.Equal(t, 1, r.uplink.drops)
	require.True(t, r.errLED.on)
	require.True(t, rep.LastValid.Valid, "the reading itself was good")

	rep = r.s.Cycle(context.Background())
	require.True(t, rep.Sent)
	require.False(t, r.errLED.on, "error indicator covers one cycle only")
	require.Equal(t, 2, r.uplink.connects)
}

func TestAlertGoesStale(t *testing.T) {
	cfg := testConfig()
	cfg.StaleAfter = 2 * time.Minute
	r := newRig(t, cfg)
	r.sensor.temp = 31

	require.True(t, r.s.Cycle(context.Background()).Indicators.Alert)

	r.sensor.tempErr = errors.New("bus stuck")
	r.clock.t = r.clock.t.Add(2 * time.Minute)
	require.True(t, r.s.Cycle(context.Background()).Indicators.Alert)

	r.clock.t = r.clock.t.Add(time.Second)
	rep := r.s.Cycle(context.Background())
	require.False(t, rep.Indicators.Alert)
	require.False(t, r.alertLED.on)
}

func TestFahrenheitCompensatesInCelsius(t *testing.T) {
	cfg := testConfig()
	cfg.Unit = sht1x.Fahrenheit
	r := newRig(t, cfg)
	r.sensor.temp = 75.7

	rep := r.s.Cycle(context.Background())
	require.InDelta(t, 24.2778, r.sensor.compTemp, 1e-4)
	require.Equal(t, 75.7, rep.Reading.Temperature)
	require.False(t, rep.Indicators.Alert, "27 °C threshold is not reached by 75.7 °F")
}

func TestFahrenheitReadingAgainstCelsiusThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.Unit = sht1x.Fahrenheit
	r := newRig(t, cfg)

	r.sensor.temp = 80.5 // 26.94 °C
	require.False(t, r.s.Cycle(context.Background()).Indicators.Alert)

	r.sensor.temp = 81 // 27.22 °C
	require.True(t, r.s.Cycle(context.Background()).Indicators.Alert)
}

func TestSleepIsPhaseAligned(t *testing.T) {
	r := newRig(t, testConfig())
	r.clock.t = r.clock.t.Add(15 * time.Second)
	require.Equal(t, 45*time.Second, r.s.Cycle(context.Background()).Sleep)

	r.clock.t = r.clock.t.Add(45*time.Second + 59*time.Second)
	require.Equal(t, time.Second, r.s.Cycle(context.Background()).Sleep)
}

func TestRunReturnsOnCancel(t *testing.T) {
	r := newRig(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	var sleeps []time.Duration
	r.s.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		r.clock.t = r.clock.t.Add(d + 250*time.Millisecond)
		if len(sleeps) == 3 {
			cancel()
		}
		return ctx.Err()
	}

	err := r.s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, r.uplink.sent, 3)
	require.Equal(t, time.Minute, sleeps[0])
	require.Equal(t, time.Minute-250*time.Millisecond, sleeps[1], "drift is absorbed by the grid")
}

func TestSleepCtx(t *testing.T) {
	require.NoError(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	require.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
	require.Less(t, time.Since(start), time.Second)
}

// ---- start ----

func TestStartRunsDiagnosticsThenConfigures(t *testing.T) {
	cfg := testConfig()
	cfg.Diagnostics = true
	cfg.Resolution = sht1x.LowRes
	r := newRig(t, cfg)

	require.NoError(t, r.s.Start(context.Background()))
	require.Equal(t, 1, r.sensor.resets)
	require.Equal(t, []sht1x.Resolution{sht1x.HighRes, sht1x.LowRes, sht1x.LowRes}, r.sensor.configures)
	require.Equal(t, 4, r.sensor.rawReads)
	require.Equal(t, 2, r.sensor.senses, "one compensated sample per resolution")
	require.False(t, r.errLED.on)
}

func TestDiagnosticsSampleFailureIsNotFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Diagnostics = true
	r := newRig(t, cfg)
	r.sensor.senseErr = &errcode.E{C: errcode.SensorChecksum}

	require.NoError(t, r.s.Start(context.Background()))
	require.Equal(t, 2, r.sensor.senses)
	require.False(t, r.errLED.on)
}

func TestStartFailuresAreFatal(t *testing.T) {
	r := newRig(t, testConfig())
	r.sensor.resetErr = &errcode.E{C: errcode.SensorProtocol, Op: "sht1x: reset"}
	err := r.s.Start(context.Background())
	require.ErrorIs(t, err, sht1x.ErrProtocol)
	require.True(t, r.errLED.on)

	r = newRig(t, testConfig())
	r.sensor.configErr = &errcode.E{C: errcode.SensorProtocol, Op: "sht1x: write status"}
	err = r.s.Start(context.Background())
	require.ErrorContains(t, err, "configure sensor")
	require.True(t, r.errLED.on)
}

func TestStartAndCycleAgainstSimulator(t *testing.T) {
	sim := sht1xsim.New(6400, 1500)
	dev := sht1x.New(sim.Clock(), sim.Data(), sht1x.Config{
		ResetSettle:  time.Microsecond,
		PollInterval: 10 * time.Microsecond,
	})
	up := &fakeUplink{}
	errLED, alertLED := &fakeLED{}, &fakeLED{}
	cfg := testConfig()
	cfg.Diagnostics = true
	s := New(cfg, dev, up, errLED, alertLED)

	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, sht1x.HighRes, dev.Resolution())

	rep := s.Cycle(context.Background())
	require.True(t, rep.Sent)
	require.InDelta(t, 24.30, rep.Reading.Temperature, 1e-9)
	require.InDelta(t, sht1x.Humidity(1500, 24.30, sht1x.HighRes), rep.Reading.Humidity, 1e-9)
	require.False(t, errLED.on)
}

// ---- bus ----

func TestCycleReportPublished(t *testing.T) {
	b := bus.NewBus(8)
	r := newRig(t, testConfig(), WithBus(b.NewConnection("sampler")))
	r.s.Cycle(context.Background())

	sub := b.NewConnection("test").Subscribe(bus.T(types.TopicEnv, "+"))
	got := map[string]any{}
	for len(got) < 2 {
		select {
		case m := <-sub.Channel():
			got[m.Topic[1]] = m.Payload
		case <-time.After(time.Second):
			t.Fatalf("missing retained messages, have %v", got)
		}
	}
	rep, ok := got[types.TopicCycle].(types.CycleReport)
	require.True(t, ok)
	require.True(t, rep.Sent)
	reading, ok := got[types.TopicReading].(types.Reading)
	require.True(t, ok)
	require.Equal(t, 55.1, reading.Humidity)
}
