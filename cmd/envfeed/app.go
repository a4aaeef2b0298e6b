package main

import (
	"context"
	"fmt"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"envfeed-go/bus"
	"envfeed-go/drivers/sht1x"
	"envfeed-go/drivers/sht1x/sht1xsim"
	"envfeed-go/internal/metrics"
	"envfeed-go/services/config"
	"envfeed-go/services/feed"
	"envfeed-go/services/hal"
	"envfeed-go/services/sampler"
	"envfeed-go/services/status"
)

// app is the wired firmware: one bus, the board, the sensor session, the
// uplink, the scheduler and the optional status server.
type app struct {
	dev    config.Device
	log    zerolog.Logger
	bus    *bus.Bus
	board  *hal.Board
	sensor *sht1x.Device
	uplink *feed.Client
	sched  *sampler.Scheduler
	status *status.Server
}

type appOption func(*appDeps)

type appDeps struct {
	pins     hal.PinFactory
	resolver feed.Resolver
	registry *prometheus.Registry
	bootID   string
}

func withPins(f hal.PinFactory) appOption           { return func(d *appDeps) { d.pins = f } }
func withResolver(r feed.Resolver) appOption        { return func(d *appDeps) { d.resolver = r } }
func withRegistry(r *prometheus.Registry) appOption { return func(d *appDeps) { d.registry = r } }
func withBootID(id string) appOption                { return func(d *appDeps) { d.bootID = id } }

// newApp wires dev. dev must already be validated.
func newApp(dev config.Device, log zerolog.Logger, opts ...appOption) (*app, error) {
	var deps appDeps
	for _, o := range opts {
		o(&deps)
	}

	supply, _ := sht1x.ParseSupply(dev.Sensor.Supply)
	unit, _ := sht1x.ParseUnit(dev.Sensor.Unit)
	res, _ := sht1x.ParseResolution(dev.Sensor.Resolution)
	pull, err := hal.ParsePull(dev.Sensor.DataPull)
	if err != nil {
		return nil, err
	}

	if deps.pins == nil {
		if dev.Sensor.Simulate {
			deps.pins = hal.NewHostPinFactory()
		} else {
			if err := hal.Init(); err != nil {
				return nil, err
			}
			deps.pins = hal.PeriphFactory{}
		}
	}
	if deps.registry == nil {
		deps.registry = prometheus.NewRegistry()
		deps.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	collector, err := metrics.NewPrometheusCollector(deps.registry)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	a := &app{dev: dev, log: log, bus: bus.NewBus(16)}

	boardCfg := hal.BoardConfig{
		DataPull:  pull,
		ErrorPin:  dev.Indicators.ErrorPin,
		AlertPin:  dev.Indicators.AlertPin,
		ActiveLow: dev.Indicators.ActiveLow,
	}
	if !dev.Sensor.Simulate {
		boardCfg.ClockPin = dev.Sensor.ClockPin
		boardCfg.DataPin = dev.Sensor.DataPin
	}
	if a.board, err = hal.Open(deps.pins, boardCfg, a.bus.NewConnection("hal")); err != nil {
		return nil, err
	}

	sensorCfg := sht1x.Config{
		ClockDelay:     dev.Sensor.ClockDelay.Duration,
		MeasureTimeout: dev.Sensor.MeasureTimeout.Duration,
		SkipCRC:        !dev.Sensor.CheckCRC,
		Supply:         supply,
	}
	if a.board.HasSensorLines() {
		a.sensor = sht1x.New(a.board.Clock, a.board.Data, sensorCfg)
	} else {
		sim := sht1xsim.New(dev.Sensor.SimRawTemperature, dev.Sensor.SimRawHumidity)
		a.sensor = sht1x.New(sim.Clock(), sim.Data(), sensorCfg)
	}

	feedOpts := []feed.Option{
		feed.WithLogger(log),
		feed.WithMetrics(collector),
		feed.WithBus(a.bus.NewConnection("feed")),
		feed.WithDialer(&net.Dialer{}),
	}
	if deps.resolver != nil {
		feedOpts = append(feedOpts, feed.WithResolver(deps.resolver))
	}
	a.uplink = feed.New(feed.Config{
		Host:         dev.Feed.Host,
		Port:         dev.Feed.Port,
		APIKey:       dev.Feed.APIKey,
		APIKeyHeader: dev.Feed.APIKeyHeader,
		FeedID:       dev.Feed.FeedID,
		Labels: feed.Labels{
			Temperature: dev.Feed.TemperatureLabel,
			Humidity:    dev.Feed.HumidityLabel,
		},
		SendTimeout: dev.SendTimeout(),
		DialTimeout: dev.Feed.DialTimeout.Duration,
	}, feedOpts...)

	a.sched = sampler.New(sampler.Config{
		Period:          dev.Sampling.Period.Duration,
		StaleAfter:      dev.StaleAfter(),
		Supply:          supply,
		Unit:            unit,
		Resolution:      res,
		HighTemperature: dev.Alert.HighTemperature,
		HighHumidity:    dev.Alert.HighHumidity,
		Diagnostics:     dev.Sampling.Diagnostics,
	}, a.sensor, a.uplink, a.board.Error, a.board.Alert,
		sampler.WithLogger(log),
		sampler.WithMetrics(collector),
		sampler.WithBus(a.bus.NewConnection("sampler")),
	)

	a.status = status.New(dev.Name,
		status.WithLogger(log),
		status.WithGatherer(deps.registry),
		status.WithBootID(deps.bootID),
	)
	return a, nil
}

// run starts the side services, brings the sensor up and loops until ctx
// ends. A sensor start-up failure is returned as is.
func (a *app) run(ctx context.Context) error {
	defer a.uplink.Close()

	config.Publish(a.bus.NewConnection("config"), a.dev)
	go a.status.Watch(ctx, a.bus.NewConnection("status"))
	if a.dev.Status.Listen != "" {
		go func() {
			if err := a.status.ListenAndServe(ctx, a.dev.Status.Listen); err != nil {
				a.log.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	if err := a.sched.Start(ctx); err != nil {
		return err
	}
	return a.sched.Run(ctx)
}
