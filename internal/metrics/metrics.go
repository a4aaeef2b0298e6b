package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector receives the sampler's per-cycle observations. Calls happen
// inline in the cycle, so implementations must not block.
type Collector interface {
	IncCycle(result string)
	IncError(stage, code string)
	IncConnect(ok bool)
	SetReading(temperature, humidity float64)
	SetIndicator(name string, on bool)
	ObserveSleep(d time.Duration)
}

// Cycle results.
const (
	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector { return noopCollector{} }

func (noopCollector) IncCycle(string)             {}
func (noopCollector) IncError(string, string)     {}
func (noopCollector) IncConnect(bool)             {}
func (noopCollector) SetReading(float64, float64) {}
func (noopCollector) SetIndicator(string, bool)   {}
func (noopCollector) ObserveSleep(time.Duration)  {}

// PrometheusCollector exposes the sampler's state as Prometheus metrics.
type PrometheusCollector struct {
	cycles      *prometheus.CounterVec
	errors      *prometheus.CounterVec
	connects    *prometheus.CounterVec
	temperature prometheus.Gauge
	humidity    prometheus.Gauge
	indicators  *prometheus.GaugeVec
	sleep       prometheus.Histogram
}

// NewPrometheusCollector registers the metrics with reg (the default
// registerer when nil). Registering twice on the same registry reuses the
// existing metrics.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	var (
		p   PrometheusCollector
		err error
	)
	if p.cycles, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "envfeed_cycles_total",
		Help: "Sampling cycles by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if p.errors, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "envfeed_errors_total",
		Help: "Cycle errors by stage and error code.",
	}, []string{"stage", "code"})); err != nil {
		return nil, err
	}
	if p.connects, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "envfeed_uplink_connects_total",
		Help: "Uplink connection attempts by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if p.temperature, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "envfeed_temperature",
		Help: "Last valid temperature in the configured unit.",
	})); err != nil {
		return nil, err
	}
	if p.humidity, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "envfeed_humidity_percent",
		Help: "Last valid relative humidity.",
	})); err != nil {
		return nil, err
	}
	if p.indicators, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "envfeed_indicator",
		Help: "Indicator state (1 on, 0 off).",
	}, []string{"name"})); err != nil {
		return nil, err
	}
	if p.sleep, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "envfeed_sleep_seconds",
		Help:    "Sleep until the next phase-aligned cycle.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})); err != nil {
		return nil, err
	}
	return &p, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

func (p *PrometheusCollector) IncCycle(result string) {
	if p == nil {
		return
	}
	p.cycles.WithLabelValues(result).Inc()
}

func (p *PrometheusCollector) IncError(stage, code string) {
	if p == nil {
		return
	}
	p.errors.WithLabelValues(stage, code).Inc()
}

func (p *PrometheusCollector) IncConnect(ok bool) {
	if p == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	p.connects.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) SetReading(temperature, humidity float64) {
	if p == nil {
		return
	}
	p.temperature.Set(temperature)
	p.humidity.Set(humidity)
}

func (p *PrometheusCollector) SetIndicator(name string, on bool) {
	if p == nil {
		return
	}
	v := 0.0
	if on {
		v = 1
	}
	p.indicators.WithLabelValues(name).Set(v)
}

func (p *PrometheusCollector) ObserveSleep(d time.Duration) {
	if p == nil {
		return
	}
	p.sleep.Observe(d.Seconds())
}
