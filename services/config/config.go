// Package config holds the compiled-in device profiles. A profile is picked
// by name at start-up, validated once and never changes afterwards.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"envfeed-go/bus"
	"envfeed-go/drivers/sht1x"
	"envfeed-go/services/hal"
)

const configPrefix = "config"

//go:embed profiles.yaml
var profilesYAML []byte

// EmbeddedConfigLookup returns the raw profile document. Tests override it.
var EmbeddedConfigLookup = func() []byte { return profilesYAML }

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Device is one resolved profile.
type Device struct {
	Name       string     `yaml:"-"`
	Feed       Feed       `yaml:"feed"`
	Sampling   Sampling   `yaml:"sampling"`
	Sensor     Sensor     `yaml:"sensor"`
	Alert      Alert      `yaml:"alert"`
	Indicators Indicators `yaml:"indicators"`
	Logging    Logging    `yaml:"logging"`
	Status     Status     `yaml:"status"`
}

// Feed describes the remote endpoint and the CSV labels.
type Feed struct {
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	APIKey           string   `yaml:"api_key"`
	APIKeyHeader     string   `yaml:"api_key_header"`
	FeedID           string   `yaml:"feed_id"`
	TemperatureLabel string   `yaml:"temperature_label"`
	HumidityLabel    string   `yaml:"humidity_label"`
	SendTimeout      Duration `yaml:"send_timeout,omitempty"` // zero means Period/3
	DialTimeout      Duration `yaml:"dial_timeout,omitempty"`
}

type Sampling struct {
	Period      Duration `yaml:"period"`
	StaleAfter  Duration `yaml:"stale_after,omitempty"` // zero means 3 periods
	Diagnostics bool     `yaml:"diagnostics"`
}

type Sensor struct {
	DataPin        string   `yaml:"data_pin"`
	ClockPin       string   `yaml:"clock_pin"`
	DataPull       string   `yaml:"data_pull"`
	Supply         string   `yaml:"supply"`
	Unit           string   `yaml:"unit"`
	Resolution     string   `yaml:"resolution"`
	CheckCRC       bool     `yaml:"check_crc"`
	MeasureTimeout Duration `yaml:"measure_timeout,omitempty"`
	ClockDelay     Duration `yaml:"clock_delay,omitempty"`

	Simulate          bool   `yaml:"simulate"`
	SimRawTemperature uint16 `yaml:"sim_raw_temperature,omitempty"`
	SimRawHumidity    uint16 `yaml:"sim_raw_humidity,omitempty"`
}

// Alert thresholds. HighTemperature is always in °C, also when the sensor
// reports Fahrenheit; the sampler converts before comparing.
type Alert struct {
	HighTemperature float64 `yaml:"high_temperature"`
	HighHumidity    float64 `yaml:"high_humidity"`
}

type Indicators struct {
	ErrorPin  string `yaml:"error_pin"`
	AlertPin  string `yaml:"alert_pin"`
	ActiveLow bool   `yaml:"active_low"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Loki   Loki   `yaml:"loki"`
}

type Loki struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels,omitempty"`
}

type Status struct {
	Listen string `yaml:"listen"` // empty disables the status server
}

// Defaults returns the values every profile starts from.
func Defaults() Device {
	return Device{
		Feed: Feed{
			Port:             80,
			APIKeyHeader:     "X-PachubeApiKey",
			TemperatureLabel: "Temperatura",
			HumidityLabel:    "Vlaznost",
			DialTimeout:      Duration{10 * time.Second},
		},
		Sampling: Sampling{Period: Duration{time.Minute}},
		Sensor: Sensor{
			DataPull:   "up",
			Supply:     "3.5V",
			Unit:       "celsius",
			Resolution: "high",
			CheckCRC:   true,
		},
		Alert:   Alert{HighTemperature: 27, HighHumidity: 70},
		Logging: Logging{Level: "info", Format: "json"},
	}
}

// SendTimeout is the per-write deadline; Period/3 unless set.
func (d Device) SendTimeout() time.Duration {
	if d.Feed.SendTimeout.Duration > 0 {
		return d.Feed.SendTimeout.Duration
	}
	return d.Sampling.Period.Duration / 3
}

// StaleAfter bounds the age of the reading the alert is computed from.
func (d Device) StaleAfter() time.Duration {
	if d.Sampling.StaleAfter.Duration > 0 {
		return d.Sampling.StaleAfter.Duration
	}
	return 3 * d.Sampling.Period.Duration
}

var (
	ErrUnknownDevice = errors.New("unknown device profile")
	ErrInvalid       = errors.New("invalid configuration")
)

// Profiles decodes every embedded profile on top of Defaults.
func Profiles() (map[string]Device, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(EmbeddedConfigLookup(), &raw); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	out := make(map[string]Device, len(raw))
	for name, node := range raw {
		d := Defaults()
		if err := node.Decode(&d); err != nil {
			return nil, fmt.Errorf("decode profile %q: %w", name, err)
		}
		d.Name = name
		out[name] = d
	}
	return out, nil
}

// Names lists the embedded profile names in order.
func Names() []string {
	ps, err := Profiles()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(ps))
	for n := range ps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Load returns the named profile. It is not validated; callers apply
// overrides first and then call Validate.
func Load(device string) (Device, error) {
	ps, err := Profiles()
	if err != nil {
		return Device{}, err
	}
	d, ok := ps[device]
	if !ok {
		return Device{}, fmt.Errorf("%w: %q", ErrUnknownDevice, device)
	}
	return d, nil
}

// Validate checks the fields the firmware cannot run without.
func (d Device) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	if d.Feed.Host == "" {
		bad("feed.host is empty")
	}
	if d.Feed.Port <= 0 || d.Feed.Port > 65535 {
		bad("feed.port %d out of range", d.Feed.Port)
	}
	if d.Feed.FeedID == "" {
		bad("feed.feed_id is empty")
	}
	if d.Feed.APIKey == "" {
		bad("feed.api_key is empty")
	}
	if d.Feed.APIKeyHeader == "" {
		bad("feed.api_key_header is empty")
	}
	if d.Sampling.Period.Duration <= 0 {
		bad("sampling.period must be positive")
	}
	if _, ok := sht1x.ParseSupply(d.Sensor.Supply); !ok {
		bad("sensor.supply %q unknown", d.Sensor.Supply)
	}
	if _, ok := sht1x.ParseUnit(d.Sensor.Unit); !ok {
		bad("sensor.unit %q unknown", d.Sensor.Unit)
	}
	if t := d.Alert.HighTemperature; t < sht1x.MinCelsius || t > sht1x.MaxCelsius {
		bad("alert.high_temperature %g is outside the sensor range (°C)", t)
	}
	if h := d.Alert.HighHumidity; h <= 0 || h > 100 {
		bad("alert.high_humidity %g must be in (0, 100]", h)
	}
	if _, ok := sht1x.ParseResolution(d.Sensor.Resolution); !ok {
		bad("sensor.resolution %q unknown", d.Sensor.Resolution)
	}
	if _, err := hal.ParsePull(d.Sensor.DataPull); err != nil {
		bad("sensor.data_pull %q unknown", d.Sensor.DataPull)
	}
	if !d.Sensor.Simulate && (d.Sensor.DataPin == "" || d.Sensor.ClockPin == "") {
		bad("sensor pins are required unless simulate is set")
	}
	if d.Indicators.ErrorPin == "" || d.Indicators.AlertPin == "" {
		bad("indicator pins are required")
	}
	if d.Logging.Loki.Enabled && d.Logging.Loki.URL == "" {
		bad("logging.loki.url is required when loki is enabled")
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: profile %q: %w", ErrInvalid, d.Name, errors.Join(errs...))
}

// Publish puts each profile section on the bus as a retained config/<section>
// message. The API key is redacted.
func Publish(conn *bus.Connection, d Device) {
	feed := d.Feed
	if feed.APIKey != "" {
		feed.APIKey = "***"
	}
	sections := map[string]any{
		"device":     d.Name,
		"feed":       feed,
		"sampling":   d.Sampling,
		"sensor":     d.Sensor,
		"alert":      d.Alert,
		"indicators": d.Indicators,
	}
	for k, v := range sections {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
	}
}
