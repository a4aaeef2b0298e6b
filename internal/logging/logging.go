package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/grafana/loki-client-go/loki"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"

	"envfeed-go/services/config"
)

// Identity names the running firmware instance. Both fields go on every
// record; the device name also becomes a Loki stream label.
type Identity struct {
	Device string
	BootID string
}

// Setup builds the process logger from the profile's logging section. The
// returned cleanup flushes the Loki client, if any.
func Setup(cfg config.Logging, id Identity) (zerolog.Logger, func(), error) {
	return setup(cfg, id, os.Stdout)
}

// Component derives the logger a service logs through.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

func setup(cfg config.Logging, id Identity, out io.Writer) (zerolog.Logger, func(), error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}

	stdout := out
	if strings.EqualFold(cfg.Format, "text") {
		stdout = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{stdout}
	cleanup := func() {}

	if cfg.Loki.Enabled {
		lokiWriter, closer, err := newLokiWriter(cfg.Loki, id.Device)
		if err != nil {
			return zerolog.Logger{}, nil, err
		}
		writers = append(writers, lokiWriter)
		cleanup = closer
	}

	lc := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp()
	if id.Device != "" {
		lc = lc.Str("device", id.Device)
	}
	if id.BootID != "" {
		lc = lc.Str("boot_id", id.BootID)
	}
	return lc.Logger().Level(level), cleanup, nil
}

func newLokiWriter(cfg config.Loki, device string) (io.Writer, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("loki url is required")
	}
	lokiCfg, err := loki.NewDefaultConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("prepare loki config: %w", err)
	}
	client, err := loki.New(lokiCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create loki client: %w", err)
	}
	cleanup := func() {
		client.Stop()
	}
	return &lokiWriter{client: client, labels: labelSet(cfg.Labels, device)}, cleanup, nil
}

// labelSet keeps the stream labels low-cardinality: configured labels, app
// and device. The boot id stays in the record body.
func labelSet(in map[string]string, device string) model.LabelSet {
	labels := model.LabelSet{"app": "envfeed"}
	for k, v := range in {
		labels[model.LabelName(k)] = model.LabelValue(v)
	}
	if _, ok := labels["device"]; !ok && device != "" {
		labels["device"] = model.LabelValue(device)
	}
	return labels
}

type lokiWriter struct {
	client *loki.Client
	labels model.LabelSet
}

func (l *lokiWriter) Write(p []byte) (int, error) {
	entry := strings.TrimSpace(string(p))
	if entry == "" {
		return len(p), nil
	}
	err := l.client.Handle(l.labels, time.Now(), entry)
	return len(p), err
}
