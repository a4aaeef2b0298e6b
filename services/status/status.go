// Package status serves a read-only view of the sampler over HTTP: a health
// probe, the last cycle report with indicator and uplink state, and the
// Prometheus metrics. It only reads copies published on the bus.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"envfeed-go/bus"
	"envfeed-go/errcode"
	"envfeed-go/internal/logging"
	"envfeed-go/types"
)

// Snapshot is the /status document.
type Snapshot struct {
	BootID     string                 `json:"boot_id"`
	Device     string                 `json:"device"`
	Started    time.Time              `json:"started"`
	LastCycle  *types.CycleReport     `json:"last_cycle,omitempty"`
	Fault      string                 `json:"fault,omitempty"` // sensor, uplink or other
	Indicators map[string]bool        `json:"indicators"`
	Hardware   map[string]types.Info  `json:"hardware,omitempty"`
	Uplink     types.CapabilityStatus `json:"uplink"`
}

type Server struct {
	bootID   string
	device   string
	started  time.Time
	log      zerolog.Logger
	gatherer prometheus.Gatherer

	mu         sync.RWMutex
	last       *types.CycleReport
	indicators map[string]bool
	hardware   map[string]types.Info
	uplink     types.CapabilityStatus
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = logging.Component(l, "status") }
}

// WithGatherer selects the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// WithBootID fixes the boot identifier instead of generating one.
func WithBootID(id string) Option { return func(s *Server) { s.bootID = id } }

func New(device string, opts ...Option) *Server {
	s := &Server{
		device:     device,
		started:    time.Now(),
		log:        zerolog.Nop(),
		gatherer:   prometheus.DefaultGatherer,
		indicators: map[string]bool{},
		hardware:   map[string]types.Info{},
		uplink:     types.CapabilityStatus{Link: types.LinkDown},
	}
	for _, o := range opts {
		o(s)
	}
	if s.bootID == "" {
		s.bootID = uuid.New().String()
	}
	return s
}

func (s *Server) BootID() string { return s.bootID }

// Watch follows cycle reports, indicator changes and uplink state on the bus
// until ctx ends or the connection is closed. conn is disconnected on return.
func (s *Server) Watch(ctx context.Context, conn *bus.Connection) {
	cycles := conn.Subscribe(bus.T(types.TopicEnv, types.TopicCycle))
	leds := conn.Subscribe(bus.T(types.TopicIndicator, bus.SingleLevel))
	infos := conn.Subscribe(bus.T(types.TopicIndicator, bus.SingleLevel, types.TopicInfo))
	uplink := conn.Subscribe(bus.T(types.TopicUplink, types.TopicStatus))
	defer conn.Disconnect()
	s.log.Debug().Str("conn", conn.ID()).Msg("watching bus")

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-cycles.Channel():
			if !ok {
				return
			}
			if rep, ok := m.Payload.(types.CycleReport); ok {
				s.mu.Lock()
				s.last = &rep
				s.mu.Unlock()
			}
		case m, ok := <-leds.Channel():
			if !ok {
				return
			}
			if v, ok := m.Payload.(types.LEDValue); ok && len(m.Topic) == 2 {
				s.mu.Lock()
				s.indicators[m.Topic[1]] = v.On
				s.mu.Unlock()
			}
		case m, ok := <-infos.Channel():
			if !ok {
				return
			}
			if info, ok := m.Payload.(types.Info); ok && len(m.Topic) == 3 {
				s.mu.Lock()
				s.hardware[m.Topic[1]] = info
				s.mu.Unlock()
			}
		case m, ok := <-uplink.Channel():
			if !ok {
				return
			}
			if st, ok := m.Payload.(types.CapabilityStatus); ok {
				s.mu.Lock()
				s.uplink = st
				s.mu.Unlock()
			}
		}
	}
}

// Snapshot returns a copy of the current view.
func (s *Server) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		BootID:     s.bootID,
		Device:     s.device,
		Started:    s.started,
		Indicators: make(map[string]bool, len(s.indicators)),
		Hardware:   make(map[string]types.Info, len(s.hardware)),
		Uplink:     s.uplink,
	}
	for k, v := range s.indicators {
		snap.Indicators[k] = v
	}
	for k, v := range s.hardware {
		snap.Hardware[k] = v
	}
	if s.last != nil {
		rep := *s.last
		snap.LastCycle = &rep
		snap.Fault = fault(rep.Error)
	}
	return snap
}

func fault(code string) string {
	c := errcode.Code(code)
	switch {
	case code == "":
		return ""
	case errcode.IsSensor(c):
		return "sensor"
	case errcode.IsNet(c):
		return "uplink"
	}
	return "other"
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	snap := s.Snapshot()
	state := "ok"
	if snap.LastCycle != nil && snap.LastCycle.Stage != types.StageNone {
		state = string(types.LinkDegraded)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  state,
		"fault":   snap.Fault,
		"boot_id": snap.BootID,
		"uptime":  time.Since(snap.Started).Round(time.Second).String(),
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handlers.LoggingHandler(s.log, s.Router()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Str("boot_id", s.bootID).Msg("status server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
