// Package feed pushes readings to a Pachube/Cosm style feed with a single
// fixed-format HTTP PUT written straight onto a TCP stream. The response is
// never read.
//
// The connection is either absent or live. It becomes live on a successful
// EnsureConnected and goes back to absent on any failure, Drop or Close.
package feed

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"envfeed-go/bus"
	"envfeed-go/errcode"
	"envfeed-go/internal/logging"
	"envfeed-go/internal/metrics"
	"envfeed-go/types"
)

// Config describes the endpoint.
type Config struct {
	Host         string
	Port         int
	APIKey       string
	APIKeyHeader string
	FeedID       string
	Labels       Labels
	SendTimeout  time.Duration // per write; zero disables the deadline
	DialTimeout  time.Duration
}

// Resolver is satisfied by *net.Resolver.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Dialer is satisfied by *net.Dialer.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Client owns at most one connection. It is not safe for concurrent use.
type Client struct {
	cfg      Config
	resolver Resolver
	dialer   Dialer
	log      zerolog.Logger
	metrics  metrics.Collector
	bus      *bus.Connection
	now      func() time.Time

	conn net.Conn
}

type Option func(*Client)

func WithResolver(r Resolver) Option { return func(c *Client) { c.resolver = r } }
func WithDialer(d Dialer) Option     { return func(c *Client) { c.dialer = d } }
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = logging.Component(l, "feed") }
}
func WithMetrics(m metrics.Collector) Option { return func(c *Client) { c.metrics = m } }

// WithBus publishes link state changes retained on uplink/status.
func WithBus(conn *bus.Connection) Option { return func(c *Client) { c.bus = conn } }

func New(cfg Config, opts ...Option) *Client {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-PachubeApiKey"
	}
	if cfg.Port == 0 {
		cfg.Port = 80
	}
	c := &Client{
		cfg:      cfg,
		resolver: net.DefaultResolver,
		dialer:   &net.Dialer{},
		log:      zerolog.Nop(),
		metrics:  metrics.Noop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connected reports whether a live connection is held.
func (c *Client) Connected() bool { return c.conn != nil }

// EnsureConnected resolves the host and dials it unless a connection is
// already held. A failed attempt leaves the client disconnected; it is not
// retried here.
func (c *Client) EnsureConnected(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	err := c.connect(ctx)
	c.metrics.IncConnect(err == nil)
	if err != nil {
		c.publishState(types.LinkDown, err)
		return err
	}
	c.publishState(types.LinkUp, nil)
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	addrs, err := c.resolver.LookupHost(ctx, c.cfg.Host)
	if err != nil {
		return &errcode.E{C: errcode.NetResolve, Op: "feed: resolve", Msg: c.cfg.Host, Err: err}
	}
	if len(addrs) == 0 {
		return &errcode.E{C: errcode.NetResolve, Op: "feed: resolve", Msg: c.cfg.Host + ": no addresses"}
	}
	addr := net.JoinHostPort(addrs[0], strconv.Itoa(c.cfg.Port))

	dctx := ctx
	if c.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
	}
	c.log.Debug().Str("addr", addr).Msg("connecting")
	conn, err := c.dialer.DialContext(dctx, "tcp", addr)
	if err != nil {
		return &errcode.E{C: errcode.NetConnect, Op: "feed: dial", Msg: addr, Err: err}
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			_ = conn.Close()
			return &errcode.E{C: errcode.NetConnect, Op: "feed: set nodelay", Msg: addr, Err: err}
		}
	}
	c.conn = conn
	c.log.Info().Str("addr", addr).Msg("connected")
	return nil
}

// SendReading writes one PUT for r: the request line, the header block and
// the payload, each under its own write deadline. A failed write drops the
// connection.
func (c *Client) SendReading(r types.Reading) error {
	if c.conn == nil {
		return &errcode.E{C: errcode.NetDisconnected, Op: "feed: send", Msg: "no connection"}
	}
	if !r.Valid {
		return &errcode.E{C: errcode.InvalidParams, Op: "feed: send", Msg: "reading is not valid"}
	}
	if !finite(r) {
		return &errcode.E{C: errcode.InvalidParams, Op: "feed: send", Msg: "reading is not finite"}
	}
	body := Payload(c.cfg.Labels, r)
	line, header := Request(c.cfg, len(body))
	for _, part := range [...][]byte{line, header, body} {
		if err := c.write(part); err != nil {
			c.Drop()
			c.publishState(types.LinkDown, err)
			return errcode.Wrap(errcode.NetDisconnected, "feed: send", err)
		}
	}
	c.log.Debug().
		Float64("temperature", r.Temperature).
		Float64("humidity", r.Humidity).
		Int("bytes", len(line)+len(header)+len(body)).
		Msg("reading sent")
	return nil
}

func (c *Client) write(p []byte) error {
	if c.cfg.SendTimeout > 0 {
		if err := c.conn.SetWriteDeadline(c.now().Add(c.cfg.SendTimeout)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write(p)
	return err
}

// Drop closes and forgets the connection, if any.
func (c *Client) Drop() {
	if c.conn == nil {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.log.Info().Msg("connection dropped")
}

// Close is Drop with an error result, for io.Closer callers.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if c.bus != nil {
		c.publishState(types.LinkDown, nil)
	}
	return err
}

func (c *Client) publishState(link types.Link, err error) {
	if c.bus == nil {
		return
	}
	st := types.CapabilityStatus{Link: link, TS: c.now().UnixMilli()}
	if err != nil {
		st.Error = string(errcode.Of(err))
	}
	c.bus.Publish(c.bus.NewMessage(bus.T(types.TopicUplink, types.TopicStatus), st, true))
}
