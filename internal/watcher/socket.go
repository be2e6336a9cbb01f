package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"profilegate/internal/identity/events"
	"profilegate/internal/policy"
	"profilegate/internal/watcher/metrics"
	"profilegate/pkg/platform/middleware/device"
	"profilegate/pkg/platform/tracer"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 8
)

// Message types exchanged with the page.
const (
	MessageRoute    = "route"
	MessageNavigate = "navigate"
)

// ClientMessage is sent by the page after every client-side navigation.
type ClientMessage struct {
	Type string `json:"type"`
	Path string `json:"path,omitempty"`
}

// ServerMessage tells the page where to go.
type ServerMessage struct {
	Type string `json:"type"`
	To   string `json:"to"`
}

// Host serves the page socket and runs one Watcher per connection.
type Host struct {
	bus      events.Bus
	policy   *policy.Policy
	profiles ProfileResolver
	upgrader websocket.Upgrader
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   tracer.Tracer
}

type HostOption func(*Host)

func WithHostLogger(logger *slog.Logger) HostOption {
	return func(h *Host) {
		h.logger = logger
	}
}

func WithHostMetrics(m *metrics.Metrics) HostOption {
	return func(h *Host) {
		h.metrics = m
	}
}

func WithHostTracer(t tracer.Tracer) HostOption {
	return func(h *Host) {
		h.tracer = t
	}
}

func WithHostResolveTimeout(d time.Duration) HostOption {
	return func(h *Host) {
		h.timeout = d
	}
}

// WithAllowedOrigins restricts the page origins that may open a socket. An
// empty list accepts same-origin requests only.
func WithAllowedOrigins(origins ...string) HostOption {
	return func(h *Host) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			allowed[o] = struct{}{}
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			_, ok := allowed[r.Header.Get("Origin")]
			return ok
		}
	}
}

func NewHost(bus events.Bus, p *policy.Policy, profiles ProfileResolver, opts ...HostOption) *Host {
	h := &Host{
		bus:      bus,
		policy:   p,
		profiles: profiles,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		timeout: DefaultResolveTimeout,
		logger:  slog.Default(),
		tracer:  tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and blocks until the page goes away. The
// initial route comes from the "path" query parameter.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID, ok := device.DeviceIDFromContext(ctx)
	if !ok {
		http.Error(w, "missing device", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		h.logger.WarnContext(ctx, "websocket upgrade failed", "error", err)
		return
	}

	h.metrics.ConnectionOpened()
	defer h.metrics.ConnectionClosed()

	logger := h.logger.With(
		"device_id", deviceID.String(),
		"device", device.Label(ctx),
	)
	logger.DebugContext(ctx, "page connected")

	c := newClient(conn, logger)
	watcher := New(h.bus, h.policy, h.profiles, deviceID, c,
		WithRoute(r.URL.Query().Get("path")),
		WithResolveTimeout(h.timeout),
		WithLogger(logger),
		WithMetrics(h.metrics),
		WithTracer(h.tracer),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return c.writePump(gctx) })
	g.Go(func() error { return c.readPump(watcher.SetRoute) })
	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})

	err = g.Wait()
	if err != nil && !isClosure(err) {
		logger.WarnContext(ctx, "page connection ended", "error", err)
		return
	}
	logger.DebugContext(ctx, "page disconnected")
}

// client owns one socket. Only writePump writes to the connection.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

func newClient(conn *websocket.Conn, logger *slog.Logger) *client {
	return &client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger,
	}
}

// Navigate queues a navigate message for the page.
func (c *client) Navigate(ctx context.Context, to string) error {
	payload, err := json.Marshal(ServerMessage{Type: MessageNavigate, To: to})
	if err != nil {
		return err
	}
	select {
	case c.send <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *client) writePump(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return nil
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return err
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

// readPump returns when the connection fails or closes; it never returns nil.
func (c *client) readPump(onRoute func(string)) error {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg ClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Debug("ignoring malformed page message", "error", err)
			continue
		}
		if msg.Type == MessageRoute && msg.Path != "" {
			onRoute(msg.Path)
		}
	}
}

func isClosure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure,
	)
}
