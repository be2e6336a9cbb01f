package e2e

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"profilegate/internal/gate"
	"profilegate/internal/identity/events"
	"profilegate/internal/identity/gotrue"
	identitymodels "profilegate/internal/identity/models"
	"profilegate/internal/platform/health"
	"profilegate/internal/platform/metrics"
	"profilegate/internal/policy"
	profilemodels "profilegate/internal/profile/models"
	"profilegate/internal/profile/service"
	"profilegate/internal/profile/store"
	"profilegate/internal/routes"
	httptransport "profilegate/internal/transport/http"
	"profilegate/internal/watcher"
	id "profilegate/pkg/domain"
	"profilegate/pkg/platform/middleware/device"
	"profilegate/pkg/testutil"
)

const jwtSecret = "e2e-jwt-secret"

// outageStore fails every lookup while down is set.
type outageStore struct {
	*store.InMemoryStore
	down bool
}

func (s *outageStore) ListByUser(ctx context.Context, userID id.UserID) ([]*profilemodels.Profile, error) {
	if s.down {
		return nil, errors.New("profile store unreachable")
	}
	return s.InMemoryStore.ListByUser(ctx, userID)
}

// TestContext holds state between test steps
type TestContext struct {
	Server       *httptest.Server
	HTTPClient   *http.Client
	Store        *outageStore
	Bus          *events.MemoryBus
	UserID       id.UserID
	DeviceID     id.DeviceID
	SessionValue string

	LastResponse     *http.Response
	LastResponseBody []byte
	Page             *websocket.Conn
}

// NewTestContext starts an in-process gate with an in-memory profile store.
func NewTestContext() *TestContext {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	httpMetrics := metrics.New(prometheus.NewRegistry())
	table := routes.Default()
	p := policy.New(table)

	tc := &TestContext{
		Store:    &outageStore{InMemoryStore: store.NewInMemory()},
		Bus:      events.NewMemoryBus(),
		UserID:   testutil.TestIDs.UserID1,
		DeviceID: testutil.TestIDs.DeviceID1,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}

	resolver := service.New(tc.Store, service.WithLogger(logger))
	provider := gotrue.NewProvider(gotrue.NewVerifier(jwtSecret), nil, gotrue.WithLogger(logger))
	upstream, err := httptransport.NewUpstream("", logger)
	if err != nil {
		panic(err)
	}

	tc.Server = httptest.NewServer(httptransport.NewRouter(httptransport.RouterConfig{
		Logger:   logger,
		Gate:     gate.New(p, provider, resolver, gate.WithLogger(logger)),
		Auth:     httptransport.NewAuthHandler(provider, resolver, tc.Bus, nil, p, httpMetrics, logger),
		Watcher:  watcher.NewHost(tc.Bus, p, resolver, watcher.WithHostLogger(logger)),
		Health:   health.New("e2e"),
		Routes:   table,
		Upstream: upstream,
		Metrics:  httpMetrics,
		Device:   device.Config{CookieName: device.CookieName},
	}))
	return tc
}

// Close stops the server and any open page.
func (tc *TestContext) Close() {
	if tc.Page != nil {
		_ = tc.Page.Close()
	}
	tc.Server.Close()
}

// SignIn mints a valid access token for the test user.
func (tc *TestContext) SignIn() error {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, gotrue.AccessTokenClaims{
		Email: "ann@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tc.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := tok.SignedString([]byte(jwtSecret))
	if err != nil {
		return err
	}
	tc.SessionValue = signed
	return nil
}

func (tc *TestContext) cookieHeader() string {
	parts := []string{device.CookieName + "=" + tc.DeviceID.String()}
	if tc.SessionValue != "" {
		parts = append(parts, identitymodels.AccessTokenCookie+"="+tc.SessionValue)
	}
	return strings.Join(parts, "; ")
}

// Do sends a request carrying the browser's cookies and stores the response.
func (tc *TestContext) Do(method, path string) error {
	req, err := http.NewRequestWithContext(context.Background(), method, tc.Server.URL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Cookie", tc.cookieHeader())

	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return nil
}

// OpenPage connects a page socket reporting route and waits until the
// watcher behind it is subscribed.
func (tc *TestContext) OpenPage(route string) error {
	u := "ws" + strings.TrimPrefix(tc.Server.URL, "http") + "/ws/session?path=" + route
	header := http.Header{}
	header.Set("Cookie", tc.cookieHeader())
	conn, resp, err := websocket.DefaultDialer.Dial(u, header)
	if err != nil {
		return fmt.Errorf("open page socket: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	tc.Page = conn

	deadline := time.Now().Add(2 * time.Second)
	for tc.Bus.Subscribers(tc.DeviceID) == 0 {
		if time.Now().After(deadline) {
			return errors.New("page watcher never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

// NextNavigation reads the next navigate message pushed to the page.
func (tc *TestContext) NextNavigation() (string, error) {
	if tc.Page == nil {
		return "", errors.New("no page open")
	}
	_ = tc.Page.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg watcher.ServerMessage
	if err := tc.Page.ReadJSON(&msg); err != nil {
		return "", fmt.Errorf("read page message: %w", err)
	}
	if msg.Type != watcher.MessageNavigate {
		return "", fmt.Errorf("unexpected page message type %q", msg.Type)
	}
	return msg.To, nil
}
