package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"profilegate/internal/gate"
	gatemetrics "profilegate/internal/gate/metrics"
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
	id "profilegate/pkg/domain"
	"profilegate/pkg/platform/middleware/device"
	"profilegate/pkg/testutil"
)

const routerSecret = "router-test-secret"

// switchableStore fails on demand so the store-outage scenario can run
// against the real resolver.
type switchableStore struct {
	*store.InMemoryStore
	fail bool
}

func (s *switchableStore) ListByUser(ctx context.Context, userID id.UserID) ([]*profilemodels.Profile, error) {
	if s.fail {
		return nil, errors.New("connection reset by peer")
	}
	return s.InMemoryStore.ListByUser(ctx, userID)
}

type RouterSuite struct {
	suite.Suite
	store  *switchableStore
	router http.Handler
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	table := routes.Default()
	p := policy.New(table)

	s.store = &switchableStore{InMemoryStore: store.NewInMemory()}
	resolver := service.New(s.store, service.WithLogger(logger))
	provider := gotrue.NewProvider(gotrue.NewVerifier(routerSecret), nil, gotrue.WithLogger(logger))
	bus := events.NewMemoryBus()
	m := metrics.New(reg)

	upstream, err := NewUpstream("", logger)
	s.Require().NoError(err)

	s.router = NewRouter(RouterConfig{
		Logger:   logger,
		Gate:     gate.New(p, provider, resolver, gate.WithLogger(logger), gate.WithMetrics(gatemetrics.New(reg))),
		Auth:     NewAuthHandler(provider, resolver, bus, nil, p, m, logger),
		Health:   health.New("test"),
		Routes:   table,
		Upstream: upstream,
		Metrics:  m,
		Gatherer: reg,
		Device:   device.Config{CookieName: device.CookieName},
	})
}

func (s *RouterSuite) token() string {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, gotrue.AccessTokenClaims{
		Email: "ann@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   testutil.TestIDs.UserID1.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := tok.SignedString([]byte(routerSecret))
	s.Require().NoError(err)
	return signed
}

func (s *RouterSuite) get(target string, signedIn bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if signedIn {
		req.AddCookie(&http.Cookie{Name: identitymodels.AccessTokenCookie, Value: s.token()})
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) addProfile(fullName, company string) {
	s.store.Add(testutil.NewProfileBuilder().WithFullName(fullName).WithCompany(company).Build())
}

func (s *RouterSuite) TestAnonymousFeed() {
	rec := s.get("/feed", false)

	s.Equal(http.StatusFound, rec.Code)
	s.Equal("/login?redirectTo=%2Ffeed", rec.Header().Get("Location"))
}

func (s *RouterSuite) TestIncompleteOnLogin() {
	s.addProfile("Ann Lee", "")

	rec := s.get("/login", true)

	s.Equal(http.StatusFound, rec.Code)
	s.Equal("/onboarding", rec.Header().Get("Location"))
}

func (s *RouterSuite) TestCompleteOnOnboarding() {
	s.addProfile("Ann Lee", "Acme")

	rec := s.get("/onboarding", true)

	s.Equal(http.StatusFound, rec.Code)
	s.Equal("/feed", rec.Header().Get("Location"))
}

func (s *RouterSuite) TestDuplicateRows() {
	s.addProfile("A", "")
	s.addProfile("A", "Acme")

	rec := s.get("/feed", true)

	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "Signed in")
}

func (s *RouterSuite) TestStoreError() {
	s.store.fail = true

	rec := s.get("/feed", true)

	s.Equal(http.StatusFound, rec.Code)
	s.Equal("/onboarding", rec.Header().Get("Location"))
}

func (s *RouterSuite) TestForgedTokenIsClearedAndTreatedAsAnonymous() {
	req := httptest.NewRequest(http.MethodGet, "/feed", nil)
	req.AddCookie(&http.Cookie{Name: identitymodels.AccessTokenCookie, Value: "not-a-jwt"})
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	s.Equal("/login?redirectTo=%2Ffeed", rec.Header().Get("Location"))
	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == identitymodels.AccessTokenCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	s.True(cleared, "stale access token cookie must be deleted")
}

func (s *RouterSuite) TestDeviceCookieIsIssued() {
	rec := s.get("/about", false)

	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Header().Values("Set-Cookie")[0], device.CookieName+"=")
}

func (s *RouterSuite) TestRouteTableIsPublished() {
	rec := s.get("/internal/routes", false)

	s.Equal(http.StatusOK, rec.Code)
	var body routeTableResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal("/login", body.Login)
	s.NotEmpty(body.Rules)
	for _, r := range body.Rules {
		if r.Prefix == "/onboarding" {
			s.False(r.RequiresCompleteProfile)
		}
		if r.Prefix == "/feed" {
			s.True(r.RequiresCompleteProfile)
		}
	}
}

func (s *RouterSuite) TestProbesAndMetricsBypassTheGate() {
	s.Equal(http.StatusOK, s.get("/health/live", false).Code)

	s.get("/feed", false)
	rec := s.get("/metrics", false)
	s.Equal(http.StatusOK, rec.Code)
	s.True(strings.Contains(rec.Body.String(), "profilegate_gate_decisions_total"))
}
