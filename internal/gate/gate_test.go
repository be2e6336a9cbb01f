package gate

//go:generate mockgen -source=gate.go -destination=mocks/mocks.go -package=mocks SessionProvider,ProfileResolver,AuditPublisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"profilegate/internal/audit"
	"profilegate/internal/gate/metrics"
	"profilegate/internal/gate/mocks"
	"profilegate/internal/identity/models"
	"profilegate/internal/policy"
	profilemodels "profilegate/internal/profile/models"
	"profilegate/internal/profile/service"
	"profilegate/internal/profile/store"
	"profilegate/internal/routes"
	id "profilegate/pkg/domain"
	"profilegate/pkg/platform/middleware/device"
	"profilegate/pkg/testutil"
)

type GateSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	sessions *mocks.MockSessionProvider
	profiles *mocks.MockProfileResolver
	audit    *mocks.MockAuditPublisher
	metrics  *metrics.Metrics
	policy   *policy.Policy
	reached  bool

	mu     sync.Mutex
	events []audit.Event
}

func TestGateSuite(t *testing.T) {
	suite.Run(t, new(GateSuite))
}

func (s *GateSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.sessions = mocks.NewMockSessionProvider(s.ctrl)
	s.profiles = mocks.NewMockProfileResolver(s.ctrl)
	s.audit = mocks.NewMockAuditPublisher(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.policy = policy.New(routes.Default())
	s.reached = false
	s.events = nil

	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Do(func(_ context.Context, e audit.Event) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.events = append(s.events, e)
	}).AnyTimes()
}

func (s *GateSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *GateSuite) handler(resolver ProfileResolver) http.Handler {
	g := New(s.policy, s.sessions, resolver,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithAudit(s.audit),
	)
	return g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.reached = true
		w.WriteHeader(http.StatusOK)
	}))
}

func (s *GateSuite) serve(h http.Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req = req.WithContext(device.WithDeviceID(req.Context(), testutil.TestIDs.DeviceID1))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func (s *GateSuite) signedIn() {
	s.sessions.EXPECT().CurrentSession(gomock.Any(), gomock.Any()).Return(&models.Session{
		AccessToken: "access",
		User:        models.User{ID: testutil.TestIDs.UserID1},
	}, nil)
}

func (s *GateSuite) anonymous() {
	s.sessions.EXPECT().CurrentSession(gomock.Any(), gomock.Any()).Return(nil, nil)
}

func (s *GateSuite) assertRedirect(rec *httptest.ResponseRecorder, location string) {
	s.Equal(http.StatusFound, rec.Code)
	s.Equal(location, rec.Header().Get("Location"))
	s.Equal("no-store", rec.Header().Get("Cache-Control"))
	s.False(s.reached, "next handler must not run after a redirect")
}

func (s *GateSuite) assertAllowed(rec *httptest.ResponseRecorder) {
	s.Equal(http.StatusOK, rec.Code)
	s.Empty(rec.Header().Get("Location"))
	s.True(s.reached)
}

func (s *GateSuite) TestAnonymousOnFeedIsSentToLogin() {
	s.anonymous()

	rec := s.serve(s.handler(s.profiles), "/feed")

	s.assertRedirect(rec, "/login?redirectTo=%2Ffeed")
	s.Require().Len(s.events, 1)
	s.Equal(audit.ActionGateRedirect, s.events[0].Action)
	s.Equal(string(policy.RuleLoginRequired), s.events[0].Rule)
	s.Equal(testutil.TestIDs.DeviceID1.String(), s.events[0].DeviceID)
	s.Empty(s.events[0].UserID)
	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.Decisions.WithLabelValues("redirect", "login_required")))
}

func (s *GateSuite) TestIncompleteProfileOnLoginIsSentToOnboarding() {
	s.signedIn()
	s.profiles.EXPECT().Resolve(gomock.Any(), testutil.TestIDs.UserID1).Return(policy.ProfileIncomplete)

	rec := s.serve(s.handler(s.profiles), "/login")

	s.assertRedirect(rec, "/onboarding")
}

func (s *GateSuite) TestCompleteProfileOnOnboardingIsSentToFeed() {
	s.signedIn()
	s.profiles.EXPECT().Resolve(gomock.Any(), testutil.TestIDs.UserID1).Return(policy.ProfileComplete)

	rec := s.serve(s.handler(s.profiles), "/onboarding")

	s.assertRedirect(rec, "/feed")
}

func (s *GateSuite) TestDuplicateRowsResolveToTheBestScoringRow() {
	s.signedIn()
	mem := store.NewInMemory()
	mem.Add(testutil.NewProfileBuilder().WithFullName("A").WithCompany("").Build())
	mem.Add(testutil.NewProfileBuilder().WithFullName("A").WithCompany("Acme").Build())

	rec := s.serve(s.handler(service.New(mem)), "/feed")

	s.assertAllowed(rec)
	s.Empty(s.events)
}

func (s *GateSuite) TestStoreErrorOnFeedIsSentToOnboarding() {
	s.signedIn()
	resolver := service.New(failingStore{}, service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	rec := s.serve(s.handler(resolver), "/feed")

	s.assertRedirect(rec, "/onboarding")
	s.Require().Len(s.events, 1)
	s.Equal(string(policy.RuleProfileIncomplete), s.events[0].Rule)
	s.Equal(testutil.TestIDs.UserID1.String(), s.events[0].UserID)
}

func (s *GateSuite) TestProfileErrorOnOnboardingStaysOnOnboarding() {
	s.signedIn()
	s.profiles.EXPECT().Resolve(gomock.Any(), gomock.Any()).Return(policy.ProfileNone)

	rec := s.serve(s.handler(s.profiles), "/onboarding/step-2")

	s.assertAllowed(rec)
}

func (s *GateSuite) TestSessionErrorClearsCookiesAndActsAnonymous() {
	s.sessions.EXPECT().CurrentSession(gomock.Any(), gomock.Any()).Return(nil, errors.New("token signature invalid"))
	s.sessions.EXPECT().ClearSession(gomock.Any()).Times(1)

	rec := s.serve(s.handler(s.profiles), "/feed")

	s.assertRedirect(rec, "/login?redirectTo=%2Ffeed")
	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.SessionErrors))
	s.Require().Len(s.events, 2)
	s.Equal(audit.ActionSessionCleared, s.events[0].Action)
	s.Equal(audit.ActionGateRedirect, s.events[1].Action)
}

func (s *GateSuite) TestSessionErrorOnPublicRouteStillServesPage() {
	s.sessions.EXPECT().CurrentSession(gomock.Any(), gomock.Any()).Return(nil, errors.New("refresh failed"))
	s.sessions.EXPECT().ClearSession(gomock.Any())

	rec := s.serve(s.handler(s.profiles), "/about")

	s.assertAllowed(rec)
}

func (s *GateSuite) TestAnonymousOnPublicAndUnclassifiedRoutes() {
	for _, target := range []string{"/", "/about", "/feedback", "/login", "/unknown/deep/path"} {
		s.Run(target, func() {
			s.reached = false
			s.anonymous()

			rec := s.serve(s.handler(s.profiles), target)

			s.assertAllowed(rec)
		})
	}
}

func (s *GateSuite) TestCompleteProfileOnFeedPassesSessionDownstream() {
	s.signedIn()
	s.profiles.EXPECT().Resolve(gomock.Any(), gomock.Any()).Return(policy.ProfileComplete)

	var seen *models.Session
	g := New(s.policy, s.sessions, s.profiles)
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SessionFromContext(r.Context())
	}))

	s.serve(h, "/feed/42")

	s.Require().NotNil(seen)
	s.Equal(testutil.TestIDs.UserID1, seen.UserID())
}

func (s *GateSuite) TestExemptPathsSkipTheGate() {
	h := s.handler(s.profiles)
	for _, target := range []string{
		"/_next/static/chunk.js",
		"/favicon.ico",
		"/public/logo.txt",
		"/health/ready",
		"/metrics",
		"/ws/session",
		"/auth/callback?code=abc",
		"/about/team.PNG",
		"/img/logo.svg",
	} {
		s.Run(target, func() {
			s.reached = false
			rec := s.serve(h, target)
			s.assertAllowed(rec)
		})
	}
}

func (s *GateSuite) TestExemptionsCannotReachProtectedRoutes() {
	h := s.handler(s.profiles)
	for _, target := range []string{
		"/_next/../feed",
		"/health/../members",
		"/public/../../profile/edit",
		"/feed/x.png",
		"/profile/avatar.jpg",
		"/_next/data/build/feed.json",
	} {
		s.Run(target, func() {
			s.reached = false
			s.anonymous()
			rec := s.serve(h, target)
			s.assertRedirect(rec, "/login?redirectTo="+url.QueryEscape(routes.Normalize(target)))
		})
	}
}

type failingStore struct{}

func (failingStore) ListByUser(context.Context, id.UserID) ([]*profilemodels.Profile, error) {
	return nil, errors.New("connection refused")
}

func TestExemptionsMatch(t *testing.T) {
	e := newExemptions(DefaultExemptPrefixes)
	table := routes.Default()

	assert.True(t, e.match("/health", table))
	assert.True(t, e.match("/health/live", table))
	assert.False(t, e.match("/healthcheck", table))
	assert.True(t, e.match("/_next/image", table))
	assert.True(t, e.match("/_next/static/chunks/app.js", table))
	assert.False(t, e.match("/_next", table))
	assert.False(t, e.match("/_next/data/build/feed.json", table))
	assert.True(t, e.match("/img/a.webp", table))
	assert.False(t, e.match("/feed", table))
	assert.False(t, e.match("/auth", table))

	// dot segments are resolved before prefixes are compared
	assert.False(t, e.match("/_next/static/../../feed", table))
	assert.False(t, e.match("/health/../members", table))
	assert.True(t, e.match("/feed/../health", table))

	// image files under gated routes still go through the policy
	assert.False(t, e.match("/feed/secret.png", table))
	assert.False(t, e.match("/login/hero.jpg", table))
	assert.True(t, e.match("/about/hero.jpg", table))
}
