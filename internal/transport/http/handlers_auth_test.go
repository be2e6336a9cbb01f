package httptransport

//go:generate mockgen -source=handlers_auth.go -destination=mocks/mocks.go -package=mocks AuthProvider,ProfileService

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"profilegate/internal/identity/events"
	"profilegate/internal/identity/models"
	"profilegate/internal/platform/metrics"
	"profilegate/internal/policy"
	"profilegate/internal/routes"
	"profilegate/internal/transport/http/mocks"
	dErrors "profilegate/pkg/domain-errors"
	"profilegate/pkg/platform/middleware/device"
	"profilegate/pkg/testutil"
)

type AuthHandlerSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	provider *mocks.MockAuthProvider
	profiles *mocks.MockProfileService
	bus      *events.MemoryBus
	metrics  *metrics.Metrics
	router   chi.Router

	mu       sync.Mutex
	received []models.Event
	unsub    events.Unsubscribe
}

func TestAuthHandlerSuite(t *testing.T) {
	suite.Run(t, new(AuthHandlerSuite))
}

func (s *AuthHandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.provider = mocks.NewMockAuthProvider(s.ctrl)
	s.profiles = mocks.NewMockProfileService(s.ctrl)
	s.bus = events.NewMemoryBus()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.received = nil

	unsub, err := s.bus.Subscribe(s.T().Context(), testutil.TestIDs.DeviceID1, func(e models.Event) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.received = append(s.received, e)
	})
	s.Require().NoError(err)
	s.unsub = unsub

	h := NewAuthHandler(s.provider, s.profiles, s.bus, nil,
		policy.New(routes.Default()), s.metrics,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.router = chi.NewRouter()
	h.Register(s.router)
}

func (s *AuthHandlerSuite) TearDownTest() {
	s.unsub()
	s.ctrl.Finish()
}

func (s *AuthHandlerSuite) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req = req.WithContext(device.WithDeviceID(req.Context(), testutil.TestIDs.DeviceID1))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *AuthHandlerSuite) session() *models.Session {
	return &models.Session{AccessToken: "access", User: models.User{ID: testutil.TestIDs.UserID1}}
}

func (s *AuthHandlerSuite) events() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Event(nil), s.received...)
}

func (s *AuthHandlerSuite) TestCallbackWithoutCode() {
	rec := s.do(http.MethodGet, "/auth/callback")

	s.Equal(http.StatusFound, rec.Code)
	s.Equal("/login?error=no_code", rec.Header().Get("Location"))
	s.Empty(s.events())
}

func (s *AuthHandlerSuite) TestCallbackRejectedCode() {
	s.provider.EXPECT().ExchangeCode(gomock.Any(), gomock.Any(), "abc").
		Return(nil, dErrors.New(dErrors.CodeInvalidGrant, "code expired"))

	rec := s.do(http.MethodGet, "/auth/callback?code=abc")

	s.Equal("/login?error=auth_error", rec.Header().Get("Location"))
	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.AuthCallbacks.WithLabelValues(ErrorAuth)))
}

func (s *AuthHandlerSuite) TestCallbackProviderDown() {
	s.provider.EXPECT().ExchangeCode(gomock.Any(), gomock.Any(), "abc").
		Return(nil, dErrors.New(dErrors.CodeUnavailable, "gotrue returned 503"))

	rec := s.do(http.MethodGet, "/auth/callback?code=abc")

	s.Equal("/login?error=unexpected_error", rec.Header().Get("Location"))
}

func (s *AuthHandlerSuite) TestCallbackWithoutSession() {
	s.provider.EXPECT().ExchangeCode(gomock.Any(), gomock.Any(), "abc").Return(nil, nil)

	rec := s.do(http.MethodGet, "/auth/callback?code=abc")

	s.Equal("/login?error=no_session", rec.Header().Get("Location"))
}

func (s *AuthHandlerSuite) TestCallbackLandsByProfileState() {
	cases := []struct {
		state    policy.ProfileState
		location string
	}{
		{policy.ProfileComplete, "/feed"},
		{policy.ProfileIncomplete, "/onboarding"},
		{policy.ProfileNone, "/onboarding"},
	}
	for _, tc := range cases {
		s.Run(tc.state.String(), func() {
			s.provider.EXPECT().ExchangeCode(gomock.Any(), gomock.Any(), "abc").Return(s.session(), nil)
			s.profiles.EXPECT().Resolve(gomock.Any(), testutil.TestIDs.UserID1).Return(tc.state)

			rec := s.do(http.MethodGet, "/auth/callback?code=abc")

			s.Equal(http.StatusFound, rec.Code)
			s.Equal(tc.location, rec.Header().Get("Location"))
		})
	}

	evts := s.events()
	s.Require().Len(evts, 3)
	for _, e := range evts {
		s.Equal(models.EventSignedIn, e.Type)
		s.Equal(testutil.TestIDs.UserID1, e.UserID)
	}
}

func (s *AuthHandlerSuite) TestSignOutRevokesAndClears() {
	sess := s.session()
	s.provider.EXPECT().CurrentSession(gomock.Any(), gomock.Any()).Return(sess, nil)
	s.provider.EXPECT().SignOut(gomock.Any(), sess).Return(nil)
	s.profiles.EXPECT().Invalidate(gomock.Any(), testutil.TestIDs.UserID1)
	s.provider.EXPECT().ClearSession(gomock.Any())

	rec := s.do(http.MethodPost, "/auth/signout")

	s.Equal(http.StatusFound, rec.Code)
	s.Equal("/", rec.Header().Get("Location"))
	evts := s.events()
	s.Require().Len(evts, 1)
	s.Equal(models.EventSignedOut, evts[0].Type)
	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.SignOuts.WithLabelValues("true")))
}

func (s *AuthHandlerSuite) TestSignOutClearsEvenWhenProviderFails() {
	sess := s.session()
	s.provider.EXPECT().CurrentSession(gomock.Any(), gomock.Any()).Return(sess, nil)
	s.provider.EXPECT().SignOut(gomock.Any(), sess).Return(errors.New("gotrue unreachable"))
	s.profiles.EXPECT().Invalidate(gomock.Any(), gomock.Any())
	s.provider.EXPECT().ClearSession(gomock.Any())

	rec := s.do(http.MethodPost, "/auth/signout")

	s.Equal("/", rec.Header().Get("Location"))
	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.SignOuts.WithLabelValues("false")))
}

func (s *AuthHandlerSuite) TestSignOutWithUnreadableSession() {
	s.provider.EXPECT().CurrentSession(gomock.Any(), gomock.Any()).Return(nil, errors.New("bad signature"))
	s.provider.EXPECT().ClearSession(gomock.Any())

	rec := s.do(http.MethodPost, "/auth/signout")

	s.Equal("/", rec.Header().Get("Location"))
	evts := s.events()
	s.Require().Len(evts, 1)
	s.True(evts[0].UserID.IsNil())
}
