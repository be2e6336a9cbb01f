package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,Cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"profilegate/internal/policy"
	"profilegate/internal/profile/metrics"
	"profilegate/internal/profile/models"
	"profilegate/internal/profile/service/mocks"
	"profilegate/internal/profile/store"
	id "profilegate/pkg/domain"
	"profilegate/pkg/platform/circuit"
	"profilegate/pkg/testutil"
)

type ResolverSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	mockStore *mocks.MockStore
	mockCache *mocks.MockCache
	metrics   *metrics.Metrics
	breaker   *circuit.Breaker
	logger    *slog.Logger
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockStore = mocks.NewMockStore(s.ctrl)
	s.mockCache = mocks.NewMockCache(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.breaker = circuit.New("profiles", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *ResolverSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ResolverSuite) resolver(opts ...Option) *Resolver {
	base := []Option{
		WithLogger(s.logger),
		WithMetrics(s.metrics),
		WithBreaker(s.breaker),
		WithTimeout(50 * time.Millisecond),
	}
	return New(s.mockStore, append(base, opts...)...)
}

func (s *ResolverSuite) expectRows(rows ...*models.Profile) {
	s.mockStore.EXPECT().ListByUser(gomock.Any(), testutil.TestIDs.UserID1).Return(rows, nil)
}

func (s *ResolverSuite) TestRowCounts() {
	s.Run("no rows is none", func() {
		s.expectRows()
		s.Equal(policy.ProfileNone, s.resolver().Resolve(context.Background(), testutil.TestIDs.UserID1))
	})

	s.Run("single complete row", func() {
		s.expectRows(testutil.NewProfileBuilder().Complete().Build())
		s.Equal(policy.ProfileComplete, s.resolver().Resolve(context.Background(), testutil.TestIDs.UserID1))
	})

	s.Run("single row missing company is incomplete", func() {
		s.expectRows(testutil.NewProfileBuilder().WithFullName("Ada").Build())
		s.Equal(policy.ProfileIncomplete, s.resolver().Resolve(context.Background(), testutil.TestIDs.UserID1))
	})

	s.Run("first and last name stand in for full name", func() {
		s.expectRows(testutil.NewProfileBuilder().WithName("Ada", "Lovelace").WithCompany("Engines").Build())
		s.Equal(policy.ProfileComplete, s.resolver().Resolve(context.Background(), testutil.TestIDs.UserID1))
	})

	s.Run("whitespace only fields do not count", func() {
		s.expectRows(testutil.NewProfileBuilder().WithFullName("   ").WithCompany("\t").Build())
		s.Equal(policy.ProfileIncomplete, s.resolver().Resolve(context.Background(), testutil.TestIDs.UserID1))
	})
}

// Three rows where the first is empty: the populated row wins.
func (s *ResolverSuite) TestDuplicateRowsPickMostPopulated() {
	before := promtest.ToFloat64(s.metrics.DuplicateProfiles)
	s.expectRows(
		testutil.NewProfileBuilder().Build(),
		testutil.NewProfileBuilder().WithFullName("Ada Lovelace").Build(),
		testutil.NewProfileBuilder().Complete().Build(),
	)

	state := s.resolver().Resolve(context.Background(), testutil.TestIDs.UserID1)

	s.Equal(policy.ProfileComplete, state)
	s.Equal(before+1, promtest.ToFloat64(s.metrics.DuplicateProfiles))
}

func (s *ResolverSuite) TestTiesGoToFirstRow() {
	// Both rows score two; the first is incomplete (no company).
	s.expectRows(
		testutil.NewProfileBuilder().WithName("Ada", "Lovelace").Build(),
		testutil.NewProfileBuilder().WithFullName("Ada").WithCompany("Engines").Build(),
	)
	s.Equal(policy.ProfileIncomplete, s.resolver().Resolve(context.Background(), testutil.TestIDs.UserID1))
}

func (s *ResolverSuite) TestStoreErrorIsNone() {
	s.mockStore.EXPECT().ListByUser(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection reset"))

	s.Equal(policy.ProfileNone, s.resolver().Resolve(context.Background(), testutil.TestIDs.UserID1))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.ResolveFailures.WithLabelValues(metrics.ReasonStoreError)))
}

func (s *ResolverSuite) TestSlowStoreTimesOutToNone() {
	s.mockStore.EXPECT().ListByUser(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ any) ([]*models.Profile, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	start := time.Now()
	state := s.resolver().Resolve(context.Background(), testutil.TestIDs.UserID1)

	s.Equal(policy.ProfileNone, state)
	s.Less(time.Since(start), time.Second)
	s.Equal(1.0, promtest.ToFloat64(s.metrics.ResolveFailures.WithLabelValues(metrics.ReasonTimeout)))
}

func (s *ResolverSuite) TestLateAnswerAfterDeadlineIsDiscarded() {
	s.mockStore.EXPECT().ListByUser(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ any) ([]*models.Profile, error) {
			<-ctx.Done()
			return []*models.Profile{testutil.NewProfileBuilder().Complete().Build()}, nil
		})

	s.Equal(policy.ProfileNone, s.resolver().Resolve(context.Background(), testutil.TestIDs.UserID1))
}

func (s *ResolverSuite) TestOpenCircuitSkipsStore() {
	s.mockStore.EXPECT().ListByUser(gomock.Any(), gomock.Any()).Return(nil, errors.New("down")).Times(2)
	r := s.resolver()

	r.Resolve(context.Background(), testutil.TestIDs.UserID1)
	r.Resolve(context.Background(), testutil.TestIDs.UserID1)
	s.Require().Equal(circuit.StateOpen, s.breaker.State())

	// No further store calls are expected.
	s.Equal(policy.ProfileNone, r.Resolve(context.Background(), testutil.TestIDs.UserID1))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.ResolveFailures.WithLabelValues(metrics.ReasonCircuitOpen)))
}

func (s *ResolverSuite) TestCallerCancellationDoesNotTripCircuit() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mockStore.EXPECT().ListByUser(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, any) ([]*models.Profile, error) {
			cancel()
			return nil, context.Canceled
		}).Times(3)
	r := s.resolver()

	for range 3 {
		s.Equal(policy.ProfileNone, r.Resolve(ctx, testutil.TestIDs.UserID1))
	}
	s.Equal(circuit.StateClosed, s.breaker.State())
}

func (s *ResolverSuite) TestCache() {
	s.Run("hit skips the store", func() {
		s.mockCache.EXPECT().IsComplete(gomock.Any(), testutil.TestIDs.UserID1).Return(true, nil)

		state := s.resolver(WithCache(s.mockCache)).Resolve(context.Background(), testutil.TestIDs.UserID1)
		s.Equal(policy.ProfileComplete, state)
	})

	s.Run("complete result is remembered", func() {
		s.mockCache.EXPECT().IsComplete(gomock.Any(), testutil.TestIDs.UserID1).Return(false, nil)
		s.expectRows(testutil.NewProfileBuilder().Complete().Build())
		s.mockCache.EXPECT().MarkComplete(gomock.Any(), testutil.TestIDs.UserID1).Return(nil)

		state := s.resolver(WithCache(s.mockCache)).Resolve(context.Background(), testutil.TestIDs.UserID1)
		s.Equal(policy.ProfileComplete, state)
	})

	s.Run("incomplete result is not cached", func() {
		s.mockCache.EXPECT().IsComplete(gomock.Any(), testutil.TestIDs.UserID1).Return(false, nil)
		s.expectRows(testutil.NewProfileBuilder().WithFullName("Ada").Build())

		state := s.resolver(WithCache(s.mockCache)).Resolve(context.Background(), testutil.TestIDs.UserID1)
		s.Equal(policy.ProfileIncomplete, state)
	})

	s.Run("cache errors fall through to the store", func() {
		s.mockCache.EXPECT().IsComplete(gomock.Any(), gomock.Any()).Return(false, errors.New("redis down"))
		s.expectRows()

		state := s.resolver(WithCache(s.mockCache)).Resolve(context.Background(), testutil.TestIDs.UserID1)
		s.Equal(policy.ProfileNone, state)
	})

	s.Run("invalidate", func() {
		s.mockCache.EXPECT().Invalidate(gomock.Any(), testutil.TestIDs.UserID1).Return(nil)
		s.resolver(WithCache(s.mockCache)).Invalidate(context.Background(), testutil.TestIDs.UserID1)
	})
}

func TestResolverWithInMemoryStore(t *testing.T) {
	mem := store.NewInMemory()
	mem.Add(testutil.NewProfileBuilder().ForUser(testutil.TestIDs.UserID2).WithFullName("Grace").Build())
	mem.Add(testutil.NewProfileBuilder().ForUser(testutil.TestIDs.UserID2).WithFullName("Grace Hopper").WithCompany("Navy").Build())

	r := New(mem, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	if got := r.Resolve(context.Background(), testutil.TestIDs.UserID2); got != policy.ProfileComplete {
		t.Fatalf("expected complete, got %s", got)
	}
	if got := r.Resolve(context.Background(), testutil.TestIDs.UserID1); got != policy.ProfileNone {
		t.Fatalf("expected none, got %s", got)
	}
}

// markerCache is an in-process stand-in for the Redis completeness marker.
type markerCache struct {
	complete map[id.UserID]bool
}

func (c *markerCache) IsComplete(_ context.Context, userID id.UserID) (bool, error) {
	return c.complete[userID], nil
}

func (c *markerCache) MarkComplete(_ context.Context, userID id.UserID) error {
	c.complete[userID] = true
	return nil
}

func (c *markerCache) Invalidate(_ context.Context, userID id.UserID) error {
	delete(c.complete, userID)
	return nil
}

func TestCachedCompletenessIsStaleUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	user := testutil.TestIDs.UserID1
	mem := store.NewInMemory()
	mem.Add(testutil.NewProfileBuilder().ForUser(user).Complete().Build())
	r := New(mem,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithCache(&markerCache{complete: map[id.UserID]bool{}}),
	)

	if got := r.Resolve(ctx, user); got != policy.ProfileComplete {
		t.Fatalf("expected complete, got %s", got)
	}

	// the profile loses its company behind the resolver's back
	mem.DeleteByUser(ctx, user)
	mem.Add(testutil.NewProfileBuilder().ForUser(user).WithFullName("Ada Lovelace").Build())

	if got := r.Resolve(ctx, user); got != policy.ProfileComplete {
		t.Fatalf("expected the cached marker to answer until invalidated, got %s", got)
	}

	r.Invalidate(ctx, user)
	if got := r.Resolve(ctx, user); got != policy.ProfileIncomplete {
		t.Fatalf("expected incomplete after invalidation, got %s", got)
	}
}
