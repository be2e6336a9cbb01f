//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"profilegate/internal/profile/cache"
	id "profilegate/pkg/domain"
	"profilegate/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *cache.RedisCache
}

func TestRedisCacheSuite(t *testing.T) {
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisCacheSuite) SetupTest() {
	require.NoError(s.T(), s.redis.Client.FlushAll(context.Background()).Err())
	s.cache = cache.NewRedis(s.redis.Client, time.Minute)
}

func (s *RedisCacheSuite) TestMarkAndInvalidate() {
	ctx := context.Background()
	userID := id.UserID(uuid.New())

	complete, err := s.cache.IsComplete(ctx, userID)
	s.Require().NoError(err)
	s.False(complete, "unknown users are not complete")

	s.Require().NoError(s.cache.MarkComplete(ctx, userID))
	complete, err = s.cache.IsComplete(ctx, userID)
	s.Require().NoError(err)
	s.True(complete)

	s.Require().NoError(s.cache.Invalidate(ctx, userID))
	complete, err = s.cache.IsComplete(ctx, userID)
	s.Require().NoError(err)
	s.False(complete)
}

func (s *RedisCacheSuite) TestMarkerExpires() {
	ctx := context.Background()
	userID := id.UserID(uuid.New())
	short := cache.NewRedis(s.redis.Client, time.Second)

	s.Require().NoError(short.MarkComplete(ctx, userID))
	s.Eventually(func() bool {
		complete, err := short.IsComplete(ctx, userID)
		return err == nil && !complete
	}, 5*time.Second, 100*time.Millisecond)
}
