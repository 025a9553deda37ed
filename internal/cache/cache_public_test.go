package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/xela07ax/mission-control/internal/cache"
	"github.com/xela07ax/mission-control/internal/domain"
)

type CachePublicTestSuite struct {
	suite.Suite

	ctx context.Context
}

func (s *CachePublicTestSuite) SetupTest() {
	s.ctx = context.Background()
}

// exercise прогоняет общий сценарий; expire сдвигает время за TTL.
func (s *CachePublicTestSuite) exercise(c cache.Cache, expire func(time.Duration)) {
	var got domain.AgentList
	found, err := c.Get(s.ctx, "agents", &got)
	s.Require().NoError(err)
	s.False(found)

	want := domain.AgentList{
		Agents:    []domain.Agent{{ID: "agent:main:1", Name: "Main Agent", Status: domain.StatusOnline}},
		Count:     1,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	s.Require().NoError(c.Set(s.ctx, "agents", want, 5*time.Second))

	found, err = c.Get(s.ctx, "agents", &got)
	s.Require().NoError(err)
	s.True(found)
	s.Equal(want.Count, got.Count)
	s.Equal(want.Agents[0].ID, got.Agents[0].ID)
	s.True(want.Timestamp.Equal(got.Timestamp))

	expire(6 * time.Second)
	found, err = c.Get(s.ctx, "agents", &got)
	s.Require().NoError(err)
	s.False(found)

	s.Require().NoError(c.Set(s.ctx, "agents", want, time.Minute))
	s.Require().NoError(c.Delete(s.ctx, "agents"))
	found, err = c.Get(s.ctx, "agents", &got)
	s.Require().NoError(err)
	s.False(found)
}

func (s *CachePublicTestSuite) TestRedis() {
	mr := miniredis.RunT(s.T())
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	c := cache.NewRedis(rdb)
	s.Require().NoError(c.Set(s.ctx, "ping", 1, time.Minute))
	s.True(mr.Exists("mc:cache:ping"))

	s.exercise(c, mr.FastForward)
}

func (s *CachePublicTestSuite) TestMemory() {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := cache.NewMemory().WithClock(func() time.Time { return now })

	s.exercise(c, func(d time.Duration) { now = now.Add(d) })
}

func (s *CachePublicTestSuite) TestMemoryWithoutTTLNeverExpires() {
	now := time.Now()
	c := cache.NewMemory().WithClock(func() time.Time { return now })
	s.Require().NoError(c.Set(s.ctx, "k", "v", 0))

	now = now.Add(24 * time.Hour)
	var got string
	found, err := c.Get(s.ctx, "k", &got)
	s.Require().NoError(err)
	s.True(found)
	s.Equal("v", got)
}

func TestCachePublicTestSuite(t *testing.T) {
	suite.Run(t, new(CachePublicTestSuite))
}
