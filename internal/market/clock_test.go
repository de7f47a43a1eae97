package market

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/orderdesk/backend/internal/contracts"
	"github.com/wonny/orderdesk/backend/pkg/config"
	"github.com/wonny/orderdesk/backend/pkg/logger"
	"github.com/wonny/orderdesk/backend/pkg/redis"
)

type fakeSource struct {
	clock *contracts.MarketClock
	err   error
	calls int
}

func (f *fakeSource) Clock(ctx context.Context) (*contracts.MarketClock, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	copied := *f.clock
	return &copied, nil
}

func newService(source Source, now time.Time) *ClockService {
	svc := NewClockService(source, logger.NewNop())
	svc.now = func() time.Time { return now }
	return svc
}

func TestClockService_NextClose(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		nextClose time.Time
		wantDate  string
		wantToday bool
	}{
		{"closes today", time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC), "2026-03-02", true},
		{"closes tomorrow", time.Date(2026, 3, 3, 21, 0, 0, 0, time.UTC), "2026-03-03", false},
		{"after weekend", time.Date(2026, 3, 9, 20, 0, 0, 0, time.UTC), "2026-03-09", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &fakeSource{clock: &contracts.MarketClock{Timestamp: now, NextClose: tt.nextClose}}
			svc := newService(source, now)

			date, err := svc.NextCloseDate(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantDate, date)

			today, err := svc.IsNextCloseToday(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantToday, today)
		})
	}
}

func TestClockService_SourceError(t *testing.T) {
	source := &fakeSource{err: errors.New("broker down")}
	svc := newService(source, time.Now())

	_, err := svc.NextCloseDate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")

	_, err = svc.IsNextCloseToday(context.Background())
	assert.Error(t, err)
}

func TestClockService_DisabledCacheAlwaysFetches(t *testing.T) {
	client, err := redis.New(context.Background(), &config.Config{})
	require.NoError(t, err)

	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	source := &fakeSource{clock: &contracts.MarketClock{Timestamp: now, NextClose: now.Add(6 * time.Hour)}}
	svc := newService(source, now).WithCache(redis.NewCache(client, "orderdesk-test"), 0)

	for i := 0; i < 3; i++ {
		_, err := svc.Clock(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, source.calls)
}

// Integration test - requires Redis
func TestClockService_CachedClock(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		t.Skip("REDIS_HOST not set")
	}

	cfg := &config.Config{Redis: config.RedisConfig{Host: host, Port: "6379", Enabled: true}}
	client, err := redis.New(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()

	cache := redis.NewCache(client, "orderdesk-test")
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	key := redis.MarketClockKey("2026-03-02")
	require.NoError(t, cache.Delete(context.Background(), key))
	defer cache.Delete(context.Background(), key)

	source := &fakeSource{clock: &contracts.MarketClock{Timestamp: now, NextClose: now.Add(6 * time.Hour)}}
	svc := newService(source, now).WithCache(cache, time.Minute)

	_, err = svc.Clock(context.Background())
	require.NoError(t, err)

	later := now.Add(2 * time.Minute)
	svc.now = func() time.Time { return later }
	clock, err := svc.Clock(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, source.calls)
	assert.Equal(t, later, clock.Timestamp)
}
