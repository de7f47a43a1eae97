package market

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/orderdesk/backend/internal/contracts"
	"github.com/wonny/orderdesk/backend/pkg/logger"
	"github.com/wonny/orderdesk/backend/pkg/redis"
)

// DateLayout is the wire format of market dates
const DateLayout = "2006-01-02"

// Source provides the brokerage market clock
type Source interface {
	Clock(ctx context.Context) (*contracts.MarketClock, error)
}

// ClockService answers market calendar questions from the brokerage clock
// ⭐ SSOT: 시장 시계 조회는 여기서만 (redis 캐시)
type ClockService struct {
	source Source
	cache  *redis.Cache
	ttl    time.Duration
	logger *logger.Logger
	now    func() time.Time
}

// NewClockService creates a new clock service
func NewClockService(source Source, log *logger.Logger) *ClockService {
	return &ClockService{
		source: source,
		ttl:    redis.TTLMedium,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithCache enables clock caching
func (s *ClockService) WithCache(cache *redis.Cache, ttl time.Duration) *ClockService {
	s.cache = cache
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// Clock returns the market clock.
// A cached clock keeps its open/close times; Timestamp is always the local time.
func (s *ClockService) Clock(ctx context.Context) (*contracts.MarketClock, error) {
	if s.cache == nil {
		return s.fetch(ctx)
	}

	key := redis.MarketClockKey(s.now().Format(DateLayout))

	var clock contracts.MarketClock
	found, err := s.cache.Get(ctx, key, &clock)
	if err != nil {
		s.logger.WithError(err).Warn("Market clock cache read failed")
	}
	if found && clock.NextClose.After(s.now()) {
		clock.Timestamp = s.now()
		return &clock, nil
	}

	fresh, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, fresh, s.ttl); err != nil {
		s.logger.WithError(err).Warn("Market clock cache write failed")
	}
	return fresh, nil
}

func (s *ClockService) fetch(ctx context.Context) (*contracts.MarketClock, error) {
	clock, err := s.source.Clock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get market clock: %w", err)
	}
	return clock, nil
}

// NextCloseDate returns the UTC date of the next market close
func (s *ClockService) NextCloseDate(ctx context.Context) (string, error) {
	clock, err := s.Clock(ctx)
	if err != nil {
		return "", err
	}
	return clock.NextClose.UTC().Format(DateLayout), nil
}

// IsNextCloseToday reports whether the market closes today (UTC)
func (s *ClockService) IsNextCloseToday(ctx context.Context) (bool, error) {
	clock, err := s.Clock(ctx)
	if err != nil {
		return false, err
	}
	return clock.IsNextCloseToday(), nil
}
