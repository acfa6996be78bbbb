package marketdata

import (
	"context"
	"strings"
	"time"

	"github.com/wonny/tradeflow/pkg/logger"
	"github.com/wonny/tradeflow/pkg/redis"
)

// CachedSource puts a Redis JSON cache in front of another Source
//
// Cache failures are logged and fall through to the wrapped source.
type CachedSource struct {
	inner  Source
	cache  *redis.Cache
	ttl    time.Duration
	logger *logger.Logger
}

// NewCachedSource wraps inner with cache
func NewCachedSource(inner Source, cache *redis.Cache, ttl time.Duration, log *logger.Logger) *CachedSource {
	if ttl <= 0 {
		ttl = redis.TTLDaily
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CachedSource{inner: inner, cache: cache, ttl: ttl, logger: log}
}

// Load implements Source
func (s *CachedSource) Load(ctx context.Context, symbol string, asOf time.Time) (Frame, error) {
	if s.cache == nil || !s.cache.Enabled() {
		return s.inner.Load(ctx, symbol, asOf)
	}

	key := redis.FrameKey(strings.ToUpper(symbol), NormalizeDate(asOf).Format(DateLayout))

	var cached Frame
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Curated frame cache read failed")
	}
	if found && !cached.Empty() {
		return cached, nil
	}

	frame, err := s.inner.Load(ctx, symbol, asOf)
	if err != nil {
		return Frame{}, err
	}

	if err := s.cache.Set(ctx, key, frame, s.ttl); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Curated frame cache write failed")
	}
	return frame, nil
}
