package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

// slidingScript prunes, counts and conditionally records in one round trip.
// Scores are unix seconds; a score s is stale once now-s >= window, i.e. s <= now-window.
// Members are unique so two admits in the same second count twice.
var slidingScript = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max    = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) >= max then
	return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('EXPIRE', key, window)
return 1
`)

// RedisWindow is SlidingWindow's semantics kept in one redis sorted set per
// identifier, so every instance behind a load balancer shares the count.
//
// Backend errors fail open: the request is admitted, logged and reported to OnError.
// OnFirstDenied is not supported, streak state would have to live in redis too.
type RedisWindow struct {
	client redis.Scripter
	cfg    config
}

// NewRedis builds a RedisWindow on an existing client
func NewRedis(client redis.Scripter, opts ...Option) (*RedisWindow, error) {
	if client == nil {
		return nil, xerrors.New("ratelimit: nil redis client")
	}
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &RedisWindow{client: client, cfg: cfg}, nil
}

// CheckLimit is SlidingWindow.CheckLimit against redis
func (l *RedisWindow) CheckLimit(ctx context.Context, identifier string, maxRequests, windowSecs int) bool {
	if maxRequests <= 0 || windowSecs <= 0 {
		return false
	}
	now := l.cfg.clock.Now().Unix()

	res, err := slidingScript.Run(ctx, l.client,
		[]string{l.cfg.keyPrefix + identifier},
		now, windowSecs, maxRequests, strconv.FormatInt(now, 10)+"-"+uuid.NewString(),
	).Int()
	if err != nil {
		err = xerrors.Wrapf(err, "redis sliding window %q", identifier)
		l.cfg.logger.Error(ctx, err, "rate limit backend unavailable, admitting request", "identifier", identifier)
		if l.cfg.onError != nil {
			l.cfg.onError(err)
		}
		return true
	}
	if res == 1 {
		return true
	}
	if l.cfg.onDenied != nil {
		l.cfg.onDenied(identifier)
	}
	return false
}

func (l *RedisWindow) Allow(ctx context.Context, id string) bool {
	return l.CheckLimit(ctx, id, l.cfg.maxRequests, l.cfg.windowSecs)
}

func (l *RedisWindow) Window() time.Duration {
	return time.Duration(l.cfg.windowSecs) * time.Second
}

// ParseRedisURL turns redis://[user:pass@]host:port/db into client options
func ParseRedisURL(raw string) (*redis.Options, error) {
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse redis url")
	}
	return opts, nil
}
