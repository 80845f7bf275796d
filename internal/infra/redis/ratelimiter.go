package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/outreach-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec = 10
	sendWindow         = time.Second
	maxRetryAfter      = sendWindow
)

// reserveScript keeps a sorted set of send timestamps per scope. It records a
// send and returns 0 when the window has room, otherwise it returns the
// milliseconds until the oldest send leaves the window.
var reserveScript = goredis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
if redis.call("ZCARD", KEYS[1]) < tonumber(ARGV[3]) then
  redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
  redis.call("PEXPIRE", KEYS[1], ARGV[5])
  return 0
end
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local retry = tonumber(oldest[2]) + tonumber(ARGV[5]) - tonumber(ARGV[1])
if retry < 1 then
  retry = 1
end
return retry
`)

var _ ratelimit.RateLimiter = (*SendLimiter)(nil)

// SendLimiter is a sliding-window send limiter shared by every process pointed
// at the same Redis. A scope may send limitPerSec messages in any one-second
// window.
type SendLimiter struct {
	client      *goredis.Client
	limitPerSec int
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*SendLimiter, error) {
	return newSendLimiter(client, limitPerSec, time.Now, sleepWithContext)
}

func newSendLimiter(
	client *goredis.Client,
	limitPerSec int,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*SendLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &SendLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

func (l *SendLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	retryAfter, err := l.reserve(ctx, scope)
	if err != nil {
		return false, err
	}
	return retryAfter == 0, nil
}

// Wait blocks until the scope has room in the window or ctx ends.
func (l *SendLimiter) Wait(ctx context.Context, scope string) error {
	for {
		retryAfter, err := l.reserve(ctx, scope)
		if err != nil {
			return err
		}
		if retryAfter == 0 {
			return nil
		}
		if err := l.sleep(ctx, retryAfter); err != nil {
			return err
		}
	}
}

func (l *SendLimiter) reserve(ctx context.Context, scope string) (time.Duration, error) {
	if l == nil || l.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}

	key, err := scopeKey(scope)
	if err != nil {
		return 0, err
	}

	nowMs := l.now().UTC().UnixMilli()
	windowMs := sendWindow.Milliseconds()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	retryMs, err := reserveScript.Run(ctx, l.client, []string{key},
		nowMs,
		nowMs-windowMs,
		l.limitPerSec,
		member,
		windowMs,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate send rate limit: %w", err)
	}

	retryAfter := time.Duration(retryMs) * time.Millisecond
	if retryAfter > maxRetryAfter {
		retryAfter = maxRetryAfter
	}
	return retryAfter, nil
}

func scopeKey(scope string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(scope))
	if normalized == "" {
		return "", fmt.Errorf("rate limit scope is required")
	}
	return "ratelimit:send:" + normalized, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
