// Package ratelimit throttles moderator console interactions using a fixed
// window counter: INCR with an expiry set on the first hit of the window.
// Limiters fail open, so a store outage never locks moderators out.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Rule defines a rate limiting policy: the key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // key prefix (e.g., "rl:report:open:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleConsoleConnect allows 10 console connections per minute per moderator.
	RuleConsoleConnect = Rule{Key: "rl:console:conn:", Limit: 10, Window: time.Minute}

	// RuleReportOpen allows 10 new report sessions per minute per moderator.
	RuleReportOpen = Rule{Key: "rl:report:open:", Limit: 10, Window: time.Minute}

	// RuleReportAction allows 60 selection, submit or cancel messages per
	// minute per moderator.
	RuleReportAction = Rule{Key: "rl:report:act:", Limit: 60, Window: time.Minute}
)

// Allower is implemented by every limiter.
type Allower interface {
	Allow(ctx context.Context, identifier string, rule Rule) (bool, error)
}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
	logger *zap.Logger
}

var _ Allower = (*Limiter)(nil)

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{client: client, logger: logger.Named("ratelimit")}
}

// Allow checks whether the given identifier is within the rate limit defined
// by rule. The increment and the first-hit expiry run in one MULTI block so a
// crash between them cannot leave a counter without TTL.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors it fails open and returns the error for logging.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, rule.Window)
		return nil
	})
	if err != nil {
		l.logger.Warn("redis error, failing open", zap.String("key", key), zap.Error(err))
		return true, err
	}

	return int(incr.Val()) <= rule.Limit, nil
}

// Remaining returns the number of requests the identifier has left in the
// current window for the given rule. Returns the full limit if the key does
// not exist yet. On Redis errors it returns the full limit (fail open).
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		l.logger.Warn("redis error, failing open", zap.String("key", key), zap.Error(err))
		return rule.Limit, err
	}

	return max(rule.Limit-count, 0), nil
}
