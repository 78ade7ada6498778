// Package throttle slows down repeated failures from a single client IP
// with an exponential backoff, capped at a full day.
package throttle

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/haitnmt/Haihv.Identities/internal/cache"
)

const (
	// maxDelay caps any computed backoff to 24 hours.
	maxDelay = 24 * time.Hour

	// recordTTL keeps the counter alive for the whole daily window even
	// while no lock is in force, with a margin past the longest delay.
	recordTTL = 25 * time.Hour
)

// lockInfo is the per-IP failure record persisted in Redis.
type lockInfo struct {
	Count    int       `json:"count"`
	ExpireAt time.Time `json:"expire_at"`
}

// Service tracks failed attempts per client IP.
type Service struct {
	cache  *cache.TaggedCache
	step   time.Duration
	logger *slog.Logger
}

// New creates a throttle service. step is the base unit of backoff once
// the free-attempt budget is spent.
func New(c *cache.TaggedCache, step time.Duration, logger *slog.Logger) *Service {
	return &Service{cache: c, step: step, logger: logger}
}

// CheckLock reports the current failure count for ip and, when a lock is
// in force, the whole seconds remaining until it lifts. An unknown IP
// reports (0, 0).
func (s *Service) CheckLock(ctx context.Context, ip string) (int, int64, error) {
	var info lockInfo
	err := s.cache.GetJSON(ctx, cache.LockKey(ip), &info)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	remaining := time.Until(info.ExpireAt)
	if remaining <= 0 {
		return info.Count, 0, nil
	}
	return info.Count, int64(math.Ceil(remaining.Seconds())), nil
}

// SetLock records one more failure for ip. The first maxAttempts
// failures carry no delay. Each failure beyond that doubles the delay,
// starting from the configured step and capped at 24 hours. Once the
// stored lock already reaches a day ahead, the count is clamped to
// maxAttemptsPerDay and the lock pinned to now+24h.
func (s *Service) SetLock(ctx context.Context, ip string, maxAttempts, maxAttemptsPerDay int) error {
	now := time.Now()
	key := cache.LockKey(ip)

	var info lockInfo
	err := s.cache.GetJSON(ctx, key, &info)
	switch {
	case errors.Is(err, cache.ErrMiss):
		info = lockInfo{Count: 1, ExpireAt: now}
	case err != nil:
		return err
	case info.Count >= maxAttemptsPerDay || info.ExpireAt.After(now.Add(maxDelay)):
		// Daily ceiling reached. Pin the lock a full day out.
		info = lockInfo{Count: maxAttemptsPerDay, ExpireAt: now.Add(maxDelay)}
	default:
		info.Count++
		var delay time.Duration
		if info.Count > maxAttempts {
			// First offending attempt waits one step, then doubles.
			delay = time.Duration(math.Exp2(float64(info.Count-maxAttempts-1))) * s.step
			if delay > maxDelay {
				delay = maxDelay
			}
		}
		info.ExpireAt = now.Add(delay)
	}

	if err := s.cache.SetJSON(ctx, key, info, recordTTL); err != nil {
		return err
	}

	if info.Count > maxAttempts {
		s.logger.Warn("ip locked after repeated failures",
			slog.String("ip", ip),
			slog.Int("count", info.Count),
			slog.Time("until", info.ExpireAt),
		)
	}
	return nil
}

// ClearLock drops the failure record for ip after a success.
func (s *Service) ClearLock(ctx context.Context, ip string) error {
	return s.cache.Delete(ctx, cache.LockKey(ip))
}
