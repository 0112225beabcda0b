// Package ratelimit implements the adaptive per-tenant send rate.
//
// Each tenant owns one state cell. Every operation takes the tenant's lock,
// loads the cell (creating defaults if absent), mutates it and saves it, so
// concurrent dispatch streams and retries never lose an update.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/lock"
	"github.com/unclebandit/wacampaign-backend/internal/metrics"
)

type Limiter struct {
	store   Store
	locker  lock.Locker
	policy  Policy
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

func New(store Store, locker lock.Locker, policy Policy, logger *zap.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		locker: locker,
		policy: policy,
		logger: logger.Named("ratelimit"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Policy() Policy {
	return l.policy
}

// GetState returns the tenant's state, creating and persisting defaults on
// first use.
func (l *Limiter) GetState(ctx context.Context, tenantID string) (Snapshot, error) {
	return l.update(ctx, tenantID, func(*State, time.Time) bool { return false })
}

// RecordSuccess counts a delivered send and scales the rate up once the
// streak reaches the threshold with no failure in between. No scale-up
// happens while a cooldown window is active.
func (l *Limiter) RecordSuccess(ctx context.Context, tenantID string) (Snapshot, error) {
	return l.update(ctx, tenantID, func(s *State, now time.Time) bool {
		s.SuccessCount++
		inCooldown := s.CooldownUntil != nil && s.CooldownUntil.After(now)
		if s.SuccessCount >= l.policy.ScaleUpThreshold && s.FailureCount == 0 && !inCooldown {
			prev := s.CurrentRate
			s.CurrentRate = min(s.CurrentRate+l.policy.ScaleUpIncrement, l.policy.MaxRate)
			s.SuccessCount = 0
			s.FailureCount = 0
			l.metrics.RateAdjusted(tenantID, "up")
			l.logger.Info("rate scaled up",
				zap.String("tenant_id", tenantID),
				zap.Int("from", prev),
				zap.Int("to", s.CurrentRate),
			)
		}
		return true
	})
}

// RecordFailure feeds a failed send back. A throttling signal halves the
// rate and opens a cooldown window; an ordinary failure only breaks the
// success streak and never lowers the rate.
func (l *Limiter) RecordFailure(ctx context.Context, tenantID string, throttled bool) (Snapshot, error) {
	return l.update(ctx, tenantID, func(s *State, now time.Time) bool {
		if !throttled {
			s.FailureCount++
			s.SuccessCount = 0
			return true
		}

		prev := s.CurrentRate
		s.CurrentRate = max(s.CurrentRate/2, l.policy.MinRate)
		s.SuccessCount = 0
		s.FailureCount = 0
		until := now.Add(l.policy.Cooldown)
		s.CooldownUntil = &until

		l.metrics.Throttled(tenantID)
		l.metrics.RateAdjusted(tenantID, "down")
		l.logger.Warn("throttling signal, rate halved",
			zap.String("tenant_id", tenantID),
			zap.Int("from", prev),
			zap.Int("to", s.CurrentRate),
			zap.Time("cooldown_until", until),
		)
		return true
	})
}

// Reset restores the initial rate and clears counters and cooldown.
func (l *Limiter) Reset(ctx context.Context, tenantID string) (Snapshot, error) {
	return l.update(ctx, tenantID, func(s *State, _ time.Time) bool {
		*s = l.policy.initial(tenantID)
		l.metrics.RateAdjusted(tenantID, "reset")
		l.logger.Info("rate limit reset", zap.String("tenant_id", tenantID))
		return true
	})
}

// update runs fn inside the tenant's critical section and saves the cell
// when fn reports a change or the cell did not exist yet.
func (l *Limiter) update(ctx context.Context, tenantID string, fn func(*State, time.Time) bool) (Snapshot, error) {
	unlock, err := l.locker.Lock(ctx, tenantID)
	if err != nil {
		return Snapshot{}, appErrors.Storage(err, "lock rate limit state")
	}
	defer unlock()

	s, found, err := l.store.Load(ctx, tenantID)
	if err != nil {
		return Snapshot{}, appErrors.Storage(err, "load rate limit state")
	}
	if !found {
		s = l.policy.initial(tenantID)
	}
	s.TenantID = tenantID
	clamped := l.policy.clamp(s.CurrentRate)
	changed := clamped != s.CurrentRate
	s.CurrentRate = clamped

	now := l.now()
	if fn(&s, now) || !found || changed {
		s.UpdatedAt = now
		if err := l.store.Save(ctx, s); err != nil {
			return Snapshot{}, appErrors.Storage(err, "save rate limit state")
		}
	}

	l.metrics.ObserveRate(tenantID, s.CurrentRate)
	return snapshot(s, now), nil
}
