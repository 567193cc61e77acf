// Package ratelimit bounds the call rate of outbound clients.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

type Limiter struct {
	interval time.Duration
	limiter  *rate.Limiter
}

// New allows limit acquisitions per unit, spaced at least unit/limit apart.
func New(limit int, unit time.Duration) (*Limiter, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", limit)
	}
	if unit <= 0 {
		return nil, fmt.Errorf("rate unit must be positive, got %s", unit)
	}
	interval := unit / time.Duration(limit)
	return &Limiter{
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
	}, nil
}

func (l *Limiter) Interval() time.Duration { return l.interval }

// Acquire blocks until the next slot. Cancellation surfaces as the context error.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("rate limiter wait: %w", ctxErr)
		}
		return fmt.Errorf("rate limiter wait: %w", context.DeadlineExceeded)
	}
	return nil
}
