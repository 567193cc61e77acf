package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAcquireSpacesCalls(t *testing.T) {
	limiter, err := New(20, time.Second)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if limiter.Interval() != 50*time.Millisecond {
		t.Fatalf("expected 50ms interval, got %s", limiter.Interval())
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := limiter.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("expected at least two intervals between three calls, got %s", elapsed)
	}
}

func TestAcquireSurfacesCancellation(t *testing.T) {
	limiter, err := New(1, time.Minute)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = limiter.Acquire(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAcquireWithShortDeadline(t *testing.T) {
	limiter, err := New(1, time.Minute)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_ = limiter.Acquire(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := limiter.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestNewRejectsInvalidRate(t *testing.T) {
	if _, err := New(0, time.Second); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	if _, err := New(1, 0); err == nil {
		t.Fatalf("expected error for zero unit")
	}
}
