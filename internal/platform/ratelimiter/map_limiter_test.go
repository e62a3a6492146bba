package ratelimiter

import (
	"context"
	"testing"
	"time"
)

func TestNewRejectsInvalidArgs(t *testing.T) {
	if New(0, 64, time.Minute) != nil {
		t.Fatalf("zero rate must yield a nil limiter")
	}
	if New(1024, 0, time.Minute) != nil {
		t.Fatalf("zero burst must yield a nil limiter")
	}
	if New(1024, 64, time.Minute) == nil {
		t.Fatalf("valid args must yield a limiter")
	}
}

func TestNilLimiterNeverThrottles(t *testing.T) {
	var l *MapLimiter
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Wait(ctx, "tunnel-1", 1<<20); err != nil {
		t.Fatalf("nil limiter must pass everything, got %v", err)
	}
	l.Forget("tunnel-1")
}

func TestWaitSplitsRequestsLargerThanBurst(t *testing.T) {
	// Large rate so the test never actually sleeps; the point is that an
	// oversized request does not error out of WaitN.
	l := New(1<<30, 1024, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Wait(ctx, "tunnel-1", 10*1024); err != nil {
		t.Fatalf("oversized wait failed: %v", err)
	}
}

func TestWaitHonorsContextWhenStarved(t *testing.T) {
	l := New(1, 1, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	// Drain the single-token bucket, then ask for more than the window
	// allows.
	if err := l.Wait(ctx, "tunnel-1", 1); err != nil {
		t.Fatalf("first byte must pass: %v", err)
	}
	if err := l.Wait(ctx, "tunnel-1", 5); err == nil {
		t.Fatalf("starved wait must fail with the context")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(1, 1, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Wait(ctx, "a", 1); err != nil {
		t.Fatalf("key a failed: %v", err)
	}
	if err := l.Wait(ctx, "b", 1); err != nil {
		t.Fatalf("key b must have its own bucket: %v", err)
	}
}
