package snstr

import (
	"testing"
	"time"
)

func TestLimiterAllowsUpToLimit(t *testing.T) {
	l := newLimiter(RateLimitOptions{Limit: 3, WindowMs: 1000})

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow()
		if !ok {
			t.Fatalf("call %d: expected allowed, got blocked", i)
		}
	}

	ok, retryAfter := l.Allow()
	if ok {
		t.Error("4th call within window should be blocked")
	}
	if retryAfter <= 0 {
		t.Errorf("retryAfter = %v, want > 0", retryAfter)
	}
}

func TestLimiterResetsAfterWindow(t *testing.T) {
	l := newLimiter(RateLimitOptions{Limit: 1, WindowMs: 50})

	ok, _ := l.Allow()
	if !ok {
		t.Fatal("first call should be allowed")
	}
	if ok, _ := l.Allow(); ok {
		t.Fatal("second call within window should be blocked")
	}

	time.Sleep(60 * time.Millisecond)
	if ok, _ := l.Allow(); !ok {
		t.Error("call after window expiry should be allowed")
	}
}

func TestLimiterZeroLimitIsUnlimited(t *testing.T) {
	l := newLimiter(RateLimitOptions{Limit: 0, WindowMs: 1000})
	for i := 0; i < 100; i++ {
		if ok, _ := l.Allow(); !ok {
			t.Fatalf("call %d: zero-limit limiter should never block", i)
		}
	}
}

func TestNilLimiterIsUnlimited(t *testing.T) {
	var l *limiter
	if ok, _ := l.Allow(); !ok {
		t.Error("nil limiter should allow all calls")
	}
}
