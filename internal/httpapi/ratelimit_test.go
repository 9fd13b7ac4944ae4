package httpapi

import (
	"testing"
	"time"
)

func TestRateLimiterBlocksAfterLimit(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)

	if !rl.allow("1.2.3.4") {
		t.Fatal("first request should be allowed")
	}
	if !rl.allow("1.2.3.4") {
		t.Fatal("second request should be allowed")
	}
	if rl.allow("1.2.3.4") {
		t.Fatal("third request should be rate limited")
	}
}

func TestRateLimiterTracksKeysIndependently(t *testing.T) {
	rl := newRateLimiter(1, time.Minute)

	if !rl.allow("1.2.3.4") {
		t.Fatal("first client's first request should be allowed")
	}
	if !rl.allow("5.6.7.8") {
		t.Fatal("second client should have its own bucket")
	}
}

func TestRateLimiterResetsAfterWindow(t *testing.T) {
	rl := newRateLimiter(1, 10*time.Millisecond)

	if !rl.allow("1.2.3.4") {
		t.Fatal("first request should be allowed")
	}
	time.Sleep(20 * time.Millisecond)
	if !rl.allow("1.2.3.4") {
		t.Fatal("request after window reset should be allowed")
	}
}
