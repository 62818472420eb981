package signal

import (
	"testing"
	"time"
)

func TestJoinRateLimiter(t *testing.T) {
	rl := NewJoinRateLimiter(1, 2, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	if !rl.Allow("k", now) || !rl.Allow("k", now) {
		t.Fatal("burst should be allowed")
	}
	if rl.Allow("k", now) {
		t.Fatal("third call within the same instant must be limited")
	}
	if !rl.Allow("other", now) {
		t.Error("keys must be independent")
	}
	if !rl.Allow("k", now.Add(time.Second)) {
		t.Error("token should refill after a second")
	}
}

func TestJoinRateLimiterDisabled(t *testing.T) {
	var rl *JoinRateLimiter = NewJoinRateLimiter(0, 0, 0)
	if rl != nil {
		t.Fatal("invalid args should disable the limiter")
	}
	for i := 0; i < 100; i++ {
		if !rl.Allow("k", time.Now()) {
			t.Fatal("nil limiter must allow everything")
		}
	}
}
