package signal

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// JoinRateLimiter applies a token bucket per client key to join intents and
// evicts idle keys every few hundred calls.
type JoinRateLimiter struct {
	mu      sync.Mutex
	byKey   map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	hits    uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewJoinRateLimiter returns nil, which allows everything, when perSecond or
// burst is not positive.
func NewJoinRateLimiter(perSecond float64, burst int, idleTTL time.Duration) *JoinRateLimiter {
	if perSecond <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &JoinRateLimiter{
		byKey:   make(map[string]*limiterEntry),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idleTTL: idleTTL,
	}
}

func (rl *JoinRateLimiter) Allow(key string, now time.Time) bool {
	if rl == nil || key == "" {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.byKey[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.byKey[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	rl.hits++
	if rl.hits%256 == 0 {
		cutoff := now.Add(-rl.idleTTL)
		for k, v := range rl.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(rl.byKey, k)
			}
		}
	}
	return allowed
}
