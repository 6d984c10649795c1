package safety

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxIdleKeys bounds the limiter map before idle entries are pruned.
const maxIdleKeys = 10000

// RateLimiter allows n events per window for each key.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewRateLimiter returns a limiter allowing n events per window per key.
func NewRateLimiter(n int, window time.Duration) *RateLimiter {
	if n <= 0 {
		n = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(window / time.Duration(n)),
		burst:    n,
		now:      time.Now,
	}
}

// PerMinute returns a limiter allowing n events per minute per key.
func PerMinute(n int) *RateLimiter {
	return NewRateLimiter(n, time.Minute)
}

// Allow consumes one event for key. When the key is over its limit it
// returns false and the whole seconds until the next event is allowed
// (at least 1).
func (l *RateLimiter) Allow(key string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= maxIdleKeys {
			l.pruneLocked(now)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}

	r := lim.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, max(1, int(math.Ceil(delay.Seconds())))
}

// pruneLocked drops limiters that have refilled completely.
func (l *RateLimiter) pruneLocked(now time.Time) {
	for key, lim := range l.limiters {
		if lim.TokensAt(now) >= float64(l.burst) {
			delete(l.limiters, key)
		}
	}
}

// Limiters groups the per-endpoint limiters.
type Limiters struct {
	Chat         *RateLimiter
	ScheduleSave *RateLimiter
	ActivitySave *RateLimiter
	Delete       *RateLimiter
}

// NewLimiters builds per-minute limiters with the given budgets.
func NewLimiters(chat, scheduleSave, activitySave, del int) *Limiters {
	return &Limiters{
		Chat:         PerMinute(chat),
		ScheduleSave: PerMinute(scheduleSave),
		ActivitySave: PerMinute(activitySave),
		Delete:       PerMinute(del),
	}
}
