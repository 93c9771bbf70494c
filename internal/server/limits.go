package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedAddresses bounds the accept limiter table; it is reset when full
const maxTrackedAddresses = 10000

// acceptThrottle limits how fast a single address may open connections. It
// is shared by the accept loops, so it carries its own lock.
type acceptThrottle struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newAcceptThrottle(perSecond float64, burst int) *acceptThrottle {
	return &acceptThrottle{
		limit:    limitOf(perSecond),
		burst:    max(burst, 1),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (t *acceptThrottle) allow(ip string) bool {
	if t.limit == rate.Inf {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[ip]
	if !ok {
		if len(t.limiters) >= maxTrackedAddresses {
			t.limiters = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[ip] = l
	}
	return l.Allow()
}

// chatLimiter returns the flood limiter for a newly logged in connection
func chatLimiter(perSecond float64, burst int) *rate.Limiter {
	return rate.NewLimiter(limitOf(perSecond), max(burst, 1))
}

func limitOf(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}
