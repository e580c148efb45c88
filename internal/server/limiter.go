package server

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiter keeps one token bucket per remote IP. Buckets idle for longer
// than ttl are dropped.
type ipLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	buckets map[string]*ipBucket
	now     func() time.Time
}

type ipBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(perSecond float64, burst int, ttl time.Duration) *ipLimiter {
	return &ipLimiter{
		limit:   rate.Limit(perSecond),
		burst:   max(burst, 1),
		ttl:     ttl,
		buckets: make(map[string]*ipBucket),
		now:     time.Now,
	}
}

func (l *ipLimiter) allow(addr net.Addr) bool {
	key := remoteIP(addr)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.buckets[key]
	if b == nil {
		b = &ipBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	for k, v := range l.buckets {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.buckets, k)
		}
	}
	return b.lim.AllowN(now, 1)
}

func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
