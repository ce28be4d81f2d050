package browser

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ternarybob/stockcheck/internal/services/extractors"
)

// HostLimiter spaces out page opens per storefront host with a token bucket
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
	burst    int
}

// NewHostLimiter creates a limiter allowing one open per interval per host
// after an initial burst. A zero interval disables limiting.
func NewHostLimiter(interval time.Duration, burst int) *HostLimiter {
	if burst < 1 {
		burst = 1
	}
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
		burst:    burst,
	}
}

// Wait blocks until a page may be opened on rawURL's host
func (l *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	if l == nil || l.interval <= 0 {
		return nil
	}
	host := extractors.HostOf(rawURL)
	if host == "" {
		return nil
	}
	return l.limiterFor(host).Wait(ctx)
}

func (l *HostLimiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.interval), l.burst)
		l.limiters[host] = limiter
	}
	return limiter
}
