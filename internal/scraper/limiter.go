package scraper

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter spaces out requests to the same host so a batch never
// hammers one shop, while different hosts proceed independently.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    rate.Limit
}

// NewHostLimiter allows one request per interval per host. A non-positive
// interval disables limiting.
func NewHostLimiter(interval time.Duration) *HostLimiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &HostLimiter{limiters: make(map[string]*rate.Limiter), every: limit}
}

// Wait blocks until a request to rawURL's host is allowed or ctx is done.
func (l *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	if l == nil || l.every == rate.Inf {
		return nil
	}
	return l.limiter(hostOf(rawURL)).Wait(ctx)
}

func (l *HostLimiter) limiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.every, 1)
		l.limiters[host] = lim
	}
	return lim
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return strings.ToLower(u.Host)
}
