package fetch

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// hostLimiter is a token bucket for one host plus a pause set from
// Retry-After responses.
type hostLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
}

// Wait blocks until the host pause has passed and a token is available.
func (h *hostLimiter) Wait(ctx context.Context) error {
	h.mu.Lock()
	until := h.retryAt
	h.mu.Unlock()

	if wait := time.Until(until); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return h.limiter.Wait(ctx)
}

// PauseFor holds every request to the host for at least d.
func (h *hostLimiter) PauseFor(d time.Duration) {
	if d <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if until := time.Now().Add(d); until.After(h.retryAt) {
		h.retryAt = until
	}
}

type limiterSet struct {
	mu           sync.Mutex
	byHost       map[string]*hostLimiter
	defaultRate  float64
	defaultBurst int
}

func newLimiterSet(defaultRate float64, defaultBurst int) *limiterSet {
	if defaultRate <= 0 {
		defaultRate = 1
	}
	if defaultBurst < 1 {
		defaultBurst = 1
	}
	return &limiterSet{
		byHost:       make(map[string]*hostLimiter),
		defaultRate:  defaultRate,
		defaultBurst: defaultBurst,
	}
}

// hostKey drops any port so a host shares one bucket across ports.
func hostKey(host string) string {
	key := strings.ToLower(strings.TrimSpace(host))
	if name, _, err := net.SplitHostPort(key); err == nil {
		return name
	}
	return key
}

func (s *limiterSet) get(host string) *hostLimiter {
	key := hostKey(host)
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.byHost[key]
	if !ok {
		h = &hostLimiter{limiter: rate.NewLimiter(rate.Limit(s.defaultRate), s.defaultBurst)}
		s.byHost[key] = h
	}
	return h
}

func (s *limiterSet) set(host string, rps float64, burst int) {
	if rps <= 0 {
		rps = s.defaultRate
	}
	if burst < 1 {
		burst = s.defaultBurst
	}
	h := s.get(host)
	h.limiter.SetLimit(rate.Limit(rps))
	h.limiter.SetBurst(burst)
}
