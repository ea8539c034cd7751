package server

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

const (
	maxMessagesPerMinute  = 60
	maxTransportsPerAddr  = 10
	rateLimitWindowLength = time.Minute
)

// endpointLimiter tracks per-remote-endpoint message rates and
// concurrent transport counts. Endpoints are keyed by remote host.
type endpointLimiter struct {
	clock quartz.Clock

	mu         sync.Mutex
	windows    map[string]*rateWindow
	transports map[string]int
}

type rateWindow struct {
	start time.Time
	count int
}

func newEndpointLimiter(clock quartz.Clock) *endpointLimiter {
	return &endpointLimiter{
		clock:      clock,
		windows:    make(map[string]*rateWindow),
		transports: make(map[string]int),
	}
}

// AllowMessage records one inbound message and reports whether the
// endpoint stays under its per-minute budget.
func (l *endpointLimiter) AllowMessage(endpoint string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	w, ok := l.windows[endpoint]
	if !ok || now.Sub(w.start) >= rateLimitWindowLength {
		l.windows[endpoint] = &rateWindow{start: now, count: 1}
		return true
	}
	w.count++
	return w.count <= maxMessagesPerMinute
}

// AddTransport records a new transport and reports whether the endpoint
// stays under its concurrent-transport budget.
func (l *endpointLimiter) AddTransport(endpoint string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.transports[endpoint] >= maxTransportsPerAddr {
		return false
	}
	l.transports[endpoint]++
	return true
}

// RemoveTransport releases a transport slot for the endpoint.
func (l *endpointLimiter) RemoveTransport(endpoint string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.transports[endpoint] <= 1 {
		delete(l.transports, endpoint)
		delete(l.windows, endpoint)
		return
	}
	l.transports[endpoint]--
}
