package metrics

import (
	"net/http"
	"sync"
	"time"
)

// RouteLatency summarizes one route since process start.
type RouteLatency struct {
	// EWMA of handling time in milliseconds.
	EWMAms float64

	// Responses by status class: 2xx/3xx, 4xx and 5xx.
	OK          uint64
	ClientError uint64
	ServerError uint64

	LastMs     float64
	LastStatus int
	LastAt     time.Time
}

// LatencyTracker keeps a RouteLatency per registered route pattern.
type LatencyTracker struct {
	mu     sync.RWMutex
	alpha  float64
	routes map[string]*RouteLatency
}

// NewLatencyTracker creates a tracker with EWMA smoothing factor alpha.
// Typical alpha: 0.1..0.3 (higher reacts faster).
func NewLatencyTracker(alpha float64) *LatencyTracker {
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.2
	}
	return &LatencyTracker{
		alpha:  alpha,
		routes: map[string]*RouteLatency{},
	}
}

// Observe records one response for route. Only successful responses move the EWMA,
// so fast 4xx rejections do not mask a slow model.
func (t *LatencyTracker) Observe(route string, status int, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	if ms < 0 {
		ms = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.routes[route]
	if n == nil {
		n = &RouteLatency{}
		t.routes[route] = n
	}

	switch {
	case status >= http.StatusInternalServerError:
		n.ServerError++
	case status >= http.StatusBadRequest:
		n.ClientError++
	default:
		if n.OK == 0 {
			n.EWMAms = ms
		} else {
			n.EWMAms = t.alpha*ms + (1-t.alpha)*n.EWMAms
		}
		n.OK++
	}

	n.LastMs = ms
	n.LastStatus = status
	n.LastAt = time.Now()
}

func (t *LatencyTracker) Snapshot() map[string]RouteLatency {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]RouteLatency, len(t.routes))
	for k, v := range t.routes {
		out[k] = *v
	}
	return out
}
