package ratelimit

import (
	"sync"
	"time"
)

// RateLimiter enforces per-client request limits on the intake surface, keyed
// by client address. Windows are sliding, not bucketed.
type RateLimiter struct {
	requestsPerMinute int
	requestsPerHour   int
	enabled           bool

	clients map[string]*clientWindows
	mu      sync.Mutex
}

type clientWindows struct {
	minuteWindow []time.Time
	hourWindow   []time.Time
	lastSeen     time.Time
}

// NewRateLimiter creates a new rate limiter with the given limits
func NewRateLimiter(requestsPerMinute, requestsPerHour int, enabled bool) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		requestsPerHour:   requestsPerHour,
		enabled:           enabled,
		clients:           make(map[string]*clientWindows),
	}
}

// AllowRequest checks whether a request from the given client is allowed and
// records it when it is.
func (rl *RateLimiter) AllowRequest(clientKey string) bool {
	if !rl.enabled {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.pruneClients(now)

	cw, ok := rl.clients[clientKey]
	if !ok {
		cw = &clientWindows{}
		rl.clients[clientKey] = cw
	}
	cw.lastSeen = now
	cw.minuteWindow = filterTimes(cw.minuteWindow, now.Add(-1*time.Minute))
	cw.hourWindow = filterTimes(cw.hourWindow, now.Add(-1*time.Hour))

	if rl.requestsPerMinute > 0 && len(cw.minuteWindow) >= rl.requestsPerMinute {
		return false
	}
	if rl.requestsPerHour > 0 && len(cw.hourWindow) >= rl.requestsPerHour {
		return false
	}

	cw.minuteWindow = append(cw.minuteWindow, now)
	cw.hourWindow = append(cw.hourWindow, now)
	return true
}

// pruneClients drops clients idle past the hour window so the map does not
// grow with every address ever seen.
func (rl *RateLimiter) pruneClients(now time.Time) {
	cutoff := now.Add(-1 * time.Hour)
	for key, cw := range rl.clients {
		if cw.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
		}
	}
}

// filterTimes keeps only times after the cutoff
func filterTimes(times []time.Time, cutoff time.Time) []time.Time {
	result := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			result = append(result, t)
		}
	}
	return result
}

// Stats contains rate limiter statistics for one client
type Stats struct {
	Enabled             bool `json:"enabled"`
	RequestsLastMinute  int  `json:"requests_last_minute"`
	RequestsLastHour    int  `json:"requests_last_hour"`
	LimitPerMinute      int  `json:"limit_per_minute"`
	LimitPerHour        int  `json:"limit_per_hour"`
	RemainingThisMinute int  `json:"remaining_this_minute"`
	RemainingThisHour   int  `json:"remaining_this_hour"`
}

// GetStats returns current statistics for a client
func (rl *RateLimiter) GetStats(clientKey string) Stats {
	if !rl.enabled {
		return Stats{Enabled: false}
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cw, ok := rl.clients[clientKey]
	if !ok {
		return Stats{
			Enabled:             true,
			LimitPerMinute:      rl.requestsPerMinute,
			LimitPerHour:        rl.requestsPerHour,
			RemainingThisMinute: rl.requestsPerMinute,
			RemainingThisHour:   rl.requestsPerHour,
		}
	}

	cw.minuteWindow = filterTimes(cw.minuteWindow, now.Add(-1*time.Minute))
	cw.hourWindow = filterTimes(cw.hourWindow, now.Add(-1*time.Hour))

	return Stats{
		Enabled:             true,
		RequestsLastMinute:  len(cw.minuteWindow),
		RequestsLastHour:    len(cw.hourWindow),
		LimitPerMinute:      rl.requestsPerMinute,
		LimitPerHour:        rl.requestsPerHour,
		RemainingThisMinute: maxInt(0, rl.requestsPerMinute-len(cw.minuteWindow)),
		RemainingThisHour:   maxInt(0, rl.requestsPerHour-len(cw.hourWindow)),
	}
}

// Reset clears all tracked requests (useful for testing)
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.clients = make(map[string]*clientWindows)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
