package realtime

import (
	"sync"
	"time"
)

// rateVerdict is the limiter's answer for one inbound envelope.
type rateVerdict uint8

const (
	rateAllow rateVerdict = iota
	// rateDropType refuses the envelope but keeps the connection: its type is over budget.
	rateDropType
	// rateExceeded means the connection as a whole is flooding.
	rateExceeded
)

type rateEvent struct {
	at  time.Time
	typ string
}

// RateLimiter is a per-connection sliding-window limiter on inbound envelopes.
// Every envelope counts against the connection budget; types listed in the
// per-type table also count against their own, smaller budget.
type RateLimiter struct {
	mu      sync.Mutex
	events  []rateEvent
	limit   int
	window  time.Duration
	perType map[string]int
}

// NewRateLimiter constructs a RateLimiter with safe defaults when inputs are invalid.
// perType may be nil; non-positive entries are ignored.
func NewRateLimiter(limit int, window time.Duration, perType map[string]int) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	types := make(map[string]int, len(perType))
	for typ, n := range perType {
		if n > 0 {
			types[typ] = n
		}
	}
	return &RateLimiter{
		events:  make([]rateEvent, 0, limit+8),
		limit:   limit,
		window:  window,
		perType: types,
	}
}

// Allow records an envelope of type typ at now and returns the verdict.
// Refused envelopes are not recorded.
func (r *RateLimiter) Allow(now time.Time, typ string) rateVerdict {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	dst := r.events[:0]
	sameType := 0
	for _, e := range r.events {
		if e.at.After(cut) {
			dst = append(dst, e)
			if e.typ == typ {
				sameType++
			}
		}
	}
	r.events = dst

	if len(r.events) >= r.limit {
		return rateExceeded
	}
	if n, ok := r.perType[typ]; ok && sameType >= n {
		return rateDropType
	}
	r.events = append(r.events, rateEvent{at: now, typ: typ})
	return rateAllow
}

// Counts returns the envelopes per type inside the window ending at now.
func (r *RateLimiter) Counts(now time.Time) map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	out := make(map[string]int)
	for _, e := range r.events {
		if e.at.After(cut) {
			out[e.typ]++
		}
	}
	return out
}
