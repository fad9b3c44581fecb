// Package ratelimit implements a fixed-window request counter keyed by client
// identifier. A window starts on an identifier's first request and resets
// entirely once the interval has elapsed, so a client can burst up to twice
// the limit across a window boundary.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// ErrRateLimitExceeded is returned when an identifier has used its quota for
// the current window.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Defaults match the public API policy: 500 tracked clients per minute window.
const (
	DefaultInterval  = time.Minute
	DefaultMaxTokens = 500
)

// Config configures a Limiter.
type Config struct {
	// Interval is the fixed window length.
	Interval time.Duration
	// MaxTokens caps how many identifiers are tracked at once. When full, the
	// least recently seen identifier is evicted and starts a fresh window on
	// its next request.
	MaxTokens int
}

// Decision describes the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Count     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time until the current window resets, rounded up to whole seconds.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	if rounded := wait.Truncate(time.Second); rounded != wait {
		return rounded + time.Second
	}
	return wait
}

type window struct {
	count int
	start time.Time
}

// Limiter is a fixed-window counter table. It is safe for concurrent use.
type Limiter struct {
	// Clock overrides time.Now for tests.
	Clock func() time.Time

	mu       sync.Mutex
	interval time.Duration
	windows  *simplelru.LRU[string, *window]
}

// New creates a Limiter, applying defaults for zero values.
func New(cfg Config) (*Limiter, error) {
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("interval must not be negative")
	}
	if cfg.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens must not be negative")
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	windows, err := simplelru.NewLRU[string, *window](cfg.MaxTokens, nil)
	if err != nil {
		return nil, fmt.Errorf("create window table: %w", err)
	}

	return &Limiter{interval: cfg.Interval, windows: windows}, nil
}

// Check admits one request for id under limit, returning ErrRateLimitExceeded
// when the current window is already full.
func (l *Limiter) Check(limit int, id string) error {
	_, err := l.Allow(limit, id)
	return err
}

// Allow is Check plus the resulting window state.
//
// A missing or expired window is replaced by a fresh one holding this request,
// which is always admitted. Otherwise the request is rejected when the count
// has reached limit, and counted when it has not.
func (l *Limiter) Allow(limit int, id string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.Now()
	w, ok := l.windows.Get(id)
	if !ok || now.Sub(w.start) > l.interval {
		w = &window{count: 1, start: now}
		l.windows.Add(id, w)
		return l.decision(true, limit, w), nil
	}

	if w.count >= limit {
		return l.decision(false, limit, w), ErrRateLimitExceeded
	}

	w.count++
	return l.decision(true, limit, w), nil
}

// Sweep drops every window that has expired and returns how many were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.Now()
	removed := 0
	for _, id := range l.windows.Keys() {
		w, ok := l.windows.Peek(id)
		if !ok {
			continue
		}
		if now.Sub(w.start) > l.interval {
			l.windows.Remove(id)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done. onSweep, if set,
// receives the removed and remaining counts after each pass.
func (l *Limiter) RunSweeper(ctx context.Context, every time.Duration, onSweep func(removed, remaining int)) {
	if every <= 0 {
		every = l.interval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := l.Sweep()
			if onSweep != nil {
				onSweep(removed, l.Len())
			}
		}
	}
}

// Len returns the number of tracked identifiers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.windows.Len()
}

// Interval returns the configured window length.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

func (l *Limiter) decision(allowed bool, limit int, w *window) Decision {
	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   allowed,
		Limit:     limit,
		Count:     w.count,
		Remaining: remaining,
		ResetAt:   w.start.Add(l.interval),
	}
}

// Now returns the limiter clock reading.
func (l *Limiter) Now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}
