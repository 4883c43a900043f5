package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps a log of admission times per key. A background loop
// drops keys that have been idle for a full window.
type MemoryLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	max    int
	window time.Duration
	now    func() time.Time

	stop chan struct{}
	done chan struct{}
}

// NewMemoryLimiter creates a limiter admitting max requests per window and
// starts its cleanup loop. Call Close to stop it.
func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	l := newMemoryLimiter(max, window, time.Now)
	go l.cleanupLoop()
	return l
}

func newMemoryLimiter(max int, window time.Duration, now func() time.Time) *MemoryLimiter {
	return &MemoryLimiter{
		hits:   make(map[string][]time.Time),
		max:    max,
		window: window,
		now:    now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Allow records an admission for key when fewer than max were admitted
// within the last window.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	hits := prune(l.hits[key], now.Add(-l.window))

	if len(hits) >= l.max {
		l.hits[key] = hits
		return Decision{RetryAfter: hits[0].Add(l.window).Sub(now)}, nil
	}

	hits = append(hits, now)
	l.hits[key] = hits
	return Decision{Allowed: true, Remaining: l.max - len(hits)}, nil
}

// prune drops timestamps at or before cutoff. hits is sorted ascending.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

func (l *MemoryLimiter) cleanupLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *MemoryLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for key, hits := range l.hits {
		if hits = prune(hits, cutoff); len(hits) == 0 {
			delete(l.hits, key)
		} else {
			l.hits[key] = hits
		}
	}
}

func (l *MemoryLimiter) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// Close stops the cleanup loop and waits for it to exit.
func (l *MemoryLimiter) Close() error {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
	<-l.done
	return nil
}
