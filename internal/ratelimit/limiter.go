// Package ratelimit implements sliding-window admission control keyed by
// client identity.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/utafrali/authgate/internal/duration"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits at most a fixed number of requests per key within any
// window-long interval.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Message renders the client-facing rejection text for window, e.g.
// "Too many attempts. Try again after 15 minutes."
func Message(window time.Duration) string {
	return fmt.Sprintf("Too many attempts. Try again after %s.", duration.Words(window))
}
