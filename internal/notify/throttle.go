package notify

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// ThrottledSender caps the outbound message rate. Callers over the rate
// wait, bounded by their context.
type ThrottledSender struct {
	next    Sender
	limiter *rate.Limiter
}

// NewThrottledSender allows perSecond messages with bursts of burst.
func NewThrottledSender(next Sender, perSecond float64, burst int) *ThrottledSender {
	if burst < 1 {
		burst = 1
	}
	return &ThrottledSender{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Name returns the wrapped sender's name.
func (s *ThrottledSender) Name() string { return s.next.Name() }

// Send waits for a slot and forwards msg.
func (s *ThrottledSender) Send(ctx context.Context, msg Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("mail throttle: %w", err)
	}
	return s.next.Send(ctx, msg)
}
