// Package notify delivers the service's outbound email.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/utafrali/authgate/internal/duration"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers messages through one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// VerificationMessage carries the registration token to the address being registered.
func VerificationMessage(to, token string) Message {
	return Message{
		To:      to,
		Subject: "Verify your email",
		Body:    "Your verification token: " + token,
	}
}

// ResetMessage carries the password reset link.
func ResetMessage(to, link string, ttl time.Duration) Message {
	return Message{
		To:      to,
		Subject: "Password Reset Request",
		Body: fmt.Sprintf("Click the link below to reset your password (valid for %s):\n\n%s",
			duration.Words(ttl), link),
	}
}
