package notify

import (
	"context"
	"log/slog"

	"github.com/utafrali/authgate/pkg/logger"
)

// LogSender writes messages to the log instead of delivering them. It is
// meant for development, where the body is logged so tokens can be copied.
type LogSender struct {
	logger  *slog.Logger
	logBody bool
}

// NewLogSender creates a log-only sender. Bodies are logged only when logBody is set.
func NewLogSender(l *slog.Logger, logBody bool) *LogSender {
	return &LogSender{logger: l, logBody: logBody}
}

// Name returns "log".
func (s *LogSender) Name() string { return "log" }

// Send logs msg and always succeeds.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	attrs := []any{
		logger.Email(msg.To),
		slog.String("subject", msg.Subject),
	}
	if s.logBody {
		attrs = append(attrs, slog.String("body", msg.Body))
	}
	logger.WithContext(ctx, s.logger).InfoContext(ctx, "mail not delivered, logged instead", attrs...)
	return nil
}
