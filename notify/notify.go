// Package notify provides email senders for lockout and unlock
// notifications. Both implementations satisfy the Notifier interface the
// lockout manager consumes; failures are logged by the caller and never
// block the login path.
package notify

import (
	"context"
	"log/slog"
)

// LogSender writes notification emails to the structured log instead of
// sending them. Intended for development and tests.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender. A nil logger falls back to
// slog.Default.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// SendEmail logs the would-be email and returns nil.
func (s *LogSender) SendEmail(ctx context.Context, to, subject, html string) error {
	s.logger.Info("notification email (log sender)",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.Int("body_bytes", len(html)))
	return nil
}
