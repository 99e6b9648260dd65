package mail

import (
	"context"
	"log/slog"
)

// LogSender writes mail to the log. Used for local runs without SMTP.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.InfoContext(ctx, "email not sent, smtp disabled",
		"module", "mail",
		"layer", "adapter",
		"operation", "send_email",
		"outcome", "skipped",
		"to", to,
		"subject", subject,
		"body", body,
	)
	return nil
}
