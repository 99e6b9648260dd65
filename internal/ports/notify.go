package ports

import "context"

// EmailSender delivers a plain-text email. A nil error means the transport accepted it.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}
