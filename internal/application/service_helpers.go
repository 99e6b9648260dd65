package application

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

const (
	serviceName = "M91-License-Service"

	emailCodeLength   = 6
	emailCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

func appLogger() *slog.Logger {
	return slog.Default().With(
		"service", serviceName,
		"module", "application",
		"layer", "application",
	)
}

// normalizeEmail canonicalizes and validates email format before persistence/comparison.
func normalizeEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if trimmed == "" {
		return "", fmt.Errorf("%w: email is required", domain.ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(trimmed); err != nil {
		return "", fmt.Errorf("%w: invalid email", domain.ErrInvalidInput)
	}
	return trimmed, nil
}

func required(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: %s is required", domain.ErrInvalidInput, field)
	}
	return trimmed, nil
}

// newOrderID returns a random 128-bit id as 32 lowercase hex characters.
func newOrderID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// randomCode returns an upper-case alphanumeric code drawn uniformly from emailCodeAlphabet.
func randomCode(size int) (string, error) {
	max := big.NewInt(int64(len(emailCodeAlphabet)))
	out := make([]byte, size)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate email code: %w", err)
		}
		out[i] = emailCodeAlphabet[n.Int64()]
	}
	return string(out), nil
}

func (s *Service) newEvent(eventType, partitionKey string, payload map[string]any) ports.OutboxEvent {
	now := s.nowFn()
	payload["occurred_at"] = now
	raw, _ := json.Marshal(payload)
	return ports.OutboxEvent{
		EventID:      uuid.New(),
		EventType:    eventType,
		PartitionKey: partitionKey,
		Payload:      raw,
		OccurredAt:   now,
	}
}

func (s *Service) toolName(ctx context.Context, code string) string {
	tool, err := s.tools.GetByCode(ctx, code)
	if err != nil || strings.TrimSpace(tool.Name) == "" {
		return code
	}
	return tool.Name
}

// sendBestEffort delivers a notification whose failure must not fail the caller.
func (s *Service) sendBestEffort(ctx context.Context, operation, to, subject, body string) {
	if s.emails == nil || to == "" {
		return
	}
	if err := s.emails.Send(ctx, to, subject, body); err != nil {
		appLogger().WarnContext(ctx, "notification email not delivered",
			"operation", operation,
			"outcome", "failure",
			"error", err,
		)
	}
}
