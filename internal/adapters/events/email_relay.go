package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

// EmailRelay delivers notification.email.requested events through an EmailSender
// and forwards every other event to next.
type EmailRelay struct {
	sender ports.EmailSender
	next   ports.EventPublisher
}

func NewEmailRelay(sender ports.EmailSender, next ports.EventPublisher) *EmailRelay {
	return &EmailRelay{sender: sender, next: next}
}

func (r *EmailRelay) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	if eventType != domain.EventEmailDeliveryRequired {
		return r.next.Publish(ctx, eventType, payload, partitionKey)
	}
	var req domain.EmailRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode email request: %w", err)
	}
	if req.To == "" {
		return fmt.Errorf("decode email request: recipient is empty")
	}
	return r.sender.Send(ctx, req.To, req.Subject, req.Body)
}
