package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

// OutboxSender queues mail as notification.email.requested events for the
// worker to deliver. Send succeeds once the event is stored; the stored
// payload is redacted after delivery.
type OutboxSender struct {
	outbox ports.OutboxRepository
	nowFn  func() time.Time
}

func NewOutboxSender(outbox ports.OutboxRepository) *OutboxSender {
	return &OutboxSender{outbox: outbox, nowFn: func() time.Time { return time.Now().UTC() }}
}

func (s *OutboxSender) Send(ctx context.Context, to, subject, body string) error {
	payload, err := json.Marshal(domain.EmailRequest{To: to, Subject: subject, Body: body})
	if err != nil {
		return fmt.Errorf("encode email request: %w", err)
	}
	return s.outbox.Enqueue(ctx, ports.OutboxEvent{
		EventID:      uuid.New(),
		EventType:    domain.EventEmailDeliveryRequired,
		PartitionKey: to,
		Payload:      payload,
		OccurredAt:   s.nowFn(),
	})
}
