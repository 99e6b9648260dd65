package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

// Outbox is an in-process ports.OutboxRepository.
type Outbox struct {
	mu      sync.Mutex
	records []*ports.OutboxRecord
}

func NewOutbox() *Outbox { return &Outbox{} }

func (o *Outbox) append(event ports.OutboxEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, &ports.OutboxRecord{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      append([]byte(nil), event.Payload...),
		CreatedAt:    event.OccurredAt,
	})
}

func (o *Outbox) Enqueue(_ context.Context, event ports.OutboxEvent) error {
	o.append(event)
	return nil
}

// Records returns a snapshot of every stored row in insertion order.
func (o *Outbox) Records() []ports.OutboxRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ports.OutboxRecord, 0, len(o.records))
	for _, r := range o.records {
		out = append(out, *r)
	}
	return out
}

func (o *Outbox) ClaimUnpublished(_ context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now().UTC()
	var out []ports.OutboxRecord
	for _, r := range o.records {
		if len(out) >= limit {
			break
		}
		if r.PublishedAt != nil || r.DeadLetteredAt != nil {
			continue
		}
		if r.ClaimUntil != nil && r.ClaimUntil.After(now) {
			continue
		}
		token := claimToken
		until := claimUntil
		r.ClaimToken = &token
		r.ClaimUntil = &until
		out = append(out, *r)
	}
	return out, nil
}

func (o *Outbox) MarkPublished(_ context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	return o.withClaimed(outboxID, claimToken, func(r *ports.OutboxRecord) {
		r.PublishedAt = &at
		redactEmail(r)
		r.ClaimToken = nil
		r.ClaimUntil = nil
	})
}

func (o *Outbox) MarkFailed(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return o.withClaimed(outboxID, claimToken, func(r *ports.OutboxRecord) {
		r.RetryCount++
		r.LastError = &errMsg
		r.LastErrorAt = &at
		r.ClaimToken = nil
		r.ClaimUntil = nil
	})
}

func (o *Outbox) MarkDeadLettered(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return o.withClaimed(outboxID, claimToken, func(r *ports.OutboxRecord) {
		r.RetryCount++
		r.LastError = &errMsg
		r.LastErrorAt = &at
		r.DeadLetteredAt = &at
		redactEmail(r)
		r.ClaimToken = nil
		r.ClaimUntil = nil
	})
}

func (o *Outbox) withClaimed(outboxID uuid.UUID, claimToken string, fn func(*ports.OutboxRecord)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range o.records {
		if r.OutboxID != outboxID {
			continue
		}
		if r.ClaimToken == nil || *r.ClaimToken != claimToken {
			return domain.ErrConflict
		}
		fn(r)
		return nil
	}
	return domain.ErrNotFound
}

func redactEmail(r *ports.OutboxRecord) {
	if r.EventType == domain.EventEmailDeliveryRequired {
		r.Payload = []byte(domain.RedactedEmailPayload)
	}
}
