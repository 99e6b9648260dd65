package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

// OrderRepository persists license orders.
// Implementations return domain.ErrNotFound for missing rows and domain.ErrConflict
// for uniqueness violations or guarded updates that matched no row.
type OrderRepository interface {
	Create(ctx context.Context, order domain.Order, event OutboxEvent) (domain.Order, error)
	GetByID(ctx context.Context, orderID string) (domain.Order, error)
	GetByToolDevice(ctx context.Context, toolCode, deviceHash string) (domain.Order, error)
	GetByToolEmail(ctx context.Context, toolCode, email string) (domain.Order, error)

	SetPendingTOTPSecret(ctx context.Context, orderID, secret string, at time.Time) error
	ConfirmTOTP(ctx context.Context, params ConfirmTOTPParams, event OutboxEvent) (domain.Order, error)
	ConsumeTOTPStep(ctx context.Context, orderID string, step int64, at time.Time) error

	SetEmailCode(ctx context.Context, orderID, codeHash string, expiresAt, at time.Time) error
	ConsumeEmailCode(ctx context.Context, orderID, codeHash string, at time.Time) error

	StartTrial(ctx context.Context, orderID string, expireTime, at time.Time) (domain.Order, error)
	ExtendSubscription(ctx context.Context, params ExtendSubscriptionParams, event OutboxEvent) (domain.Order, error)
	Rebind(ctx context.Context, params RebindParams, event OutboxEvent) (domain.Order, error)
}

// ConfirmTOTPParams promotes a pending secret. The update only applies while
// the stored pending secret still equals Secret.
type ConfirmTOTPParams struct {
	OrderID     string
	Email       string
	Secret      string
	Step        int64
	ConfirmedAt time.Time
}

// RebindParams moves an order to a new device. The update only applies while
// the order's last rebind is at or before CooldownCutoff.
type RebindParams struct {
	OrderID        string
	ToolCode       string
	NewDeviceHash  string
	ReboundAt      time.Time
	CooldownCutoff time.Time
}

type ExtendSubscriptionParams struct {
	OrderID    string
	ExpireTime time.Time
	PaidStatus domain.PaidStatus
	UpdatedAt  time.Time
}

// ToolRepository reads and seeds licensed tools.
type ToolRepository interface {
	GetByCode(ctx context.Context, code string) (domain.Tool, error)
	Upsert(ctx context.Context, tool domain.Tool) error
}

// OutboxEvent is the write-side event payload prior to storage.
type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

// OutboxRecord represents durable outbox state, including retry/error metadata.
type OutboxRecord struct {
	OutboxID       uuid.UUID
	EventType      string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	LastErrorAt    *time.Time
	ClaimToken     *string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

// OutboxRepository controls the publish-retry workflow for license events.
type OutboxRepository interface {
	Enqueue(ctx context.Context, event OutboxEvent) error
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
}
