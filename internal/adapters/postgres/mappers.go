package postgres

import (
	"errors"
	"strings"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
	"gorm.io/gorm"
)

func toDomainOrder(row licenseOrderModel) domain.Order {
	return domain.Order{
		OrderID:           row.OrderID,
		ToolCode:          row.ToolCode,
		Email:             valueOrEmpty(row.Email),
		DeviceHash:        row.DeviceHash,
		ExpireTime:        row.ExpireTime,
		PaidStatus:        domain.PaidStatus(row.PaidStatus),
		TOTPSecret:        valueOrEmpty(row.TOTPSecret),
		PendingTOTPSecret: valueOrEmpty(row.PendingTOTPSecret),
		TOTPEnabled:       row.TOTPEnabled,
		TOTPLastStep:      row.TOTPLastStep,
		EmailCodeHash:     valueOrEmpty(row.EmailCodeHash),
		EmailCodeExpire:   row.EmailCodeExpire,
		LastRebindTime:    row.LastRebindTime,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
}

func fromDomainOrder(order domain.Order) licenseOrderModel {
	return licenseOrderModel{
		OrderID:           order.OrderID,
		ToolCode:          order.ToolCode,
		Email:             nullableString(order.Email),
		DeviceHash:        order.DeviceHash,
		ExpireTime:        order.ExpireTime,
		PaidStatus:        int16(order.PaidStatus),
		TOTPSecret:        nullableString(order.TOTPSecret),
		PendingTOTPSecret: nullableString(order.PendingTOTPSecret),
		TOTPEnabled:       order.TOTPEnabled,
		TOTPLastStep:      order.TOTPLastStep,
		EmailCodeHash:     nullableString(order.EmailCodeHash),
		EmailCodeExpire:   order.EmailCodeExpire,
		LastRebindTime:    order.LastRebindTime,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
}

func toOutboxModel(event ports.OutboxEvent) licenseOutboxModel {
	return licenseOutboxModel{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      append([]byte(nil), event.Payload...),
		CreatedAt:    event.OccurredAt,
	}
}

func toOutboxRecord(row licenseOutboxModel) ports.OutboxRecord {
	return ports.OutboxRecord{
		OutboxID:       row.OutboxID,
		EventType:      row.EventType,
		PartitionKey:   row.PartitionKey,
		Payload:        []byte(row.Payload),
		RetryCount:     row.RetryCount,
		LastError:      row.LastError,
		CreatedAt:      row.CreatedAt,
		PublishedAt:    row.PublishedAt,
		LastErrorAt:    row.LastErrorAt,
		ClaimToken:     row.ClaimToken,
		ClaimUntil:     row.ClaimUntil,
		DeadLetteredAt: row.DeadLetteredAt,
	}
}

func nullableString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func valueOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// mapError translates gorm sentinels into domain errors.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return domain.ErrConflict
	default:
		return err
	}
}
