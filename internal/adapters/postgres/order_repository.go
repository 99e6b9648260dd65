package postgres

import (
	"context"
	"time"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type orderRepository struct {
	db *gorm.DB
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order, event ports.OutboxEvent) (domain.Order, error) {
	row := fromDomainOrder(order)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		outbox := toOutboxModel(event)
		return tx.Create(&outbox).Error
	})
	if err != nil {
		return domain.Order{}, mapError(err)
	}
	return toDomainOrder(row), nil
}

func (r *orderRepository) GetByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.first(r.db.WithContext(ctx).Where("order_id = ?", orderID))
}

func (r *orderRepository) GetByToolDevice(ctx context.Context, toolCode, deviceHash string) (domain.Order, error) {
	return r.first(r.db.WithContext(ctx).Where("tool_code = ? AND device_hash = ?", toolCode, deviceHash))
}

func (r *orderRepository) GetByToolEmail(ctx context.Context, toolCode, email string) (domain.Order, error) {
	return r.first(r.db.WithContext(ctx).Where("tool_code = ? AND email = ?", toolCode, email))
}

func (r *orderRepository) first(q *gorm.DB) (domain.Order, error) {
	var row licenseOrderModel
	if err := q.First(&row).Error; err != nil {
		return domain.Order{}, mapError(err)
	}
	return toDomainOrder(row), nil
}

func (r *orderRepository) SetPendingTOTPSecret(ctx context.Context, orderID, secret string, at time.Time) error {
	return r.guardedUpdate(r.db.WithContext(ctx), orderID, domain.ErrNotFound, nil, map[string]any{
		"pending_totp_secret": secret,
		"updated_at":          at,
	})
}

func (r *orderRepository) ConfirmTOTP(ctx context.Context, params ports.ConfirmTOTPParams, event ports.OutboxEvent) (domain.Order, error) {
	var out domain.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		guard := func(q *gorm.DB) *gorm.DB {
			return q.Where("pending_totp_secret = ?", params.Secret).Where("totp_last_step < ?", params.Step)
		}
		if err := r.guardedUpdate(tx, params.OrderID, domain.ErrConflict, guard, map[string]any{
			"email":               params.Email,
			"totp_secret":         params.Secret,
			"pending_totp_secret": nil,
			"totp_enabled":        true,
			"totp_last_step":      params.Step,
			"updated_at":          params.ConfirmedAt,
		}); err != nil {
			return err
		}
		outbox := toOutboxModel(event)
		if err := tx.Create(&outbox).Error; err != nil {
			return err
		}
		var err error
		out, err = r.first(tx.Where("order_id = ?", params.OrderID))
		return err
	})
	if err != nil {
		return domain.Order{}, mapError(err)
	}
	return out, nil
}

func (r *orderRepository) ConsumeTOTPStep(ctx context.Context, orderID string, step int64, at time.Time) error {
	guard := func(q *gorm.DB) *gorm.DB { return q.Where("totp_last_step < ?", step) }
	return r.guardedUpdate(r.db.WithContext(ctx), orderID, domain.ErrConflict, guard, map[string]any{
		"totp_last_step": step,
		"updated_at":     at,
	})
}

func (r *orderRepository) SetEmailCode(ctx context.Context, orderID, codeHash string, expiresAt, at time.Time) error {
	return r.guardedUpdate(r.db.WithContext(ctx), orderID, domain.ErrNotFound, nil, map[string]any{
		"email_code_hash":   codeHash,
		"email_code_expire": expiresAt,
		"updated_at":        at,
	})
}

func (r *orderRepository) ConsumeEmailCode(ctx context.Context, orderID, codeHash string, at time.Time) error {
	guard := func(q *gorm.DB) *gorm.DB { return q.Where("email_code_hash = ?", codeHash) }
	return r.guardedUpdate(r.db.WithContext(ctx), orderID, domain.ErrConflict, guard, map[string]any{
		"email_code_hash":   nil,
		"email_code_expire": nil,
		"updated_at":        at,
	})
}

func (r *orderRepository) StartTrial(ctx context.Context, orderID string, expireTime, at time.Time) (domain.Order, error) {
	guard := func(q *gorm.DB) *gorm.DB { return q.Where("expire_time IS NULL") }
	if err := r.guardedUpdate(r.db.WithContext(ctx), orderID, domain.ErrConflict, guard, map[string]any{
		"expire_time": expireTime,
		"updated_at":  at,
	}); err != nil {
		return domain.Order{}, err
	}
	return r.GetByID(ctx, orderID)
}

func (r *orderRepository) ExtendSubscription(ctx context.Context, params ports.ExtendSubscriptionParams, event ports.OutboxEvent) (domain.Order, error) {
	var out domain.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.guardedUpdate(tx, params.OrderID, domain.ErrNotFound, nil, map[string]any{
			"expire_time": params.ExpireTime,
			"paid_status": int16(params.PaidStatus),
			"updated_at":  params.UpdatedAt,
		}); err != nil {
			return err
		}
		outbox := toOutboxModel(event)
		if err := tx.Create(&outbox).Error; err != nil {
			return err
		}
		var err error
		out, err = r.first(tx.Where("order_id = ?", params.OrderID))
		return err
	})
	if err != nil {
		return domain.Order{}, mapError(err)
	}
	return out, nil
}

// Rebind locks the order row, drops any other order already bound to the new
// device and moves the order there while the cooldown guard still holds.
func (r *orderRepository) Rebind(ctx context.Context, params ports.RebindParams, event ports.OutboxEvent) (domain.Order, error) {
	var out domain.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row licenseOrderModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ? AND tool_code = ?", params.OrderID, params.ToolCode).
			First(&row).Error; err != nil {
			return err
		}

		if err := tx.Where("tool_code = ? AND device_hash = ? AND order_id <> ?", params.ToolCode, params.NewDeviceHash, params.OrderID).
			Delete(&licenseOrderModel{}).Error; err != nil {
			return err
		}

		guard := func(q *gorm.DB) *gorm.DB {
			return q.Where("last_rebind_time IS NULL OR last_rebind_time <= ?", params.CooldownCutoff)
		}
		if err := r.guardedUpdate(tx, params.OrderID, domain.ErrConflict, guard, map[string]any{
			"device_hash":      params.NewDeviceHash,
			"last_rebind_time": params.ReboundAt,
			"updated_at":       params.ReboundAt,
		}); err != nil {
			return err
		}

		outbox := toOutboxModel(event)
		if err := tx.Create(&outbox).Error; err != nil {
			return err
		}
		var err error
		out, err = r.first(tx.Where("order_id = ?", params.OrderID))
		return err
	})
	if err != nil {
		return domain.Order{}, mapError(err)
	}
	return out, nil
}

// guardedUpdate applies updates to one order. When no row matches it returns
// ErrNotFound for a missing order and missErr otherwise.
func (r *orderRepository) guardedUpdate(db *gorm.DB, orderID string, missErr error, guard func(*gorm.DB) *gorm.DB, updates map[string]any) error {
	q := db.Model(&licenseOrderModel{}).Where("order_id = ?", orderID)
	if guard != nil {
		q = guard(q)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if missErr == domain.ErrNotFound {
		return domain.ErrNotFound
	}
	var count int64
	if err := db.Model(&licenseOrderModel{}).Where("order_id = ?", orderID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return missErr
}
