package postgres

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type toolModel struct {
	Code      string    `gorm:"column:code;primaryKey"`
	Name      string    `gorm:"column:name"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (toolModel) TableName() string { return "tools" }

type licenseOrderModel struct {
	OrderID           string     `gorm:"column:order_id;primaryKey"`
	ToolCode          string     `gorm:"column:tool_code"`
	Email             *string    `gorm:"column:email"`
	DeviceHash        string     `gorm:"column:device_hash"`
	ExpireTime        *time.Time `gorm:"column:expire_time"`
	PaidStatus        int16      `gorm:"column:paid_status"`
	TOTPSecret        *string    `gorm:"column:totp_secret"`
	PendingTOTPSecret *string    `gorm:"column:pending_totp_secret"`
	TOTPEnabled       bool       `gorm:"column:totp_enabled"`
	TOTPLastStep      int64      `gorm:"column:totp_last_step"`
	EmailCodeHash     *string    `gorm:"column:email_code_hash"`
	EmailCodeExpire   *time.Time `gorm:"column:email_code_expire"`
	LastRebindTime    *time.Time `gorm:"column:last_rebind_time"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

func (licenseOrderModel) TableName() string { return "license_orders" }

type licenseOutboxModel struct {
	OutboxID       uuid.UUID      `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType      string         `gorm:"column:event_type"`
	PartitionKey   string         `gorm:"column:partition_key"`
	Payload        datatypes.JSON `gorm:"column:payload;type:jsonb"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	PublishedAt    *time.Time     `gorm:"column:published_at"`
	RetryCount     int            `gorm:"column:retry_count"`
	LastError      *string        `gorm:"column:last_error"`
	LastErrorAt    *time.Time     `gorm:"column:last_error_at"`
	ClaimToken     *string        `gorm:"column:claim_token"`
	ClaimUntil     *time.Time     `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time     `gorm:"column:dead_lettered_at"`
}

func (licenseOutboxModel) TableName() string { return "license_outbox" }
