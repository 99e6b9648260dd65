package application

import "time"

type Config struct {
	TokenTTL               time.Duration
	TrialGrace             time.Duration
	ReminderThreshold      time.Duration
	RebindCooldown         time.Duration
	EmailCodeTTL           time.Duration
	CodeFailureThreshold   int
	CodeLockoutDuration    time.Duration
	EmailCodeSendThreshold int
	EmailCodeSendWindow    time.Duration
}

type BindRequest struct {
	ToolCode   string `json:"tool_code" validate:"required,max=64"`
	DeviceHash string `json:"device_hash" validate:"required,max=128"`
}

type BindResponse struct {
	OrderID string `json:"order_id"`
}

type OrderIDRequest struct {
	OrderID string `json:"order_id" validate:"required,max=64"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type SetupTOTPResponse struct {
	URI string `json:"uri"`
}

type ConfirmTOTPRequest struct {
	OrderID    string `json:"order_id" validate:"required,max=64"`
	Email      string `json:"email" validate:"required,email,max=254"`
	Code       string `json:"code" validate:"required,len=6"`
	DeviceHash string `json:"device_hash,omitempty" validate:"omitempty,max=128"`
}

type LoginRequest struct {
	OrderID     string `json:"order_id" validate:"required,max=64"`
	Code        string `json:"code" validate:"required,len=6"`
	DeviceHash  string `json:"device_hash" validate:"required,max=128"`
	CheckMethod int    `json:"check_method" validate:"required,oneof=1 2"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type RebindRequest struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	ToolCode    string `json:"tool_code" validate:"required,max=64"`
	Code        string `json:"code" validate:"required,len=6"`
	CheckMethod int    `json:"check_method" validate:"required,oneof=1 2"`
	DeviceHash  string `json:"device_hash" validate:"required,max=128"`
}

type CheckOrderExistRequest struct {
	Email             string `json:"email" validate:"required,email,max=254"`
	ToolCode          string `json:"tool_code" validate:"required,max=64"`
	CurrentOrderID    string `json:"current_order_id" validate:"required,max=64"`
	CurrentDeviceHash string `json:"current_device_hash" validate:"required,max=128"`
}

// Check-order-exist outcomes.
const (
	CheckStatusOK             = "ok"
	CheckStatusRebindRequired = "rebind_required"
	CheckStatusLoginRequired  = "login_required"
)

type CheckOrderExistResponse struct {
	Status          string  `json:"status"`
	ExistingOrderID *string `json:"existing_order_id"`
}

// OrderStatus is the internal read model served over gRPC.
type OrderStatus struct {
	OrderID        string     `json:"order_id"`
	ToolCode       string     `json:"tool_code"`
	Email          string     `json:"email"`
	PaidStatus     string     `json:"paid_status"`
	Active         bool       `json:"active"`
	TOTPEnabled    bool       `json:"totp_enabled"`
	ExpireTime     *time.Time `json:"expire_time"`
	LastRebindTime *time.Time `json:"last_rebind_time"`
}

type ExtendSubscriptionRequest struct {
	OrderID    string
	ExpireTime time.Time
}
