package domain

import "time"

// PaidStatus distinguishes trial orders from paid subscriptions.
type PaidStatus int

const (
	PaidStatusTrial      PaidStatus = 0
	PaidStatusSubscribed PaidStatus = 1
)

func (p PaidStatus) String() string {
	if p == PaidStatusSubscribed {
		return "subscribed"
	}
	return "trial"
}

// Tool is a licensed product. Its name is shown as the issuer in authenticator apps.
type Tool struct {
	Code      string
	Name      string
	CreatedAt time.Time
}

// Order binds one tool license to one device and, after enrollment, one email.
// Storage enforces uniqueness of (ToolCode, DeviceHash) and (ToolCode, Email).
type Order struct {
	OrderID    string
	ToolCode   string
	Email      string
	DeviceHash string
	ExpireTime *time.Time
	PaidStatus PaidStatus

	TOTPSecret        string
	PendingTOTPSecret string
	TOTPEnabled       bool
	TOTPLastStep      int64

	EmailCodeHash   string
	EmailCodeExpire *time.Time

	LastRebindTime *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsActive reports whether the order grants a license at now.
// A nil expiry counts as active until the first heartbeat stamps the trial window.
func (o Order) IsActive(now time.Time) bool {
	return o.ExpireTime == nil || !o.ExpireTime.Before(now)
}

// Remaining returns the time left before expiry, or -1 when no expiry is set.
func (o Order) Remaining(now time.Time) time.Duration {
	if o.ExpireTime == nil {
		return -1
	}
	rest := o.ExpireTime.Sub(now)
	if rest < 0 {
		return 0
	}
	return rest
}

// InRebindCooldown reports whether a rebind happened less than cooldown ago.
func (o Order) InRebindCooldown(now time.Time, cooldown time.Duration) bool {
	return o.LastRebindTime != nil && o.LastRebindTime.Add(cooldown).After(now)
}

// RebindAllowedAt is the earliest time the next rebind may run.
func (o Order) RebindAllowedAt(cooldown time.Duration) time.Time {
	if o.LastRebindTime == nil {
		return time.Time{}
	}
	return o.LastRebindTime.Add(cooldown)
}

// Enrolled reports whether the order has a confirmed second factor and email.
func (o Order) Enrolled() bool {
	return o.TOTPEnabled && o.TOTPSecret != ""
}
