package application

import (
	"fmt"
	"time"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

type tokenOptions struct {
	withEmail bool
	heartbeat bool
}

// issueToken signs the order's current license state. The token expires at the
// earlier of the order expiry and the configured token TTL.
func (s *Service) issueToken(order domain.Order, opts tokenOptions) (string, error) {
	now := s.nowFn()
	claims := ports.SessionClaims{
		ToolCode:   order.ToolCode,
		DeviceHash: order.DeviceHash,
		OrderID:    order.OrderID,
		Email:      order.Email,
		ExpireTime: order.ExpireTime,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.cfg.TokenTTL),
	}
	if order.ExpireTime != nil && order.ExpireTime.Before(claims.ExpiresAt) {
		claims.ExpiresAt = *order.ExpireTime
	}
	if opts.heartbeat && order.ExpireTime != nil {
		remaining := order.Remaining(now)
		rest := int64(remaining / time.Second)
		reminder := remaining <= s.cfg.ReminderThreshold
		claims.RestTime = &rest
		claims.Reminder = &reminder
	}

	token, err := s.tokens.Sign(claims, domain.SessionKeyFor(order, opts.withEmail))
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return token, nil
}
