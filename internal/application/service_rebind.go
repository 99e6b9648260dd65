package application

import (
	"context"
	"fmt"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

// Rebind moves the order owned by (tool, email) onto the caller's device after a
// second factor check. At most one rebind succeeds per order per cooldown window.
func (s *Service) Rebind(ctx context.Context, req RebindRequest) (TokenResponse, error) {
	method, err := domain.ParseCheckMethod(req.CheckMethod)
	if err != nil {
		return TokenResponse{}, err
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return TokenResponse{}, err
	}
	toolCode, err := required("tool_code", req.ToolCode)
	if err != nil {
		return TokenResponse{}, err
	}
	deviceHash, err := required("device_hash", req.DeviceHash)
	if err != nil {
		return TokenResponse{}, err
	}

	order, err := s.orders.GetByToolEmail(ctx, toolCode, email)
	if err != nil {
		return TokenResponse{}, err
	}
	if err := s.requireUsable(order); err != nil {
		return TokenResponse{}, err
	}
	now := s.nowFn()
	if order.InRebindCooldown(now, s.cfg.RebindCooldown) {
		return TokenResponse{}, fmt.Errorf("%w: next rebind allowed at %s",
			domain.ErrRateLimited, order.RebindAllowedAt(s.cfg.RebindCooldown).Format("2006-01-02T15:04:05Z07:00"))
	}
	if order.DeviceHash == deviceHash {
		return TokenResponse{}, fmt.Errorf("%w: order is already bound to this device", domain.ErrInvalidInput)
	}

	if err := s.verifySecondFactor(ctx, order, method, req.Code); err != nil {
		return TokenResponse{}, err
	}

	event := s.newEvent(domain.EventOrderRebound, order.OrderID, map[string]any{
		"order_id":        order.OrderID,
		"tool_code":       toolCode,
		"previous_device": order.DeviceHash,
		"device_hash":     deviceHash,
	})
	rebound, err := s.orders.Rebind(ctx, ports.RebindParams{
		OrderID:        order.OrderID,
		ToolCode:       toolCode,
		NewDeviceHash:  deviceHash,
		ReboundAt:      now,
		CooldownCutoff: now.Add(-s.cfg.RebindCooldown),
	}, event)
	if err != nil {
		return TokenResponse{}, err
	}

	appLogger().InfoContext(ctx, "order rebound",
		"operation", "rebind",
		"outcome", "success",
		"order_id", rebound.OrderID,
		"tool_code", rebound.ToolCode,
	)
	s.sendBestEffort(ctx, "rebind", rebound.Email,
		fmt.Sprintf("%s moved to a new device", s.toolName(ctx, rebound.ToolCode)),
		"Your license was rebound to a new device. If this was not you, contact support.")

	token, err := s.issueToken(rebound, tokenOptions{withEmail: true})
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{Token: token}, nil
}
