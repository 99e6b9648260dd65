package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

// Bind returns the order bound to (tool, device), creating a trial order on first sight.
// An inactive existing order is rejected so the same hardware cannot restart a trial.
func (s *Service) Bind(ctx context.Context, req BindRequest) (BindResponse, error) {
	toolCode, err := required("tool_code", req.ToolCode)
	if err != nil {
		return BindResponse{}, err
	}
	deviceHash, err := required("device_hash", req.DeviceHash)
	if err != nil {
		return BindResponse{}, err
	}
	if _, err := s.tools.GetByCode(ctx, toolCode); err != nil {
		return BindResponse{}, fmt.Errorf("tool %q: %w", toolCode, err)
	}

	existing, err := s.orders.GetByToolDevice(ctx, toolCode, deviceHash)
	if err == nil {
		return s.bindExisting(existing)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return BindResponse{}, err
	}

	now := s.nowFn()
	order := domain.Order{
		OrderID:    newOrderID(),
		ToolCode:   toolCode,
		DeviceHash: deviceHash,
		PaidStatus: domain.PaidStatusTrial,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	event := s.newEvent(domain.EventOrderCreated, order.OrderID, map[string]any{
		"order_id":  order.OrderID,
		"tool_code": toolCode,
	})
	created, err := s.orders.Create(ctx, order, event)
	if errors.Is(err, domain.ErrConflict) {
		winner, getErr := s.orders.GetByToolDevice(ctx, toolCode, deviceHash)
		if getErr != nil {
			return BindResponse{}, err
		}
		return s.bindExisting(winner)
	}
	if err != nil {
		return BindResponse{}, err
	}
	return BindResponse{OrderID: created.OrderID}, nil
}

func (s *Service) bindExisting(order domain.Order) (BindResponse, error) {
	if !order.IsActive(s.nowFn()) {
		return BindResponse{}, fmt.Errorf("%w: renew the subscription first", domain.ErrLicenseExpired)
	}
	return BindResponse{OrderID: order.OrderID}, nil
}

// IsValid issues a session token for an active order. The token key omits the email.
func (s *Service) IsValid(ctx context.Context, req OrderIDRequest) (TokenResponse, error) {
	orderID, err := required("order_id", req.OrderID)
	if err != nil {
		return TokenResponse{}, err
	}
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return TokenResponse{}, err
	}
	if !order.IsActive(s.nowFn()) {
		return TokenResponse{}, domain.ErrLicenseExpired
	}
	token, err := s.issueToken(order, tokenOptions{})
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{Token: token}, nil
}

// SubCheck is the heartbeat. The first heartbeat of an order without expiry
// starts its trial window.
func (s *Service) SubCheck(ctx context.Context, req OrderIDRequest) (TokenResponse, error) {
	orderID, err := required("order_id", req.OrderID)
	if err != nil {
		return TokenResponse{}, err
	}
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return TokenResponse{}, err
	}

	now := s.nowFn()
	if order.ExpireTime == nil {
		order, err = s.orders.StartTrial(ctx, orderID, now.Add(s.cfg.TrialGrace), now)
		if errors.Is(err, domain.ErrConflict) {
			order, err = s.orders.GetByID(ctx, orderID)
		}
		if err != nil {
			return TokenResponse{}, err
		}
	}
	if !order.IsActive(now) {
		return TokenResponse{}, domain.ErrLicenseExpired
	}

	token, err := s.issueToken(order, tokenOptions{withEmail: true, heartbeat: true})
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{Token: token}, nil
}

// CheckOrderExists tells a first run on some device whether email already owns an
// order for the tool elsewhere (rebind), on this device (login) or nowhere (ok).
func (s *Service) CheckOrderExists(ctx context.Context, req CheckOrderExistRequest) (CheckOrderExistResponse, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return CheckOrderExistResponse{}, err
	}
	toolCode, err := required("tool_code", req.ToolCode)
	if err != nil {
		return CheckOrderExistResponse{}, err
	}
	currentOrderID, err := required("current_order_id", req.CurrentOrderID)
	if err != nil {
		return CheckOrderExistResponse{}, err
	}
	currentDevice, err := required("current_device_hash", req.CurrentDeviceHash)
	if err != nil {
		return CheckOrderExistResponse{}, err
	}

	existing, err := s.orders.GetByToolEmail(ctx, toolCode, email)
	if errors.Is(err, domain.ErrNotFound) {
		return CheckOrderExistResponse{Status: CheckStatusOK}, nil
	}
	if err != nil {
		return CheckOrderExistResponse{}, err
	}

	current, err := s.orders.GetByID(ctx, currentOrderID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return CheckOrderExistResponse{}, err
	}
	if err != nil || current.ToolCode != toolCode || current.DeviceHash != currentDevice {
		return CheckOrderExistResponse{}, fmt.Errorf("%w: current device is not bound to this order", domain.ErrInvalidInput)
	}

	existingID := existing.OrderID
	if existing.DeviceHash != current.DeviceHash {
		if existing.InRebindCooldown(s.nowFn(), s.cfg.RebindCooldown) {
			return CheckOrderExistResponse{}, fmt.Errorf("%w: a rebind ran within the cooldown window", domain.ErrRateLimited)
		}
		return CheckOrderExistResponse{Status: CheckStatusRebindRequired, ExistingOrderID: &existingID}, nil
	}
	return CheckOrderExistResponse{Status: CheckStatusLoginRequired, ExistingOrderID: &existingID}, nil
}
