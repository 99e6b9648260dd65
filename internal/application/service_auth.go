package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

// SetupTOTP stages a fresh secret for the order and returns its provisioning URI.
// A confirmed secret stays in force until the new one is confirmed.
func (s *Service) SetupTOTP(ctx context.Context, req OrderIDRequest) (SetupTOTPResponse, error) {
	orderID, err := required("order_id", req.OrderID)
	if err != nil {
		return SetupTOTPResponse{}, err
	}
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return SetupTOTPResponse{}, err
	}

	secret, err := s.totp.GenerateSecret()
	if err != nil {
		return SetupTOTPResponse{}, err
	}
	label := order.Email
	if label == "" {
		label = order.OrderID
	}
	uri, err := s.totp.ProvisioningURI(secret, label, s.toolName(ctx, order.ToolCode))
	if err != nil {
		return SetupTOTPResponse{}, err
	}
	if err := s.orders.SetPendingTOTPSecret(ctx, order.OrderID, secret, s.nowFn()); err != nil {
		return SetupTOTPResponse{}, err
	}
	return SetupTOTPResponse{URI: uri}, nil
}

// ConfirmTOTP verifies a code against the staged secret and enrolls the order:
// the secret becomes active, TOTP is enabled and the email is fixed.
func (s *Service) ConfirmTOTP(ctx context.Context, req ConfirmTOTPRequest) (TokenResponse, error) {
	orderID, err := required("order_id", req.OrderID)
	if err != nil {
		return TokenResponse{}, err
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return TokenResponse{}, err
	}
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return TokenResponse{}, err
	}
	if order.PendingTOTPSecret == "" {
		return TokenResponse{}, fmt.Errorf("%w: call setup-totp first", domain.ErrInvalidInput)
	}
	if order.Email != "" && order.Email != email {
		return TokenResponse{}, fmt.Errorf("%w: order is enrolled with another email, use rebind", domain.ErrForbidden)
	}
	if device := strings.TrimSpace(req.DeviceHash); device != "" && device != order.DeviceHash {
		return TokenResponse{}, domain.ErrDeviceMismatch
	}

	key := codeThrottleKey(order.OrderID)
	if err := s.ensureNotLocked(ctx, key); err != nil {
		return TokenResponse{}, err
	}
	step, err := s.matchTOTP(order.PendingTOTPSecret, order.TOTPLastStep, req.Code)
	if err != nil {
		s.recordCodeFailure(ctx, key)
		return TokenResponse{}, err
	}

	now := s.nowFn()
	event := s.newEvent(domain.EventOrderEnrolled, order.OrderID, map[string]any{
		"order_id":  order.OrderID,
		"tool_code": order.ToolCode,
		"email":     email,
	})
	confirmed, err := s.orders.ConfirmTOTP(ctx, ports.ConfirmTOTPParams{
		OrderID:     order.OrderID,
		Email:       email,
		Secret:      order.PendingTOTPSecret,
		Step:        step,
		ConfirmedAt: now,
	}, event)
	if err != nil {
		return TokenResponse{}, err
	}
	s.clearLockout(ctx, key)

	toolName := s.toolName(ctx, confirmed.ToolCode)
	s.sendBestEffort(ctx, "confirm_totp", email,
		fmt.Sprintf("%s binding confirmed", toolName),
		"Your authenticator app is now bound to this license.")

	token, err := s.issueToken(confirmed, tokenOptions{withEmail: true})
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{Token: token}, nil
}

// Login re-authenticates an enrolled order. A correct code presented from
// another device fails with ErrDeviceMismatch rather than a code error.
func (s *Service) Login(ctx context.Context, req LoginRequest) (TokenResponse, error) {
	method, err := domain.ParseCheckMethod(req.CheckMethod)
	if err != nil {
		return TokenResponse{}, err
	}
	orderID, err := required("order_id", req.OrderID)
	if err != nil {
		return TokenResponse{}, err
	}
	deviceHash, err := required("device_hash", req.DeviceHash)
	if err != nil {
		return TokenResponse{}, err
	}
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return TokenResponse{}, err
	}
	if err := s.requireUsable(order); err != nil {
		return TokenResponse{}, err
	}

	if err := s.verifySecondFactor(ctx, order, method, req.Code); err != nil {
		return TokenResponse{}, err
	}
	if order.DeviceHash != deviceHash {
		return TokenResponse{}, domain.ErrDeviceMismatch
	}

	token, err := s.issueToken(order, tokenOptions{withEmail: true})
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{Token: token}, nil
}

// SendEmailCode issues a fresh email code for an enrolled, active order.
func (s *Service) SendEmailCode(ctx context.Context, req OrderIDRequest) (MessageResponse, error) {
	orderID, err := required("order_id", req.OrderID)
	if err != nil {
		return MessageResponse{}, err
	}
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return MessageResponse{}, err
	}
	if err := s.requireUsable(order); err != nil {
		return MessageResponse{}, err
	}
	if order.Email == "" {
		return MessageResponse{}, fmt.Errorf("%w: order has no email", domain.ErrForbidden)
	}
	if err := s.enforceRateLimit(ctx, sendThrottleKey(order.OrderID), s.cfg.EmailCodeSendThreshold, s.cfg.EmailCodeSendWindow); err != nil {
		return MessageResponse{}, err
	}

	code, err := randomCode(emailCodeLength)
	if err != nil {
		return MessageResponse{}, err
	}
	hash, err := s.codes.Hash(code)
	if err != nil {
		return MessageResponse{}, fmt.Errorf("hash email code: %w", err)
	}
	now := s.nowFn()
	if err := s.orders.SetEmailCode(ctx, order.OrderID, hash, now.Add(s.cfg.EmailCodeTTL), now); err != nil {
		return MessageResponse{}, err
	}

	subject := fmt.Sprintf("%s verification code", s.toolName(ctx, order.ToolCode))
	body := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(s.cfg.EmailCodeTTL.Minutes()))
	if err := s.emails.Send(ctx, order.Email, subject, body); err != nil {
		return MessageResponse{}, fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
	}
	return MessageResponse{Message: "verification code sent"}, nil
}

// requireUsable rejects orders without a confirmed second factor or past expiry.
func (s *Service) requireUsable(order domain.Order) error {
	if !order.Enrolled() {
		return fmt.Errorf("%w: totp not enabled", domain.ErrForbidden)
	}
	if !order.IsActive(s.nowFn()) {
		return fmt.Errorf("%w: license inactive", domain.ErrForbidden)
	}
	return nil
}
