package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

// verifySecondFactor checks code against the order's confirmed factor selected by
// method and consumes it. Failed codes count toward the per-order lockout.
func (s *Service) verifySecondFactor(ctx context.Context, order domain.Order, method domain.CheckMethod, code string) error {
	key := codeThrottleKey(order.OrderID)
	if err := s.ensureNotLocked(ctx, key); err != nil {
		return err
	}

	var err error
	switch method {
	case domain.CheckMethodTOTP:
		err = s.verifyTOTP(ctx, order, code)
	case domain.CheckMethodEmail:
		err = s.verifyEmailCode(ctx, order, code)
	default:
		return fmt.Errorf("%w: unsupported check_method", domain.ErrInvalidInput)
	}
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrInvalidEmailCode) {
			s.recordCodeFailure(ctx, key)
		}
		return err
	}
	s.clearLockout(ctx, key)
	return nil
}

// matchTOTP validates code against secret and rejects steps at or below lastStep.
func (s *Service) matchTOTP(secret string, lastStep int64, code string) (int64, error) {
	if secret == "" {
		return 0, fmt.Errorf("%w: totp not enrolled", domain.ErrForbidden)
	}
	step, ok := s.totp.MatchStep(secret, code, s.nowFn())
	if !ok {
		return 0, fmt.Errorf("%w: invalid totp code", domain.ErrUnauthorized)
	}
	if step <= lastStep {
		return 0, fmt.Errorf("%w: totp code already used", domain.ErrUnauthorized)
	}
	return step, nil
}

func (s *Service) verifyTOTP(ctx context.Context, order domain.Order, code string) error {
	step, err := s.matchTOTP(order.TOTPSecret, order.TOTPLastStep, code)
	if err != nil {
		return err
	}
	if err := s.orders.ConsumeTOTPStep(ctx, order.OrderID, step, s.nowFn()); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("%w: totp code already used", domain.ErrUnauthorized)
		}
		return err
	}
	return nil
}

// verifyEmailCode compares case-insensitively and clears the stored code on
// success and on an expired attempt.
func (s *Service) verifyEmailCode(ctx context.Context, order domain.Order, code string) error {
	now := s.nowFn()
	if order.EmailCodeHash == "" || order.EmailCodeExpire == nil {
		return fmt.Errorf("%w: no code issued", domain.ErrInvalidEmailCode)
	}
	if order.EmailCodeExpire.Before(now) {
		if err := s.orders.ConsumeEmailCode(ctx, order.OrderID, order.EmailCodeHash, now); err != nil && !errors.Is(err, domain.ErrConflict) {
			return err
		}
		return fmt.Errorf("%w: code expired", domain.ErrInvalidEmailCode)
	}
	if err := s.codes.Compare(order.EmailCodeHash, strings.ToUpper(strings.TrimSpace(code))); err != nil {
		return domain.ErrInvalidEmailCode
	}
	if err := s.orders.ConsumeEmailCode(ctx, order.OrderID, order.EmailCodeHash, now); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("%w: code already used", domain.ErrInvalidEmailCode)
		}
		return err
	}
	return nil
}
