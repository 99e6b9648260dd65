package application

import (
	"context"
	"strings"
	"time"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

func codeThrottleKey(orderID string) string { return "license:code:" + orderID }

func sendThrottleKey(orderID string) string { return "license:email-send:" + orderID }

// ensureNotLocked rejects calls while key is locked out.
func (s *Service) ensureNotLocked(ctx context.Context, key string) error {
	if s.lockouts == nil {
		return nil
	}
	state, err := s.lockouts.Get(ctx, key)
	if err != nil {
		s.logLockoutUnavailable(ctx, "lockout_get", key, err)
		return nil
	}
	if state.LockedUntil != nil && state.LockedUntil.After(s.nowFn()) {
		return domain.ErrRateLimited
	}
	return nil
}

func (s *Service) recordCodeFailure(ctx context.Context, key string) {
	if s.lockouts == nil {
		return
	}
	if _, err := s.lockouts.RecordFailure(ctx, key, s.nowFn(), s.cfg.CodeFailureThreshold, s.cfg.CodeLockoutDuration); err != nil {
		s.logLockoutUnavailable(ctx, "lockout_record_failure", key, err)
	}
}

func (s *Service) clearLockout(ctx context.Context, key string) {
	if s.lockouts == nil {
		return
	}
	if err := s.lockouts.Clear(ctx, key); err != nil {
		s.logLockoutUnavailable(ctx, "lockout_clear", key, err)
	}
}

// enforceRateLimit counts every call against key and fails once the threshold is reached.
func (s *Service) enforceRateLimit(ctx context.Context, key string, threshold int, window time.Duration) error {
	if s.lockouts == nil || threshold <= 0 || window <= 0 {
		return nil
	}
	if strings.TrimSpace(key) == "" {
		return nil
	}
	if err := s.ensureNotLocked(ctx, key); err != nil {
		return err
	}

	now := s.nowFn()
	updated, err := s.lockouts.RecordFailure(ctx, key, now, threshold, window)
	if err != nil {
		s.logLockoutUnavailable(ctx, "rate_limit", key, err)
		return nil
	}
	if updated.LockedUntil != nil && updated.LockedUntil.After(now) {
		return domain.ErrRateLimited
	}
	return nil
}

func (s *Service) logLockoutUnavailable(ctx context.Context, operation, key string, err error) {
	appLogger().WarnContext(ctx, "rate-limit state unavailable",
		"operation", operation,
		"outcome", "warning",
		"key", key,
		"error", err,
	)
}
