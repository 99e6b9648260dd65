package domain

import "errors"

var (
	// ErrNotFound is returned when the requested order or tool does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidInput covers malformed requests and unknown check methods.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthorized is returned for a wrong or replayed TOTP code.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidEmailCode is returned for a wrong, expired or already consumed email code.
	ErrInvalidEmailCode = errors.New("invalid or expired email code")
	// ErrForbidden covers orders that are not enrolled or no longer active.
	ErrForbidden = errors.New("forbidden")
	// ErrDeviceMismatch is returned when a valid second factor is presented from a device
	// other than the one bound to the order. Clients route this to the rebind flow.
	ErrDeviceMismatch = errors.New("device mismatch")
	// ErrLicenseExpired is returned by bind and token endpoints for inactive orders.
	ErrLicenseExpired = errors.New("trial ended or subscription expired")
	ErrRateLimited    = errors.New("rate limited")
	// ErrConflict signals a lost race on a uniqueness constraint or guarded update.
	ErrConflict       = errors.New("conflict")
	ErrDeliveryFailed = errors.New("email delivery failed")
)
