package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

// errorCode is the stable machine-readable code in error envelopes. Clients
// map it back to domain errors, so values never change once shipped.
type errorCode string

const (
	codeValidation       errorCode = "VALIDATION_ERROR"
	codeInvalidEmailCode errorCode = "INVALID_EMAIL_CODE"
	codeLicenseExpired   errorCode = "LICENSE_EXPIRED"
	codeInvalidCode      errorCode = "INVALID_CODE"
	codeDeviceMismatch   errorCode = "DEVICE_MISMATCH"
	codeForbidden        errorCode = "FORBIDDEN"
	codeRateLimited      errorCode = "RATE_LIMITED"
	codeConflict         errorCode = "CONFLICT"
	codeNotFound         errorCode = "NOT_FOUND"
	codeDeliveryFailed   errorCode = "DELIVERY_FAILED"
	codeNotReady         errorCode = "NOT_READY"
	codeInternal         errorCode = "INTERNAL_ERROR"
)

type successEnvelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type errorEnvelope struct {
	Status  string    `json:"status"`
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

// licenseError is the wire form of one domain sentinel. An empty message
// passes the wrapped error text through to the client.
type licenseError struct {
	target  error
	status  int
	code    errorCode
	message string
}

// licenseErrors is checked in order; the first sentinel that matches wins.
var licenseErrors = []licenseError{
	{domain.ErrInvalidInput, http.StatusBadRequest, codeValidation, ""},
	{domain.ErrInvalidEmailCode, http.StatusBadRequest, codeInvalidEmailCode, "invalid or expired email code"},
	{domain.ErrLicenseExpired, http.StatusBadRequest, codeLicenseExpired, "trial ended or subscription expired"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, codeInvalidCode, "invalid verification code"},
	{domain.ErrDeviceMismatch, http.StatusForbidden, codeDeviceMismatch, "device does not match the bound device, rebind required"},
	{domain.ErrForbidden, http.StatusForbidden, codeForbidden, ""},
	{domain.ErrRateLimited, http.StatusTooManyRequests, codeRateLimited, ""},
	{domain.ErrConflict, http.StatusConflict, codeConflict, "request conflicted with a concurrent change, retry"},
	{domain.ErrNotFound, http.StatusNotFound, codeNotFound, "resource not found"},
	{domain.ErrDeliveryFailed, http.StatusServiceUnavailable, codeDeliveryFailed, "email delivery failed"},
}

// mapDomainError resolves the HTTP status, error code and client message.
func mapDomainError(err error) (int, errorCode, string) {
	for _, le := range licenseErrors {
		if !errors.Is(err, le.target) {
			continue
		}
		if le.message == "" {
			return le.status, le.code, err.Error()
		}
		return le.status, le.code, le.message
	}
	return http.StatusInternalServerError, codeInternal, "internal server error"
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, successEnvelope{Status: "success", Data: data})
}

func writeMessage(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, successEnvelope{Status: "success", Message: message})
}

func writeError(w http.ResponseWriter, statusCode int, code errorCode, message string) {
	writeJSON(w, statusCode, errorEnvelope{Status: "error", Code: code, Message: message})
}
