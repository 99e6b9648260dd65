package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

const maxBodyBytes = 64 << 10

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

// decodeAndValidate writes a 400 and returns false when the body is malformed
// or fails its validate tags.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, operation string, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := decodeBody(r, dst); err != nil {
		h.writeValidationError(r.Context(), w, operation, err.Error(), err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeValidationError(r.Context(), w, operation, validationMessage(err), err)
		return false
	}
	return true
}

func readIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func (h *Handler) writeMappedError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	status, code, msg := mapDomainError(err)
	h.logFailure(ctx, operation, status, code, msg, err)
	writeError(w, status, code, msg)
}

func (h *Handler) writeValidationError(ctx context.Context, w http.ResponseWriter, operation, msg string, err error) {
	h.logFailure(ctx, operation, http.StatusBadRequest, codeValidation, msg, err)
	writeError(w, http.StatusBadRequest, codeValidation, msg)
}

func (h *Handler) logFailure(ctx context.Context, operation string, statusCode int, code errorCode, message string, err error) {
	logOperationFailure(ctx, h.logger, operation, statusCode, code, message, err)
}

// logOperationFailure logs client errors at warn and server faults at error.
func logOperationFailure(ctx context.Context, logger *slog.Logger, operation string, statusCode int, code errorCode, message string, err error) {
	fields := []any{
		"operation", operation,
		"outcome", "failure",
		"status_code", statusCode,
		"error_code", string(code),
		"message", message,
		"request_id", requestIDFromContext(ctx),
	}
	if err != nil {
		fields = append(fields, "error", err.Error())
	}
	if statusCode >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "http operation failed", fields...)
		return
	}
	logger.WarnContext(ctx, "http operation failed", fields...)
}
