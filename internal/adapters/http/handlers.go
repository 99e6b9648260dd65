package http

import (
	"net/http"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/application"
)

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.logFailure(r.Context(), "readyz", http.StatusServiceUnavailable, codeNotReady, "dependencies unavailable", err)
			writeError(w, http.StatusServiceUnavailable, codeNotReady, "dependencies unavailable")
			return
		}
	}
	writeMessage(w, "ready")
}

func (h *Handler) bind(w http.ResponseWriter, r *http.Request) {
	var req application.BindRequest
	if !h.decodeAndValidate(w, r, "bind", &req) {
		return
	}
	res, err := h.service.Bind(r.Context(), req)
	if err != nil {
		h.writeMappedError(r.Context(), w, "bind", err)
		return
	}
	writeSuccess(w, res)
}

func (h *Handler) isValid(w http.ResponseWriter, r *http.Request) {
	var req application.OrderIDRequest
	if !h.decodeAndValidate(w, r, "is_valid", &req) {
		return
	}
	res, err := h.service.IsValid(r.Context(), req)
	if err != nil {
		h.writeMappedError(r.Context(), w, "is_valid", err)
		return
	}
	writeSuccess(w, res)
}

func (h *Handler) subCheck(w http.ResponseWriter, r *http.Request) {
	var req application.OrderIDRequest
	if !h.decodeAndValidate(w, r, "sub_check", &req) {
		return
	}
	res, err := h.service.SubCheck(r.Context(), req)
	if err != nil {
		h.writeMappedError(r.Context(), w, "sub_check", err)
		return
	}
	writeSuccess(w, res)
}

func (h *Handler) checkOrderExist(w http.ResponseWriter, r *http.Request) {
	var req application.CheckOrderExistRequest
	if !h.decodeAndValidate(w, r, "check_order_exist", &req) {
		return
	}
	res, err := h.service.CheckOrderExists(r.Context(), req)
	if err != nil {
		h.writeMappedError(r.Context(), w, "check_order_exist", err)
		return
	}
	writeSuccess(w, res)
}

func (h *Handler) setupTOTP(w http.ResponseWriter, r *http.Request) {
	var req application.OrderIDRequest
	if !h.decodeAndValidate(w, r, "setup_totp", &req) {
		return
	}
	res, err := h.service.SetupTOTP(r.Context(), req)
	if err != nil {
		h.writeMappedError(r.Context(), w, "setup_totp", err)
		return
	}
	writeSuccess(w, res)
}

func (h *Handler) confirmTOTP(w http.ResponseWriter, r *http.Request) {
	var req application.ConfirmTOTPRequest
	if !h.decodeAndValidate(w, r, "confirm_totp", &req) {
		return
	}
	res, err := h.service.ConfirmTOTP(r.Context(), req)
	if err != nil {
		h.writeMappedError(r.Context(), w, "confirm_totp", err)
		return
	}
	writeSuccess(w, res)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req application.LoginRequest
	if !h.decodeAndValidate(w, r, "login", &req) {
		return
	}
	res, err := h.service.Login(r.Context(), req)
	if err != nil {
		h.writeMappedError(r.Context(), w, "login", err)
		return
	}
	writeSuccess(w, res)
}

func (h *Handler) sendEmailCode(w http.ResponseWriter, r *http.Request) {
	var req application.OrderIDRequest
	if !h.decodeAndValidate(w, r, "send_email_code", &req) {
		return
	}
	res, err := h.service.SendEmailCode(r.Context(), req)
	if err != nil {
		h.writeMappedError(r.Context(), w, "send_email_code", err)
		return
	}
	writeSuccess(w, res)
}

func (h *Handler) rebind(w http.ResponseWriter, r *http.Request) {
	var req application.RebindRequest
	if !h.decodeAndValidate(w, r, "rebind", &req) {
		return
	}
	res, err := h.service.Rebind(r.Context(), req)
	if err != nil {
		h.writeMappedError(r.Context(), w, "rebind", err)
		return
	}
	writeSuccess(w, res)
}
