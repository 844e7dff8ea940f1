package http

import (
	"log/slog"
	"net/http"

	"github.com/almanakh/identity/internal/service"
	"github.com/almanakh/identity/pkg/httputil"
	"github.com/almanakh/identity/pkg/middleware"
)

// TwoFactorHandler handles HTTP requests for two-factor endpoints.
type TwoFactorHandler struct {
	service *service.TwoFactorService
	logger  *slog.Logger
}

// NewTwoFactorHandler creates a new two-factor HTTP handler.
func NewTwoFactorHandler(svc *service.TwoFactorService, logger *slog.Logger) *TwoFactorHandler {
	return &TwoFactorHandler{service: svc, logger: logger}
}

// TwoFactorCodeRequest is the JSON request body carrying a TOTP or backup code.
type TwoFactorCodeRequest struct {
	Code string `json:"code" validate:"required,min=6,max=10"`
}

// TwoFactorDisableRequest is the JSON request body for disabling two-factor.
type TwoFactorDisableRequest struct {
	Password string `json:"password" validate:"required"`
}

// Enroll handles POST /api/v1/2fa/enroll
func (h *TwoFactorHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	out, err := h.service.Enroll(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: out})
}

// Confirm handles POST /api/v1/2fa/confirm
func (h *TwoFactorHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req TwoFactorCodeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	userID := middleware.UserIDFromContext(r.Context())

	out, err := h.service.Confirm(r.Context(), userID, req.Code)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: out})
}

// Verify handles POST /api/v1/2fa/verify
func (h *TwoFactorHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req TwoFactorCodeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	userID := middleware.UserIDFromContext(r.Context())

	out, err := h.service.Verify(r.Context(), userID, req.Code)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: out})
}

// Disable handles POST /api/v1/2fa/disable
func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	var req TwoFactorDisableRequest
	if !decodeBody(w, r, &req) {
		return
	}

	userID := middleware.UserIDFromContext(r.Context())

	if err := h.service.Disable(r.Context(), userID, req.Password); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"message": "two-factor disabled"},
	})
}
