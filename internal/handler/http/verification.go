package http

import (
	"log/slog"
	"net/http"

	"github.com/almanakh/identity/internal/service"
	"github.com/almanakh/identity/pkg/httputil"
	"github.com/almanakh/identity/pkg/middleware"
)

// VerificationHandler handles HTTP requests for email verification.
type VerificationHandler struct {
	service *service.VerificationService
	logger  *slog.Logger
}

// NewVerificationHandler creates a new verification HTTP handler.
func NewVerificationHandler(svc *service.VerificationService, logger *slog.Logger) *VerificationHandler {
	return &VerificationHandler{service: svc, logger: logger}
}

// RedeemRequest is the JSON request body for redeeming a verification token.
type RedeemRequest struct {
	Token string `json:"token" validate:"required"`
}

// Request handles POST /api/v1/verification/request
func (h *VerificationHandler) Request(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	if err := h.service.Request(r.Context(), userID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, httputil.Response{
		Data: map[string]string{"message": "verification email sent"},
	})
}

// Redeem handles POST /api/v1/verification/redeem
func (h *VerificationHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.service.Redeem(r.Context(), req.Token); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"message": "email verified"},
	})
}
