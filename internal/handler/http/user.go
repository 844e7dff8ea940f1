package http

import (
	"log/slog"
	"net/http"

	"github.com/almanakh/identity/internal/service"
	"github.com/almanakh/identity/pkg/httputil"
	"github.com/almanakh/identity/pkg/middleware"
)

// UserHandler handles HTTP requests for the user profile.
type UserHandler struct {
	service *service.AuthService
	logger  *slog.Logger
}

// NewUserHandler creates a new user HTTP handler.
func NewUserHandler(svc *service.AuthService, logger *slog.Logger) *UserHandler {
	return &UserHandler{service: svc, logger: logger}
}

// ProfileResponse is the JSON shape of the authenticated user's profile,
// including the resolved permission set.
type ProfileResponse struct {
	User        any      `json:"user"`
	Permissions []string `json:"permissions"`
}

// GetProfile handles GET /api/v1/users/me
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	user, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: ProfileResponse{
			User:        user,
			Permissions: user.Permissions().List(),
		},
	})
}
