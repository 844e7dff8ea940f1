package http

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/almanakh/identity/internal/domain"
	pkglogger "github.com/almanakh/identity/pkg/logger"
	"github.com/almanakh/identity/pkg/middleware"
)

// --- ContentTypeJSON Middleware Tests ---

func TestContentTypeJSON_PostWithValidJSON_Passes(t *testing.T) {
	called := false
	handler := ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/test", strings.NewReader(`{"key":"value"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, called, "next handler should have been called")
}

func TestContentTypeJSON_PostWithJSONCharset_Passes(t *testing.T) {
	called := false
	handler := ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/test", strings.NewReader(`{"key":"value"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, called, "next handler should have been called with charset variant")
}

func TestContentTypeJSON_PostWithWrongContentType_Returns415(t *testing.T) {
	handler := ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/test", strings.NewReader(`key=value`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
	assert.Contains(t, rr.Body.String(), "UNSUPPORTED_MEDIA_TYPE")
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestContentTypeJSON_GetWithoutContentType_Passes(t *testing.T) {
	called := false
	handler := ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, called, "GET requests without Content-Type should pass through")
}

func TestContentTypeJSON_DeleteWithoutBody_Passes(t *testing.T) {
	called := false
	handler := ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodDelete, "/api/test", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, called, "DELETE requests without body should pass through")
}

// --- RequireRoleAtLeast Middleware Tests ---

func roleValidator(role domain.Role) middleware.TokenValidator {
	return func(token string) (*middleware.Claims, error) {
		return &middleware.Claims{
			UserID: handlerTestUserID,
			Email:  "maha@example.com",
			Role:   string(role),
		}, nil
	}
}

func roleTestRequest(t *testing.T, role domain.Role, floor domain.Role) *httptest.ResponseRecorder {
	t.Helper()
	called := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := middleware.Auth(roleValidator(role))(RequireRoleAtLeast(floor)(called))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestRequireRoleAtLeast_AboveFloor_Passes(t *testing.T) {
	rr := roleTestRequest(t, domain.RoleAdmin, domain.RoleModerator)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireRoleAtLeast_AtFloor_Passes(t *testing.T) {
	rr := roleTestRequest(t, domain.RoleModerator, domain.RoleModerator)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireRoleAtLeast_BelowFloor_Forbidden(t *testing.T) {
	rr := roleTestRequest(t, domain.RoleContributor, domain.RoleModerator)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "FORBIDDEN")
}

func TestRequireRoleAtLeast_UnknownRole_Forbidden(t *testing.T) {
	rr := roleTestRequest(t, domain.Role("intruder"), domain.RoleViewer)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

// --- RequestLogger Tests ---

// Mirrors the router's authenticated chain: RequestLogging and RequestLogger
// run globally, then Auth and a second RequestLogger inside the group. The
// request-scoped logger must carry the authenticated user's id.
func TestRequestLogger_AuthedChainCarriesUserID(t *testing.T) {
	var buf bytes.Buffer
	base := pkglogger.NewWithWriter("identity-test", "info", &buf)

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pkglogger.FromContext(r.Context()).InfoContext(r.Context(), "profile read")
		w.WriteHeader(http.StatusOK)
	})

	handler := middleware.RequestLogging(base)(
		middleware.RequestLogger(base)(
			middleware.Auth(roleValidator(domain.RoleContributor))(
				middleware.RequestLogger(base)(final))))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, buf.String(), `"user_id":"`+handlerTestUserID+`"`)
	assert.Contains(t, buf.String(), `"correlation_id"`)
}

// --- CORS Middleware Tests ---

func TestCORS_DevelopmentWildcard(t *testing.T) {
	handler := CORS(CORSConfig{Environment: "development"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Origin", "https://anywhere.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_ProductionAllowsListedOrigin(t *testing.T) {
	cfg := CORSConfig{
		Environment:    "production",
		AllowedOrigins: []string{"https://app.example.com"},
	}
	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rr.Header().Get("Vary"))
}

func TestCORS_ProductionRejectsUnlistedOrigin(t *testing.T) {
	cfg := CORSConfig{
		Environment:    "production",
		AllowedOrigins: []string{"https://app.example.com"},
	}
	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	called := false
	handler := CORS(CORSConfig{Environment: "development"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/test", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, called, "preflight should not reach the handler")
}
