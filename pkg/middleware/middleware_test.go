package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adminmgmt/pkg/auth"
	"github.com/adminmgmt/pkg/config"
	apperrors "github.com/adminmgmt/pkg/errors"
	"github.com/adminmgmt/pkg/response"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	perms []string
	err   error
}

func (f *fakeSource) Get(ctx context.Context, userID string) ([]string, error) {
	return f.perms, f.err
}

type fakeResolver struct {
	perms []string
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, userID string) ([]string, error) {
	f.calls++
	return f.perms, nil
}

func newGuardedApp(guard *PermissionGuard, adminID string) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(func(c *fiber.Ctx) error {
		if adminID != "" {
			c.Locals("adminId", adminID)
		}
		return c.Next()
	})
	app.Get("/admins", guard.Require("admins:read"), func(c *fiber.Ctx) error {
		return response.Success(c, GetPermissions(c))
	})
	return app
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (int, response.Response) {
	t.Helper()
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body response.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestPermissionGuard(t *testing.T) {
	tests := []struct {
		name       string
		adminID    string
		source     *fakeSource
		wantStatus int
		wantReason string
	}{
		{"granted", "1", &fakeSource{perms: []string{"admins:read"}}, http.StatusOK, ""},
		{"wildcard action", "1", &fakeSource{perms: []string{"admins:*"}}, http.StatusOK, ""},
		{"missing permission", "1", &fakeSource{perms: []string{"admins:write"}}, http.StatusForbidden, apperrors.ReasonForbidden},
		{"unknown admin", "1", &fakeSource{err: apperrors.ErrNotFound}, http.StatusForbidden, apperrors.ReasonForbidden},
		{"cache down denies", "1", &fakeSource{err: apperrors.ErrCacheUnavailable}, http.StatusServiceUnavailable, apperrors.ReasonCacheUnavailable},
		{"no admin", "", &fakeSource{}, http.StatusUnauthorized, apperrors.ReasonUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newGuardedApp(NewPermissionGuard(tt.source, nil), tt.adminID)
			status, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/admins", nil))
			require.Equal(t, tt.wantStatus, status)
			require.Equal(t, tt.wantReason, body.Reason)
		})
	}
}

func TestPermissionGuardDegradedMode(t *testing.T) {
	fallback := &fakeResolver{perms: []string{"admins:read"}}

	app := newGuardedApp(NewPermissionGuard(&fakeSource{err: apperrors.ErrCacheUnavailable}, fallback), "1")
	status, _ := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/admins", nil))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, fallback.calls)

	// 其他错误不走降级
	app = newGuardedApp(NewPermissionGuard(&fakeSource{err: apperrors.ErrUnavailable}, fallback), "1")
	status, _ = doRequest(t, app, httptest.NewRequest(http.MethodGet, "/admins", nil))
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, 1, fallback.calls)
}

func TestJWTAuth(t *testing.T) {
	jwtManager := auth.NewJWTManager(&config.JWTConfig{Secret: "test-secret", Issuer: "test", Expire: 3600})
	app := fiber.New()
	app.Get("/me", JWTAuth(jwtManager), func(c *fiber.Ctx) error {
		return response.Success(c, GetAdminID(c))
	})

	token, err := jwtManager.GenerateToken("42", "a@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	status, body := doRequest(t, app, req)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "42", body.Data)

	status, _ = doRequest(t, app, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusUnauthorized, status)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	status, _ = doRequest(t, app, req)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestRecoveryAndRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID(), Recovery())
	app.Get("/panic", func(c *fiber.Ctx) error { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set("X-Request-ID", "req-1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "req-1", resp.Header.Get("X-Request-ID"))
}

func TestErrorHandler(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/limited", func(c *fiber.Ctx) error { return apperrors.ErrRateLimited })
	app.Get("/plain", func(c *fiber.Ctx) error { return context.DeadlineExceeded })

	status, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/limited", nil))
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, apperrors.ReasonRateLimited, body.Reason)

	status, body = doRequest(t, app, httptest.NewRequest(http.MethodGet, "/plain", nil))
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, apperrors.ReasonInternal, body.Reason)

	status, _ = doRequest(t, app, httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.Equal(t, http.StatusNotFound, status)
}

func TestMatchPermission(t *testing.T) {
	tests := []struct {
		granted, required string
		want              bool
	}{
		{"admins:read", "admins:read", true},
		{"admins:*", "admins:write", true},
		{"admins:READ", "admins:read", true},
		{"admins:read", "admins:write", false},
		{"/api/admins/*:read", "/api/admins/7:read", true},
		{"/api/admins/*:read", "/api/roles/7:read", false},
		{"*:*", "anything:write", true},
		{"malformed", "admins:read", false},
		{"admins:", "admins:read", false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, matchPermission(tt.granted, tt.required), "%s vs %s", tt.granted, tt.required)
	}
}
