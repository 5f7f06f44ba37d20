package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

type testCtrl struct{}

func (testCtrl) Prefix() string { return "/admins" }

func (testCtrl) Routes(middlewares map[string]fiber.Handler) []Route {
	ok := func(c *fiber.Ctx) error { return c.SendString(c.Path()) }
	return []Route{
		{Method: "GET", Path: "/:id/roles", Handler: ok, Middlewares: []fiber.Handler{middlewares["jwt"], middlewares["missing"]}},
		{Method: "GET", Path: "/health", Handler: ok},
	}
}

func TestRegister(t *testing.T) {
	app := fiber.New()
	guard := func(c *fiber.Ctx) error {
		if c.Get("Authorization") == "" {
			return c.SendStatus(http.StatusUnauthorized)
		}
		return c.Next()
	}
	Register(app, map[string]fiber.Handler{"jwt": guard}, testCtrl{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/admins/7/roles", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/admins/7/roles", nil)
	req.Header.Set("Authorization", "x")
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/admins/health", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
