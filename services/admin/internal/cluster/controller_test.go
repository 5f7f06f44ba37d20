package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adminmgmt/pkg/auth"
	"github.com/adminmgmt/pkg/config"
	"github.com/adminmgmt/pkg/middleware"
	pkgRegistry "github.com/adminmgmt/pkg/registry"
	"github.com/adminmgmt/pkg/response"
	"github.com/adminmgmt/pkg/router"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

type staticPermissions map[string][]string

func (s staticPermissions) Get(ctx context.Context, userID string) ([]string, error) {
	return s[userID], nil
}

func TestListServices(t *testing.T) {
	reg := pkgRegistry.NewMemoryRegistry()
	require.NoError(t, reg.Register(pkgRegistry.NewServiceBuilder("admin-service", "v1").
		WithNodeID("b").WithAddress("10.0.0.2:8080").Build()))
	require.NoError(t, reg.Register(pkgRegistry.NewServiceBuilder("admin-service", "v1").
		WithNodeID("a").WithAddress("10.0.0.1:8080").WithMetadata("instance", "admin").Build()))

	guard := middleware.NewPermissionGuard(staticPermissions{"ops": {"cluster:read"}}, nil)
	jwtManager := auth.NewJWTManager(&config.JWTConfig{Secret: "test", Expire: 3600})
	app := fiber.New()
	router.Register(app, map[string]fiber.Handler{"jwt": middleware.JWTAuth(jwtManager)}, NewController(reg, guard))

	call := func(adminID string) (int, response.Response) {
		token, err := jwtManager.GenerateToken(adminID, adminID+"@example.com")
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/cluster/services", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var out response.Response
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp.StatusCode, out
	}

	status, out := call("ops")
	require.Equal(t, http.StatusOK, status)

	raw, err := json.Marshal(out.Data)
	require.NoError(t, err)
	var statuses []ServiceStatus
	require.NoError(t, json.Unmarshal(raw, &statuses))
	require.Len(t, statuses, 1)
	require.Equal(t, "healthy", statuses[0].Status)
	require.Len(t, statuses[0].Nodes, 2)
	require.Equal(t, "a", statuses[0].Nodes[0].ID)
	require.Equal(t, "admin", statuses[0].Nodes[0].Metadata["instance"])

	status, _ = call("guest")
	require.Equal(t, http.StatusForbidden, status)
}
