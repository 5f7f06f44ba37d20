package auth

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/adminmgmt/pkg/config"
	"github.com/adminmgmt/pkg/database"
	apperrors "github.com/adminmgmt/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *CasbinService {
	t.Helper()
	e, err := NewEnforcer(nil, &config.CasbinConfig{})
	require.NoError(t, err)
	return NewCasbinService(e)
}

func TestResolveIncludesInheritedPermissions(t *testing.T) {
	s := newService(t)
	require.NoError(t, s.SetRolePermissions("viewer", []Permission{{Resource: "admins", Action: "read"}}))
	require.NoError(t, s.SetRolePermissions("editor", []Permission{
		{Resource: "admins", Action: "write"},
		{Resource: "admins", Action: "read"},
	}))
	_, err := s.enforcer.AddGroupingPolicy(RoleSubject("editor"), RoleSubject("viewer"))
	require.NoError(t, err)
	require.NoError(t, s.SetUserRoles("7", []string{"editor"}))

	perms, err := s.Resolve(context.Background(), "7")
	require.NoError(t, err)
	require.Equal(t, []string{"admins:read", "admins:write"}, perms)
}

// newSharedServices 两个实例共享同一个策略库文件
func newSharedServices(t *testing.T) (*CasbinService, *CasbinService) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.db")
	open := func() *CasbinService {
		db, err := database.Open(&config.DatabaseConfig{Driver: "sqlite", Database: path, MaxOpenConns: 1, LogLevel: "silent"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = database.Close(db) })
		e, err := NewEnforcer(db, &config.CasbinConfig{})
		require.NoError(t, err)
		return NewCasbinService(e)
	}
	a := open()
	require.NoError(t, a.SetRolePermissions("super", []Permission{{Resource: "admins", Action: "*"}}))
	require.NoError(t, a.SetRolePermissions("viewer", []Permission{{Resource: "reports", Action: "read"}}))
	require.NoError(t, a.SetUserRoles("u1", []string{"super"}))
	return a, open()
}

func TestResolveSeesChangesFromOtherInstance(t *testing.T) {
	a, b := newSharedServices(t)
	ctx := context.Background()

	perms, err := b.Resolve(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"admins:*"}, perms)

	require.NoError(t, a.SetUserRoles("u1", []string{"viewer"}))

	perms, err = b.Resolve(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"reports:read"}, perms)

	roles, err := b.GetRolesForUser("u1")
	require.NoError(t, err)
	require.Equal(t, []string{"viewer"}, roles)
}

func TestSetUserRolesUsesLatestPolicy(t *testing.T) {
	a, b := newSharedServices(t)

	// b 加载后 a 又授予了 auditor，b 的覆盖仍要撤销它
	require.NoError(t, b.SetUserRoles("u2", []string{"viewer"}))
	require.NoError(t, a.SetRolePermissions("auditor", []Permission{{Resource: "audit", Action: "read"}}))
	require.NoError(t, a.SetUserRoles("u1", []string{"super", "auditor"}))
	require.NoError(t, b.SetUserRoles("u1", []string{"viewer"}))

	perms, err := a.Resolve(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"reports:read"}, perms)
}

func TestGetUsersForRoleIncludesInherited(t *testing.T) {
	s := newService(t)
	require.NoError(t, s.SetUserRoles("1", []string{"viewer"}))
	require.NoError(t, s.SetUserRoles("2", []string{"editor"}))
	require.NoError(t, s.SetUserRoles("3", []string{"other"}))
	_, err := s.enforcer.AddGroupingPolicy(RoleSubject("editor"), RoleSubject("viewer"))
	require.NoError(t, err)

	users, err := s.GetUsersForRole("viewer")
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2"}, users)
}

func TestParsePermission(t *testing.T) {
	p, ok := ParsePermission("/api/admins/*:read")
	require.True(t, ok)
	require.Equal(t, Permission{Resource: "/api/admins/*", Action: "read"}, p)

	for _, bad := range []string{"", "admins", ":read", "admins:"} {
		_, ok := ParsePermission(bad)
		require.False(t, ok, bad)
	}
}

func TestResolveUnknownUser(t *testing.T) {
	s := newService(t)

	_, err := s.Resolve(context.Background(), "nobody")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestResolveRoleWithoutPermissions(t *testing.T) {
	s := newService(t)
	require.NoError(t, s.SetUserRoles("8", []string{"empty"}))

	perms, err := s.Resolve(context.Background(), "8")
	require.NoError(t, err)
	require.Empty(t, perms)
}

func TestSetUserRolesReplaces(t *testing.T) {
	s := newService(t)
	require.NoError(t, s.SetUserRoles("7", []string{"a", "b"}))
	require.NoError(t, s.SetUserRoles("7", []string{"c", " "}))

	roles, err := s.GetRolesForUser("7")
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, roles)
}

func TestResolveCancelledContext(t *testing.T) {
	s := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Resolve(ctx, "7")
	require.ErrorIs(t, err, apperrors.ErrUnavailable)
}

func TestJWTRoundTrip(t *testing.T) {
	m := NewJWTManager(&config.JWTConfig{Secret: "s3cret", Issuer: "admin", Expire: 60})

	token, err := m.GenerateToken("7", "a@example.com")
	require.NoError(t, err)

	claims, err := m.ParseToken(token)
	require.NoError(t, err)
	require.Equal(t, "7", claims.AdminID())
	require.NotEmpty(t, claims.ID)
	require.Equal(t, "a@example.com", claims.Email)
}

func TestJWTRejectsForeignSecret(t *testing.T) {
	a := NewJWTManager(&config.JWTConfig{Secret: "one", Expire: 60})
	b := NewJWTManager(&config.JWTConfig{Secret: "two", Expire: 60})

	token, err := a.GenerateToken("7", "")
	require.NoError(t, err)

	_, err = b.ParseToken(token)
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = b.ParseToken("garbage")
	require.ErrorIs(t, err, ErrTokenMalformed)
}

func TestJWTExpired(t *testing.T) {
	m := NewJWTManager(&config.JWTConfig{Secret: "s", Expire: -1})

	token, err := m.GenerateToken("7", "")
	require.NoError(t, err)

	_, err = m.ParseToken(token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestJWTRejectsOtherIssuer(t *testing.T) {
	a := NewJWTManager(&config.JWTConfig{Secret: "s", Issuer: "billing", Expire: 60})
	b := NewJWTManager(&config.JWTConfig{Secret: "s", Issuer: "admin", Expire: 60})

	token, err := a.GenerateToken("7", "")
	require.NoError(t, err)

	_, err = b.ParseToken(token)
	require.ErrorIs(t, err, ErrTokenInvalid)

	token, err = b.GenerateToken("", "")
	require.NoError(t, err)
	_, err = b.ParseToken(token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}
