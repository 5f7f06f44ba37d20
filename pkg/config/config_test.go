package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadParsesDurationsAndLimits(t *testing.T) {
	t.Setenv("ADMIN_TEST_REDIS_PASSWORD", "s3cret")
	path := writeConfig(t, `
redis:
  mode: memory
  instanceName: admins
  password: ${ADMIN_TEST_REDIS_PASSWORD}
permissionCache:
  ttl: 90s
limitation:
  emailVerificationCallsMonitoredPeriod: 2m
  emailVerificationMaxAllowedRequestsNumber: 3
verification:
  codeTtl: 5m
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, cfg.PermissionCache.TTL)
	require.Equal(t, 2*time.Minute, cfg.Limitation.EmailVerificationCallsMonitoredPeriod)
	require.Equal(t, 3, cfg.Limitation.EmailVerificationMaxAllowedRequestsNumber)
	require.Equal(t, 5*time.Minute, cfg.Verification.CodeTTL)
	require.Equal(t, 6, cfg.Verification.CodeLength)
	require.Equal(t, "admins", cfg.Redis.InstanceName)
	require.Equal(t, "s3cret", cfg.Redis.Password)
	require.Equal(t, "memory", cfg.Redis.Mode)
}

func TestLoadUnsetPlaceholderIsEmpty(t *testing.T) {
	path := writeConfig(t, `
redis:
  url: ${ADMIN_TEST_UNSET_REDIS_URL}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Empty(t, cfg.Redis.URL)
}

func TestLoadRejectsNonPositiveLimits(t *testing.T) {
	path := writeConfig(t, `
limitation:
  emailVerificationMaxAllowedRequestsNumber: 0
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsZeroTTL(t *testing.T) {
	path := writeConfig(t, `
permissionCache:
  ttl: 0s
`)

	_, err := Load(path)
	require.Error(t, err)
}
