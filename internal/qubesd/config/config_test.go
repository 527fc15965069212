package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/qubes", cfg.StorePath)
	assert.Equal(t, "/var/run/qubesd.sock", cfg.AdminSocketPath)
	assert.Equal(t, "/etc/qubes/policy.d", cfg.PolicyDir)
	assert.Empty(t, cfg.DebugAddr)
	assert.False(t, cfg.Offline)
	assert.False(t, cfg.TestMode)
}

func TestNew_EnvOverrides(t *testing.T) {
	t.Setenv("QUBESD_STORE_PATH", "/tmp/store")
	t.Setenv("QUBESD_ADMIN_SOCKET", "/tmp/admin.sock")
	t.Setenv("QUBESD_DEBUG_ADDR", "127.0.0.1:9999")
	t.Setenv("QUBESD_LOG_DIR", "/tmp/log")
	t.Setenv("QUBESD_POLICY_DIR", "/tmp/policy.d")
	t.Setenv("QUBESD_OFFLINE", "true")
	t.Setenv("QUBESD_TEST_MODE", "1")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/store", cfg.StorePath)
	assert.Equal(t, "/tmp/admin.sock", cfg.AdminSocketPath)
	assert.Equal(t, "127.0.0.1:9999", cfg.DebugAddr)
	assert.Equal(t, "/tmp/log", cfg.LogDir)
	assert.Equal(t, "/tmp/policy.d", cfg.PolicyDir)
	assert.True(t, cfg.Offline)
	assert.True(t, cfg.TestMode)
}

func TestGetBoolEnv_InvalidFallsBackToDefault(t *testing.T) {
	t.Setenv("QUBESD_OFFLINE", "not-a-bool")
	assert.False(t, getBoolEnv("QUBESD_OFFLINE", false))
	assert.True(t, getBoolEnv("QUBESD_OFFLINE", true))
}
