package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.StorageBackend)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, "RCP", cfg.ReceiptPrefix)
	assert.False(t, cfg.FEFOSkipExpired)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "MEMORY")
	t.Setenv("LOCK_TIMEOUT", "250ms")
	t.Setenv("FEFO_SKIP_EXPIRED", "true")
	t.Setenv("APP_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.StorageBackend)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.True(t, cfg.FEFOSkipExpired)
	assert.Equal(t, 9090, cfg.Port)
}

func TestValidate(t *testing.T) {
	base := Config{
		StorageBackend:   BackendPostgres,
		DatabaseURL:      "postgres://x",
		LockTimeout:      time.Second,
		StatementTimeout: time.Second,
		ReceiptPrefix:    "RCP",
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.StorageBackend = "sqlite"
	assert.Error(t, bad.Validate())

	bad = base
	bad.LockTimeout = 0
	assert.Error(t, bad.Validate())
}
