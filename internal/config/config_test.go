// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, 30*time.Second, cfg.Sandbox().ExecutionTimeout)
	assert.Equal(t, 3, cfg.Sandbox().MaxRecursionDepth)
	assert.Equal(t, 50*1024, cfg.Sandbox().MaxCodeSize)
	assert.Equal(t, 1000, cfg.Sandbox().CallLimit)
	assert.Equal(t, 300, cfg.Sandbox().MaxPendingJobs)
	assert.Equal(t, int64(30*1024), cfg.Collector().MaxFileSize)
	assert.Equal(t, []string{"*webpack*", "*bundle*"}, cfg.Collector().SkipPatterns)
	assert.Equal(t, "Win32", cfg.Browser().Platform)
	assert.Equal(t, 5*time.Minute, cfg.Engine().DefaultTaskTimeout)
	assert.False(t, cfg.Cache().Enabled)
	assert.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("should reject non-positive engine concurrency", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.SetEngineWorkerConcurrency(0)
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "engine.worker_concurrency must be a positive integer")
	})

	t.Run("should reject a zero execution timeout", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.SetSandboxExecutionTimeout(0)
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "execution_timeout")
	})

	t.Run("should require a path for an on-disk cache", func(t *testing.T) {
		c := CacheConfig{Enabled: true}
		assert.Error(t, c.Validate())
		c.InMemory = true
		assert.NoError(t, c.Validate())
	})

	t.Run("should require an address when metrics are enabled", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.metrics = MetricsConfig{Enabled: true}
		assert.Error(t, cfg.Validate())
	})
}

// -- Viper Loading Tests --

func TestNewConfigFromViper(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	yamlConfig := []byte(`
sandbox:
  execution_timeout: 5s
  call_limit: 50
collector:
  skip_patterns: ["*.min.js"]
cache:
  path: "~/jsbox-cache"
browser:
  platform: "MacIntel"
`)
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Sandbox().ExecutionTimeout)
	assert.Equal(t, 50, cfg.Sandbox().CallLimit)
	assert.Equal(t, 3, cfg.Sandbox().MaxRecursionDepth, "unset keys keep their defaults")
	assert.Equal(t, []string{"*.min.js"}, cfg.Collector().SkipPatterns)
	assert.Equal(t, "MacIntel", cfg.Browser().Platform)
	assert.NotContains(t, cfg.Cache().Path, "~", "home directory is expanded")

	t.Run("should fail on invalid values", func(t *testing.T) {
		bad := viper.New()
		SetDefaults(bad)
		bad.Set("sandbox.call_limit", 0)
		_, err := NewConfigFromViper(bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "call_limit")
	})
}

func TestScanConfigSetter(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetScanConfig(ScanConfig{Targets: []string{"a.js"}, Format: "json"})
	assert.Equal(t, []string{"a.js"}, cfg.Scan().Targets)
	cfg.SetCacheEnabled(true)
	assert.True(t, cfg.Cache().Enabled)
}
