package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "RED-X~", cfg.SessionPrefix)
	assert.Equal(t, 5*time.Second, cfg.SettleDelay)
	assert.Equal(t, 3*time.Minute, cfg.LinkTimeout)
	assert.Equal(t, "silent", cfg.LibLogLevel)
	assert.Equal(t, 256, cfg.QRSize)
	assert.False(t, cfg.PrintQR)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("SETTLE_DELAY", "250ms")
	t.Setenv("MAX_SESSIONS", "4")
	t.Setenv("PRINT_QR", "true")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.SettleDelay)
	assert.Equal(t, 4, cfg.MaxSessions)
	assert.True(t, cfg.PrintQR)
}

func TestLoadEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SESSION_PREFIX=TEST~\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SESSION_PREFIX") })

	cfg, err := Load(viper.New(), envFile)
	require.NoError(t, err)
	assert.Equal(t, "TEST~", cfg.SessionPrefix)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("RESPONSE_TIMEOUT", "0s")
	_, err := Load(viper.New(), "")
	assert.Error(t, err)
}
