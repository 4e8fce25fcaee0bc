package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setPrivacyEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CARECRED_PRIVACY_SALT", "0123456789abcdef")
}

func TestLoadDefaults(t *testing.T) {
	setPrivacyEnv(t)

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15.00, cfg.Sessions.HourlyRate)
	assert.Equal(t, float64(50), cfg.Sessions.GeofenceRadiusM)
	assert.Equal(t, 3, cfg.Settlement.ConfirmationThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Signatures.Window)
}

func TestLoadFromFile(t *testing.T) {
	setPrivacyEnv(t)

	path := filepath.Join(t.TempDir(), "carecred.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
sessions:
  hourly_rate: 18.5
settlement:
  confirmation_threshold: 6
`), 0o600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 18.5, cfg.Sessions.HourlyRate)
	assert.Equal(t, 6, cfg.Settlement.ConfirmationThreshold)
	// untouched sections keep their defaults
	assert.Equal(t, float64(100), cfg.Sessions.MaxAccuracyM)
}

func TestEnvOverridesFile(t *testing.T) {
	setPrivacyEnv(t)
	t.Setenv("CARECRED_SERVER_ADDR", ":7070")
	t.Setenv("CARECRED_SETTLEMENT_MAX_RETRIES", "9")

	path := filepath.Join(t.TempDir(), "carecred.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9090\"\n"), 0o600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 9, cfg.Settlement.MaxRetries)
}

func TestValidateRejectsMissingSecrets(t *testing.T) {
	cfg := Default()
	cfg.Privacy.Salt = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Privacy.Salt = "short"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadRanges(t *testing.T) {
	cfg := Default()
	cfg.Privacy.Salt = "0123456789abcdef"

	cfg.Sessions.HourlyRate = 0
	assert.Error(t, cfg.Validate())

	cfg.Sessions.HourlyRate = 15
	cfg.Settlement.ConfirmationThreshold = 0
	assert.Error(t, cfg.Validate())
}
