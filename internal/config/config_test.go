package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Cypherspark/optout-gateway/internal/config"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Storage.Primary)
	require.Equal(t, time.Second, cfg.Sending.BulkDelay)
	require.Equal(t, 10*time.Second, cfg.Sending.Timeout)
	require.False(t, cfg.Consent.OptinHistoryRequiresRemoval)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  primary: redis
  secondary: memory
sending:
  bulk_delay: 250ms
redis:
  addr: cache:6379
`), 0o600))

	t.Setenv("OPTOUT_SERVER_ADDR", "127.0.0.1:9000")
	t.Setenv("OPTOUT_SENDING_TIMEOUT", "3s")
	t.Setenv("OPTOUT_CONSENT_OPTIN_HISTORY_REQUIRES_REMOVAL", "true")
	t.Setenv("VONAGE_API_KEY", "k")
	t.Setenv("VONAGE_API_SECRET", "s")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "redis", cfg.Storage.Primary)
	require.Equal(t, "memory", cfg.Storage.Secondary)
	require.Equal(t, "cache:6379", cfg.Redis.Addr)
	require.Equal(t, 250*time.Millisecond, cfg.Sending.BulkDelay)
	require.Equal(t, 3*time.Second, cfg.Sending.Timeout)
	require.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	require.True(t, cfg.Consent.OptinHistoryRequiresRemoval)
	require.Equal(t, "k", cfg.VonageAPIKey)
	require.Equal(t, "s", cfg.VonageAPISecret)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Primary = "mongo"
	cfg.Provider.Kind = "twilio"
	cfg.Sending.Timeout = 0

	err := cfg.Validate()
	require.ErrorContains(t, err, "storage.primary")
	require.ErrorContains(t, err, "provider.kind")
	require.ErrorContains(t, err, "sending.timeout")
}

func TestValidate_SecondaryMustDiffer(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Secondary = "sqlite"
	require.ErrorContains(t, cfg.Validate(), "storage.secondary")
}
