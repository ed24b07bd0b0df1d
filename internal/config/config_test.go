package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvAddr, "")
	t.Setenv(EnvDB, "")
	t.Setenv(EnvKey, "")
	t.Setenv(EnvAdminToken, "")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "getitdone.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
storage:
  driver: sqlite
  path: /var/lib/gid.db
payment:
  timeout: 2s
  simulated:
    decline_over: 100000
platform:
  currency: eur
  fee_bps: 250
notify:
  buffer_size: 16
  webhook_url: https://hooks.example.com/gid
`), 0o644))
	t.Setenv(EnvAddr, "")
	t.Setenv(EnvDB, "/tmp/override.db")
	t.Setenv(EnvKey, "/tmp/override.key")
	t.Setenv(EnvAdminToken, "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout, "unset keys keep defaults")
	require.Equal(t, "sqlite", cfg.Storage.Driver)
	require.Equal(t, "/tmp/override.db", cfg.Storage.Path)
	require.Equal(t, "/tmp/override.key", cfg.Signing.KeyPath)
	require.Equal(t, "s3cret", cfg.Server.AdminToken)
	require.Equal(t, 2*time.Second, cfg.Payment.Timeout)
	require.EqualValues(t, 100000, cfg.Payment.Simulated.DeclineOver)
	require.Equal(t, "EUR", cfg.Platform.Currency)
	require.EqualValues(t, 250, cfg.Platform.FeeBps)
	require.Equal(t, 16, cfg.Notify.BufferSize)
}

func TestValidate(t *testing.T) {
	tests := map[string]func(*Config){
		"driver":        func(c *Config) { c.Storage.Driver = "postgres" },
		"fee":           func(c *Config) { c.Platform.FeeBps = 20000 },
		"currency":      func(c *Config) { c.Platform.Currency = "EURO" },
		"timeout":       func(c *Config) { c.Payment.Timeout = 0 },
		"buffer":        func(c *Config) { c.Notify.BufferSize = 0 },
		"backpressure":  func(c *Config) { c.Notify.Backpressure = "spill" },
		"webhook":       func(c *Config) { c.Notify.WebhookURL = "ftp://x" },
		"key path":      func(c *Config) { c.Signing.KeyPath = "" },
		"negative sims": func(c *Config) { c.Payment.Simulated.Latency = -time.Second },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(c)
			require.Error(t, c.Validate())
		})
	}
	require.NoError(t, Default().Validate())
}

func TestBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "getitdone.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [oops"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestSampleConfigLoads(t *testing.T) {
	t.Setenv(EnvAddr, "")
	t.Setenv(EnvDB, "")
	t.Setenv(EnvKey, "")
	t.Setenv(EnvAdminToken, "")
	cfg, err := Load(filepath.Join("..", "..", "getitdone.yaml"))
	require.NoError(t, err)

	want := Default()
	want.Policy.Path = "policy.yaml"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("sample config drifted from defaults (-want +got):\n%s", diff)
	}
}
