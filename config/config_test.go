package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frioserv/gas-ledger/client"
	"github.com/frioserv/gas-ledger/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gas-ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, config.BackendFile, cfg.Backend)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, 300*time.Millisecond, cfg.Debounce)
	assert.NotEmpty(t, cfg.AllowedOrigins)
}

func TestDefault_MatchesClientCadence(t *testing.T) {
	// The agent feeds these values into the sync orchestrator; an untouched
	// config file must behave exactly like the client's built-in cadence.

	cfg := config.Default()
	assert.Equal(t, client.DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, client.DefaultDebounce, cfg.Debounce)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
port: 9090
backend: bolt
data_dir: /var/lib/gas-ledger
allowed_origins:
  - https://ledger.example.com
poll_interval: 10s
debounce: 1s
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, config.BackendBolt, cfg.Backend)
	assert.Equal(t, "/var/lib/gas-ledger", cfg.DataDir)
	assert.Equal(t, []string{"https://ledger.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Second, cfg.Debounce)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "backend: sqlite\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.BackendSQLite, cfg.Backend)
	assert.Equal(t, 8080, cfg.Port, "unset keys keep their defaults")
	assert.Equal(t, "./data", cfg.DataDir)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = config.Load(writeConfig(t, "backend: redis\n"))
	assert.ErrorContains(t, err, "unknown backend")

	_, err = config.Load(writeConfig(t, "port: -1\n"))
	assert.ErrorContains(t, err, "invalid port")

	_, err = config.Load(writeConfig(t, "port: [nonsense\n"))
	assert.Error(t, err)
}
