package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.EngineReplyTimeout)
	assert.Equal(t, 60*time.Second, cfg.ReconnectGrace)
	assert.Equal(t, 2*time.Minute, cfg.RetentionWindow)
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
port: "9090"
engine:
  path: /usr/local/bin/gamelogic
  args: "-level 3"
  reply_timeout: 2s
session:
  reconnect_grace: 30s
redis_url: redis://localhost:6379/1
`)

	cfg := Default()
	require.NoError(t, cfg.LoadFile(path))

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "/usr/local/bin/gamelogic", cfg.EnginePath)
	assert.Equal(t, []string{"-level", "3"}, cfg.EngineArgs)
	assert.Equal(t, 2*time.Second, cfg.EngineReplyTimeout)
	assert.Equal(t, 30*time.Second, cfg.ReconnectGrace)
	assert.Equal(t, "redis://localhost:6379/1", cfg.RedisURL)

	// Untouched settings keep their defaults.
	assert.Equal(t, 2*time.Minute, cfg.RetentionWindow)
	assert.Equal(t, 5*time.Minute, cfg.QueueStaleAfter)
}

func TestLoadFileBadDuration(t *testing.T) {
	path := writeConfig(t, `
engine:
  reply_timeout: soon
`)
	assert.Error(t, Default().LoadFile(path))
}

func TestLoadFileMissing(t *testing.T) {
	assert.Error(t, Default().LoadFile(filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("ENGINE_PATH", "/opt/engine")
	t.Setenv("ENGINE_ARGS", "-quiet")
	t.Setenv("AUTH_TOKENS", "tok:p1:Alice:1400")

	cfg := Default()
	cfg.ApplyEnv()

	assert.Equal(t, "/opt/engine", cfg.EnginePath)
	assert.Equal(t, []string{"-quiet"}, cfg.EngineArgs)
	assert.Equal(t, "tok:p1:Alice:1400", cfg.AuthTokens)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate()) // no engine path

	cfg.EnginePath = "/opt/engine"
	assert.NoError(t, cfg.Validate())

	cfg.EngineReplyTimeout = 0
	assert.Error(t, cfg.Validate())
}
