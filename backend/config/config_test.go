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
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "collabConfig.yaml"), []byte(body), 0o644))
	return dir
}

func TestLoad_FileAndDefaults(t *testing.T) {
	dir := writeConfig(t, `
running:
  port: 9000
redis:
  addrs: ["a:6379", "b:6379"]
kafka:
  brokers: ["k:9092"]
collab:
  dispatcher:
    basebackoff: 20ms
`)
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Running.Port)
	assert.Equal(t, []string{"a:6379", "b:6379"}, cfg.Redis.Addrs)
	assert.Equal(t, []string{"k:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "doc-ops", cfg.Kafka.Topic)
	assert.Equal(t, 1024, cfg.Collab.RingCap)
	assert.Equal(t, 20*time.Millisecond, cfg.Collab.Dispatcher.BaseBackoff)
	assert.Equal(t, time.Second, cfg.Collab.Dispatcher.MaxBackoff)
	assert.Equal(t, 4, cfg.Collab.Dispatcher.Workers)
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := writeConfig(t, "auth:\n  secret: from-file\n")
	t.Setenv("PIECETABLE_AUTH_SECRET", "from-env")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestShippedConfigParses(t *testing.T) {
	cfg, err := Load(".")
	require.NoError(t, err)
	assert.Equal(t, 8082, cfg.Running.Port)
	assert.NotEmpty(t, cfg.Mysql.DSN)
}
