package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, ":3001", cfg.Server.Addr())
	assert.Equal(t, "hkpo_mobile", cfg.DB.Name)
	assert.Equal(t, 10, cfg.DB.MaxOpenConns)
	assert.Equal(t, 30*time.Minute, cfg.DB.ConnMaxLifetime)
	assert.True(t, cfg.DB.BootstrapSchema)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "mobilepost.changed", cfg.AMQP.Queue)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MOBILEPOST_SERVER_PORT", "8088")
	t.Setenv("MOBILEPOST_DB_HOST", "db.internal")
	t.Setenv("MOBILEPOST_DB_CONN_MAX_LIFETIME", "5m")
	t.Setenv("MOBILEPOST_REDIS_ENABLED", "true")
	t.Setenv("MOBILEPOST_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, 5*time.Minute, cfg.DB.ConnMaxLifetime)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9000
db:
  name: mobile_test
rate_limit:
  capacity: 0
  refill_interval: 2s
  ttl: 1s
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "mobile_test", cfg.DB.Name)
	assert.Equal(t, 1, cfg.RateLimit.Capacity, "capacity is clamped to at least one token")
	assert.Equal(t, 10*time.Second, cfg.RateLimit.TTL, "ttl is raised to five refill intervals")
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("MOBILEPOST_SERVER_PORT", "70000")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidate(t *testing.T) {
	base := Config{
		Server: ServerConfig{Port: 3001},
		DB:     DBConfig{Host: "localhost", Name: "hkpo_mobile"},
	}
	require.NoError(t, base.Validate())

	noDB := base
	noDB.DB.Name = ""
	assert.Error(t, noDB.Validate())

	amqp := base
	amqp.AMQP = AMQPConfig{Enabled: true}
	assert.Error(t, amqp.Validate())
}
