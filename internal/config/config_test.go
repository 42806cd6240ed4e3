package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultConfig(), cfg)
}

func TestLoadProTier(t *testing.T) {
	t.Setenv("KESTREL_TIER", "pro")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, domain.TierPro, cfg.Tier)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.True(t, cfg.Cache.EnableTwoPhase)
	assert.Equal(t, "nats", cfg.EventBus.Type)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kestrel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
lending:
  payment_retries: 7
  statement_ttl: 2m
eventbus:
  type: kafka
  kafka_brokers: [broker-1:9092, broker-2:9092]
`), 0o600))

	t.Setenv("KESTREL_SERVER_PORT", "9191")
	t.Setenv("KESTREL_REPOSITORY_SQLITE_PATH", "/var/lib/kestrel.db")
	t.Setenv("KESTREL_DEBUG", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "/var/lib/kestrel.db", cfg.Repository.SQLitePath)
	assert.Equal(t, 7, cfg.Lending.PaymentRetries)
	assert.Equal(t, 2*time.Minute, cfg.Lending.StatementTTL)
	assert.Equal(t, 16, cfg.Lending.MaxRandomDraws)
	assert.Equal(t, "kafka", cfg.EventBus.Type)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.EventBus.KafkaBrokers)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadKafkaBrokersFromEnv(t *testing.T) {
	t.Setenv("KESTREL_EVENTBUS_KAFKA_BROKERS", "a:9092, b:9092")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.EventBus.KafkaBrokers)
}

func TestLoadErrors(t *testing.T) {
	t.Run("unknown tier", func(t *testing.T) {
		t.Setenv("KESTREL_TIER", "platinum")
		_, err := Load("")
		assert.ErrorContains(t, err, "unknown tier")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		t.Setenv("KESTREL_SERVER_PORT", "0")
		t.Setenv("KESTREL_LENDING_MAX_INSERT_ATTEMPTS", "0")
		_, err := Load("")
		assert.ErrorContains(t, err, "server.port")
		assert.ErrorContains(t, err, "max_insert_attempts")
	})
}
