package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 10, cfg.MatcherTopN)
	assert.Equal(t, "bands", cfg.MatcherPolicy)
	assert.Equal(t, "bookings-confirmed", cfg.KafkaBookingsTopic)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("HTTP_READ_TIMEOUT", "2s")
	t.Setenv("MATCHER_POLICY", "range")
	t.Setenv("DEPOT_LAT", "0.35")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, "/tmp/x.db", cfg.SQLitePath)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 2*time.Second, cfg.ReadTimeout)
	assert.Equal(t, "range", cfg.MatcherPolicy)
	assert.Equal(t, 0.35, cfg.DepotLat)
}

func TestErrorsAreJoined(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("MATCHER_TOP_N", "0")
	t.Setenv("STORE_BACKEND", "redis")

	_, err := LoadServerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP_READ_TIMEOUT")
	assert.Contains(t, err.Error(), "MATCHER_TOP_N")
	assert.Contains(t, err.Error(), "REDIS_ADDR")
}

func TestConsumerConfig(t *testing.T) {
	t.Setenv("KAFKA_TELEMETRY_TOPIC", "fleet")
	cfg, err := LoadConsumerConfig()
	require.NoError(t, err)
	assert.Equal(t, "fleet", cfg.KafkaTopic)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
}
