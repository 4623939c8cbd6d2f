package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LOT_LOCK_TIMEOUT", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := Load()
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, 2*time.Second, cfg.LotLockTimeout)
	assert.Equal(t, 3, cfg.ReserveMaxAttempts)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092 ,,")
	t.Setenv("LOT_LOCK_TIMEOUT", "750ms")
	t.Setenv("STATS_CACHE_TTL", "5")
	t.Setenv("RESERVE_MAX_ATTEMPTS", "nope")
	t.Setenv("AUTO_MIGRATE", "FALSE")

	cfg := Load()
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 750*time.Millisecond, cfg.LotLockTimeout)
	assert.Equal(t, 5*time.Second, cfg.StatsCacheTTL)
	assert.Equal(t, 3, cfg.ReserveMaxAttempts)
	assert.False(t, cfg.AutoMigrate)
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.Environment = "production"
	cfg.JWTSecret = defaultJWTSecret
	assert.Error(t, cfg.Validate())

	cfg.JWTSecret = "s3cr3t"
	cfg.LotLockTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg.LotLockTimeout = time.Second
	cfg.ReserveMaxAttempts = 0
	assert.Error(t, cfg.Validate())
}

func TestValidatePlacementBudget(t *testing.T) {
	cfg := Load()
	cfg.LotLockTimeout = 2 * time.Second
	cfg.ReserveMaxAttempts = 3
	cfg.PlaceOrderTimeout = 5 * time.Second
	assert.ErrorContains(t, cfg.Validate(), "PLACE_ORDER_TIMEOUT")

	cfg.PlaceOrderTimeout = 6 * time.Second
	assert.Error(t, cfg.Validate())

	cfg.PlaceOrderTimeout = 7 * time.Second
	assert.NoError(t, cfg.Validate())
}
