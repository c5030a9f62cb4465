package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	require.Equal(t, ":8080", cfg.HTTPAddress)
	require.Equal(t, 2*time.Second, cfg.WorkerPollInterval)
	require.Equal(t, 3, cfg.MaxAttempts)
	require.Equal(t, 15*time.Minute, cfg.ReapThreshold)
	require.Equal(t, 100, cfg.BackfillPageSize)
	require.Empty(t, cfg.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WORKER_POLL_INTERVAL", "500ms")
	t.Setenv("WORKER_MAX_ATTEMPTS", "5")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("RATE_LIMIT_COOLDOWN", "2s")

	cfg := Load()

	require.Equal(t, 500*time.Millisecond, cfg.WorkerPollInterval)
	require.Equal(t, 5, cfg.MaxAttempts)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 2*time.Second, cfg.RateLimitCooldown)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("WORKER_MAX_ATTEMPTS", "lots")
	t.Setenv("WORKER_BACKOFF_BASE", "soon")

	cfg := Load()

	require.Equal(t, 3, cfg.MaxAttempts)
	require.Equal(t, 30*time.Second, cfg.BackoffBase)
}
