package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("EVENT_LOG_BACKEND", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9090", cfg.Live.BaseURL)
	assert.Equal(t, 3, cfg.Live.ReconnectAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Live.ReconnectInitial)
	assert.Equal(t, 5*time.Minute, cfg.JWT.LiveTokenTTL)
	assert.Equal(t, EventLogPostgres, cfg.EventLog.Backend)
	assert.Equal(t, "recording.events", cfg.Kafka.Topic)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("EVENT_LOG_BACKEND", "Redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("RECORDING_POLLS_UNTIL_READY", "5")
	t.Setenv("RECORDING_PROCESSING_TIME", "90s")
	t.Setenv("RECORDING_WORKER_ENABLED", "true")
	t.Setenv("LIVE_RECONNECT_MAX", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EventLogRedis, cfg.EventLog.Backend)
	assert.Equal(t, 5, cfg.Recording.PollsUntilReady)
	assert.Equal(t, 90*time.Second, cfg.Recording.ProcessingTime)
	assert.True(t, cfg.Recording.WorkerEnabled)
	assert.Equal(t, 2*time.Second, cfg.Live.ReconnectMax)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("EVENT_LOG_BACKEND", "sqlite")
	_, err := Load()
	assert.ErrorContains(t, err, "unknown EVENT_LOG_BACKEND")
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "classroom", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/classroom?sslmode=disable", c.DSN())
	c.URL = "postgres://override"
	assert.Equal(t, "postgres://override", c.DSN())
}

func TestSplitTrim(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitTrim(" a, ,b ", ","))
	assert.Nil(t, SplitTrim("", ","))
}
