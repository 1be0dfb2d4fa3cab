package config

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(testLogger())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ReadTimeout)
	assert.True(t, cfg.HTTP.EnableMetrics)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Equal(t, 3*time.Second, cfg.Trigger.QuietWindow)
	assert.Equal(t, 15*time.Second, cfg.Trigger.AnalysisTimeout)

	assert.Equal(t, "chat", cfg.Analysis.Provider)
	assert.Equal(t, "llama3-8b-8192", cfg.Analysis.Model)
	assert.Equal(t, 0.2, cfg.Analysis.Temperature)
	assert.Equal(t, 1024, cfg.Analysis.MaxTokens)

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "localhost:6379", cfg.Store.Redis.Address)
	assert.Equal(t, 24*time.Hour, cfg.Store.Redis.TTL)

	assert.False(t, cfg.Messaging.Enabled)
	assert.Equal(t, "coachsync", cfg.Messaging.Exchange)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("TRIGGER_QUIET_WINDOW", "500ms")
	t.Setenv("ANALYSIS_PROVIDER", "mock")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("REDIS_ADDRESS", "redis.internal:6380")
	t.Setenv("AMQP_ENABLED", "true")

	cfg, err := Load(testLogger())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 500*time.Millisecond, cfg.Trigger.QuietWindow)
	assert.Equal(t, "mock", cfg.Analysis.Provider)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis.internal:6380", cfg.Store.Redis.Address)
	assert.True(t, cfg.Messaging.Enabled)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("HTTP_PORT", "99999")
	t.Setenv("LOG_LEVEL", "shouting")
	t.Setenv("LOG_FORMAT", "xml")
	t.Setenv("ANALYSIS_PROVIDER", "oracle")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("TRIGGER_QUIET_WINDOW", "-5s")

	cfg, err := Load(testLogger())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "chat", cfg.Analysis.Provider)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 3*time.Second, cfg.Trigger.QuietWindow)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STRING", "value")
	t.Setenv("TEST_BOOL_YES", "yes")
	t.Setenv("TEST_BOOL_OFF", "off")
	t.Setenv("TEST_BOOL_JUNK", "maybe")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_JUNK", "forty-two")
	t.Setenv("TEST_DURATION", "2m")
	t.Setenv("TEST_FLOAT", "0.75")

	assert.Equal(t, "value", getEnv("TEST_STRING", "default"))
	assert.Equal(t, "default", getEnv("TEST_UNSET", "default"))

	assert.True(t, getEnvBool("TEST_BOOL_YES", false))
	assert.False(t, getEnvBool("TEST_BOOL_OFF", true))
	assert.True(t, getEnvBool("TEST_BOOL_JUNK", true))

	assert.Equal(t, 42, getEnvInt("TEST_INT", 0))
	assert.Equal(t, 7, getEnvInt("TEST_INT_JUNK", 7))

	assert.Equal(t, 2*time.Minute, getEnvDuration("TEST_DURATION", time.Second))
	assert.Equal(t, 0.75, getEnvFloat("TEST_FLOAT", 0))
}
