package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		SessionSigningKey: "session-secret",
		WebhookSigningKey: "webhook-secret-0123456789",
	}
}

func TestValidateFillsDefaults(test *testing.T) {
	test.Parallel()
	cfg := validConfig()
	require.NoError(test, cfg.Validate())

	assert.Equal(test, defaultDatabaseURL, cfg.DatabaseURL)
	assert.Equal(test, defaultHTTPListenAddr, cfg.HTTPListenAddr)
	assert.Equal(test, defaultGRPCListenAddr, cfg.GRPCListenAddr)
	assert.Equal(test, []string{defaultAllowedOrigin}, cfg.AllowedOrigins)
	assert.Equal(test, defaultKafkaTopic, cfg.KafkaTopic)
	assert.Equal(test, defaultRequestTimeout, cfg.RequestTimeout)
	assert.Equal(test, time.Minute, cfg.ExpiryInterval)
	assert.Equal(test, 10*time.Minute, cfg.EscalationInterval)
	assert.Equal(test, "info", cfg.LogLevel)
	assert.Equal(test, time.UTC.String(), cfg.Location().String())
	assert.False(test, cfg.RedisEnabled())
	assert.False(test, cfg.KafkaEnabled())
}

func TestValidateResolvesTimezone(test *testing.T) {
	test.Parallel()
	cfg := validConfig()
	cfg.Timezone = "Asia/Ho_Chi_Minh"
	require.NoError(test, cfg.Validate())
	assert.Equal(test, "Asia/Ho_Chi_Minh", cfg.Location().String())
}

func TestValidateRejectsInvalidValues(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "missing session key", mutate: func(cfg *Config) { cfg.SessionSigningKey = "" }, field: "SessionSigningKey"},
		{name: "short webhook key", mutate: func(cfg *Config) { cfg.WebhookSigningKey = "short" }, field: "WebhookSigningKey"},
		{name: "bad redis addr", mutate: func(cfg *Config) { cfg.RedisAddr = "localhost" }, field: "RedisAddr"},
		{name: "bad redis db", mutate: func(cfg *Config) { cfg.RedisDB = 42 }, field: "RedisDB"},
		{name: "bad broker", mutate: func(cfg *Config) { cfg.KafkaBrokers = []string{"broker"} }, field: "KafkaBrokers"},
		{name: "bad timezone", mutate: func(cfg *Config) { cfg.Timezone = "Mars/Olympus" }, field: "Timezone"},
		{name: "bad log level", mutate: func(cfg *Config) { cfg.LogLevel = "verbose" }, field: "LogLevel"},
		{name: "bad origin", mutate: func(cfg *Config) { cfg.AllowedOrigins = []string{"not a url"} }, field: "AllowedOrigins"},
	}
	for _, testCase := range testCases {
		cfg := validConfig()
		testCase.mutate(&cfg)
		err := cfg.Validate()
		require.Error(test, err, testCase.name)
		assert.True(test, errors.Is(err, ErrInvalidConfig), testCase.name)
		assert.Contains(test, err.Error(), testCase.field, testCase.name)
	}
}

func TestValidateAcceptsOptionalBackends(test *testing.T) {
	test.Parallel()
	cfg := validConfig()
	cfg.RedisAddr = "localhost:6379"
	cfg.KafkaBrokers = ParseList("kafka-1:9092, kafka-2:9092")
	require.NoError(test, cfg.Validate())
	assert.True(test, cfg.RedisEnabled())
	assert.True(test, cfg.KafkaEnabled())
	assert.Equal(test, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
}

func TestParseList(test *testing.T) {
	test.Parallel()
	assert.Equal(test, []string{}, ParseList("  "))
	assert.Equal(test, []string{"a", "b"}, ParseList(" a, ,b ,"))
}

func TestLoadEnvFile(test *testing.T) {
	path := filepath.Join(test.TempDir(), ".env")
	require.NoError(test, os.WriteFile(path, []byte("VIPLEDGER_TEST_ENV_KEY=from-file\n"), 0o600))
	test.Cleanup(func() { _ = os.Unsetenv("VIPLEDGER_TEST_ENV_KEY") })

	require.NoError(test, LoadEnvFile(path))
	assert.Equal(test, "from-file", os.Getenv("VIPLEDGER_TEST_ENV_KEY"))
	require.NoError(test, LoadEnvFile(filepath.Join(test.TempDir(), "missing.env")))
	require.NoError(test, LoadEnvFile(""))
}
