package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *ProductionConfig {
	return &ProductionConfig{
		Database:    DatabaseConfig{Host: "localhost", Port: 5432, Name: "relay", User: "postgres"},
		Server:      ServerConfig{Port: 8080, ReadTimeout: time.Second, WriteTimeout: time.Second},
		JWT:         JWTConfig{SecretKey: "0123456789abcdef0123456789abcdef", AccessTokenTTL: time.Hour},
		Logging:     LoggingConfig{Level: "info", Output: "stdout"},
		Attribution: AttributionConfig{IPWindow: time.Hour, MinSubstringLength: 6},
		Dispatch:    DispatchConfig{Timeout: 12 * time.Second, ClaimLease: 2 * time.Minute, MinorUnitThreshold: 10000, Concurrency: 2},
		Worker:      WorkerConfig{Count: 1, QueueSize: 1},
	}
}

func TestValidateProductionConfig_Valid(t *testing.T) {
	assert.NoError(t, ValidateProductionConfig(validConfig()))
}

func TestValidateProductionConfig_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Host = ""
	cfg.JWT.SecretKey = "short"
	cfg.Dispatch.ClaimLease = time.Second
	cfg.Kafka = KafkaConfig{Enabled: true}

	err := ValidateProductionConfig(cfg)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "DB_HOST is required")
	assert.Contains(t, msg, "JWT_SECRET_KEY")
	assert.Contains(t, msg, "DISPATCH_CLAIM_LEASE")
	assert.Contains(t, msg, "KAFKA_BROKERS")
	assert.Contains(t, msg, "KAFKA_CHAT_TOPIC")
}

func TestEnvGetters(t *testing.T) {
	t.Setenv("RELAY_TEST_INT", "42")
	t.Setenv("RELAY_TEST_BAD_INT", "x")
	t.Setenv("RELAY_TEST_DURATION", "90s")
	t.Setenv("RELAY_TEST_SLICE", " a, ,b ,c")
	t.Setenv("RELAY_TEST_FLOAT", "12.5")

	assert.Equal(t, 42, getEnvInt("RELAY_TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("RELAY_TEST_BAD_INT", 1))
	assert.Equal(t, 90*time.Second, getEnvDuration("RELAY_TEST_DURATION", time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, getEnvStringSlice("RELAY_TEST_SLICE", nil))
	assert.Equal(t, 12.5, getEnvFloat("RELAY_TEST_FLOAT", 0))
	assert.True(t, getEnvBool("RELAY_TEST_MISSING_BOOL", true))
}

func TestLoadEnvFile_DoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("RELAY_FROM_FILE=file\nRELAY_PRESET=file\n"), 0o600))

	t.Setenv("ENV_FILE", envPath)
	t.Setenv("RELAY_PRESET", "env")
	t.Cleanup(func() { os.Unsetenv("RELAY_FROM_FILE") })

	require.NoError(t, loadEnvFile())
	assert.Equal(t, "file", os.Getenv("RELAY_FROM_FILE"))
	assert.Equal(t, "env", os.Getenv("RELAY_PRESET"))
}

func TestLoadEnvFile_MissingFileIsNotAnError(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, loadEnvFile())
}
