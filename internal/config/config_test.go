package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "mining.sensor-data", cfg.Kafka.Topic)

	// The mail client requires TLS, so the default port must be the
	// STARTTLS submission port, not implicit-SSL 465.
	assert.Equal(t, 587, cfg.SMTP.Port)

	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, "config/settings.json", cfg.SettingsPath)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("RETENTION_MAX_AGE", "30m")

	cfg := Load()

	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 2525, cfg.SMTP.Port)
	assert.Equal(t, "30m0s", cfg.Retention.MaxAge.String())
}
