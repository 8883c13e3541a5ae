package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration for the monitor.
type Config struct {
	// LogLevel is the zerolog level name (debug, info, warn, error)
	LogLevel string

	Kafka     KafkaConfig
	Influx    InfluxConfig
	SMTP      SMTPConfig
	API       APIConfig
	Retention RetentionConfig

	// SettingsPath is the durable settings file (threshold + email config)
	SettingsPath string
	// TrainingDataPath is the CSV dataset used for (re)training
	TrainingDataPath string
	// ModelPath is where the trained model artifact is persisted
	ModelPath string
}

// KafkaConfig configures the sensor data subscription.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// QueueSize bounds the in-flight reading channel between the
	// subscription and the pipeline loop.
	QueueSize int
}

// InfluxConfig configures the durable reading store backend.
// An empty URL disables the backend; the store then runs memory-only.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// SMTPConfig configures alert mail delivery.
type SMTPConfig struct {
	Host     string
	Port     int
	Sender   string
	Password string
	Timeout  time.Duration
}

// APIConfig configures the dashboard/admin HTTP server.
type APIConfig struct {
	Addr string
	// AdminToken guards the destructive admin endpoints.
	AdminToken string
}

// RetentionConfig configures the reading retention window.
type RetentionConfig struct {
	// MaxAge is how old a reading may get before eviction
	MaxAge time.Duration
	// SweepInterval is how often the eviction sweep runs
	SweepInterval time.Duration
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Kafka: KafkaConfig{
			Brokers:   []string{"localhost:9092"},
			Topic:     "mining.sensor-data",
			GroupID:   "silicamon",
			QueueSize: 256,
		},
		SMTP: SMTPConfig{
			// 587 is the STARTTLS submission port; the mail client is
			// built with a mandatory-TLS policy.
			Host:    "smtp.gmail.com",
			Port:    587,
			Timeout: 15 * time.Second,
		},
		API: APIConfig{
			Addr: ":8080",
		},
		Retention: RetentionConfig{
			MaxAge:        time.Hour,
			SweepInterval: time.Hour,
		},
		SettingsPath:     "config/settings.json",
		TrainingDataPath: "data/mining_data.csv",
		ModelPath:        "models/silica_model.json",
	}
}

// Load builds a Config from the environment on top of defaults.
// A .env file in the working directory is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := Default()

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitCSV(v)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", cfg.Kafka.GroupID)
	cfg.Kafka.QueueSize = getEnvInt("INGEST_QUEUE_SIZE", cfg.Kafka.QueueSize)

	cfg.Influx.URL = getEnv("INFLUX_URL", cfg.Influx.URL)
	cfg.Influx.Token = getEnv("INFLUX_TOKEN", cfg.Influx.Token)
	cfg.Influx.Org = getEnv("INFLUX_ORG", cfg.Influx.Org)
	cfg.Influx.Bucket = getEnv("INFLUX_BUCKET", cfg.Influx.Bucket)

	cfg.SMTP.Host = getEnv("SMTP_HOST", cfg.SMTP.Host)
	cfg.SMTP.Port = getEnvInt("SMTP_PORT", cfg.SMTP.Port)
	cfg.SMTP.Sender = getEnv("SMTP_SENDER", cfg.SMTP.Sender)
	cfg.SMTP.Password = getEnv("SMTP_PASSWORD", cfg.SMTP.Password)

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.API.AdminToken = getEnv("ADMIN_TOKEN", cfg.API.AdminToken)

	cfg.Retention.MaxAge = getEnvDuration("RETENTION_MAX_AGE", cfg.Retention.MaxAge)
	cfg.Retention.SweepInterval = getEnvDuration("RETENTION_SWEEP_INTERVAL", cfg.Retention.SweepInterval)

	cfg.SettingsPath = getEnv("SETTINGS_PATH", cfg.SettingsPath)
	cfg.TrainingDataPath = getEnv("TRAINING_DATA_PATH", cfg.TrainingDataPath)
	cfg.ModelPath = getEnv("MODEL_PATH", cfg.ModelPath)

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
