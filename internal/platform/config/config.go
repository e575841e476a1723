// Package config builds runtime configuration from environment variables so
// main stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full server configuration.
type Config struct {
	Addr          string
	JWTSigningKey string
	WebhookSecret string

	DatabaseURL string
	RedisURL    string

	OracleURL    string
	OracleAPIKey string
	OracleModel  string

	S3Bucket string
	S3Region string

	KafkaBrokers []string
	KafkaTopic   string

	AdminAlertRecipient string
	ExpiryScanInterval  time.Duration
}

// FromEnv reads configuration from the environment, applying development
// defaults where a value is safe to default.
func FromEnv() Config {
	return Config{
		Addr:          getenv("VOUCH_ADDR", ":8080"),
		JWTSigningKey: getenv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		WebhookSecret: os.Getenv("WEBHOOK_SHARED_SECRET"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		OracleURL:    os.Getenv("ORACLE_URL"),
		OracleAPIKey: os.Getenv("ORACLE_API_KEY"),
		OracleModel:  getenv("ORACLE_MODEL", "gpt-4o-mini"),

		S3Bucket: os.Getenv("S3_BUCKET"),
		S3Region: getenv("AWS_REGION", "ap-southeast-2"),

		KafkaBrokers: splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getenv("KAFKA_NOTIFICATION_TOPIC", "notification.commands"),

		AdminAlertRecipient: getenv("ADMIN_ALERT_RECIPIENT", "admins"),
		ExpiryScanInterval:  getduration("EXPIRY_SCAN_INTERVAL_MINUTES", time.Hour),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	minutes, err := strconv.Atoi(v)
	if err != nil || minutes <= 0 {
		return fallback
	}
	return time.Duration(minutes) * time.Minute
}

func splitNonEmpty(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
