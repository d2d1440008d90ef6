// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// MetricsPort serves /metrics for the worker binaries
	MetricsPort string

	DatabaseURL string

	JWTSecret   string
	JWTExpiry   time.Duration
	CORSOrigins []string
	// AuthRateLimit is the sustained per-IP rate on register and login, per second
	AuthRateLimit float64
	AuthRateBurst int

	KafkaBrokers []string
	KafkaGroupID string

	RedisAddr     string
	RedisPassword string

	EmailProvider  string // "ses", "sendgrid" or empty for the stub
	EmailFrom      string
	EmailFromName  string
	SendGridAPIKey string
	AWSRegion      string

	ProfileImageBucket string
	ProfileImageDir    string

	OTLPEndpoint    string
	TraceSampleRate float64
	ServiceVersion  string

	ReminderSchedule string
	ReportSchedule   string
	JobWorkers       int
}

// Load reads a .env file when present, then the environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:     getEnv("PORT", "8000"),
		Env:      getEnv("ENV", "production"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		MetricsPort: getEnv("METRICS_PORT", "9090"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		JWTSecret:     getEnv("JWT_SECRET", ""),
		JWTExpiry:     getEnvAsDuration("JWT_EXPIRY", 24*time.Hour),
		CORSOrigins:   getEnvAsList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		AuthRateLimit: getEnvAsFloat("AUTH_RATE_LIMIT", 1),
		AuthRateBurst: getEnvAsInt("AUTH_RATE_BURST", 5),

		KafkaBrokers: getEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "notification-service"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		EmailProvider:  strings.ToLower(getEnv("EMAIL_PROVIDER", "")),
		EmailFrom:      getEnv("EMAIL_FROM", "noreply@medibook.local"),
		EmailFromName:  getEnv("EMAIL_FROM_NAME", "MediBook"),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),

		ProfileImageBucket: getEnv("PROFILE_IMAGE_BUCKET", ""),
		ProfileImageDir:    getEnv("PROFILE_IMAGE_DIR", "uploads"),

		OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		TraceSampleRate: getEnvAsFloat("TRACE_SAMPLE_RATE", 0.1),
		ServiceVersion:  getEnv("SERVICE_VERSION", "dev"),

		ReminderSchedule: getEnv("REMINDER_SCHEDULE", "0 7 * * *"),
		ReportSchedule:   getEnv("REPORT_SCHEDULE", "0 2 1 * *"),
		JobWorkers:       getEnvAsInt("JOB_WORKERS", 8),
	}
}

// Validate reports settings without which no binary can run.
func (c Config) Validate() error {
	return errors.Join(c.validate()...)
}

// ValidateAPI is Validate plus the token settings the HTTP API needs.
func (c Config) ValidateAPI() error {
	errs := c.validate()
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	return errors.Join(errs...)
}

func (c Config) validate() []error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	switch c.EmailProvider {
	case "", "ses":
	case "sendgrid":
		if c.SendGridAPIKey == "" {
			errs = append(errs, errors.New("SENDGRID_API_KEY is required when EMAIL_PROVIDER=sendgrid"))
		}
	default:
		errs = append(errs, errors.New("EMAIL_PROVIDER must be ses, sendgrid or empty"))
	}
	return errs
}

// Development reports whether ENV selects development mode.
func (c Config) Development() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
