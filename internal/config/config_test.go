package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/medibook")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg := Load()
	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, "0 7 * * *", cfg.ReminderSchedule)
	assert.Equal(t, "0 2 1 * *", cfg.ReportSchedule)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_EXPIRY", "2h")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("JOB_WORKERS", "not-a-number")
	t.Setenv("EMAIL_PROVIDER", "SendGrid")

	cfg := Load()
	assert.Equal(t, 2*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, 8, cfg.JobWorkers)
	assert.Equal(t, "sendgrid", cfg.EmailProvider)
}

func TestValidate(t *testing.T) {
	err := Config{}.Validate()
	assert.ErrorContains(t, err, "DATABASE_URL is required")
	assert.NotContains(t, err.Error(), "JWT_SECRET")

	err = Config{}.ValidateAPI()
	assert.ErrorContains(t, err, "DATABASE_URL is required")
	assert.ErrorContains(t, err, "JWT_SECRET is required")
	assert.NoError(t, Config{DatabaseURL: "x", JWTSecret: "y"}.ValidateAPI())

	err = Config{DatabaseURL: "x", JWTSecret: "y", EmailProvider: "sendgrid"}.Validate()
	assert.ErrorContains(t, err, "SENDGRID_API_KEY")

	err = Config{DatabaseURL: "x", JWTSecret: "y", EmailProvider: "smtp"}.Validate()
	assert.Error(t, err)
}
