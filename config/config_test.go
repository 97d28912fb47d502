package config_test

import (
	"testing"
	"time"

	"github.com/practicehub/timesheet-engine/config"
	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_PATH", "JWT_SECRET", "TOIL_EXPIRY_MONTHS", "MIN_WEEKLY_HOURS",
		"EXPIRY_SWEEP_ENABLED", "EXPIRY_SWEEP_INTERVAL", "BULK_CONCURRENCY", "CORS_ORIGINS"} {
		t.Setenv(key, "")
	}

	cfg := config.Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "timesheet.db", cfg.DBPath)
	assert.Empty(t, cfg.JWTSecret)
	assert.Equal(t, 6, cfg.ToilExpiryMonths)
	assert.Equal(t, "37.5", cfg.MinWeeklyHours.String())
	assert.Equal(t, 4, cfg.BulkConcurrency)
	assert.False(t, cfg.ExpirySweepEnabled)
	assert.Equal(t, time.Hour, cfg.ExpirySweepInterval)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TOIL_EXPIRY_MONTHS", "12")
	t.Setenv("MIN_WEEKLY_HOURS", "35")
	t.Setenv("EXPIRY_SWEEP_ENABLED", "true")
	t.Setenv("EXPIRY_SWEEP_INTERVAL", "60")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("EMAIL_PROVIDER", "webhook")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg := config.Load()

	assert.Equal(t, "webhook", cfg.EmailProvider)
	assert.Equal(t, "s3cret", cfg.JWTSecret)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 12, cfg.ToilExpiryMonths)
	assert.Equal(t, "35", cfg.MinWeeklyHours.String())
	assert.True(t, cfg.ExpirySweepEnabled)
	assert.Equal(t, time.Minute, cfg.ExpirySweepInterval)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSOrigins)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("PORT", "eighty")
	t.Setenv("MIN_WEEKLY_HOURS", "-3")
	t.Setenv("EXPIRY_SWEEP_ENABLED", "maybe")
	t.Setenv("BULK_CONCURRENCY", "0")
	t.Setenv("TOIL_EXPIRY_MONTHS", "-1")
	t.Setenv("EXPIRY_SWEEP_INTERVAL", "-5")
	t.Setenv("CORS_ORIGINS", " , ")

	cfg := config.Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "37.5", cfg.MinWeeklyHours.String())
	assert.False(t, cfg.ExpirySweepEnabled)
	assert.Equal(t, 4, cfg.BulkConcurrency)
	assert.Equal(t, 6, cfg.ToilExpiryMonths)
	assert.Zero(t, cfg.ExpirySweepInterval)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}
