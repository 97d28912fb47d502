// Package config reads the server configuration from the environment.
package config

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port   int
	DBPath string

	// JWTSecret enables bearer token auth. Empty means identity headers
	// are trusted (development only).
	JWTSecret string

	EmailProvider     string
	EmailWebhookURL   string
	EmailWebhookToken string
	EmailFrom         string
	DefaultLocale     string
	AppURL            string

	ToilExpiryMonths int
	MinWeeklyHours   decimal.Decimal
	BulkConcurrency  int

	ExpirySweepEnabled  bool
	ExpirySweepInterval time.Duration

	CORSOrigins []string
}

// Keys double as environment variable names once upper-cased.
var defaults = map[string]any{
	"port":                  8080,
	"db_path":               "timesheet.db",
	"jwt_secret":            "",
	"email_provider":        "log",
	"email_webhook_url":     "",
	"email_webhook_token":   "",
	"email_from":            "noreply@practicehub.local",
	"default_locale":        "en",
	"app_url":               "http://localhost:3000",
	"toil_expiry_months":    6,
	"min_weekly_hours":      "37.5",
	"bulk_concurrency":      4,
	"expiry_sweep_enabled":  false,
	"expiry_sweep_interval": 3600, // seconds
	"cors_origins":          "*",
}

func Load() Config {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cfg := Config{
		Port:                positiveInt(v, "port"),
		DBPath:              v.GetString("db_path"),
		JWTSecret:           v.GetString("jwt_secret"),
		EmailProvider:       v.GetString("email_provider"),
		EmailWebhookURL:     v.GetString("email_webhook_url"),
		EmailWebhookToken:   v.GetString("email_webhook_token"),
		EmailFrom:           v.GetString("email_from"),
		DefaultLocale:       v.GetString("default_locale"),
		AppURL:              v.GetString("app_url"),
		ToilExpiryMonths:    positiveInt(v, "toil_expiry_months"),
		MinWeeklyHours:      positiveDecimal(v, "min_weekly_hours"),
		BulkConcurrency:     positiveInt(v, "bulk_concurrency"),
		ExpirySweepEnabled:  v.GetBool("expiry_sweep_enabled"),
		ExpirySweepInterval: time.Duration(v.GetInt("expiry_sweep_interval")) * time.Second,
		CORSOrigins:         list(v, "cors_origins"),
	}
	if cfg.ExpirySweepInterval < 0 {
		cfg.ExpirySweepInterval = 0
	}
	return cfg
}

// positiveInt falls back to the default when the value is missing,
// malformed (viper reads it as 0) or not positive.
func positiveInt(v *viper.Viper, key string) int {
	if n := v.GetInt(key); n > 0 {
		return n
	}
	return defaults[key].(int)
}

func positiveDecimal(v *viper.Viper, key string) decimal.Decimal {
	if d, err := decimal.NewFromString(v.GetString(key)); err == nil && d.IsPositive() {
		return d
	}
	return decimal.RequireFromString(defaults[key].(string))
}

// list splits a comma separated value. GetStringSlice splits env values on
// whitespace, not commas.
func list(v *viper.Viper, key string) []string {
	var out []string
	for _, part := range strings.Split(v.GetString(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return []string{defaults[key].(string)}
	}
	return out
}
