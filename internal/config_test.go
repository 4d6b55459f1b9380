package internal

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setEnv clears every variable NewConfig reads, then applies overrides.
func setEnv(t *testing.T, overrides map[string]string) {
	t.Helper()
	keys := []string{
		"ENV", "PORT", "LOG_LEVEL", "STORE", "DATABASE_URL", "REDIS_URL", "POLICY_CACHE_TTL",
		"BASE_URL", "STORAGE_PROVIDER", "LOCAL_STORAGE_PATH", "LOCAL_STORAGE_URL", "FILE_SIGNING_KEY",
		"R2_ACCOUNT_ID", "R2_ACCESS_KEY_ID", "R2_SECRET_ACCESS_KEY", "R2_BUCKET_NAME", "R2_REGION",
		"DOWNLOAD_URL_TTL", "CLIENT_KEY_SECRET", "ADMIN_API_TOKEN", "STRIPE_SECRET_KEY",
		"STRIPE_WEBHOOK_SECRET", "TAX_RATE_BPS", "CHECKOUT_TTL", "SWEEPER_ENABLED",
		"SWEEPER_INTERVAL", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "METRICS_USERNAME", "METRICS_PASSWORD",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
	for k, v := range overrides {
		t.Setenv(k, v)
	}
}

func TestNewConfig_DevelopmentDefaults(t *testing.T) {
	setEnv(t, map[string]string{"STORE": "memory"})

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "local", cfg.StorageProvider)
	assert.Equal(t, devClientKeySecret, cfg.ClientKeySecret)
	assert.Equal(t, devFileSigningKey, cfg.FileSigningKey)
	assert.Equal(t, time.Hour, cfg.CheckoutTTL)
	assert.Equal(t, 15*time.Minute, cfg.DownloadURLTTL)
	assert.Equal(t, int64(0), cfg.TaxRateBPS)
	assert.Equal(t, float64(5), cfg.RateLimitRPS)
	assert.True(t, cfg.SweeperEnabled)
}

func TestNewConfig_Production(t *testing.T) {
	base := map[string]string{
		"ENV":                   "production",
		"DATABASE_URL":          "postgres://localhost/proofsheet",
		"STORAGE_PROVIDER":      "r2",
		"R2_ACCOUNT_ID":         "acct",
		"R2_ACCESS_KEY_ID":      "key",
		"R2_SECRET_ACCESS_KEY":  "secret",
		"R2_BUCKET_NAME":        "originals",
		"CLIENT_KEY_SECRET":     "client-secret",
		"ADMIN_API_TOKEN":       "admin",
		"STRIPE_SECRET_KEY":     "sk_test_x",
		"STRIPE_WEBHOOK_SECRET": "whsec_x",
		"TAX_RATE_BPS":          "825",
		"CHECKOUT_TTL":          "2h",
	}

	setEnv(t, base)
	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, int64(825), cfg.TaxRateBPS)
	assert.Equal(t, 2*time.Hour, cfg.CheckoutTTL)
	assert.Equal(t, "auto", cfg.R2Region)

	tests := []struct {
		name     string
		override map[string]string
		wantErr  string
	}{
		{"missing database", map[string]string{"DATABASE_URL": ""}, "DATABASE_URL"},
		{"memory store", map[string]string{"STORE": "memory"}, "STORE"},
		{"unknown store", map[string]string{"STORE": "sqlite"}, "STORE"},
		{"missing bucket", map[string]string{"R2_BUCKET_NAME": ""}, "R2_BUCKET_NAME"},
		{"unknown storage", map[string]string{"STORAGE_PROVIDER": "gcs"}, "STORAGE_PROVIDER"},
		{"local without key", map[string]string{"STORAGE_PROVIDER": "local"}, "FILE_SIGNING_KEY"},
		{"no client secret", map[string]string{"CLIENT_KEY_SECRET": ""}, "CLIENT_KEY_SECRET"},
		{"no admin token", map[string]string{"ADMIN_API_TOKEN": ""}, "ADMIN_API_TOKEN"},
		{"webhook secret alone", map[string]string{"STRIPE_SECRET_KEY": ""}, "must be set together"},
		{"no stripe", map[string]string{"STRIPE_SECRET_KEY": "", "STRIPE_WEBHOOK_SECRET": ""}, "STRIPE_SECRET_KEY"},
		{"tax too high", map[string]string{"TAX_RATE_BPS": "10001"}, "TAX_RATE_BPS"},
		{"short checkout ttl", map[string]string{"CHECKOUT_TTL": "30s"}, "CHECKOUT_TTL"},
		{"long url ttl", map[string]string{"DOWNLOAD_URL_TTL": "200h"}, "DOWNLOAD_URL_TTL"},
		{"zero burst", map[string]string{"RATE_LIMIT_BURST": "0"}, "RATE_LIMIT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := make(map[string]string, len(base)+len(tt.override))
			for k, v := range base {
				env[k] = v
			}
			for k, v := range tt.override {
				env[k] = v
			}
			setEnv(t, env)

			_, err := NewConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "production", "WARN")
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"service":"proofsheet"`)

	buf.Reset()
	NewLogger(&buf, "development", "bogus").Debug("dropped")
	assert.Empty(t, buf.String())
}
