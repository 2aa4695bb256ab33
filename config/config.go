package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// Billing
	CurrencyCode      string  // default: "INR"; stored amounts are minor units of this currency
	DefaultQuotaLimit float64 // quota limit applied on first use of a key, default: 10000

	// Notifications
	WebhookURL       string        // optional; critical notifications are pushed here
	AnalyzerInterval time.Duration // default: 1h
	CostAlertMinor   int64         // monthly cost (minor units) above which cost_optimization fires, default: 1000000

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate Limiting
	DefaultRateLimitEPM int64 // usage events per minute per business, default: 600
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		CurrencyCode:         getEnv("CURRENCY_CODE", "INR"),
		WebhookURL:           os.Getenv("NOTIFY_WEBHOOK_URL"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	limitStr := getEnv("DEFAULT_QUOTA_LIMIT", "10000")
	limit, err := strconv.ParseFloat(limitStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_QUOTA_LIMIT: %w", err)
	}
	cfg.DefaultQuotaLimit = limit

	epmStr := getEnv("DEFAULT_RATE_LIMIT_EPM", "600")
	epm, err := strconv.ParseInt(epmStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RATE_LIMIT_EPM: %w", err)
	}
	cfg.DefaultRateLimitEPM = epm

	intervalStr := getEnv("ANALYZER_INTERVAL", "1h")
	interval, err := time.ParseDuration(intervalStr)
	if err != nil {
		return nil, fmt.Errorf("invalid ANALYZER_INTERVAL: %w", err)
	}
	cfg.AnalyzerInterval = interval

	alertStr := getEnv("COST_ALERT_MINOR", "1000000")
	alert, err := strconv.ParseInt(alertStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid COST_ALERT_MINOR: %w", err)
	}
	cfg.CostAlertMinor = alert

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
