package config

import (
	"os"
	"strconv"

	"github.com/shopspring/decimal"
)

type AppConfig struct {
	HTTPAddr string

	RedisAddr string
	RedisPass string

	StripeBaseURL       string
	StripeSecretKey     string
	StripeWebhookSecret string

	PlatformFeePercent decimal.Decimal
	PlatformAccountID  string

	RegretPeriodHours int
	OrderSweepBatch   int

	OrderSweepCron        string
	SubscriptionSweepCron string
}

func Load() AppConfig {
	return AppConfig{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		RedisAddr: getEnv("REDIS_ADDR", "redis:6379"),
		RedisPass: getEnv("REDIS_PASS", ""),

		StripeBaseURL:       getEnv("STRIPE_BASE_URL", "https://api.stripe.com"),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		PlatformFeePercent: getEnvDecimal("PLATFORM_FEE_PERCENT", "10"),
		PlatformAccountID:  getEnv("PLATFORM_ACCOUNT_ID", "platform"),

		RegretPeriodHours: getEnvInt("REGRET_PERIOD_HOURS", 24),
		OrderSweepBatch:   getEnvInt("ORDER_SWEEP_BATCH", 50),

		OrderSweepCron:        getEnv("ORDER_SWEEP_CRON", "*/5 * * * *"),
		SubscriptionSweepCron: getEnv("SUBSCRIPTION_SWEEP_CRON", "0 1 * * *"),
	}
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

func getEnvDecimal(key, fallback string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(fallback)
}
