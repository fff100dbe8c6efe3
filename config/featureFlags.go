package config

import (
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// SaleEventsEnabled turns on the sale event dispatcher (Pub/Sub publishing).
//
// Set via env:
// - SALE_EVENTS_ENABLED=true
func SaleEventsEnabled() bool {
	return boolFromEnv("SALE_EVENTS_ENABLED")
}

// SaleCacheEnabled caches sale detail projections in redis.
//
// Set via env:
// - SALE_CACHE_ENABLED=true
func SaleCacheEnabled() bool {
	return boolFromEnv("SALE_CACHE_ENABLED")
}

// SaleLockTTLSeconds bounds how long one invoice edit may hold its redis lock.
func SaleLockTTLSeconds() int {
	n := intFromEnv("SALE_LOCK_TTL_SECONDS", 30)
	if n <= 0 {
		return 30
	}
	return n
}

// SaleCacheEvictDelay is how long after a sale mutation its cached detail is
// evicted a second time, dropping fills raced in by readers of the old state.
//
// Set via env:
// - SALE_CACHE_EVICT_DELAY_MS (default 1000, 0 disables)
func SaleCacheEvictDelay() time.Duration {
	n := intFromEnv("SALE_CACHE_EVICT_DELAY_MS", 1000)
	if n < 0 {
		n = 0
	}
	return time.Duration(n) * time.Millisecond
}

// DefaultGstRates are applied to GST invoices that do not carry their own rates.
//
// Set via env (percent):
// - GST_DEFAULT_CGST_RATE (default 9)
// - GST_DEFAULT_SGST_RATE (default 9)
// - GST_DEFAULT_IGST_RATE (default 0)
func DefaultGstRates() (cgst, sgst, igst decimal.Decimal) {
	return decimalFromEnv("GST_DEFAULT_CGST_RATE", decimal.NewFromInt(9)),
		decimalFromEnv("GST_DEFAULT_SGST_RATE", decimal.NewFromInt(9)),
		decimalFromEnv("GST_DEFAULT_IGST_RATE", decimal.Zero)
}

func decimalFromEnv(key string, def decimal.Decimal) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		return def
	}
	return d
}
