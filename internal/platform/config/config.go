// Package config loads process configuration for the ingestion job.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds the runtime configuration of the ingestion batch job.
// It is assembled once at the entry point from environment variables and
// passed into constructors; nothing reads the environment afterwards.
type Config struct {
	Symbols           []string // display symbols to ingest
	Mode              string   // "daily" or "hours"
	OverlapDays       int      // re-fetch overlap to capture revised recent data
	BatchSize         int      // rows per upsert batch
	PacingSeconds     int      // fixed delay between symbols
	RequestsPerMinute int      // upstream request budget; 0 disables the per-minute limiter
	IntradayInterval  string   // candle interval for MODE=hours
	DefaultStartDate  string   // history start when the store has no data yet
}

// Load reads configuration from environment variables, applying documented
// defaults. An empty Symbols slice means no symbols were configured; the
// entry point must exit non-zero without touching network or store.
func Load() Config {
	return Config{
		Symbols:           splitSymbols(),
		Mode:              strings.ToLower(getEnv("MODE", "daily")),
		OverlapDays:       getEnvInt("FETCH_OVERLAP_DAYS", 1),
		BatchSize:         getEnvInt("ALPHA_VANTAGE_BATCH_SIZE", 50),
		PacingSeconds:     getEnvInt("ALPHA_VANTAGE_SLEEP_SECONDS", 2),
		RequestsPerMinute: getEnvInt("ALPHA_VANTAGE_REQUESTS_PER_MINUTE", 0),
		IntradayInterval:  getEnv("INTRADAY_INTERVAL", "60min"),
		DefaultStartDate:  getEnv("DEFAULT_START_DATE", "2022-01-01"),
	}
}

// splitSymbols reads a comma-separated SYMBOLS list, falling back to a
// single SYMBOL. Blank entries are dropped.
func splitSymbols() []string {
	raw := os.Getenv("SYMBOLS")
	if strings.TrimSpace(raw) == "" {
		raw = os.Getenv("SYMBOL")
	}

	var symbols []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
