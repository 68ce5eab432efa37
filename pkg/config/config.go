// Package config loads the environment-variable configuration surface
// from spec §6, following the teacher's main.go idiom of reading
// directly from os.Getenv with strconv conversions and sane defaults,
// collected here into one loader instead of scattered across main.go.
package config

import (
	"os"
	"strconv"
)

// Config is every environment-tunable knob the system reads at boot.
type Config struct {
	Port string

	DBPath string

	DiscordWebhookURL string
	CheckScheduleCron  string
	WorkerRunOnBoot    bool

	ScrapeTimeoutMs int
	EnablePlaywright bool

	OpenAIAPIKey     string
	OpenAIModelSmall string

	AIDailyBudgetUSD              float64
	AIFallbackConfidenceThreshold float64
	OutOfStockVerifyThreshold     float64
	AIEvidenceMaxChars            int
	AIMaxOutputTokens             int
}

// Load reads every env var, applying spec §6's defaults and clamps.
func Load() Config {
	return Config{
		Port: getEnvDefault("PORT", "9090"),

		DBPath: getEnvDefault("DB_PATH", "./pricewatch.db"),

		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
		CheckScheduleCron: getEnvDefault("CHECK_SCHEDULE_CRON", "0 9 * * *"),
		WorkerRunOnBoot:   getEnvBool("WORKER_RUN_ON_BOOT", false),

		ScrapeTimeoutMs:  getEnvInt("SCRAPE_TIMEOUT_MS", 20000),
		EnablePlaywright: getEnvBool("ENABLE_PLAYWRIGHT", true), // "false" disables, per spec

		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModelSmall: getEnvDefault("OPENAI_MODEL_SMALL", "gpt-5-mini"),

		AIDailyBudgetUSD:              getEnvFloat("AI_DAILY_BUDGET_USD", 1.00),
		AIFallbackConfidenceThreshold: clamp(getEnvFloat("AI_FALLBACK_CONFIDENCE_THRESHOLD", 0.88), 0.70, 0.98),
		OutOfStockVerifyThreshold:     clamp(getEnvFloat("OUT_OF_STOCK_VERIFY_CONFIDENCE_THRESHOLD", 0.78), 0.60, 0.95),
		AIEvidenceMaxChars:            clampInt(getEnvInt("AI_EVIDENCE_MAX_CHARS", 6000), 2500, 12000),
		AIMaxOutputTokens:             clampInt(getEnvInt("AI_MAX_OUTPUT_TOKENS", 180), 80, 300),
	}
}

// Note: OPENAI_INPUT_COST_PER_1M / OPENAI_OUTPUT_COST_PER_1M are read
// directly by aiextractor.EstimateCostUSD at call time, since they are
// per-estimate overrides rather than boot-time configuration.

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v != "false"
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return parsed
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
