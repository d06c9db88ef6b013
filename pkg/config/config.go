package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the risk core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Risk profiles (YAML). Empty means built-in defaults.
	ProfilesPath string

	// Auth
	JWTSecret        string
	OperatorUser     string
	OperatorPassHash string // bcrypt; empty disables password login

	// Mode checker
	ModeCheckIntervalSec int

	// Alerting
	AlertRatePerSec float64
	AlertBurst      int

	// Venue simulation (used until a live venue adapter is wired)
	SimLatencyMs int
	SimLossFrac  float64 // loss fraction applied to simulated forced closes

	// API hardening
	RequestTimeoutSec int
	RateLimitPerSec   float64
	RateLimitBurst    int
	CORSOrigins       []string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                 getEnv("PORT", "8090"),
		DBPath:               getEnv("DB_PATH", "./data/risk.db"),
		ProfilesPath:         getEnv("RISK_PROFILES_PATH", ""),
		JWTSecret:            getEnv("JWT_SECRET", "dev-secret"),
		OperatorUser:         getEnv("OPERATOR_USER", "operator"),
		OperatorPassHash:     os.Getenv("OPERATOR_PASS_HASH"),
		ModeCheckIntervalSec: getEnvInt("MODE_CHECK_INTERVAL_SEC", 60),
		AlertRatePerSec:      getEnvFloat("ALERT_RATE_PER_SEC", 1),
		AlertBurst:           getEnvInt("ALERT_BURST", 5),
		SimLatencyMs:         getEnvInt("SIM_VENUE_LATENCY_MS", 5),
		SimLossFrac:          getEnvFloat("SIM_VENUE_LOSS_FRAC", 0.001),
		RequestTimeoutSec:    getEnvInt("REQUEST_TIMEOUT_SEC", 10),
		RateLimitPerSec:      getEnvFloat("RATE_LIMIT_PER_SEC", 50),
		RateLimitBurst:       getEnvInt("RATE_LIMIT_BURST", 100),
		CORSOrigins:          splitAndTrim(getEnv("CORS_ORIGINS", "*")),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
