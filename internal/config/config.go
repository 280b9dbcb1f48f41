package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port        string
	Environment string // "production" or "development"
	RedisURL    string
	MongoURI    string // optional; enables the summary archive when set

	// Persona
	PersonaPath      string
	PersonaHotReload bool

	// Memory tiers
	ProfileTTL         time.Duration // retention window for profiles, refreshed on write
	SessionTTL         time.Duration // idle window for sessions, refreshed on write
	RecentExchangesMax int           // FIFO bound on session exchange window
	SummaryThreshold   int           // unsummarized exchange count that triggers summarization
	SummaryKeepRecent  int           // exchanges kept in the window after summarizing
	SummaryCap         int           // summaries retained per user
	SummaryFetch       int           // summaries fetched for context assembly
	TokenBudget        int           // max estimated tokens per assembled context

	// Generation service (OpenAI-compatible)
	GenerationBaseURL     string
	GenerationAPIKey      string
	GenerationModel       string
	GenerationTimeout     time.Duration
	GenerationMaxTokens   int
	GenerationTemperature float64
	GenerationRPS         float64 // outbound requests per second
	GenerationRetries     int

	// Store write retry
	WriteRetries    int
	WriteRetryBase  time.Duration
	WriteRetryLimit time.Duration

	// Jobs
	SessionSweepInterval time.Duration
	SessionSweepIdle     time.Duration
	RetentionCron        string

	// API
	AuthJWTSecret   string // optional; enables bearer auth when set
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "3002"),
		Environment: getEnv("ENVIRONMENT", "development"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),
		MongoURI:    getEnv("MONGODB_URI", ""),

		PersonaPath:      getEnv("PERSONA_PATH", "configs/persona.yaml"),
		PersonaHotReload: getBoolEnv("PERSONA_HOT_RELOAD", true),

		ProfileTTL:         getDurationEnv("PROFILE_TTL", 90*24*time.Hour),
		SessionTTL:         getDurationEnv("SESSION_TTL", 24*time.Hour),
		RecentExchangesMax: getIntEnv("RECENT_EXCHANGES_MAX", 8),
		SummaryThreshold:   getIntEnv("SUMMARY_THRESHOLD", 10),
		SummaryKeepRecent:  getIntEnv("SUMMARY_KEEP_RECENT", 4),
		SummaryCap:         getIntEnv("SUMMARY_CAP", 10),
		SummaryFetch:       getIntEnv("SUMMARY_FETCH", 3),
		TokenBudget:        getIntEnv("TOKEN_BUDGET", 1500),

		GenerationBaseURL:     getEnv("GENERATION_BASE_URL", "http://localhost:8000/v1"),
		GenerationAPIKey:      getEnv("GENERATION_API_KEY", ""),
		GenerationModel:       getEnv("GENERATION_MODEL", "gpt-4o-mini"),
		GenerationTimeout:     getDurationEnv("GENERATION_TIMEOUT", 30*time.Second),
		GenerationMaxTokens:   getIntEnv("GENERATION_MAX_TOKENS", 500),
		GenerationTemperature: getFloatEnv("GENERATION_TEMPERATURE", 0.9),
		GenerationRPS:         getFloatEnv("GENERATION_RPS", 5),
		GenerationRetries:     getIntEnv("GENERATION_RETRIES", 3),

		WriteRetries:    getIntEnv("WRITE_RETRIES", 3),
		WriteRetryBase:  getDurationEnv("WRITE_RETRY_BASE", 100*time.Millisecond),
		WriteRetryLimit: getDurationEnv("WRITE_RETRY_LIMIT", 2*time.Second),

		SessionSweepInterval: getDurationEnv("SESSION_SWEEP_INTERVAL", 10*time.Minute),
		SessionSweepIdle:     getDurationEnv("SESSION_SWEEP_IDLE", 30*time.Minute),
		RetentionCron:        getEnv("RETENTION_CRON", "0 4 * * *"),

		AuthJWTSecret:   getEnv("AUTH_JWT_SECRET", ""),
		RateLimitMax:    getIntEnv("RATE_LIMIT_MAX", 60),
		RateLimitWindow: getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
	}
}

// IsProduction reports whether the process runs with production
// settings (JSON logs, stricter handler behavior).
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ArchiveEnabled reports whether the Mongo summary archive is
// configured.
func (c *Config) ArchiveEnabled() bool {
	return c.MongoURI != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
