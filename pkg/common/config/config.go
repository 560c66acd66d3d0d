package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is built once in main and handed to every constructor. Nothing
// in pkg/ reads the environment directly.
type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Inbound trigger auth
	SyncSecret string

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis (import-status snapshot cache; optional)
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	StatusCacheTTL time.Duration

	// Kafka event bus (optional)
	KafkaBrokers    []string
	SyncEventsTopic string

	// Review provider API
	ProviderBaseURL      string
	ProviderTokenURL     string
	ProviderClientID     string
	ProviderClientSecret string
	ProviderTimeout      time.Duration
	PageSize             int
	MaxPagesPerFetch     int

	// Notification channel
	NotifyBaseURL string
	NotifyAPIKey  string
	NotifyTimeout time.Duration

	// Retry policy shared by fetch, token refresh and storage calls
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Sync pipeline
	SyncTimeBudget    time.Duration
	ExistingLoadChunk int
	NotifyBatchSize   int
	BackfillScanLimit int

	// Job queue
	JobBatchSize  int
	JobDeferDelay time.Duration

	// Alert rules
	AlertRulesPath string
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 60*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1*1024*1024)),

		SyncSecret: getEnv("SYNC_SHARED_SECRET", ""),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "reviewpulse"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "reviewpulse123"),
		PostgresDB:       getEnv("POSTGRES_DB", "reviewpulse"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getIntEnv("REDIS_DB", 0),
		StatusCacheTTL: getDuration("STATUS_CACHE_TTL", 24*time.Hour),

		KafkaBrokers:    getStringSliceEnv("KAFKA_BROKERS", nil),
		SyncEventsTopic: getEnv("SYNC_EVENTS_TOPIC", "reviewpulse.sync.events"),

		ProviderBaseURL:      getEnv("PROVIDER_BASE_URL", "https://mybusiness.googleapis.com/v4"),
		ProviderTokenURL:     getEnv("PROVIDER_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		ProviderClientID:     getEnv("PROVIDER_CLIENT_ID", ""),
		ProviderClientSecret: getEnv("PROVIDER_CLIENT_SECRET", ""),
		ProviderTimeout:      getDuration("PROVIDER_TIMEOUT", 20*time.Second),
		PageSize:             getIntEnv("PROVIDER_PAGE_SIZE", 50),
		MaxPagesPerFetch:     getIntEnv("PROVIDER_MAX_PAGES", 20),

		NotifyBaseURL: getEnv("NOTIFY_BASE_URL", ""),
		NotifyAPIKey:  getEnv("NOTIFY_API_KEY", ""),
		NotifyTimeout: getDuration("NOTIFY_TIMEOUT", 15*time.Second),

		RetryMaxAttempts: getIntEnv("RETRY_MAX_ATTEMPTS", 4),
		RetryBaseDelay:   getDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryMaxDelay:    getDuration("RETRY_MAX_DELAY", 8*time.Second),

		SyncTimeBudget:    getDuration("SYNC_TIME_BUDGET", 4*time.Minute),
		ExistingLoadChunk: getIntEnv("EXISTING_LOAD_CHUNK", 100),
		NotifyBatchSize:   getIntEnv("NOTIFY_BATCH_SIZE", 25),
		BackfillScanLimit: getIntEnv("BACKFILL_SCAN_LIMIT", 20),

		JobBatchSize:  getIntEnv("JOB_BATCH_SIZE", 10),
		JobDeferDelay: getDuration("JOB_DEFER_DELAY", 5*time.Minute),

		AlertRulesPath: getEnv("ALERT_RULES_PATH", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
