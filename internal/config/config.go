package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values. It is loaded once at process start.
type Config struct {
	HTTPAddr     string
	SyncInterval time.Duration

	// Datastore
	DatabaseDriver string
	DatabaseDSN    string
	DataDir        string

	// Credential provider
	TokenServiceURL string
	TokenServiceKey string

	// Providers
	GraphBaseURL          string
	GoogleAPIEndpoint     string
	MessageLookbackDays   int
	CalendarLookbackDays  int
	CalendarLookaheadDays int
	FetchMaxPages         int
	FetchPageSize         int

	// Jobs
	NATSURL string

	// Trigger auth
	AuthJWKSURL string

	// Coordination
	WorkerID      string
	LeaseTTL      time.Duration
	DedupPrecheck bool
	LogDuplicates bool

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from the environment, after loading .env if present.
func Load() Config {
	_ = godotenv.Load()

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "mailsync"
	}

	return Config{
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		SyncInterval: time.Duration(getInt("SYNC_INTERVAL_MINUTES", 15)) * time.Minute,

		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "data/mailsync.db"),
		DataDir:        getEnv("DATA_DIR", "data"),

		TokenServiceURL: getEnv("TOKEN_SERVICE_URL", "http://localhost:3000"),
		TokenServiceKey: getEnv("TOKEN_SERVICE_KEY", ""),

		GraphBaseURL:          getEnv("GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0"),
		GoogleAPIEndpoint:     getEnv("GOOGLE_API_ENDPOINT", ""),
		MessageLookbackDays:   getInt("MESSAGE_LOOKBACK_DAYS", 7),
		CalendarLookbackDays:  getInt("CALENDAR_LOOKBACK_DAYS", 7),
		CalendarLookaheadDays: getInt("CALENDAR_LOOKAHEAD_DAYS", 30),
		FetchMaxPages:         getInt("FETCH_MAX_PAGES", 20),
		FetchPageSize:         getInt("FETCH_PAGE_SIZE", 50),

		NATSURL:     getEnv("NATS_URL", ""),
		AuthJWKSURL: getEnv("AUTH_JWKS_URL", ""),

		WorkerID:      getEnv("WORKER_ID", hostname),
		LeaseTTL:      getDuration("LEASE_TTL", 10*time.Minute),
		DedupPrecheck: getBool("DEDUP_PRECHECK", true),
		LogDuplicates: getBool("LOG_DUPLICATES", true),

		LogFile:  getEnv("LOG_FILE", ""),
		LogLevel: parseLogLevel(getEnv("LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
