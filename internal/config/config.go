package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	TokenSecret   string
	AccessTTL     time.Duration
	CORSOrigin    string
	// Logging
	LogLevel  string
	LogFormat string
	// Redis backs the work queue and workspace locks when set
	RedisURL    string
	QueuePrefix string
	LockTTL     time.Duration
	// Graph storage pool
	DBMaxOpenConns int
	DBMaxIdleConns int
	// Search indexes published vertices when both MEILI_URL and REDIS_URL are set
	MeiliURL    string
	MeiliAPIKey string
	// UserProperties are the user-visible property IRIs added to the ontology
	UserProperties []string
}

// Load reads the environment. An empty DATABASE_URL selects the in-memory
// graph, and an empty REDIS_URL the log-only queue with in-process locks.
func Load() Config {
	return Config{
		Addr:           getenv("API_ADDR", ":8787"),
		DatabaseURL:    getenv("DATABASE_URL", ""),
		MigrationsDir:  getenv("GRAPHDESK_MIGRATIONS_DIR", "./db/migrations"),
		TokenSecret:    getenv("GRAPHDESK_TOKEN_SECRET", "graphdesk-dev-secret"),
		AccessTTL:      time.Duration(getenvInt("GRAPHDESK_ACCESS_TTL_SECONDS", 900)) * time.Second,
		CORSOrigin:     getenv("GRAPHDESK_CORS_ORIGIN", "*"),
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getenv("LOG_FORMAT", "json")),
		RedisURL:       getenv("REDIS_URL", ""),
		QueuePrefix:    getenv("GRAPHDESK_QUEUE_PREFIX", "graphdesk"),
		LockTTL:        time.Duration(getenvInt("GRAPHDESK_LOCK_TTL_SECONDS", 30)) * time.Second,
		DBMaxOpenConns: getenvInt("GRAPHDESK_DB_MAX_OPEN_CONNS", 20),
		DBMaxIdleConns: getenvInt("GRAPHDESK_DB_MAX_IDLE_CONNS", 10),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliAPIKey:    getenv("MEILI_API_KEY", ""),
		UserProperties: getenvList("GRAPHDESK_USER_PROPERTIES"),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
