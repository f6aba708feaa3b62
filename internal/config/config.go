// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config is the process configuration, read from the environment.
// Entrypoints import github.com/joho/godotenv/autoload so a local .env is honored.
type Config struct {
	Port      string
	JWTSecret string
	LogLevel  string
	LogFormat string

	RateLimitMax    int
	RateLimitWindow time.Duration
	RateLimitSweep  time.Duration

	MatchTick      time.Duration
	MatchGroupSize int
	MatchTimeout   time.Duration

	RoomMaxPlayers int

	DatabaseURL string

	RedisAddr       string
	RedisDB         int
	RoomEventsQueue string

	HistorianBatchSize int
	HistorianFlush     time.Duration
}

// Load reads every setting, falling back to defaults for unset or unparsable values.
func Load() Config {
	return Config{
		Port:      getEnv("PORT", "8080"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		RateLimitMax:    getEnvInt("RATE_LIMIT_MAX", 100),
		RateLimitWindow: getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitSweep:  getEnvDuration("RATE_LIMIT_SWEEP", time.Minute),

		MatchTick:      getEnvDuration("MATCH_TICK", time.Second),
		MatchGroupSize: getEnvInt("MATCH_GROUP_SIZE", 2),
		MatchTimeout:   getEnvDuration("MATCH_TIMEOUT", 5*time.Second),

		RoomMaxPlayers: getEnvInt("ROOM_MAX_PLAYERS", 4),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		RoomEventsQueue: getEnv("ROOM_EVENTS_QUEUE", "arena_room_events"),

		HistorianBatchSize: getEnvInt("HISTORIAN_BATCH_SIZE", 20),
		HistorianFlush:     getEnvDuration("HISTORIAN_FLUSH", 500*time.Millisecond),
	}
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return ":" + c.Port
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if strings.EqualFold(c.LogFormat, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration accepts Go durations ("750ms", "2s") or a bare number of milliseconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if ms, err := strconv.Atoi(s); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
