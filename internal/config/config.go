package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerPort      string
	DatabaseURL     string
	JWTSecret       string
	CORSAllowOrigin []string
	LogLevel        slog.Level

	ProbeTimeout           time.Duration
	WorkerPoolSize         int
	SweepInterval          time.Duration
	DefaultAlertThreshold  int
	DefaultIntervalMinutes int

	RetentionDays     int
	RetentionSchedule string

	DBConnectRetries int
	DBConnectDelay   time.Duration

	BrevoAPIKey string
	EmailFrom   string
}

// EmailEnabled reports whether alert e-mail can be sent.
func (c *Config) EmailEnabled() bool {
	return c.BrevoAPIKey != "" && c.EmailFrom != ""
}

// Retention returns the observation retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func Load() *Config {
	return &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		DatabaseURL:     requireEnv("DATABASE_URL"),
		JWTSecret:       requireEnv("JWT_SECRET"),
		CORSAllowOrigin: getList("CORS_ALLOW_ORIGIN", []string{"http://localhost:3000"}),
		LogLevel:        getLevel("LOG_LEVEL", slog.LevelInfo),

		ProbeTimeout:           getDuration("PROBE_TIMEOUT", 10*time.Second),
		WorkerPoolSize:         getPositiveInt("WORKER_POOL_SIZE", 10),
		SweepInterval:          getDuration("SWEEP_INTERVAL", 60*time.Second),
		DefaultAlertThreshold:  getPositiveInt("DEFAULT_ALERT_THRESHOLD", 3),
		DefaultIntervalMinutes: getPositiveInt("DEFAULT_INTERVAL_MINUTES", 5),

		RetentionDays:     getPositiveInt("RETENTION_DAYS", 7),
		RetentionSchedule: getEnv("RETENTION_SCHEDULE", "0 0 * * *"),

		DBConnectRetries: getPositiveInt("DB_CONNECT_RETRIES", 5),
		DBConnectDelay:   getDuration("DB_CONNECT_DELAY", 3*time.Second),

		BrevoAPIKey: os.Getenv("BREVO_API_KEY"),
		EmailFrom:   os.Getenv("EMAIL_FROM"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration for env var, using default",
			"key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer for env var, using default",
			"key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func getPositiveInt(key string, fallback int) int {
	n := getInt(key, fallback)
	if n < 1 {
		slog.Warn("non-positive integer for env var, using default",
			"key", key, "value", n, "default", fallback)
		return fallback
	}
	return n
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getLevel(key string, fallback slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		slog.Warn("invalid log level for env var, using default",
			"key", key, "value", v, "default", fallback)
		return fallback
	}
	return lvl
}
