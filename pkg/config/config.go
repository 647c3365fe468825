package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string
	MongoDBName string
	RedisURL    string
	AppEnv      string
	BaseURL     string
	LogLevel    string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	AllowedEmails      []string

	JWTSecret   string
	AuthCookie  string
	FrontendURL string

	DedupWindow    time.Duration
	SweepInterval  time.Duration
	ActiveWindow   time.Duration
	TrackRateLimit float64
	TrackRateBurst int
	// TrustProxy honours X-Forwarded-For and X-Real-IP. Enable only behind a
	// proxy that overwrites them.
	TrustProxy bool
}

func Load() *Config {
	_ = godotenv.Load() // Ignore error if .env not found (e.g. prod)

	return &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", "file:db.sqlite"),
		MongoDBName: getEnv("MONGODB_DATABASE", "Webdev"),
		RedisURL:    getEnv("REDIS_URL", ""),
		AppEnv:      getEnv("APP_ENV", "local"),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", "http://localhost:8080/auth/google/callback"),
		AllowedEmails:      getList("ALLOWED_EMAILS"),

		JWTSecret:   getEnv("JWT_SECRET", "secret"),
		AuthCookie:  getEnv("AUTH_COOKIE", "token"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),

		DedupWindow:    getDuration("DEDUP_WINDOW", time.Hour),
		SweepInterval:  getDuration("SWEEP_INTERVAL", 5*time.Minute),
		ActiveWindow:   getDuration("ACTIVE_WINDOW", 30*time.Minute),
		TrackRateLimit: getFloat("TRACK_RATE_LIMIT", 20),
		TrackRateBurst: getInt("TRACK_RATE_BURST", 40),
		TrustProxy:     getBool("TRUST_PROXY", false),
	}
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	f, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return b
}

func getList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
