package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	TelegramBotToken  string
	RegistryFilePath  string
	DatabaseURL       string
	ServerPort        string
	LogLevel          string
	CaptchaSolverURL  string
	SweepHour         int
	CacheTTL          time.Duration
	RateLimitWindow   time.Duration
	TrackingExpiry    time.Duration
	MaxTrackedPerUser int
	ProviderTimeout   time.Duration
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		logrus.Warn("Error loading .env file, using system environment variables")
	}

	return &Config{
		TelegramBotToken:  getEnv("TELEGRAM_BOT_TRACKING_API_KEY", ""),
		RegistryFilePath:  getEnv("REGISTRY_FILE", "data/applications.txt"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		ServerPort:        getEnv("SERVER_PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		CaptchaSolverURL:  getEnv("CAPTCHA_SOLVER_URL", ""),
		SweepHour:         getEnvInt("SWEEP_HOUR", 9),
		CacheTTL:          time.Duration(getEnvInt("CACHE_TTL_MINUTES", 60)) * time.Minute,
		RateLimitWindow:   time.Duration(getEnvInt("RATE_LIMIT_SECONDS", 60)) * time.Second,
		TrackingExpiry:    time.Duration(getEnvInt("TRACKING_EXPIRY_DAYS", 60)) * 24 * time.Hour,
		MaxTrackedPerUser: getEnvInt("MAX_TRACKED_PER_USER", 5),
		ProviderTimeout:   time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 120)) * time.Second,
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logrus.Warnf("Invalid %s value: %s, using default %d", key, value, fallback)
		return fallback
	}
	return parsed
}
