package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port         string
	DatabaseURL  string
	RedisURL     string
	KafkaBrokers string

	MpesaBaseURL        string
	MpesaConsumerKey    string
	MpesaConsumerSecret string
	MpesaShortcode      string
	MpesaPasskey        string
	MpesaTillNumber     string
	MpesaCallbackURL    string

	DownloadFile     string
	DownloadTokenTTL time.Duration

	NameMatchPolicy   string
	MinNameLength     int
	MaxVerifyAttempts int
}

func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "8082"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		KafkaBrokers: os.Getenv("KAFKA_BROKERS"),

		MpesaBaseURL:        getEnv("MPESA_BASE_URL", "https://api.safaricom.co.ke"),
		MpesaConsumerKey:    os.Getenv("MPESA_CONSUMER_KEY"),
		MpesaConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
		MpesaShortcode:      os.Getenv("MPESA_SHORTCODE"),
		MpesaPasskey:        os.Getenv("MPESA_PASSKEY"),
		MpesaTillNumber:     os.Getenv("MPESA_TILL_NUMBER"),
		MpesaCallbackURL:    os.Getenv("MPESA_CALLBACK_URL"),

		DownloadFile:     getEnv("DOWNLOAD_FILE", "files/book.pdf"),
		DownloadTokenTTL: getDuration("DOWNLOAD_TOKEN_TTL", 30*time.Minute),

		NameMatchPolicy:   getEnv("NAME_MATCH_POLICY", "strict"),
		MinNameLength:     getInt("MIN_NAME_LENGTH", 3),
		MaxVerifyAttempts: getInt("MAX_VERIFY_ATTEMPTS", 3),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
