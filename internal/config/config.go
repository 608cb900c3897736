package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string

	HeartbeatInterval time.Duration
	SubscriberBuffer  int

	RelayPollInterval time.Duration
	RelayBatchSize    int

	NotifyPollInterval  time.Duration
	NotifyBatchSize     int
	NotifySMSProvider   string
	NotifyEmailProvider string

	RateLimitPerMinute       int
	RateLimitBurst           int
	ClinicRateLimitPerMinute int
	ClinicRateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),

		HeartbeatInterval: readDurationSeconds("HEARTBEAT_INTERVAL_SECONDS", 15),
		SubscriberBuffer:  readInt("SUBSCRIBER_BUFFER", 16),

		RelayPollInterval: readDurationSeconds("RELAY_POLL_INTERVAL_SECONDS", 1),
		RelayBatchSize:    readInt("RELAY_BATCH_SIZE", 100),

		NotifyPollInterval:  readDurationSeconds("NOTIFY_POLL_INTERVAL_SECONDS", 1),
		NotifyBatchSize:     readInt("NOTIFY_BATCH_SIZE", 50),
		NotifySMSProvider:   os.Getenv("NOTIFY_SMS_PROVIDER"),
		NotifyEmailProvider: os.Getenv("NOTIFY_EMAIL_PROVIDER"),

		RateLimitPerMinute:       readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:           readInt("RATE_LIMIT_BURST", 30),
		ClinicRateLimitPerMinute: readInt("CLINIC_RATE_LIMIT_PER_MIN", 600),
		ClinicRateLimitBurst:     readInt("CLINIC_RATE_LIMIT_BURST", 120),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
