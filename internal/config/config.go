package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string

	CallTimeout    time.Duration
	SweepInterval  time.Duration
	SweepBatchSize int

	PushTimeout     time.Duration
	PushTTLSeconds  int
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string

	RateLimitPerMinute           int
	RateLimitBurst               int
	RestaurantRateLimitPerMinute int
	RestaurantRateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),

		CallTimeout:    readDurationSeconds("CALL_TIMEOUT_SECONDS", 300),
		SweepInterval:  readDurationSeconds("SWEEP_INTERVAL_SECONDS", 30),
		SweepBatchSize: readInt("SWEEP_BATCH_SIZE", 100),

		PushTimeout:     readDurationSeconds("PUSH_TIMEOUT_SECONDS", 5),
		PushTTLSeconds:  readInt("PUSH_TTL_SECONDS", 60),
		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubscriber: os.Getenv("VAPID_SUBSCRIBER"),

		RateLimitPerMinute:           readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:               readInt("RATE_LIMIT_BURST", 30),
		RestaurantRateLimitPerMinute: readInt("RESTAURANT_RATE_LIMIT_PER_MIN", 600),
		RestaurantRateLimitBurst:     readInt("RESTAURANT_RATE_LIMIT_BURST", 120),
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
