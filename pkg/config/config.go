// Package config centralizes environment configuration for the gateway and
// api processes. A .env file is honored in development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nestbay/realtime/pkg/limiter"
)

type Config struct {
	GatewayAddr string
	APIAddr     string

	JWTSecret string

	KafkaBrokers []string
	KafkaTopic   string

	RedisAddr     string
	RedisPassword string

	ScyllaHosts []string
	Keyspace    string

	// PresenceTTL is the retention window for offline presence records.
	PresenceTTL time.Duration

	Limits map[limiter.Action]limiter.Rule
}

func Load() *Config {
	_ = godotenv.Load(".env")

	return &Config{
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8080"),
		APIAddr:       getEnv("API_ADDR", ":8081"),
		JWTSecret:     getEnv("JWT_SECRET", "dev-secret"),
		KafkaBrokers:  strings.Split(getEnv("KAFKA_BROKERS", "localhost:19092"), ","),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "realtime-events"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		ScyllaHosts:   strings.Split(getEnv("SCYLLA_HOSTS", "localhost:9042"), ","),
		Keyspace:      getEnv("SCYLLA_KEYSPACE", "realtime"),
		PresenceTTL:   getDuration("PRESENCE_TTL", 24*time.Hour),
		Limits: map[limiter.Action]limiter.Rule{
			limiter.ActionMessageSend: {
				Max:    getInt("LIMIT_MESSAGES", 10),
				Window: getDuration("LIMIT_MESSAGES_WINDOW", time.Minute),
			},
			limiter.ActionConversationCreate: {
				Max:    getInt("LIMIT_CONVERSATIONS", 5),
				Window: getDuration("LIMIT_CONVERSATIONS_WINDOW", time.Hour),
			},
			limiter.ActionFileUpload: {
				Max:    getInt("LIMIT_UPLOADS", 10),
				Window: getDuration("LIMIT_UPLOADS_WINDOW", 5*time.Minute),
			},
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
