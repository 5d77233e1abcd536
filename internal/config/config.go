package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, loaded from the environment with an
// optional .env file for local runs.
type Config struct {
	Port string

	// AccountsBaseURL is the base URL of the account ledger service. Empty
	// selects the in-memory account service (local runs and tests).
	AccountsBaseURL string

	// DatabaseURL selects the postgres ledger store; empty selects memory.
	DatabaseURL string

	// RedisAddr enables the transaction read cache when set.
	RedisAddr string

	// KafkaBrokers enables event publishing when non-empty.
	KafkaBrokers []string

	// AccountCallTimeout bounds every single call to the account service.
	AccountCallTimeout time.Duration

	// AccountRetries is the transport retry budget per account-service call.
	AccountRetries int

	// GuardRetries bounds the conditional-update retry loop per operation.
	GuardRetries int
}

// Load reads configuration, tolerating a missing .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:               getEnv("PORT", "8080"),
		AccountsBaseURL:    getEnv("ACCOUNTS_BASE_URL", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		KafkaBrokers:       splitList(getEnv("KAFKA_BROKERS", "")),
		AccountCallTimeout: getDuration("ACCOUNT_CALL_TIMEOUT", 3*time.Second),
		AccountRetries:     getInt("ACCOUNT_RETRIES", 3),
		GuardRetries:       getInt("GUARD_RETRIES", 5),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
