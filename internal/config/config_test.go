package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.GuardRetries != 5 {
		t.Errorf("expected default guard retries 5, got %d", cfg.GuardRetries)
	}
	if cfg.AccountCallTimeout != 3*time.Second {
		t.Errorf("expected default call timeout 3s, got %s", cfg.AccountCallTimeout)
	}
	if cfg.KafkaBrokers != nil {
		t.Errorf("expected no brokers, got %v", cfg.KafkaBrokers)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092,")
	t.Setenv("ACCOUNT_CALL_TIMEOUT", "500ms")
	t.Setenv("GUARD_RETRIES", "8")

	cfg := Load()

	if cfg.Port != "9999" {
		t.Errorf("expected port 9999, got %s", cfg.Port)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "broker-1:9092" || cfg.KafkaBrokers[1] != "broker-2:9092" {
		t.Errorf("unexpected brokers: %v", cfg.KafkaBrokers)
	}
	if cfg.AccountCallTimeout != 500*time.Millisecond {
		t.Errorf("expected 500ms timeout, got %s", cfg.AccountCallTimeout)
	}
	if cfg.GuardRetries != 8 {
		t.Errorf("expected 8 guard retries, got %d", cfg.GuardRetries)
	}
}

func TestInvalidEnvValuesFallBack(t *testing.T) {
	t.Setenv("ACCOUNT_CALL_TIMEOUT", "not-a-duration")
	t.Setenv("ACCOUNT_RETRIES", "many")

	cfg := Load()

	if cfg.AccountCallTimeout != 3*time.Second {
		t.Errorf("expected fallback timeout, got %s", cfg.AccountCallTimeout)
	}
	if cfg.AccountRetries != 3 {
		t.Errorf("expected fallback retries, got %d", cfg.AccountRetries)
	}
}
