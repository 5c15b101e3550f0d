package config

import (
	"os"
	"strings"
	"testing"
)

// setupTestEnv sets up environment variables for testing
func setupTestEnv(t *testing.T) func() {
	// Save original env vars
	origVars := map[string]string{
		"HTTP_PORT":     os.Getenv("HTTP_PORT"),
		"TCP_PORT":      os.Getenv("TCP_PORT"),
		"DB_DSN":        os.Getenv("DB_DSN"),
		"REDIS_ENABLED": os.Getenv("REDIS_ENABLED"),
		"REDIS_ADDR":    os.Getenv("REDIS_ADDR"),
		"GO_ENV":        os.Getenv("GO_ENV"),
		"LOG_LEVEL":     os.Getenv("LOG_LEVEL"),
	}

	// Clear all env vars
	os.Unsetenv("HTTP_PORT")
	os.Unsetenv("TCP_PORT")
	os.Unsetenv("DB_DSN")
	os.Unsetenv("REDIS_ENABLED")
	os.Unsetenv("REDIS_ADDR")
	os.Unsetenv("GO_ENV")
	os.Unsetenv("LOG_LEVEL")

	// Return cleanup function
	return func() {
		for key, val := range origVars {
			if val != "" {
				os.Setenv(key, val)
			} else {
				os.Unsetenv(key)
			}
		}
	}
}

func TestValidateEnv_ValidConfiguration(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("HTTP_PORT", "8080")
	os.Setenv("TCP_PORT", "7000")
	os.Setenv("DB_DSN", "test.db")
	os.Setenv("REDIS_ENABLED", "false")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.HTTPPort != "8080" {
		t.Errorf("Expected HTTP_PORT to be '8080', got '%s'", cfg.HTTPPort)
	}
	if cfg.TCPPort != "7000" {
		t.Errorf("Expected TCP_PORT to be '7000', got '%s'", cfg.TCPPort)
	}
	if cfg.DB_DSN != "test.db" {
		t.Errorf("Expected DB_DSN to be 'test.db', got '%s'", cfg.DB_DSN)
	}
	if cfg.GoEnv != "production" {
		t.Errorf("Expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected LOG_LEVEL to default to 'info', got '%s'", cfg.LogLevel)
	}
}

func TestValidateEnv_DefaultsWhenUnset(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error with no env vars set, got: %v", err)
	}

	if cfg.HTTPPort != "8080" {
		t.Errorf("Expected HTTP_PORT to default to '8080', got '%s'", cfg.HTTPPort)
	}
	if cfg.TCPPort != "7000" {
		t.Errorf("Expected TCP_PORT to default to '7000', got '%s'", cfg.TCPPort)
	}
	if cfg.DB_DSN != "lair-chat.db" {
		t.Errorf("Expected DB_DSN to default to 'lair-chat.db', got '%s'", cfg.DB_DSN)
	}
}

func TestValidateEnv_InvalidHTTPPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("HTTP_PORT", "99999")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid HTTP_PORT, got nil")
	}
	if !strings.Contains(err.Error(), "HTTP_PORT must be a valid port number") {
		t.Errorf("Expected error message about invalid HTTP_PORT, got: %v", err)
	}
}

func TestValidateEnv_InvalidTCPPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("TCP_PORT", "not-a-port")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid TCP_PORT, got nil")
	}
	if !strings.Contains(err.Error(), "TCP_PORT must be a valid port number") {
		t.Errorf("Expected error message about invalid TCP_PORT, got: %v", err)
	}
}

func TestValidateEnv_InvalidRedisAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("REDIS_ENABLED", "true")
	os.Setenv("REDIS_ADDR", "invalid-format")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid REDIS_ADDR, got nil")
	}
	if !strings.Contains(err.Error(), "REDIS_ADDR must be in format 'host:port'") {
		t.Errorf("Expected error message about REDIS_ADDR format, got: %v", err)
	}
}

func TestValidateEnv_RedisDefaultAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("REDIS_ENABLED", "true")
	// Don't set REDIS_ADDR

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("Expected REDIS_ADDR to default to 'localhost:6379', got '%s'", cfg.RedisAddr)
	}
}

func TestValidateEnv_RedisDisabledLeavesAddrEmpty(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.RedisEnabled {
		t.Errorf("Expected RedisEnabled to default to false")
	}
	if cfg.RedisAddr != "" {
		t.Errorf("Expected RedisAddr to stay empty when disabled, got '%s'", cfg.RedisAddr)
	}
}

func TestValidateEnv_OptionalDefaults(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.GoEnv != "production" {
		t.Errorf("Expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected LOG_LEVEL to default to 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.RateLimitApiGlobal != "1000-M" {
		t.Errorf("Expected RATE_LIMIT_API_GLOBAL to default to '1000-M', got '%s'", cfg.RateLimitApiGlobal)
	}
}

func TestRedactSecret(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		expected string
	}{
		{"Long secret", "this-is-a-very-long-secret-key", "this-is-***"},
		{"Short secret", "short", "***"},
		{"Exactly 8 chars", "12345678", "***"},
		{"9 chars", "123456789", "12345678***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := redactSecret(tt.secret)
			if result != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestIsValidHostPort(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected bool
	}{
		{"Valid localhost", "localhost:8080", true},
		{"Valid IP", "127.0.0.1:3000", true},
		{"Valid hostname", "example.com:443", true},
		{"Missing port", "localhost", false},
		{"Missing host", ":8080", false},
		{"Invalid port", "localhost:99999", false},
		{"Non-numeric port", "localhost:abc", false},
		{"Multiple colons", "localhost:8080:9090", false},
		{"Empty string", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isValidHostPort(tt.addr)
			if result != tt.expected {
				t.Errorf("isValidHostPort('%s') = %v, expected %v", tt.addr, result, tt.expected)
			}
		})
	}
}
