// Package testutil holds helpers shared by integration tests.
package testutil

import (
	"testing"

	"github.com/kelseyhightower/envconfig"
)

// IntegrationEnv names the external services integration tests may use.
type IntegrationEnv struct {
	RedisAddr   string `envconfig:"COURIER_TEST_REDIS_ADDR"`
	DatabaseURL string `envconfig:"COURIER_TEST_DATABASE_URL"`
}

// LoadEnv reads the integration settings from the environment.
func LoadEnv(t testing.TB) IntegrationEnv {
	t.Helper()
	var env IntegrationEnv
	if err := envconfig.Process("", &env); err != nil {
		t.Fatalf("failed to read integration env: %v", err)
	}
	return env
}

// RedisAddr returns the test redis address or skips the test.
func RedisAddr(t testing.TB) string {
	t.Helper()
	addr := LoadEnv(t).RedisAddr
	if addr == "" {
		t.Skip("COURIER_TEST_REDIS_ADDR not set")
	}
	return addr
}

// DatabaseURL returns the test postgres URL or skips the test.
func DatabaseURL(t testing.TB) string {
	t.Helper()
	url := LoadEnv(t).DatabaseURL
	if url == "" {
		t.Skip("COURIER_TEST_DATABASE_URL not set")
	}
	return url
}
