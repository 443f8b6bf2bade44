package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Success loading from env", func(t *testing.T) {
		// t.Setenv sets the environment variable for the duration of the test
		// and automatically restores it afterwards.
		t.Setenv("ORDER_API_URL", "https://orders.example.com/api")
		t.Setenv("ORDER_WS_URL", "wss://orders.example.com")
		t.Setenv("RESTAURANT_ID", "rest-42")
		t.Setenv("ACCESS_TOKEN", "access-token")
		t.Setenv("REFRESH_TOKEN", "refresh-token")
		t.Setenv("REQUEST_TIMEOUT_SECONDS", "5")
		t.Setenv("DB_HOST", "localhost")
		t.Setenv("DB_USER", "testuser")
		t.Setenv("DB_PASSWORD", "testpass")
		t.Setenv("DB_NAME", "testdb")
		t.Setenv("DB_PORT", "5432")
		t.Setenv("APP_PORT", "8080")
		t.Setenv("APP_ENV", "test")

		cfg := LoadConfig()

		assert.NotNil(t, cfg)
		assert.Equal(t, "https://orders.example.com/api", cfg.APIBaseURL)
		assert.Equal(t, "wss://orders.example.com", cfg.WSBaseURL)
		assert.Equal(t, "rest-42", cfg.RestaurantID)
		assert.Equal(t, "access-token", cfg.AccessToken)
		assert.Equal(t, "refresh-token", cfg.RefreshToken)
		assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
		assert.Equal(t, "localhost", cfg.DBHost)
		assert.Equal(t, "5432", cfg.DBPort)
		assert.Equal(t, "8080", cfg.AppPort)
		assert.Equal(t, "test", cfg.AppEnv)
	})
}

func TestDurationFromEnv(t *testing.T) {
	t.Run("Missing falls back to default", func(t *testing.T) {
		assert.Equal(t, 10*time.Second, durationFromEnv("REQUEST_TIMEOUT_SECONDS", 10*time.Second))
	})

	t.Run("Garbage falls back to default", func(t *testing.T) {
		t.Setenv("REQUEST_TIMEOUT_SECONDS", "soon")
		assert.Equal(t, 10*time.Second, durationFromEnv("REQUEST_TIMEOUT_SECONDS", 10*time.Second))
	})

	t.Run("Negative falls back to default", func(t *testing.T) {
		t.Setenv("REQUEST_TIMEOUT_SECONDS", "-3")
		assert.Equal(t, 10*time.Second, durationFromEnv("REQUEST_TIMEOUT_SECONDS", 10*time.Second))
	})
}
