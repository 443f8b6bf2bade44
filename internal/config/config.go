package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIBaseURL     string
	WSBaseURL      string
	RestaurantID   string
	AccessToken    string
	RefreshToken   string
	RequestTimeout time.Duration
	DBHost         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBPort         string
	AppPort        string
	AppEnv         string
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		APIBaseURL:     os.Getenv("ORDER_API_URL"),
		WSBaseURL:      os.Getenv("ORDER_WS_URL"),
		RestaurantID:   os.Getenv("RESTAURANT_ID"),
		AccessToken:    os.Getenv("ACCESS_TOKEN"),
		RefreshToken:   os.Getenv("REFRESH_TOKEN"),
		RequestTimeout: durationFromEnv("REQUEST_TIMEOUT_SECONDS", 10*time.Second),
		DBHost:         os.Getenv("DB_HOST"),
		DBUser:         os.Getenv("DB_USER"),
		DBPassword:     os.Getenv("DB_PASSWORD"),
		DBName:         os.Getenv("DB_NAME"),
		DBPort:         os.Getenv("DB_PORT"),
		AppPort:        os.Getenv("APP_PORT"),
		AppEnv:         os.Getenv("APP_ENV"),
	}

	if cfg.APIBaseURL == "" || cfg.RestaurantID == "" {
		log.Fatal("Environment variables not loaded properly")
	}

	return cfg
}

// durationFromEnv reads a whole-seconds env var, falling back to def when
// unset or not a positive integer.
func durationFromEnv(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}
