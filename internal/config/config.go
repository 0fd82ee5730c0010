package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	IdentityURL       string
	IdentityKey       string
	IdentityJWTSecret string // when set, tokens are verified locally instead of by the provider

	VectorStoreURL string
	VectorStoreKey string

	DatabaseURL string
	HTTPPort    string
	LogLevel    string
	LogFormat   string

	EngineTeardownTimeout time.Duration
	ShutdownTimeout       time.Duration
	MaxUploadBytes        int64
}

var (
	loadOnce  sync.Once
	appConfig Config
	loadErr   error
)

// Get loads the configuration once per process
func Get() (Config, error) {
	loadOnce.Do(func() {
		appConfig, loadErr = Load()
	})
	return appConfig, loadErr
}

// Load reads a .env file if one exists, then the environment
func Load() (Config, error) {
	_ = godotenv.Load() // a missing .env is fine; the environment still applies

	cfg := Config{
		IdentityURL:       strings.TrimRight(getEnv("IDENTITY_URL", ""), "/"),
		IdentityKey:       getEnv("IDENTITY_KEY", ""),
		IdentityJWTSecret: getEnv("IDENTITY_JWT_SECRET", ""),
		VectorStoreURL:    getEnv("VECTOR_STORE_URL", ""),
		VectorStoreKey:    getEnv("VECTOR_STORE_KEY", ""),
		DatabaseURL:       getEnv("DATABASE_URL", "moneyrag.db"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "console"),
	}

	var errs []error
	if cfg.IdentityURL == "" {
		errs = append(errs, errors.New("IDENTITY_URL environment variable is required"))
	}
	if cfg.IdentityKey == "" {
		errs = append(errs, errors.New("IDENTITY_KEY environment variable is required"))
	}

	var err error
	if cfg.EngineTeardownTimeout, err = getEnvAsDuration("ENGINE_TEARDOWN_TIMEOUT", 10*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.ShutdownTimeout, err = getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second); err != nil {
		errs = append(errs, err)
	}
	maxUploadMB, err := getEnvAsInt("MAX_UPLOAD_MB", 20)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.MaxUploadBytes = int64(maxUploadMB) << 20

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, valueStr)
	}
	return value, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration such as 10s, got %q", key, valueStr)
	}
	return value, nil
}
