package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBFile         string
	APIAddr        string
	BaseURL        string
	AuthSecret     string
	TokenExpiry    time.Duration
	ReaperInterval time.Duration
	MaxContentLen  int
	VAPIDPublic    string
	VAPIDPrivate   string
	VAPIDSubject   string
}

func Load(cliMode bool) (*Config, error) {
	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "24h"))
	if err != nil {
		return nil, err
	}

	reaperInterval, err := time.ParseDuration(getEnv("REAPER_INTERVAL", "30s"))
	if err != nil {
		return nil, err
	}

	maxContentLen, err := strconv.Atoi(getEnv("MAX_CONTENT_LEN", "4096"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DBFile:         getEnv("TETATET_DB", "tetatet.db"),
		APIAddr:        getEnv("API_ADDR", ":8080"),
		BaseURL:        getEnv("BASE_URL", "http://localhost:8080"),
		AuthSecret:     os.Getenv("AUTH_SECRET"),
		TokenExpiry:    tokenExpiry,
		ReaperInterval: reaperInterval,
		MaxContentLen:  maxContentLen,
		VAPIDPublic:    os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivate:   os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:   getEnv("VAPID_SUBJECT", "mailto:admin@localhost"),
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.AuthSecret == "" && !cliMode {
		return fmt.Errorf("AUTH_SECRET is required")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if c.ReaperInterval <= 0 {
		return fmt.Errorf("REAPER_INTERVAL must be greater than 0")
	}

	if c.MaxContentLen <= 0 {
		return fmt.Errorf("MAX_CONTENT_LEN must be greater than 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
