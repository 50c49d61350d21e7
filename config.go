// Package engagic wires the agenda pipeline together: background sync
// scheduling, queue draining, and shared configuration.
package engagic

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config is the process configuration, read from the environment.
type Config struct {
	LLMAPIKey  string
	AdminToken string

	DBDir            string
	DatabasePath     string
	RateLimitDBPath  string
	ViewIDCachePath  string
	UnknownTopicsLog string
	PromptsPath      string
	TaxonomyPath     string

	BindAddr       string
	AllowedOrigins []string
	MaxQueryLength int

	RateLimitRequests int
	RateLimitWindow   time.Duration

	BackgroundProcessing bool
	SyncInterval         time.Duration
	ProcessingInterval   time.Duration
}

// LoadConfig reads configuration from the environment with sane defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		LLMAPIKey:            firstEnv("LLM_API_KEY", "GEMINI_API_KEY"),
		AdminToken:           os.Getenv("ADMIN_TOKEN"),
		DBDir:                envDefault("DB_DIR", "./data"),
		BindAddr:             envDefault("BIND_ADDR", ":8080"),
		PromptsPath:          os.Getenv("PROMPTS_PATH"),
		TaxonomyPath:         os.Getenv("TAXONOMY_PATH"),
		MaxQueryLength:       envInt("MAX_QUERY_LENGTH", 200),
		RateLimitRequests:    envInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:      time.Duration(envInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		BackgroundProcessing: envBool("BACKGROUND_PROCESSING", true),
		SyncInterval:         time.Duration(envInt("SYNC_INTERVAL_HOURS", 168)) * time.Hour,
		ProcessingInterval:   time.Duration(envInt("PROCESSING_INTERVAL_HOURS", 48)) * time.Hour,
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	cfg.DatabasePath = filepath.Join(cfg.DBDir, "engagic.db")
	cfg.RateLimitDBPath = filepath.Join(cfg.DBDir, "rate_limits.db")
	cfg.ViewIDCachePath = filepath.Join(cfg.DBDir, "granicus_view_ids.json")
	cfg.UnknownTopicsLog = filepath.Join(cfg.DBDir, "unknown_topics.log")

	if cfg.RateLimitRequests <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_REQUESTS must be positive")
	}
	if cfg.SyncInterval <= 0 || cfg.ProcessingInterval <= 0 {
		return nil, fmt.Errorf("sync and processing intervals must be positive")
	}
	return cfg, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
