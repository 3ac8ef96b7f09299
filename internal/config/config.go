package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds the environment-driven application configuration.
type Config struct {
	Port             int
	APIKey           string
	Debug            bool
	RedisURL         string
	UpstashRESTURL   string
	UpstashRESTToken string
	ThinkingCacheTTL time.Duration
	CredentialFile   string
}

const (
	defaultPort     = 9095
	defaultTTLDays  = 10
	credentialsFile = ".auth_data.json"
)

var (
	current *Config
	mu      sync.RWMutex
)

// Load reads configuration from the environment. Call after godotenv has
// populated os.Environ from any .env file.
func Load() *Config {
	cfg := &Config{
		Port:             envInt("PORT", defaultPort),
		APIKey:           os.Getenv("API_KEY"),
		Debug:            envBool("DEBUG"),
		RedisURL:         os.Getenv("REDIS_URL"),
		ThinkingCacheTTL: time.Duration(envInt("THINKING_CACHE_TTL_DAYS", defaultTTLDays)) * 24 * time.Hour,
		CredentialFile:   credentialsFile,
	}

	// Placeholder Upstash values left in a .env template are ignored so the
	// proxy degrades to the local file store and memory-only thinking cache.
	url := os.Getenv("UPSTASH_REDIS_REST_URL")
	token := os.Getenv("UPSTASH_REDIS_REST_TOKEN")
	if !isPlaceholder(url) && !isPlaceholder(token) {
		cfg.UpstashRESTURL = strings.TrimSuffix(url, "/")
		cfg.UpstashRESTToken = token
	}

	mu.Lock()
	current = cfg
	mu.Unlock()
	return cfg
}

// Get returns the current config. Thread-safe.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return &Config{
			Port:             defaultPort,
			ThinkingCacheTTL: defaultTTLDays * 24 * time.Hour,
			CredentialFile:   credentialsFile,
		}
	}
	return current
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func isPlaceholder(v string) bool {
	if strings.TrimSpace(v) == "" {
		return true
	}
	lower := strings.ToLower(v)
	for _, marker := range []string{"your-", "your_", "example", "changeme", "xxxx"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
