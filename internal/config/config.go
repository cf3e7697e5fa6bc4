// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultGateways is the fallback gateway priority list used when
// GATEWAY_URLS is not set. The dedicated gateway (if configured) is
// always tried first.
var DefaultGateways = []string{
	"https://gateway.pinata.cloud/ipfs",
	"https://ipfs.io/ipfs",
	"https://cloudflare-ipfs.com/ipfs",
	"https://dweb.link/ipfs",
}

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string

	// Pinata
	PinataBaseURL   string
	PinataJWT       string
	PinataAPIKey    string
	PinataAPISecret string

	// Dedicated gateway (tried before the public list when set)
	DedicatedGateway string
	// Public gateway fallback list
	Gateways []string

	// Gateway probing
	ProbeTimeout time.Duration

	// Listing
	DefaultPageSize int

	// Uploads
	MaxUploadSize int64

	// Rate limiting (requests per minute per device, 0 = unlimited)
	RateLimitRPM int
}

// Load reads configuration from the environment with defaults.
// A .env file in the working directory is honored if present.
func Load() (*Config, error) {
	// Missing .env is fine; env vars win either way.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:       envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:      envOr("METRICS_ADDR", ":9090"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		LogFormat:        envOr("LOG_FORMAT", "json"),
		DatabaseURL:      envOr("DATABASE_URL", ""),
		PinataBaseURL:    envOr("PINATA_BASE_URL", "https://api.pinata.cloud"),
		PinataJWT:        envOr("PINATA_JWT", ""),
		PinataAPIKey:     envOr("PINATA_API_KEY", ""),
		PinataAPISecret:  envOr("PINATA_API_SECRET", ""),
		DedicatedGateway: envOr("DEDICATED_GATEWAY", ""),
		Gateways:         envList("GATEWAY_URLS", DefaultGateways),
		ProbeTimeout:     envDuration("PROBE_TIMEOUT", 12*time.Second),
		DefaultPageSize:  envInt("DEFAULT_PAGE_SIZE", 12),
		MaxUploadSize:    envInt64("MAX_UPLOAD_SIZE", 25*1024*1024), // 25MB default
		RateLimitRPM:     envInt("RATE_LIMIT_RPM", 0),               // 0 = unlimited
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.PinataJWT == "" && (cfg.PinataAPIKey == "" || cfg.PinataAPISecret == "") {
		return nil, fmt.Errorf("PINATA_JWT or PINATA_API_KEY/PINATA_API_SECRET is required")
	}

	return cfg, nil
}

// GatewayList returns the full gateway priority order: the dedicated
// gateway first (when configured), then the public list.
func (c *Config) GatewayList() []string {
	if c.DedicatedGateway == "" {
		return c.Gateways
	}
	return append([]string{c.DedicatedGateway}, c.Gateways...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(strings.TrimSuffix(part, "/"))
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
