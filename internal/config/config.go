// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string
	BaseURL     string

	// Logging
	LogLevel  string
	LogFormat string

	// Google OAuth client
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Remote store ("gdrive", "s3" or "memory", default: "gdrive")
	StoreBackend  string
	DriveUseTrash bool
	DrivePageSize int64

	// S3 storage
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string

	// Sessions ("memory", "redis" or "postgres", default: "memory")
	SessionBackend string
	SessionSecret  string
	SessionTTL     time.Duration
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	DatabaseURL    string

	// TLS (optional, if both set the server uses HTTPS)
	TLSCertFile string
	TLSKeyFile  string

	// Limits
	MaxUploadSize     int64
	MaxPathDepth      int
	RequestsPerMinute int // 0 = unlimited
	ReadRetryAttempts int
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:         envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:        envOr("METRICS_ADDR", ":9090"),
		BaseURL:            envOr("BASE_URL", "http://localhost:8080"),
		LogLevel:           envOr("LOG_LEVEL", "info"),
		LogFormat:          envOr("LOG_FORMAT", "json"),
		GoogleClientID:     envOr("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: envOr("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  envOr("GOOGLE_REDIRECT_URL", ""),
		StoreBackend:       envOr("STORE_BACKEND", "gdrive"),
		DriveUseTrash:      envBool("DRIVE_USE_TRASH", false),
		DrivePageSize:      envInt64("DRIVE_PAGE_SIZE", 100),
		S3Endpoint:         envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:           envOr("S3_BUCKET", "drivedeck"),
		S3AccessKey:        envOr("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:        envOr("S3_SECRET_KEY", "minioadmin"),
		S3Region:           envOr("S3_REGION", "us-east-1"),
		SessionBackend:     envOr("SESSION_BACKEND", "memory"),
		SessionSecret:      envOr("SESSION_SECRET", ""),
		SessionTTL:         envDuration("SESSION_TTL", 7*24*time.Hour),
		RedisAddr:          envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      envOr("REDIS_PASSWORD", ""),
		RedisDB:            envInt("REDIS_DB", 0),
		DatabaseURL:        envOr("DATABASE_URL", ""),
		TLSCertFile:        envOr("TLS_CERT_FILE", ""),
		TLSKeyFile:         envOr("TLS_KEY_FILE", ""),
		MaxUploadSize:      envInt64("MAX_UPLOAD_SIZE", 16*1024*1024), // 16MB default
		MaxPathDepth:       envInt("MAX_PATH_DEPTH", 64),
		RequestsPerMinute:  envInt("REQUESTS_PER_MINUTE", 0),
		ReadRetryAttempts:  envInt("READ_RETRY_ATTEMPTS", 2),
	}

	if path := os.Getenv("GOOGLE_CREDENTIALS_FILE"); path != "" {
		if err := cfg.loadCredentialsFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadCredentialsFile reads a Google "web" client file downloaded from the
// Cloud Console. Values already set through the environment win.
func (c *Config) loadCredentialsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read google credentials: %w", err)
	}
	oc, err := google.ConfigFromJSON(data)
	if err != nil {
		return fmt.Errorf("parse google credentials %s: %w", path, err)
	}
	if c.GoogleClientID == "" {
		c.GoogleClientID = oc.ClientID
	}
	if c.GoogleClientSecret == "" {
		c.GoogleClientSecret = oc.ClientSecret
	}
	if c.GoogleRedirectURL == "" {
		c.GoogleRedirectURL = oc.RedirectURL
	}
	return nil
}

// Validate checks required values and the format of the OAuth client.
func (c *Config) Validate() error {
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	if len(c.SessionSecret) < 16 {
		return fmt.Errorf("SESSION_SECRET must be at least 16 characters")
	}

	if !strings.HasSuffix(c.GoogleClientID, ".apps.googleusercontent.com") {
		return fmt.Errorf("GOOGLE_CLIENT_ID must end in .apps.googleusercontent.com")
	}
	if len(c.GoogleClientSecret) < 8 {
		return fmt.Errorf("GOOGLE_CLIENT_SECRET is missing or too short")
	}
	if !strings.HasPrefix(c.GoogleRedirectURL, "http://") && !strings.HasPrefix(c.GoogleRedirectURL, "https://") {
		return fmt.Errorf("GOOGLE_REDIRECT_URL must be an http(s) URL")
	}

	switch c.StoreBackend {
	case "gdrive", "memory":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.SessionBackend {
	case "memory", "redis":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres session store")
		}
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend)
	}

	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}
	if c.MaxPathDepth <= 0 {
		return fmt.Errorf("MAX_PATH_DEPTH must be positive")
	}
	return nil
}

// SecureCookies reports whether cookies should carry the Secure flag.
func (c *Config) SecureCookies() bool {
	u, err := url.Parse(c.BaseURL)
	return err == nil && u.Scheme == "https"
}

// TLSEnabled reports whether both TLS files are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
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
