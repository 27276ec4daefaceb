// Package config centralizes how QRDrop reads environment variables and
// exposes them as strongly typed Go values. Components never read the
// environment themselves; they receive the *Config built here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// RateRule is a per-operation allowance: Limit requests per Window.
type RateRule struct {
	Limit  int
	Window time.Duration
}

// Config represents runtime configuration for the server, worker and CLI.
type Config struct {
	Address             string
	PublicURL           string
	InactiveRedirectURL string
	MaxFileSize         int64
	MaxTextLength       int
	RetentionWindow     time.Duration
	SweepInterval       time.Duration

	StoreBackend string
	DatabaseURL  string

	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3Region      string
	S3UseSSL      bool
	ContentBucket string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	QueueBackend string

	RateLimitBackend string
	CreateRate       RateRule
	UploadRate       RateRule
	DownloadRate     RateRule
	RedirectRate     RateRule
	TrustProxy       bool

	WorkerConcurrency int
}

const (
	defaultAddress       = ":8080"
	defaultPublicURL     = "http://localhost:8080"
	defaultInactiveURL   = "/qr-inactive"
	defaultMaxFileSize   = 25 << 20 // 25 MiB
	defaultMaxTextLength = 64 << 10
	defaultRetention     = 24 * time.Hour
	defaultSweepInterval = time.Hour
	defaultContentBucket = "qrdrop-content"
	defaultRateWindow    = time.Minute
	defaultCreateLimit   = 10
	defaultUploadLimit   = 20
	defaultDownloadLimit = 60
	defaultRedirectLimit = 120
	defaultWorkerCount   = 2
	defaultS3Region      = "us-east-1"
	defaultRedisAddr     = "localhost:6379"
	defaultStoreBackend  = BackendMemory
	defaultRateLimit     = BackendMemory
	defaultQueueBackend  = BackendMemory
)

// Load reads configuration from environment variables falling back to
// defaults. Only backend names are validated; connection strings are checked
// by the components that dial them.
func Load() (*Config, error) {
	window := parseDuration("QRDROP_RATE_WINDOW", defaultRateWindow)
	cfg := &Config{
		Address:             readEnv("QRDROP_ADDRESS", defaultAddress),
		PublicURL:           strings.TrimSuffix(readEnv("QRDROP_PUBLIC_URL", defaultPublicURL), "/"),
		InactiveRedirectURL: readEnv("QRDROP_INACTIVE_URL", defaultInactiveURL),
		MaxFileSize:         parseInt64("QRDROP_MAX_FILE_BYTES", defaultMaxFileSize),
		MaxTextLength:       parseInt("QRDROP_MAX_TEXT_LENGTH", defaultMaxTextLength),
		RetentionWindow:     parseDuration("QRDROP_RETENTION", defaultRetention),
		SweepInterval:       parseDuration("QRDROP_SWEEP_INTERVAL", defaultSweepInterval),

		StoreBackend: strings.ToLower(readEnv("QRDROP_STORE", defaultStoreBackend)),
		DatabaseURL:  readEnv("QRDROP_DATABASE_URL", ""),

		S3Endpoint:    readEnv("QRDROP_S3_ENDPOINT", ""),
		S3AccessKey:   readEnv("QRDROP_S3_ACCESS_KEY", ""),
		S3SecretKey:   readEnv("QRDROP_S3_SECRET_KEY", ""),
		S3Region:      readEnv("QRDROP_S3_REGION", defaultS3Region),
		S3UseSSL:      parseBool("QRDROP_S3_USE_SSL", false),
		ContentBucket: readEnv("QRDROP_S3_BUCKET", defaultContentBucket),

		RedisAddr:     readEnv("QRDROP_REDIS_ADDR", defaultRedisAddr),
		RedisPassword: readEnv("QRDROP_REDIS_PASSWORD", ""),
		RedisDB:       parseInt("QRDROP_REDIS_DB", 0),

		QueueBackend: strings.ToLower(readEnv("QRDROP_QUEUE", defaultQueueBackend)),

		RateLimitBackend: strings.ToLower(readEnv("QRDROP_RATE_LIMIT_STORE", defaultRateLimit)),
		CreateRate:       RateRule{Limit: parseInt("QRDROP_RATE_CREATE", defaultCreateLimit), Window: window},
		UploadRate:       RateRule{Limit: parseInt("QRDROP_RATE_UPLOAD", defaultUploadLimit), Window: window},
		DownloadRate:     RateRule{Limit: parseInt("QRDROP_RATE_DOWNLOAD", defaultDownloadLimit), Window: window},
		RedirectRate:     RateRule{Limit: parseInt("QRDROP_RATE_REDIRECT", defaultRedirectLimit), Window: window},
		TrustProxy:       parseBool("QRDROP_TRUST_PROXY", false),

		WorkerConcurrency: parseInt("QRDROP_WORKERS", defaultWorkerCount),
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = defaultMaxTextLength
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = defaultRetention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = defaultWorkerCount
	}
	switch cfg.StoreBackend {
	case BackendMemory, BackendPostgres:
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	switch cfg.RateLimitBackend {
	case BackendMemory, BackendRedis:
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimitBackend)
	}
	switch cfg.QueueBackend {
	case BackendMemory, BackendRedis:
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
	if cfg.StoreBackend == BackendPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("QRDROP_DATABASE_URL is required for the %s store", BackendPostgres)
	}
	return cfg, nil
}

// CLI holds the settings the qrdrop command reads.
type CLI struct {
	ServerURL string
}

// LoadCLI reads the command line client's settings. It never fails, so a
// server-side misconfiguration in the same environment does not break the
// client. QRDROP_SERVER wins over QRDROP_PUBLIC_URL.
func LoadCLI() CLI {
	server := readEnv("QRDROP_SERVER", "")
	if server == "" {
		server = readEnv("QRDROP_PUBLIC_URL", defaultPublicURL)
	}
	return CLI{ServerURL: strings.TrimSuffix(server, "/")}
}

// UsesObjectStorage reports whether file content goes to S3/MinIO rather than
// the in-memory content store.
func (c *Config) UsesObjectStorage() bool {
	return c.S3Endpoint != ""
}

// UsesAsynq reports whether purges and sweeps run on the asynq worker.
func (c *Config) UsesAsynq() bool {
	return c.QueueBackend == BackendRedis
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "5m" or "24h".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
