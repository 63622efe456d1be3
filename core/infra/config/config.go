package config

import (
	"os"
	"strconv"
	"time"
)

const (
	defaultHTTPAddr     = ":8080"
	defaultMetricsAddr  = ":9091"
	defaultDataDir      = "./data"
	defaultRetention    = 4 * time.Minute
	defaultGrantBackend = "memory"
	defaultRedisURL     = "redis://localhost:6379"
	defaultLimitsConfig = "config/limits.yaml"

	envHTTPAddr         = "HTTP_ADDR"
	envMetricsAddr      = "METRICS_ADDR"
	envDataDir          = "DATA_DIR"
	envRetentionSeconds = "RETENTION_SECONDS"
	envGrantBackend     = "GRANT_BACKEND"
	envRedisURL         = "REDIS_URL"
	envLimitsConfigPath = "LIMITS_CONFIG_PATH"
)

// Config holds runtime configuration for the processing service.
type Config struct {
	HTTPAddr     string
	MetricsAddr  string
	DataDir      string
	Retention    time.Duration
	GrantBackend string
	RedisURL     string
	LimitsPath   string
}

// Load returns configuration using environment variables with sane defaults.
func Load() *Config {
	httpAddr := os.Getenv(envHTTPAddr)
	if httpAddr == "" {
		httpAddr = defaultHTTPAddr
	}

	metricsAddr := os.Getenv(envMetricsAddr)
	if metricsAddr == "" {
		metricsAddr = defaultMetricsAddr
	}

	dataDir := os.Getenv(envDataDir)
	if dataDir == "" {
		dataDir = defaultDataDir
	}

	// Retention is platform-wide policy; there is deliberately no per-operation
	// override anywhere in the configuration surface.
	retention := defaultRetention
	if raw := os.Getenv(envRetentionSeconds); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			retention = time.Duration(secs) * time.Second
		}
	}

	backend := os.Getenv(envGrantBackend)
	if backend != "redis" {
		backend = defaultGrantBackend
	}

	redisURL := os.Getenv(envRedisURL)
	if redisURL == "" {
		redisURL = defaultRedisURL
	}

	limitsPath := os.Getenv(envLimitsConfigPath)
	if limitsPath == "" {
		limitsPath = defaultLimitsConfig
	}

	return &Config{
		HTTPAddr:     httpAddr,
		MetricsAddr:  metricsAddr,
		DataDir:      dataDir,
		Retention:    retention,
		GrantBackend: backend,
		RedisURL:     redisURL,
		LimitsPath:   limitsPath,
	}
}
