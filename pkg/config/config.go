package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the environment-driven runtime configuration. Every field
// has a FORAGER_* variable; YAML recipes cover what environment
// variables cannot express (locator definitions).
type Config struct {
	Storage     StorageConfig
	KV          KVConfig
	Credentials CredentialsConfig

	Concurrency int
	RunID       string

	LogLevel string
	LogJSON  bool

	// MetricsAddr exposes Prometheus metrics when non-empty.
	MetricsAddr string
}

// StorageConfig selects and parameterizes the storage sink.
type StorageConfig struct {
	// Type is "file" or "s3".
	Type string

	// Dir is the output directory for the file sink.
	Dir string

	// Bucket, Prefix, Region, Endpoint parameterize the s3 sink.
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string

	// Unzip wraps the sink so compressed resources are expanded.
	Unzip bool

	// BundleZip wraps the sink so each bundle lands as one archive.
	BundleZip bool
}

// KVConfig selects and parameterizes the state store.
type KVConfig struct {
	// Type is "memory", "bolt", or "redis".
	Type string

	// Path is the database file for the bolt backend.
	Path string

	// Host, Port, DB, Password parameterize the redis backend.
	Host     string
	Port     int
	DB       int
	Password string

	Prefix     string
	TTL        time.Duration
	Serializer string
}

// CredentialsConfig selects the credential provider.
type CredentialsConfig struct {
	// Type is "env" or "aws".
	Type string

	// Region and Endpoint parameterize the AWS Secrets Manager
	// provider.
	Region   string
	Endpoint string

	// EnvPrefix is the variable prefix for the env provider.
	EnvPrefix string
}

// FromEnv builds a Config from FORAGER_* environment variables,
// applying defaults for anything unset.
func FromEnv() Config {
	return Config{
		Storage: StorageConfig{
			Type:      envStr("FORAGER_STORAGE_TYPE", "file"),
			Dir:       envStr("FORAGER_STORAGE_DIR", "./bundles"),
			Bucket:    envStr("FORAGER_STORAGE_BUCKET", ""),
			Prefix:    envStr("FORAGER_STORAGE_PREFIX", "forager"),
			Region:    envStr("FORAGER_STORAGE_REGION", ""),
			Endpoint:  envStr("FORAGER_STORAGE_ENDPOINT", ""),
			Unzip:     envBool("FORAGER_STORAGE_UNZIP", false),
			BundleZip: envBool("FORAGER_STORAGE_BUNDLE_ZIP", false),
		},
		KV: KVConfig{
			Type:       envStr("FORAGER_KV_TYPE", "memory"),
			Path:       envStr("FORAGER_KV_PATH", "./forager.db"),
			Host:       envStr("FORAGER_KV_HOST", "localhost"),
			Port:       envInt("FORAGER_KV_PORT", 6379),
			DB:         envInt("FORAGER_KV_DB", 0),
			Password:   envStr("FORAGER_KV_PASSWORD", ""),
			Prefix:     envStr("FORAGER_KV_PREFIX", "forager"),
			TTL:        envDuration("FORAGER_KV_TTL", 0),
			Serializer: envStr("FORAGER_KV_SERIALIZER", "json"),
		},
		Credentials: CredentialsConfig{
			Type:      envStr("FORAGER_CREDENTIALS_TYPE", "env"),
			Region:    envStr("FORAGER_CREDENTIALS_REGION", ""),
			Endpoint:  envStr("FORAGER_CREDENTIALS_ENDPOINT", ""),
			EnvPrefix: envStr("FORAGER_CREDENTIALS_ENV_PREFIX", "FORAGER"),
		},
		Concurrency: envInt("FORAGER_CONCURRENCY", 4),
		RunID:       envStr("FORAGER_RUN_ID", ""),
		LogLevel:    envStr("FORAGER_LOG_LEVEL", "info"),
		LogJSON:     envBool("FORAGER_LOG_JSON", true),
		MetricsAddr: envStr("FORAGER_METRICS_ADDR", ""),
	}
}

func envStr(key, def string) string {
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

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
