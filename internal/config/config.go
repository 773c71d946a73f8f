package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Slidecast server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Converter ConverterConfig
	TTS       TTSConfig
	Assembler AssemblerConfig
	Pipeline  PipelineConfig
	Cleanup   CleanupConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type ConverterConfig struct {
	BaseURL string
	Timeout time.Duration
}

type TTSConfig struct {
	BaseURL         string
	SoftTimeout     time.Duration
	HardTimeout     time.Duration
	SilenceDuration time.Duration
	Retries         int
}

type AssemblerConfig struct {
	BaseURL string
	Timeout time.Duration
}

type PipelineConfig struct {
	SynthesisWorkers  int
	QueueCapacity     int
	ReconcileInterval time.Duration
	StatusCacheTTL    time.Duration
}

type CleanupConfig struct {
	RetentionDays int
}

// minTimeoutMargin is the smallest allowed gap between the soft and hard
// synthesis timeouts. The hard timeout must leave the silence fallback enough
// time to run after the soft deadline fires.
const minTimeoutMargin = 10 * time.Second

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("SLIDECAST_PORT", 8080),
			Env:  envString("SLIDECAST_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Storage: StorageConfig{
			Endpoint:  os.Getenv("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Converter: ConverterConfig{
			BaseURL: envString("CONVERTER_BASE_URL", "http://libreoffice:8100"),
			Timeout: envDurationSecs("CONVERTER_TIMEOUT_SECS", 120*time.Second),
		},
		TTS: TTSConfig{
			BaseURL:         envString("TTS_BASE_URL", "http://tts:8200"),
			SoftTimeout:     envDurationSecs("TTS_SOFT_TIME_LIMIT_SECS", 300*time.Second),
			HardTimeout:     envDurationSecs("TTS_HARD_TIME_LIMIT_SECS", 360*time.Second),
			SilenceDuration: envDurationSecs("TTS_SILENCE_DURATION_SECS", 3*time.Second),
			Retries:         envInt("TTS_STORAGE_RETRIES", 3),
		},
		Assembler: AssemblerConfig{
			BaseURL: envString("ASSEMBLER_BASE_URL", "http://assembler:8300"),
			Timeout: envDurationSecs("ASSEMBLER_TIMEOUT_SECS", 600*time.Second),
		},
		Pipeline: PipelineConfig{
			SynthesisWorkers:  envInt("SYNTHESIS_WORKERS", 2),
			QueueCapacity:     envInt("SYNTHESIS_QUEUE_CAPACITY", 256),
			ReconcileInterval: envDurationSecs("RECONCILE_INTERVAL_SECS", 30*time.Second),
			StatusCacheTTL:    envDuration("STATUS_CACHE_TTL", 30*time.Minute),
		},
		Cleanup: CleanupConfig{
			RetentionDays: envInt("CLEANUP_RETENTION_DAYS", 7),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Storage.Endpoint == "" {
		return fmt.Errorf("MINIO_ENDPOINT is required")
	}
	if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required")
	}

	for name, url := range map[string]string{
		"CONVERTER_BASE_URL": c.Converter.BaseURL,
		"TTS_BASE_URL":       c.TTS.BaseURL,
		"ASSEMBLER_BASE_URL": c.Assembler.BaseURL,
	} {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return fmt.Errorf("%s must start with http:// or https://, got %q", name, url)
		}
	}

	if c.TTS.HardTimeout <= c.TTS.SoftTimeout {
		return fmt.Errorf("TTS_HARD_TIME_LIMIT_SECS (%s) must exceed TTS_SOFT_TIME_LIMIT_SECS (%s)",
			c.TTS.HardTimeout, c.TTS.SoftTimeout)
	}
	if c.TTS.HardTimeout-c.TTS.SoftTimeout < minTimeoutMargin {
		return fmt.Errorf("TTS hard timeout must exceed the soft timeout by at least %s to leave room for the silence fallback", minTimeoutMargin)
	}
	if c.TTS.SilenceDuration <= 0 {
		return fmt.Errorf("TTS_SILENCE_DURATION_SECS must be positive")
	}

	if c.Pipeline.SynthesisWorkers < 1 {
		return fmt.Errorf("SYNTHESIS_WORKERS must be at least 1")
	}
	if c.Pipeline.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL_SECS must be positive")
	}

	if c.Cleanup.RetentionDays < 1 {
		return fmt.Errorf("CLEANUP_RETENTION_DAYS must be at least 1")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
