package infra

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	PublicBaseURL    string
	StorageBackend   string
	StoragePath      string
	S3Endpoint       string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3UseSSL         bool
	CredentialKey    []byte
	WebhookSecret    string
	WebhookTolerance time.Duration
	GeoIPDBPath      string
	DefaultProvider  string
	QwenBaseURL      string
	QwenModel        string
	ReplicateBaseURL string
	ReplicateModel   string
	SlotCountMax     int
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	ProviderTimeout  time.Duration
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	DefaultLocale    string
	SupportedLocales []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PublicBaseURL:    getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		StorageBackend:   getEnv("STORAGE_BACKEND", "filesystem"),
		StoragePath:      getEnv("STORAGE_PATH", "./storage"),
		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		S3Bucket:         getEnv("S3_BUCKET", "studio-blobs"),
		S3AccessKey:      os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:      os.Getenv("S3_SECRET_KEY"),
		S3UseSSL:         getEnvBool("S3_USE_SSL", false),
		WebhookSecret:    os.Getenv("WEBHOOK_SECRET"),
		WebhookTolerance: time.Second * time.Duration(getEnvInt("WEBHOOK_TOLERANCE_SECONDS", 300)),
		GeoIPDBPath:      os.Getenv("GEOIP_DB_PATH"),
		DefaultProvider:  getEnv("DEFAULT_PROVIDER", "qwen"),
		QwenBaseURL:      getEnv("QWEN_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		QwenModel:        getEnv("QWEN_MODEL", "qwen-image-edit"),
		ReplicateBaseURL: getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		ReplicateModel:   getEnv("REPLICATE_MODEL", "black-forest-labs/flux-kontext-pro"),
		SlotCountMax:     getEnvInt("SLOT_COUNT_MAX", 3),
		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   time.Millisecond * time.Duration(getEnvInt("RETRY_BASE_DELAY_MS", 500)),
		ProviderTimeout:  time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 120)),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		DefaultLocale:    getEnv("DEFAULT_LOCALE", "en"),
		SupportedLocales: strings.Split(getEnv("SUPPORTED_LOCALES", "en,id,ja"), ","),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	raw := os.Getenv("CREDENTIAL_KEY")
	if raw == "" {
		return nil, fmt.Errorf("CREDENTIAL_KEY is required")
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("CREDENTIAL_KEY must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("CREDENTIAL_KEY must decode to 32 bytes, got %d", len(key))
	}
	cfg.CredentialKey = key

	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
