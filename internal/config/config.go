package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	AuthJWTSecret string
	OTLPEndpoint  string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis  RedisConfig
	LLM    LLMConfig
	Image  ImageConfig
	Ingest IngestConfig
	Email  EmailConfig
	Worker WorkerConfig

	DualWriteEnabled bool
	Migration        MigrationConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis endpoint is configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type LLMConfig struct {
	ProviderKey      string
	Model            string
	Timeout          time.Duration
	DefaultMaxTokens int32
}

type ImageConfig struct {
	APIKey          string
	APIURL          string
	CDNClientID     string
	CDNClientSecret string
	CDNPublicURL    string
}

type IngestConfig struct {
	MaxPerFeed   int
	FetchTimeout time.Duration
	FullText     bool
	UserAgent    string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	AppURL       string
}

// Enabled reports whether an SMTP relay is configured.
func (c EmailConfig) Enabled() bool {
	return strings.TrimSpace(c.SMTPHost) != ""
}

type WorkerConfig struct {
	Concurrency     int
	PollInterval    time.Duration
	LeaseDuration   time.Duration
	MaxAttempts     int
	PayloadMaxBytes int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	LeaderLock      bool
	AutoStart       bool
}

type MigrationConfig struct {
	BatchSize int
	DryRun    bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "newsdesk"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DB_TYPE", "postgres"),
		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "newsdesk"),
		DBUser:            getenv("DB_USER", "postgres"),
		DBPassword:        getenv("DB_PASSWORD", ""),
		DBSSLMode:         getenv("DB_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DB_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DB_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DB_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DB_CONN_MAX_IDLE_TIME", 300),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		LLM: LLMConfig{
			ProviderKey:      strings.TrimSpace(getenv("LLM_PROVIDER_KEY", "")),
			Model:            getenv("LLM_MODEL", "gemini-1.5-flash"),
			Timeout:          time.Duration(getenvInt("LLM_TIMEOUT_SECONDS", 60)) * time.Second,
			DefaultMaxTokens: int32(getenvInt("LLM_DEFAULT_MAX_TOKENS", 2048)),
		},
		Image: ImageConfig{
			APIKey:          strings.TrimSpace(getenv("IMAGE_API_KEY", "")),
			APIURL:          getenv("IMAGE_API_URL", "https://api.pexels.com/v1/search"),
			CDNClientID:     strings.TrimSpace(getenv("IMAGE_CDN_CLIENT_ID", "")),
			CDNClientSecret: strings.TrimSpace(getenv("IMAGE_CDN_CLIENT_SECRET", "")),
			CDNPublicURL:    strings.TrimSpace(getenv("IMAGE_CDN_PUBLIC_URL", "")),
		},
		Ingest: IngestConfig{
			MaxPerFeed:   getenvInt("INGEST_MAX_PER_FEED", 20),
			FetchTimeout: time.Duration(getenvInt("INGEST_FETCH_TIMEOUT_SECONDS", 15)) * time.Second,
			FullText:     getenvBool("INGEST_FULL_TEXT", true),
			UserAgent:    getenv("INGEST_USER_AGENT", "newsdesk/1.0 (news aggregator)"),
		},
		Email: EmailConfig{
			SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "newsdesk@localhost"),
			AppURL:       getenv("APP_URL", "http://localhost:8080"),
		},
		Worker: WorkerConfig{
			Concurrency:     getenvInt("WORKER_CONCURRENCY", 1),
			PollInterval:    time.Duration(getenvInt("WORKER_POLL_SECONDS", 2)) * time.Second,
			LeaseDuration:   time.Duration(getenvInt("JOB_LEASE_SECONDS", 120)) * time.Second,
			MaxAttempts:     getenvInt("JOB_MAX_ATTEMPTS", 3),
			PayloadMaxBytes: getenvInt("JOB_PAYLOAD_MAX_BYTES", 64*1024),
			BackoffBase:     time.Duration(getenvInt("JOB_BACKOFF_BASE_SECONDS", 5)) * time.Second,
			BackoffMax:      time.Duration(getenvInt("JOB_BACKOFF_MAX_SECONDS", 300)) * time.Second,
			LeaderLock:      getenvBool("WORKER_LEADER_LOCK", false),
			AutoStart:       getenvBool("WORKER_AUTO_START", true),
		},
		DualWriteEnabled: getenvBool("DUAL_WRITE_ENABLED", true),
		Migration: MigrationConfig{
			BatchSize: getenvInt("MIGRATION_BATCH_SIZE", 100),
			DryRun:    getenvBool("MIGRATION_DRY_RUN", false),
		},
	}

	return cfg
}

// IsProduction reports whether the service runs in a production environment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
