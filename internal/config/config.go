package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Object store backends understood by OBJECT_STORE_BACKEND.
const (
	BackendMinIO = "minio"
	BackendS3    = "s3"
)

// Config aggregates runtime configuration for the relay API.
type Config struct {
	Server      ServerConfig
	Postgres    PostgresConfig
	ObjectStore ObjectStoreConfig
	Quota       QuotaConfig
	Upload      UploadConfig
	Reaper      ReaperConfig
	Aggregator  AggregatorConfig
	Credentials CredentialsConfig
	Auth        AuthConfig
	Metrics     MetricsConfig
}

// ServerConfig parameterizes the HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Address returns the listen address in host:port form.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PostgresConfig contains PostgreSQL connection details.
type PostgresConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSLMode        string
	MigrateOnStart bool
}

// DSN returns the PostgreSQL DSN string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// ObjectStoreConfig selects and configures the blob backend.
type ObjectStoreConfig struct {
	Backend       string
	PublicBaseURL string
	MinIO         MinIOConfig
	S3            S3Config
}

// MinIOConfig carries MinIO connection and bucket information.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
}

// S3Config carries AWS S3 (or S3-compatible) settings.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// QuotaConfig holds the per-user rolling upload limits.
type QuotaConfig struct {
	MaxDailyUploads   int64
	MaxMonthlyUploads int64
	MaxDailyBytes     int64
	MaxMonthlyBytes   int64
	DailyWindow       time.Duration
	MonthlyWindow     time.Duration
}

// UploadConfig bounds what a single upload request may carry.
type UploadConfig struct {
	MaxFileBytes         int64
	AllowedMediaTypes    []string
	MaxTitleLength       int
	MaxDescriptionLength int
	Retention            time.Duration
}

// ReaperConfig controls the expired-upload sweep loop.
type ReaperConfig struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
}

// AggregatorConfig points at the upstream social scheduling API.
type AggregatorConfig struct {
	BaseURL           string
	Timeout           time.Duration
	VideoPlatform     string
	FanOutConcurrency int
	ScheduleLeadTime  time.Duration
}

// CredentialsConfig holds the key used to seal stored aggregator API keys.
type CredentialsConfig struct {
	SealingKey string
}

// AuthConfig groups authentication-related settings.
type AuthConfig struct {
	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	BcryptCost         int
}

// MetricsConfig groups observability settings.
type MetricsConfig struct {
	PrometheusPath string
}

// Load reads configuration values from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host:         getString("RELAY_API_HOST", "0.0.0.0"),
			Port:         getInt("RELAY_API_PORT", 8080),
			ReadTimeout:  getDuration("RELAY_API_READ_TIMEOUT", 60*time.Second),
			WriteTimeout: getDuration("RELAY_API_WRITE_TIMEOUT", 120*time.Second),
			IdleTimeout:  getDuration("RELAY_API_IDLE_TIMEOUT", 60*time.Second),
		},
		Postgres: PostgresConfig{
			Host:           getString("POSTGRES_HOST", "localhost"),
			Port:           getInt("POSTGRES_PORT", 5432),
			User:           getString("POSTGRES_USER", "reelrelay"),
			Password:       getString("POSTGRES_PASSWORD", "change-me"),
			Database:       getString("POSTGRES_DB", "reelrelay"),
			SSLMode:        strings.ToLower(getString("POSTGRES_SSL_MODE", "disable")),
			MigrateOnStart: getBool("RELAY_MIGRATE_ON_START", true),
		},
		ObjectStore: ObjectStoreConfig{
			Backend:       strings.ToLower(getString("OBJECT_STORE_BACKEND", BackendMinIO)),
			PublicBaseURL: strings.TrimRight(getString("MEDIA_PUBLIC_BASE_URL", "http://localhost:9000/reelrelay"), "/"),
			MinIO: MinIOConfig{
				Endpoint:        getString("MINIO_ENDPOINT", "localhost:9000"),
				AccessKeyID:     getString("MINIO_ROOT_USER", "reelrelay"),
				SecretAccessKey: getString("MINIO_ROOT_PASSWORD", "change-me-strong-password"),
				Bucket:          getString("MINIO_BUCKET", "reelrelay"),
				UseSSL:          getBool("MINIO_USE_SSL", false),
				Region:          getString("MINIO_REGION", ""),
			},
			S3: S3Config{
				Bucket:          getString("S3_BUCKET", "reelrelay"),
				Region:          getString("S3_REGION", "us-east-1"),
				Endpoint:        getString("S3_ENDPOINT", ""),
				AccessKeyID:     getString("S3_ACCESS_KEY_ID", ""),
				SecretAccessKey: getString("S3_SECRET_ACCESS_KEY", ""),
				UsePathStyle:    getBool("S3_USE_PATH_STYLE", false),
			},
		},
		Quota: QuotaConfig{
			MaxDailyUploads:   getInt64("MAX_DAILY_UPLOADS", 10),
			MaxMonthlyUploads: getInt64("MAX_MONTHLY_UPLOADS", 100),
			MaxDailyBytes:     getInt64("MAX_DAILY_BYTES", 2<<30),
			MaxMonthlyBytes:   getInt64("MAX_MONTHLY_BYTES", 20<<30),
			DailyWindow:       getDuration("QUOTA_DAILY_WINDOW", 24*time.Hour),
			MonthlyWindow:     getDuration("QUOTA_MONTHLY_WINDOW", 30*24*time.Hour),
		},
		Upload: UploadConfig{
			MaxFileBytes:         getInt64("MAX_UPLOAD_BYTES", 500<<20),
			AllowedMediaTypes:    getList("ALLOWED_MEDIA_TYPES", defaultMediaTypes),
			MaxTitleLength:       200,
			MaxDescriptionLength: 2000,
			Retention:            getDuration("UPLOAD_RETENTION", 48*time.Hour),
		},
		Reaper: ReaperConfig{
			Enabled:   getBool("REAPER_ENABLED", true),
			Interval:  getDuration("REAPER_INTERVAL", 6*time.Hour),
			BatchSize: getInt("REAPER_BATCH_SIZE", 500),
		},
		Aggregator: AggregatorConfig{
			BaseURL:           strings.TrimRight(getString("AGGREGATOR_BASE_URL", "https://api.example-aggregator.com/v1"), "/"),
			Timeout:           getDuration("AGGREGATOR_TIMEOUT", 30*time.Second),
			VideoPlatform:     strings.ToLower(getString("AGGREGATOR_VIDEO_PLATFORM", "youtube")),
			FanOutConcurrency: getInt("FANOUT_CONCURRENCY", 4),
			ScheduleLeadTime:  getDuration("SCHEDULE_LEAD_TIME", time.Minute),
		},
		Credentials: CredentialsConfig{
			SealingKey: getString("CREDENTIALS_SEALING_KEY", ""),
		},
		Auth: loadAuthConfig(),
		Metrics: MetricsConfig{
			PrometheusPath: getString("RELAY_METRICS_PATH", "/metrics"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var defaultMediaTypes = []string{
	"video/mp4",
	"video/quicktime",
	"video/webm",
	"video/x-msvideo",
	"video/x-matroska",
}

// Validate rejects configurations the services cannot run with.
func (c Config) Validate() error {
	var errs []error

	switch c.ObjectStore.Backend {
	case BackendMinIO, BackendS3:
	default:
		errs = append(errs, fmt.Errorf("unknown object store backend %q", c.ObjectStore.Backend))
	}

	q := c.Quota
	if q.MaxDailyUploads < 0 || q.MaxMonthlyUploads < 0 || q.MaxDailyBytes < 0 || q.MaxMonthlyBytes < 0 {
		errs = append(errs, errors.New("quota limits must not be negative"))
	}
	if q.DailyWindow <= 0 || q.MonthlyWindow <= 0 {
		errs = append(errs, errors.New("quota windows must be positive"))
	}
	if c.Upload.MaxFileBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.Upload.Retention <= 0 {
		errs = append(errs, errors.New("UPLOAD_RETENTION must be positive"))
	}
	if c.Reaper.Enabled && c.Reaper.Interval <= 0 {
		errs = append(errs, errors.New("REAPER_INTERVAL must be positive"))
	}

	if c.Credentials.SealingKey != "" {
		if _, err := c.Credentials.Key(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Key decodes the sealing key. It must be base64 for exactly 32 bytes.
func (c CredentialsConfig) Key() ([32]byte, error) {
	var key [32]byte
	raw, err := base64.StdEncoding.DecodeString(c.SealingKey)
	if err != nil {
		return key, fmt.Errorf("decode CREDENTIALS_SEALING_KEY: %w", err)
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("CREDENTIALS_SEALING_KEY must decode to %d bytes, got %d", len(key), len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func getString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.ToLower(strings.TrimSpace(val))
		switch val {
		case "1", "true", "t", "yes", "y":
			return true
		case "0", "false", "f", "no", "n":
			return false
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}

func loadAuthConfig() AuthConfig {
	cost := getInt("RELAY_AUTH_BCRYPT_COST", 12)
	if cost < 4 || cost > 31 {
		cost = 12
	}

	return AuthConfig{
		AccessTokenSecret:  getString("RELAY_JWT_SECRET", "change-me-to-a-32-byte-secret"),
		RefreshTokenSecret: getString("RELAY_JWT_REFRESH_SECRET", "change-me-to-a-64-byte-secret"),
		AccessTokenTTL:     getDuration("RELAY_AUTH_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:    getDuration("RELAY_AUTH_REFRESH_TOKEN_TTL", 720*time.Hour),
		BcryptCost:         cost,
	}
}
