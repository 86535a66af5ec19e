package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Uploads  UploadConfig   `mapstructure:"uploads"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port           int    `mapstructure:"port"`
	InternalSecret string `mapstructure:"internal_secret"`
	CookieDomain   string `mapstructure:"cookie_domain"`
	// AllowedWsOrigins 逗号分隔的 WebSocket Origin 白名单，留空表示仅允许同源。
	AllowedWsOrigins string `mapstructure:"allowed_ws_origins"`
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// AuthConfig 包含 JWT 密钥与令牌有效期设置。
type AuthConfig struct {
	PrivateKeyPath        string        `mapstructure:"private_key_path"`
	PublicKeyPath         string        `mapstructure:"public_key_path"`
	AccessTokenTTL        time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL       time.Duration `mapstructure:"refresh_token_ttl"`
	LoginRateLimitPerHour int           `mapstructure:"login_rate_limit_per_hour"`
	LoginLockThreshold    int           `mapstructure:"login_lock_threshold"`
	LoginLockTTL          time.Duration `mapstructure:"login_lock_ttl"`
}

// UploadConfig 描述上传限制与病毒扫描设置。
type UploadConfig struct {
	MaxImageBytes  int64  `mapstructure:"max_image_bytes"`
	MaxResumeBytes int64  `mapstructure:"max_resume_bytes"`
	ClamdAddr      string `mapstructure:"clamd_addr"`
}

// WorkerConfig 描述后台 Worker 的运行参数。
type WorkerConfig struct {
	Concurrency     int    `mapstructure:"concurrency"`
	FrontendBaseURL string `mapstructure:"frontend_base_url"`
	InternalAPIBase string `mapstructure:"internal_api_base"`
	ThumbnailWidth  int    `mapstructure:"thumbnail_width"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Addr 返回 host:port 形式的 Redis 地址。
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ReadKeyPair 读取 PEM 私钥与公钥文件内容。
func (a AuthConfig) ReadKeyPair() (privatePEM, publicPEM []byte, err error) {
	privatePEM, err = os.ReadFile(a.PrivateKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read private key %q: %w", a.PrivateKeyPath, err)
	}
	publicPEM, err = os.ReadFile(a.PublicKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read public key %q: %w", a.PublicKeyPath, err)
	}
	return privatePEM, publicPEM, nil
}

// WsOrigins 拆分 Origin 白名单。
func (a APIConfig) WsOrigins() []string {
	raw := strings.Split(a.AllowedWsOrigins, ",")
	origins := make([]string, 0, len(raw))
	for _, item := range raw {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "portfolio")
	v.SetDefault("database.user", "portfolio")
	v.SetDefault("database.password", "portfolio")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "portfolio-media")
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("auth.private_key_path", "keys/jwt_private.pem")
	v.SetDefault("auth.public_key_path", "keys/jwt_public.pem")
	v.SetDefault("auth.access_token_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 7*24*time.Hour)
	v.SetDefault("auth.login_rate_limit_per_hour", 10)
	v.SetDefault("auth.login_lock_threshold", 5)
	v.SetDefault("auth.login_lock_ttl", 15*time.Minute)
	v.SetDefault("uploads.max_image_bytes", 10*1024*1024)
	v.SetDefault("uploads.max_resume_bytes", 20*1024*1024)
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.thumbnail_width", 480)
	v.SetDefault("worker.frontend_base_url", "http://localhost:3000")
	v.SetDefault("worker.internal_api_base", "http://localhost:8080")
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                       "API_PORT",
		"api.internal_secret":            "INTERNAL_API_SECRET",
		"api.cookie_domain":              "COOKIE_DOMAIN",
		"api.allowed_ws_origins":         "ALLOWED_WS_ORIGINS",
		"database.host":                  "DATABASE_HOST",
		"database.port":                  "DATABASE_PORT",
		"database.name":                  "POSTGRES_DB",
		"database.user":                  "POSTGRES_USER",
		"database.password":              "POSTGRES_PASSWORD",
		"database.sslmode":               "DATABASE_SSLMODE",
		"redis.host":                     "REDIS_HOST",
		"redis.port":                     "REDIS_PORT",
		"minio.endpoint":                 "MINIO_ENDPOINT",
		"minio.public_endpoint":          "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":            "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":        "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":                  "MINIO_USE_SSL",
		"minio.bucket":                   "MINIO_BUCKET",
		"minio.region":                   "MINIO_REGION",
		"minio.bucket_lookup":            "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket":       "MINIO_AUTO_CREATE_BUCKET",
		"auth.private_key_path":          "JWT_PRIVATE_KEY_PATH",
		"auth.public_key_path":           "JWT_PUBLIC_KEY_PATH",
		"auth.access_token_ttl":          "ACCESS_TOKEN_TTL",
		"auth.refresh_token_ttl":         "REFRESH_TOKEN_TTL",
		"auth.login_rate_limit_per_hour": "LOGIN_RATE_LIMIT_PER_HOUR",
		"auth.login_lock_threshold":      "LOGIN_LOCK_THRESHOLD",
		"auth.login_lock_ttl":            "LOGIN_LOCK_TTL",
		"uploads.max_image_bytes":        "MAX_IMAGE_BYTES",
		"uploads.max_resume_bytes":       "MAX_RESUME_BYTES",
		"uploads.clamd_addr":             "CLAMD_ADDR",
		"worker.concurrency":             "WORKER_CONCURRENCY",
		"worker.frontend_base_url":       "FRONTEND_BASE_URL",
		"worker.internal_api_base":       "INTERNAL_API_BASE_URL",
		"worker.thumbnail_width":         "THUMBNAIL_WIDTH",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.PublicEndpoint == "" {
		return errors.New("minio public endpoint is required")
	}
	if cfg.MinIO.AccessKeyID == "" {
		return errors.New("minio access key id is required")
	}
	if cfg.MinIO.SecretAccessKey == "" {
		return errors.New("minio secret access key is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if cfg.Auth.AccessTokenTTL <= 0 {
		return errors.New("access token ttl must be positive")
	}
	if cfg.Auth.RefreshTokenTTL <= 0 {
		return errors.New("refresh token ttl must be positive")
	}
	if cfg.Uploads.MaxImageBytes <= 0 {
		return errors.New("max image bytes must be positive")
	}
	if cfg.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be positive")
	}
	return nil
}
