// Package config loads the shop configuration from config.toml, a .env file
// and SHOP_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "SHOP"

const (
	CatalogMemory   = "memory"
	CatalogJSON     = "json"
	CatalogPostgres = "postgres"

	ImagesLocal = "local"
	ImagesS3    = "s3"
	ImagesHost  = "host"
)

type Config struct {
	App      AppConfig
	Log      LogConfig
	HTTP     HTTPConfig
	Catalog  CatalogConfig
	Database DatabaseConfig
	Images   ImagesConfig
	Admin    AdminConfig
	Metrics  MetricsConfig
}

type AppConfig struct {
	Name string
	Env  string
	Port string
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

type HTTPConfig struct {
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	MaxUploadBytes    int64
	RateLimitRequests int // mutating requests per window and client IP, 0 disables
	RateLimitWindow   time.Duration
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Enable only behind a reverse proxy that sets them.
	TrustProxy bool
}

type CatalogConfig struct {
	Backend  string // memory, json, postgres
	JSONPath string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type ImagesConfig struct {
	Backend  string // local, s3, host
	LocalDir string
	S3       S3Config
	Host     HostConfig
}

type S3Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
	KeyPrefix    string
	PublicURL    string
}

type HostConfig struct {
	UploadURL string
	APIKey    string
	Timeout   time.Duration
}

type AdminConfig struct {
	User         string
	Password     string
	PasswordHash string
	Realm        string
}

type MetricsConfig struct {
	Enabled bool
	Token   string
}

// Load resolves configuration. Priority, highest first: SHOP_* environment
// variables (a .env file populates these without overriding real ones),
// config.toml, built-in defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		HTTP: HTTPConfig{
			ReadHeaderTimeout: v.GetDuration("http.read_header_timeout"),
			ShutdownTimeout:   v.GetDuration("http.shutdown_timeout"),
			MaxUploadBytes:    v.GetInt64("http.max_upload_bytes"),
			RateLimitRequests: v.GetInt("http.rate_limit_requests"),
			RateLimitWindow:   v.GetDuration("http.rate_limit_window"),
			TrustProxy:        v.GetBool("http.trust_proxy"),
		},
		Catalog: CatalogConfig{
			Backend:  strings.ToLower(v.GetString("catalog.backend")),
			JSONPath: v.GetString("catalog.json_path"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Images: ImagesConfig{
			Backend:  strings.ToLower(v.GetString("images.backend")),
			LocalDir: v.GetString("images.local_dir"),
			S3: S3Config{
				Endpoint:     v.GetString("images.s3.endpoint"),
				Region:       v.GetString("images.s3.region"),
				Bucket:       v.GetString("images.s3.bucket"),
				AccessKey:    v.GetString("images.s3.access_key"),
				SecretKey:    v.GetString("images.s3.secret_key"),
				UseSSL:       v.GetBool("images.s3.use_ssl"),
				UsePathStyle: v.GetBool("images.s3.use_path_style"),
				KeyPrefix:    v.GetString("images.s3.key_prefix"),
				PublicURL:    v.GetString("images.s3.public_url"),
			},
			Host: HostConfig{
				UploadURL: v.GetString("images.host.upload_url"),
				APIKey:    v.GetString("images.host.api_key"),
				Timeout:   v.GetDuration("images.host.timeout"),
			},
		},
		Admin: AdminConfig{
			User:         v.GetString("admin.user"),
			Password:     v.GetString("admin.password"),
			PasswordHash: v.GetString("admin.password_hash"),
			Realm:        v.GetString("admin.realm"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Token:   v.GetString("metrics.token"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "shop"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "5000"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.ReadHeaderTimeout == 0 {
		cfg.HTTP.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if cfg.HTTP.MaxUploadBytes == 0 {
		cfg.HTTP.MaxUploadBytes = 10 << 20
	}
	if cfg.HTTP.RateLimitWindow == 0 {
		cfg.HTTP.RateLimitWindow = time.Minute
	}
	if cfg.Catalog.Backend == "" {
		cfg.Catalog.Backend = CatalogMemory
	}
	if cfg.Catalog.JSONPath == "" {
		cfg.Catalog.JSONPath = "products.json"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "shop"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Images.Backend == "" {
		cfg.Images.Backend = ImagesLocal
	}
	if cfg.Images.LocalDir == "" {
		cfg.Images.LocalDir = "uploads"
	}
	if cfg.Images.S3.Region == "" {
		cfg.Images.S3.Region = "us-east-1"
	}
	if cfg.Images.Host.Timeout == 0 {
		cfg.Images.Host.Timeout = 10 * time.Second
	}
	if cfg.Admin.Realm == "" {
		cfg.Admin.Realm = "shop admin"
	}
}

func (c *Config) validate() error {
	switch c.Catalog.Backend {
	case CatalogMemory, CatalogJSON, CatalogPostgres:
	default:
		return fmt.Errorf("catalog.backend must be one of memory, json, postgres, got %q", c.Catalog.Backend)
	}

	switch c.Images.Backend {
	case ImagesLocal:
	case ImagesS3:
		if c.Images.S3.Bucket == "" {
			return fmt.Errorf("images.s3.bucket is required for the s3 image backend")
		}
		if c.Images.S3.AccessKey == "" || c.Images.S3.SecretKey == "" {
			return fmt.Errorf("images.s3.access_key and images.s3.secret_key are required for the s3 image backend")
		}
	case ImagesHost:
		if c.Images.Host.UploadURL == "" {
			return fmt.Errorf("images.host.upload_url is required for the host image backend")
		}
		if _, err := url.ParseRequestURI(c.Images.Host.UploadURL); err != nil {
			return fmt.Errorf("images.host.upload_url is invalid: %w", err)
		}
	default:
		return fmt.Errorf("images.backend must be one of local, s3, host, got %q", c.Images.Backend)
	}

	if c.HTTP.MaxUploadBytes < 0 {
		return fmt.Errorf("http.max_upload_bytes cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.App.Env == "production" {
		if c.Admin.User == "" || (c.Admin.Password == "" && c.Admin.PasswordHash == "") {
			return fmt.Errorf("admin.user and admin.password (or admin.password_hash) are required in production")
		}
		if c.Metrics.Enabled && c.Metrics.Token == "" {
			return fmt.Errorf("metrics.token is required in production when metrics are enabled")
		}
	}

	return nil
}

// AdminEnabled reports whether the basic-auth gate is configured.
func (c *Config) AdminEnabled() bool {
	return c.Admin.User != "" && (c.Admin.Password != "" || c.Admin.PasswordHash != "")
}

// DSN returns the database connection string with properly escaped values.
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
