package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds the configuration for all services
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
	Upload   UploadConfig   `yaml:"upload" mapstructure:"upload"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"` // postgres, sqlite
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	DBName   string `yaml:"dbname" mapstructure:"dbname"`
	SSLMode  string `yaml:"sslmode" mapstructure:"sslmode"`
	Path     string `yaml:"path" mapstructure:"path"` // sqlite file
}

// RedisConfig holds Redis connection settings. An empty host disables Redis.
type RedisConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// StorageConfig holds blob storage configuration
type StorageConfig struct {
	Type      string            `yaml:"type" mapstructure:"type"` // local, s3
	Bucket    string            `yaml:"bucket" mapstructure:"bucket"`
	Region    string            `yaml:"region" mapstructure:"region"`
	Endpoint  string            `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string            `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string            `yaml:"secret_key" mapstructure:"secret_key"`
	UseSSL    bool              `yaml:"use_ssl" mapstructure:"use_ssl"`
	LocalPath string            `yaml:"local_path" mapstructure:"local_path"`
	Options   map[string]string `yaml:"options" mapstructure:"options"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	JWTExpiration time.Duration `yaml:"jwt_expiration" mapstructure:"jwt_expiration"`
	BCryptCost    int           `yaml:"bcrypt_cost" mapstructure:"bcrypt_cost"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json, text
}

// UploadConfig holds the chunked upload protocol settings
type UploadConfig struct {
	// ExpirationDelta is how long after creation an upload expires
	ExpirationDelta time.Duration `yaml:"expiration_delta" mapstructure:"expiration_delta"`
	// UploadPath is a time layout for the directory holding in-progress blobs
	UploadPath string `yaml:"upload_path" mapstructure:"upload_path"`
	// MaxBytes limits the declared total size of an upload, 0 means no limit
	MaxBytes           int64    `yaml:"max_bytes" mapstructure:"max_bytes"`
	RequireRangeHeader bool     `yaml:"require_range_header" mapstructure:"require_range_header"`
	ChecksumCheck      bool     `yaml:"checksum_check" mapstructure:"checksum_check"`
	SupportedChecksums []string `yaml:"supported_checksums" mapstructure:"supported_checksums"`
	OwnerScoped        bool     `yaml:"owner_scoped" mapstructure:"owner_scoped"`
	AllowAnonymous     bool     `yaml:"allow_anonymous" mapstructure:"allow_anonymous"`
	Grouping           bool     `yaml:"grouping" mapstructure:"grouping"`
	RequiredFields     []string `yaml:"required_fields" mapstructure:"required_fields"`
	// SweepInterval schedules the in-process expiration sweep, 0 disables it
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	// ProtocolConstraint is a semver constraint clients' protocol versions must satisfy
	ProtocolConstraint string        `yaml:"protocol_constraint" mapstructure:"protocol_constraint"`
	LockTTL            time.Duration `yaml:"lock_ttl" mapstructure:"lock_ttl"`
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 60*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "chunkup"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "chunkup"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Path:     getEnv("DB_PATH", "./chunkup.db"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Storage: StorageConfig{
			Type:      getEnv("STORAGE_TYPE", "local"),
			Bucket:    getEnv("STORAGE_BUCKET", "chunkup-uploads"),
			Region:    getEnv("STORAGE_REGION", "us-east-1"),
			Endpoint:  getEnv("STORAGE_ENDPOINT", ""),
			AccessKey: getEnv("STORAGE_ACCESS_KEY", ""),
			SecretKey: getEnv("STORAGE_SECRET_KEY", ""),
			UseSSL:    getEnvBool("STORAGE_USE_SSL", false),
			LocalPath: getEnv("STORAGE_LOCAL_PATH", "./uploads"),
		},
		Auth: AuthConfig{
			JWTSecret:     getEnv("JWT_SECRET", "your-secret-key"),
			JWTExpiration: getEnvDuration("JWT_EXPIRATION", 24*time.Hour),
			BCryptCost:    getEnvInt("BCRYPT_COST", 12),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Upload: UploadConfig{
			ExpirationDelta:    getEnvDuration("UPLOAD_EXPIRATION_DELTA", 24*time.Hour),
			UploadPath:         getEnv("UPLOAD_PATH", "chunked_uploads/2006/01/02"),
			MaxBytes:           getEnvInt64("UPLOAD_MAX_BYTES", 0),
			RequireRangeHeader: getEnvBool("UPLOAD_REQUIRE_RANGE_HEADER", false),
			ChecksumCheck:      getEnvBool("UPLOAD_CHECKSUM_CHECK", true),
			SupportedChecksums: getEnvList("UPLOAD_SUPPORTED_CHECKSUMS", []string{"md5", "sha1", "sha224", "sha256", "sha384", "sha512", "crc32", "adler32"}),
			OwnerScoped:        getEnvBool("UPLOAD_OWNER_SCOPED", true),
			AllowAnonymous:     getEnvBool("UPLOAD_ALLOW_ANONYMOUS", false),
			Grouping:           getEnvBool("UPLOAD_GROUPING", false),
			RequiredFields:     getEnvList("UPLOAD_REQUIRED_FIELDS", nil),
			SweepInterval:      getEnvDuration("UPLOAD_SWEEP_INTERVAL", time.Hour),
			ProtocolConstraint: getEnv("UPLOAD_PROTOCOL_CONSTRAINT", ">= 1.0.0, < 2.0.0"),
			LockTTL:            getEnvDuration("UPLOAD_LOCK_TTL", 5*time.Minute),
		},
	}
}

// Load reads an optional YAML file on top of the environment defaults.
// Keys missing from the file keep their environment value.
func Load(path string) (*Config, error) {
	cfg := LoadFromEnv()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// DatabaseURL returns a PostgreSQL connection string
func (d *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisAddr returns the Redis address
func (r *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Enabled reports whether a Redis host is configured
func (r *RedisConfig) Enabled() bool {
	return r.Host != ""
}

// SetupLogging configures the global zerolog logger
func (l *LoggingConfig) SetupLogging() {
	level, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil || l.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if l.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
