// Package config reads tutordesk settings from TUTORDESK_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"tutordesk/internal/blob"
	"tutordesk/internal/core"
)

// EnvPrefix is prepended to every key when reading the environment.
const EnvPrefix = "TUTORDESK"

// Config is the resolved process configuration.
type Config struct {
	HTTPAddr string

	Storage core.StorageConfig
	Blob    blob.Config

	JWTSecret  string
	JWTIssuer  string
	SessionTTL time.Duration

	LogLevel  slog.Level
	LogFormat string // json|text

	ExportQueueSize int
}

func defaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("storage_driver", string(core.StorageSQLite))
	v.SetDefault("sqlite_path", "tutordesk.db")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_channel", "")
	v.SetDefault("blob_driver", string(blob.DriverFilesystem))
	v.SetDefault("blob_fs_root", "./blobdata")
	v.SetDefault("blob_s3_bucket", "")
	v.SetDefault("blob_s3_region", "")
	v.SetDefault("blob_s3_endpoint", "")
	v.SetDefault("blob_s3_path_style", false)
	v.SetDefault("blob_s3_access_key_id", "")
	v.SetDefault("blob_s3_secret_access_key", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_issuer", "tutordesk")
	v.SetDefault("session_ttl", 12*time.Hour)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("export_queue_size", 32)
}

// Load reads envFile (skipped when empty or missing) into the process
// environment without overriding variables that are already set, then
// resolves every key.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	cfg := Config{
		HTTPAddr: v.GetString("http_addr"),
		Storage: core.StorageConfig{
			Driver:        core.StorageDriver(strings.ToLower(v.GetString("storage_driver"))),
			SQLitePath:    v.GetString("sqlite_path"),
			PostgresDSN:   v.GetString("postgres_dsn"),
			RedisAddr:     v.GetString("redis_addr"),
			RedisPassword: v.GetString("redis_password"),
			RedisDB:       v.GetInt("redis_db"),
			RedisChannel:  v.GetString("redis_channel"),
		},
		Blob: blob.Config{
			Driver: blob.Driver(strings.ToLower(v.GetString("blob_driver"))),
			FSRoot: v.GetString("blob_fs_root"),
			S3: blob.S3Config{
				Bucket:          v.GetString("blob_s3_bucket"),
				Region:          v.GetString("blob_s3_region"),
				Endpoint:        v.GetString("blob_s3_endpoint"),
				PathStyle:       v.GetBool("blob_s3_path_style"),
				AccessKeyID:     v.GetString("blob_s3_access_key_id"),
				SecretAccessKey: v.GetString("blob_s3_secret_access_key"),
			},
		},
		JWTSecret:       v.GetString("jwt_secret"),
		JWTIssuer:       v.GetString("jwt_issuer"),
		SessionTTL:      v.GetDuration("session_ttl"),
		LogFormat:       strings.ToLower(v.GetString("log_format")),
		ExportQueueSize: v.GetInt("export_queue_size"),
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		return Config{}, fmt.Errorf("config: log level: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres storage requires TUTORDESK_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.Blob.Driver {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("s3 blob storage requires TUTORDESK_BLOB_S3_BUCKET"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if c.ExportQueueSize <= 0 {
		errs = append(errs, errors.New("export queue size must be positive"))
	}
	return errors.Join(errs...)
}
