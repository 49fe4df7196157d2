package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tutordesk/internal/blob"
	"tutordesk/internal/core"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.Storage.Driver != core.StorageSQLite || cfg.Blob.Driver != blob.DriverFilesystem {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.SessionTTL != 12*time.Hour || cfg.LogLevel != slog.LevelInfo || cfg.ExportQueueSize != 32 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TUTORDESK_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("TUTORDESK_STORAGE_DRIVER", "Postgres")
	t.Setenv("TUTORDESK_POSTGRES_DSN", "postgres://localhost/tutordesk")
	t.Setenv("TUTORDESK_REDIS_ADDR", "localhost:6379")
	t.Setenv("TUTORDESK_REDIS_DB", "2")
	t.Setenv("TUTORDESK_BLOB_DRIVER", "s3")
	t.Setenv("TUTORDESK_BLOB_S3_BUCKET", "reports")
	t.Setenv("TUTORDESK_BLOB_S3_PATH_STYLE", "true")
	t.Setenv("TUTORDESK_SESSION_TTL", "30m")
	t.Setenv("TUTORDESK_LOG_LEVEL", "debug")
	t.Setenv("TUTORDESK_LOG_FORMAT", "TEXT")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9000" || cfg.Storage.Driver != core.StoragePostgres || cfg.Storage.RedisDB != 2 {
		t.Fatalf("unexpected storage config %+v", cfg)
	}
	if cfg.Blob.Driver != blob.DriverS3 || cfg.Blob.S3.Bucket != "reports" || !cfg.Blob.S3.PathStyle {
		t.Fatalf("unexpected blob config %+v", cfg.Blob)
	}
	if cfg.SessionTTL != 30*time.Minute || cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != "text" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("TUTORDESK_JWT_SECRET=from-dotenv-file-secret\nTUTORDESK_HTTP_ADDR=:7000\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	// Variables already present win over the file.
	t.Setenv("TUTORDESK_HTTP_ADDR", ":6000")
	t.Setenv("TUTORDESK_JWT_SECRET", "")
	os.Unsetenv("TUTORDESK_JWT_SECRET")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWTSecret != "from-dotenv-file-secret" || cfg.HTTPAddr != ":6000" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}

func TestValidateRejectsBadCombinations(t *testing.T) {
	t.Setenv("TUTORDESK_STORAGE_DRIVER", "postgres")
	t.Setenv("TUTORDESK_BLOB_DRIVER", "s3")
	t.Setenv("TUTORDESK_LOG_FORMAT", "xml")
	_, err := Load("")
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"TUTORDESK_POSTGRES_DSN", "TUTORDESK_BLOB_S3_BUCKET", "log format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}

	t.Setenv("TUTORDESK_LOG_LEVEL", "loud")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected log level error")
	}
}
