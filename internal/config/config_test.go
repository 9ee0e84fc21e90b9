package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "database:\n  host: db\n  user: app\n  name: plancheck\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.Database.Driver != "mysql" || cfg.Database.Port != 3306 {
		t.Fatalf("database = %s:%d", cfg.Database.Driver, cfg.Database.Port)
	}
	if cfg.Storage.Driver != "minio" {
		t.Fatalf("storage driver = %s", cfg.Storage.Driver)
	}
	if cfg.Pipeline.Concurrency != 10 || cfg.Pipeline.TempDir != "./temp" {
		t.Fatalf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Kafka.Workers != 1 {
		t.Fatalf("kafka workers = %d", cfg.Kafka.Workers)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("log level = %s", cfg.Log.Level)
	}
}

func TestLoadCapsConcurrency(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"below cap kept", "pipeline:\n  concurrency: 4\n", 4},
		{"at cap kept", "pipeline:\n  concurrency: 10\n", 10},
		{"above cap clamped", "pipeline:\n  concurrency: 25\n", 10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tc.body))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Pipeline.Concurrency != tc.want {
				t.Fatalf("concurrency = %d, want %d", cfg.Pipeline.Concurrency, tc.want)
			}
		})
	}
}

func TestLoadFull(t *testing.T) {
	t.Setenv("DB_PASSWORD", "")
	cfg, err := Load(writeConfig(t, `
server:
  port: 9090
database:
  driver: postgres
  host: pg
  user: app
  password: from-file
  name: plancheck
storage:
  driver: s3
  s3:
    bucketName: plans
    region: us-east-1
pipeline:
  concurrency: 4
redis:
  addr: localhost:6379
  lockTTL: 90s
sweeper:
  enabled: true
  staleAfter: 45m
auth:
  apiKeys:
    portal: k1
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.Port != 5432 {
		t.Fatalf("postgres port = %d", cfg.Database.Port)
	}
	if cfg.Pipeline.Concurrency != 4 {
		t.Fatalf("concurrency = %d", cfg.Pipeline.Concurrency)
	}
	if cfg.Redis.LockTTL != 90*time.Second {
		t.Fatalf("lock ttl = %s", cfg.Redis.LockTTL)
	}
	if cfg.Sweeper.StaleAfter != 45*time.Minute {
		t.Fatalf("stale after = %s", cfg.Sweeper.StaleAfter)
	}
	if cfg.Bucket() != "plans" {
		t.Fatalf("bucket = %s", cfg.Bucket())
	}
	if cfg.Auth.APIKeys["portal"] != "k1" {
		t.Fatalf("api keys = %v", cfg.Auth.APIKeys)
	}
	if !strings.HasPrefix(cfg.DSN(), "postgres://app:from-file@pg:5432/plancheck") {
		t.Fatalf("dsn = %s", cfg.DSN())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("DB_PASSWORD", "env-pass")
	t.Setenv("MINIO_SECRET_KEY", "minio-env")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(writeConfig(t, "database:\n  password: file-pass\nai:\n  openai:\n    apiKey: sk-file\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AI.OpenAI.APIKey != "sk-env" {
		t.Fatalf("openai key = %s", cfg.AI.OpenAI.APIKey)
	}
	if cfg.Database.Password != "env-pass" {
		t.Fatalf("db password = %s", cfg.Database.Password)
	}
	if cfg.Storage.Minio.SecretKey != "minio-env" {
		t.Fatalf("minio secret = %s", cfg.Storage.Minio.SecretKey)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"database", "database:\n  driver: sqlite\n"},
		{"storage", "storage:\n  driver: gcs\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestMySQLDSN(t *testing.T) {
	var cfg Config
	cfg.Database.User = "app"
	cfg.Database.Password = "pw"
	cfg.Database.Host = "db"
	cfg.Database.Port = 3306
	cfg.Database.Name = "plancheck"

	dsn := cfg.MySQLDSN()
	if !strings.HasPrefix(dsn, "app:pw@tcp(db:3306)/plancheck?") {
		t.Fatalf("dsn = %s", dsn)
	}
	for _, opt := range []string{"parseTime=true", "loc=UTC", "clientFoundRows=true"} {
		if !strings.Contains(dsn, opt) {
			t.Fatalf("dsn %s missing %s", dsn, opt)
		}
	}
}

func TestPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	if Path() != "config.yaml" {
		t.Fatalf("default path = %s", Path())
	}
	t.Setenv("CONFIG_PATH", "/etc/plancheck.yaml")
	if Path() != "/etc/plancheck.yaml" {
		t.Fatalf("path = %s", Path())
	}
}
