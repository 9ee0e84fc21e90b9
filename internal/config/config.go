package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port        int      `yaml:"port"`
		CORSOrigins []string `yaml:"corsOrigins"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // mysql | postgres
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	Storage struct {
		Driver string `yaml:"driver"` // minio | s3
		Minio  struct {
			Endpoint   string `yaml:"endpoint"`
			AccessKey  string `yaml:"accessKey"`
			SecretKey  string `yaml:"secretKey"`
			BucketName string `yaml:"bucketName"`
			Region     string `yaml:"region"`
			UseSSL     bool   `yaml:"useSSL"`
		} `yaml:"minio"`
		S3 struct {
			BucketName   string `yaml:"bucketName"`
			Region       string `yaml:"region"`
			Profile      string `yaml:"profile"`
			Endpoint     string `yaml:"endpoint"`
			UsePathStyle bool   `yaml:"usePathStyle"`
		} `yaml:"s3"`
	} `yaml:"storage"`

	AI struct {
		OpenAI struct {
			APIKey  string `yaml:"apiKey"`
			BaseURL string `yaml:"baseURL"`
			Model   string `yaml:"model"`
		} `yaml:"openai"`
		// Cohere, when a key is set, takes over the text-only recommendation call.
		Cohere struct {
			APIKey string `yaml:"apiKey"`
			Model  string `yaml:"model"`
		} `yaml:"cohere"`
	} `yaml:"ai"`

	Pipeline struct {
		// Concurrency is capped at 10 in-flight model calls per run.
		Concurrency int    `yaml:"concurrency"`
		TempDir     string `yaml:"tempDir"`
	} `yaml:"pipeline"`

	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		RequestTopic string   `yaml:"requestTopic"`
		EventsTopic  string   `yaml:"eventsTopic"`
		GroupID      string   `yaml:"groupID"`
		// Workers is how many runs one worker process executes at a time.
		Workers int `yaml:"workers"`
	} `yaml:"kafka"`

	Redis struct {
		Addr       string        `yaml:"addr"`
		Password   string        `yaml:"password"`
		DB         int           `yaml:"db"`
		LockPrefix string        `yaml:"lockPrefix"`
		LockTTL    time.Duration `yaml:"lockTTL"`
	} `yaml:"redis"`

	Sweeper struct {
		Enabled    bool          `yaml:"enabled"`
		Schedule   string        `yaml:"schedule"`
		StaleAfter time.Duration `yaml:"staleAfter"`
		BatchSize  int           `yaml:"batchSize"`
	} `yaml:"sweeper"`

	Auth struct {
		// APIKeys maps client name to key. Empty disables auth.
		APIKeys map[string]string `yaml:"apiKeys"`
	} `yaml:"auth"`

	RateLimit struct {
		Capacity   int `yaml:"capacity"`
		RefillRate int `yaml:"refillRate"`
	} `yaml:"rateLimit"`

	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// Path returns CONFIG_PATH or config.yaml.
func Path() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return "config.yaml"
}

// Load baca .env (kalau ada), file config, lalu override secret dari env
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read config %s", path)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, eris.Wrapf(err, "parse config %s", path)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.AI.OpenAI.APIKey, "OPENAI_API_KEY")
	override(&c.AI.Cohere.APIKey, "COHERE_API_KEY")
	override(&c.Database.Password, "DB_PASSWORD")
	override(&c.Storage.Minio.AccessKey, "MINIO_ACCESS_KEY")
	override(&c.Storage.Minio.SecretKey, "MINIO_SECRET_KEY")
	override(&c.Redis.Password, "REDIS_PASSWORD")
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Port == 0 {
		if c.Database.Driver == "postgres" {
			c.Database.Port = 5432
		} else {
			c.Database.Port = 3306
		}
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "minio"
	}
	if c.Pipeline.Concurrency <= 0 || c.Pipeline.Concurrency > 10 {
		c.Pipeline.Concurrency = 10
	}
	if c.Pipeline.TempDir == "" {
		c.Pipeline.TempDir = "./temp"
	}
	if c.Kafka.RequestTopic == "" {
		c.Kafka.RequestTopic = "plancheck.run-requests"
	}
	if c.Kafka.EventsTopic == "" {
		c.Kafka.EventsTopic = "plancheck.run-events"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "plancheck-worker"
	}
	if c.Kafka.Workers <= 0 {
		c.Kafka.Workers = 1
	}
	if c.RateLimit.Capacity <= 0 {
		c.RateLimit.Capacity = 60
	}
	if c.RateLimit.RefillRate <= 0 {
		c.RateLimit.RefillRate = 1
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects unknown drivers.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return eris.Errorf("unknown database driver %q (mysql|postgres)", c.Database.Driver)
	}
	switch c.Storage.Driver {
	case "minio", "s3":
	default:
		return eris.Errorf("unknown storage driver %q (minio|s3)", c.Storage.Driver)
	}
	return nil
}

// DSN returns the connection string for the configured driver.
func (c *Config) DSN() string {
	if c.Database.Driver == "postgres" {
		return c.PostgresDSN()
	}
	return c.MySQLDSN()
}

// Helper untuk build DSN MySQL. clientFoundRows makes guarded updates report matched
// rows, so a no-op write to a live run is not mistaken for a terminal one.
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC&clientFoundRows=true",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq URL.
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     "/" + c.Database.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.Database.SSLMode),
	}
	return u.String()
}

// Bucket returns the bucket of the active storage driver.
func (c *Config) Bucket() string {
	if c.Storage.Driver == "s3" {
		return c.Storage.S3.BucketName
	}
	return c.Storage.Minio.BucketName
}
