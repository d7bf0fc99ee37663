package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const (
	QueueNSQ    = "nsq"
	QueueRedis  = "redis"
	QueueMemory = "memory"

	BlobS3       = "s3"
	BlobEmulator = "emulator"
)

type Config struct {
	DBHost        string `envconfig:"DB_HOST" default:"postgres"`
	DBPort        int    `envconfig:"DB_PORT" default:"5432"`
	DBUser        string `envconfig:"DB_USER" default:"jobpipe"`
	DBPass        string `envconfig:"DB_PASS" default:"password"`
	DBName        string `envconfig:"DB_NAME" default:"jobpipe"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Queue
	QueueBackend  string `envconfig:"QUEUE_BACKEND" default:"nsq"`
	NSQLookupd    string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost      string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP      string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQChannel    string `envconfig:"NSQ_CHANNEL" default:"worker"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"redis:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Blob store
	BlobBackend     string        `envconfig:"BLOB_BACKEND" default:"emulator"`
	S3Endpoint      string        `envconfig:"S3_ENDPOINT" default:"minio:9000"`
	S3AccessKey     string        `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey     string        `envconfig:"S3_SECRET_KEY"`
	S3Bucket        string        `envconfig:"S3_BUCKET" default:"jobpipe"`
	S3Region        string        `envconfig:"S3_REGION" default:"us-east-1"`
	S3UseSSL        bool          `envconfig:"S3_USE_SSL" default:"false"`
	EmulatorRoot    string        `envconfig:"EMULATOR_ROOT" default:"./data/blobs"`
	PublicURL       string        `envconfig:"PUBLIC_URL" default:"http://localhost:8081"`
	UploadURLTTL    time.Duration `envconfig:"UPLOAD_URL_TTL" default:"15m"`
	DownloadURLTTL  time.Duration `envconfig:"DOWNLOAD_URL_TTL" default:"15m"`
	MaxUploadSizeMB int64         `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`

	// Executor
	ConverterPath    string        `envconfig:"CONVERTER_PATH" default:"converter"`
	ConverterTimeout time.Duration `envconfig:"CONVERTER_TIMEOUT" default:"2m"`
	ScratchDir       string        `envconfig:"SCRATCH_DIR"`
	SMTPHost         string        `envconfig:"SMTP_HOST"`
	SMTPPort         int           `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser         string        `envconfig:"SMTP_USER"`
	SMTPPass         string        `envconfig:"SMTP_PASS"`
	MailFrom         string        `envconfig:"MAIL_FROM" default:"no-reply@jobpipe.local"`

	EnableAPI    bool `envconfig:"ENABLE_API" default:"true"`
	EnableWorker bool `envconfig:"ENABLE_WORKER" default:"true"`

	// Server
	ServerPort int `envconfig:"SERVER_PORT" default:"8081"`

	// Reaper
	ReaperInterval time.Duration `envconfig:"REAPER_INTERVAL" default:"5m"`
	WaitingTTL     time.Duration `envconfig:"WAITING_TTL" default:"24h"`
	ProcessingTTL  time.Duration `envconfig:"PROCESSING_TTL" default:"1h"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}

	switch c.QueueBackend {
	case QueueNSQ, QueueRedis, QueueMemory:
	default:
		return fmt.Errorf("%w: QUEUE_BACKEND=%q", ErrInvalidValue, c.QueueBackend)
	}

	switch c.BlobBackend {
	case BlobEmulator:
		if c.EmulatorRoot == "" {
			return fmt.Errorf("%w: EMULATOR_ROOT", ErrMissingRequired)
		}
	case BlobS3:
		if c.S3Endpoint == "" || c.S3Bucket == "" {
			return fmt.Errorf("%w: S3_ENDPOINT and S3_BUCKET", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: BLOB_BACKEND=%q", ErrInvalidValue, c.BlobBackend)
	}

	if c.UploadURLTTL <= 0 || c.DownloadURLTTL <= 0 {
		return fmt.Errorf("%w: presigned URL TTLs must be positive", ErrInvalidValue)
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
