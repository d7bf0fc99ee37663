package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/redis/go-redis/v9"

	"jobpipe/internal/blob"
	"jobpipe/internal/config"
	"jobpipe/internal/queue"
)

// Dependencies holds every external connection the app needs.
type Dependencies struct {
	DB         *sql.DB
	Publisher  queue.Publisher
	Subscriber queue.Subscriber
	Blobs      blob.Gateway
	// BlobHandler serves the emulator's upload and download routes; nil when a
	// real object store is configured.
	BlobHandler http.Handler

	closers []func()
}

func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	deps := &Dependencies{}

	// Database
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	deps.DB = db
	deps.closers = append(deps.closers, func() { db.Close() })

	if err := Retry(ctx, "ping db", cfg.BootstrapRetryAttempts, retryDelay, db.PingContext); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if err := migrateUp(db, cfg.MigrationPath); err != nil {
		deps.Close()
		return nil, err
	}

	// Queue
	if err := setupQueue(ctx, cfg, deps, retryDelay); err != nil {
		deps.Close()
		return nil, err
	}

	// Blob store
	if err := setupBlobs(ctx, cfg, deps, retryDelay); err != nil {
		deps.Close()
		return nil, err
	}

	return deps, nil
}

func migrateUp(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	slog.Info("migrations applied successfully")
	return nil
}

func setupQueue(ctx context.Context, cfg *config.Config, deps *Dependencies, retryDelay time.Duration) error {
	switch cfg.QueueBackend {
	case config.QueueNSQ:
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			return fmt.Errorf("nsq producer error: %w", err)
		}
		deps.closers = append(deps.closers, producer.Stop)
		deps.Publisher = producer
		deps.Subscriber = queue.NewNSQSubscriber(cfg.NSQLookupd, cfg.NSQDHost, cfg.NSQChannel)

		createTopics(ctx, cfg.NSQDHTTP, config.Topics)

	case config.QueueRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		deps.closers = append(deps.closers, func() { client.Close() })
		ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
		if err := Retry(ctx, "ping redis", cfg.BootstrapRetryAttempts, retryDelay, ping); err != nil {
			return fmt.Errorf("redis error: %w", err)
		}
		q := queue.NewRedisQueue(client, "")
		deps.Publisher, deps.Subscriber = q, q

	case config.QueueMemory:
		// Only useful when the API and the workers share a process.
		broker := queue.NewMemoryBroker(0)
		deps.Publisher, deps.Subscriber = broker, broker

	default:
		return fmt.Errorf("%w: QUEUE_BACKEND=%q", config.ErrInvalidValue, cfg.QueueBackend)
	}
	return nil
}

func setupBlobs(ctx context.Context, cfg *config.Config, deps *Dependencies, retryDelay time.Duration) error {
	switch cfg.BlobBackend {
	case config.BlobS3:
		gw, err := blob.NewS3Gateway(blob.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return err
		}
		if err := Retry(ctx, "ensure bucket", cfg.BootstrapRetryAttempts, retryDelay, gw.EnsureBucket); err != nil {
			return fmt.Errorf("s3 bucket error: %w", err)
		}
		deps.Blobs = gw

	case config.BlobEmulator:
		em := blob.NewEmulator(cfg.EmulatorRoot, cfg.PublicURL+"/blob",
			blob.WithNotifier(deps.Publisher, config.TopicConvert),
			blob.WithMaxUpload(cfg.MaxUploadSizeMB<<20),
		)
		deps.Blobs = em
		deps.BlobHandler = em.Handler()

	default:
		return fmt.Errorf("%w: BLOB_BACKEND=%q", config.ErrInvalidValue, cfg.BlobBackend)
	}
	return nil
}

// createTopics registers topics with nsqd up front so consumers that discover
// producers through nsqlookupd do not 404 before the first publish.
func createTopics(ctx context.Context, nsqdHTTP string, topics []string) {
	client := &http.Client{Timeout: 5 * time.Second}
	for _, topic := range topics {
		u := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, url.QueryEscape(topic))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			continue
		}
		resp, err := client.Do(req) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			continue
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
		if resp.StatusCode != http.StatusOK {
			slog.Warn("NSQ topic creation rejected", "topic", topic, "status", resp.StatusCode)
			continue
		}
		slog.Info("NSQ topic pre-created", "topic", topic)
	}
}

// Retry calls fn up to attempts times, sleeping delay between failures.
func Retry(ctx context.Context, what string, attempts int, delay time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		slog.Warn(what+" failed, retrying...", "attempt", i+1, "max_attempts", attempts, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
