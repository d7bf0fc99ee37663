package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"jobpipe/internal/config"
)

// IntegrationSuite starts real dependencies in containers. Postgres is always
// started; NSQ and Redis only when requested.
type IntegrationSuite struct {
	T        *testing.T
	DB       *sql.DB
	DSN      string
	NSQ      *nsq.Producer
	NSQDAddr string
	NSQDHTTP string
	Redis    *redis.Client

	dbHost    string
	dbPort    int
	redisAddr string

	withNSQ   bool
	withRedis bool

	// Containers
	pgContainer    *postgres.PostgresContainer
	nsqContainer   testcontainers.Container
	redisContainer testcontainers.Container
}

type Option func(*IntegrationSuite)

func WithNSQ() Option   { return func(s *IntegrationSuite) { s.withNSQ = true } }
func WithRedis() Option { return func(s *IntegrationSuite) { s.withRedis = true } }

func NewIntegrationSuite(t *testing.T, opts ...Option) *IntegrationSuite {
	s := &IntegrationSuite{T: t}
	for _, o := range opts {
		o(s)
	}
	return s
}

// MigrationPath is the file:// URL of the repository's migrations directory.
func MigrationPath() string {
	_, b, _, _ := runtime.Caller(0)
	return fmt.Sprintf("file://%s/../../migrations", filepath.Dir(b))
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()

	// 1. Postgres
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("jobpipe_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	s.DSN, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.DB, err = sql.Open("postgres", s.DSN)
	require.NoError(s.T, err)

	s.dbHost, err = pgContainer.Host(ctx)
	require.NoError(s.T, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(s.T, err)
	s.dbPort = pgPort.Int()

	m, err := migrate.New(MigrationPath(), s.DSN)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())

	// 2. NSQ
	if s.withNSQ {
		nsqC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "nsqio/nsq:v1.3.0",
				ExposedPorts: []string{"4150/tcp", "4151/tcp"},
				Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
				WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
			},
			Started: true,
		})
		require.NoError(s.T, err)
		s.nsqContainer = nsqC

		host, err := nsqC.Host(ctx)
		require.NoError(s.T, err)
		tcpPort, err := nsqC.MappedPort(ctx, "4150")
		require.NoError(s.T, err)
		httpPort, err := nsqC.MappedPort(ctx, "4151")
		require.NoError(s.T, err)

		s.NSQDAddr = fmt.Sprintf("%s:%s", host, tcpPort.Port())
		s.NSQDHTTP = fmt.Sprintf("%s:%s", host, httpPort.Port())
		s.NSQ, err = nsq.NewProducer(s.NSQDAddr, nsq.NewConfig())
		require.NoError(s.T, err)
	}

	// 3. Redis
	if s.withRedis {
		redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
			},
			Started: true,
		})
		require.NoError(s.T, err)
		s.redisContainer = redisC

		host, err := redisC.Host(ctx)
		require.NoError(s.T, err)
		port, err := redisC.MappedPort(ctx, "6379")
		require.NoError(s.T, err)
		s.redisAddr = fmt.Sprintf("%s:%s", host, port.Port())
		s.Redis = redis.NewClient(&redis.Options{Addr: s.redisAddr})
	}
}

// GetAppConfig returns a config pointing at the suite's containers, with the
// in-process queue and blob emulator unless those were started.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	cfg := &config.Config{
		DBHost:                     s.dbHost,
		DBPort:                     s.dbPort,
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "jobpipe_test",
		MigrationPath:              MigrationPath(),
		QueueBackend:               config.QueueMemory,
		NSQChannel:                 "test",
		BlobBackend:                config.BlobEmulator,
		EmulatorRoot:               s.T.TempDir(),
		PublicURL:                  "http://localhost:8081",
		MaxUploadSizeMB:            50,
		UploadURLTTL:               15 * time.Minute,
		DownloadURLTTL:             15 * time.Minute,
		ConverterTimeout:           time.Minute,
		WaitingTTL:                 24 * time.Hour,
		ProcessingTTL:              time.Hour,
		BootstrapRetryAttempts:     3,
		BootstrapRetryDelaySeconds: 1,
	}
	if s.NSQ != nil {
		cfg.QueueBackend = config.QueueNSQ
		cfg.NSQDHost = s.NSQDAddr
		cfg.NSQDHTTP = s.NSQDHTTP
	}
	if s.Redis != nil {
		cfg.RedisAddr = s.redisAddr
	}
	return cfg
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.NSQ != nil {
		s.NSQ.Stop()
	}
	if s.Redis != nil {
		s.Redis.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	if s.pgContainer != nil {
		s.pgContainer.Terminate(ctx)
	}
	if s.nsqContainer != nil {
		s.nsqContainer.Terminate(ctx)
	}
	if s.redisContainer != nil {
		s.redisContainer.Terminate(ctx)
	}
}
