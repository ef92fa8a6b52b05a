package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"courier/internal/config"
	"courier/internal/queue"
)

type Dependencies struct {
	DB    *sql.DB
	Redis *redis.Client
	Store *queue.RedisStore
}

// Bootstrap connects to Postgres and Redis and applies migrations. An
// unreachable queue store aborts startup so ingestion never begins.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	// Database
	db, err := sql.Open("postgres", cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := PingWithRetry(ctx, "postgres", db.PingContext, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Migrations
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		_ = db.Close()
		return nil, fmt.Errorf("migration up error: %w", err)
	}

	// Queue store
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store := queue.NewRedisStore(rdb, cfg.RedisPrefix, queue.WithLogger(slog.Default().With("component", "queue")))
	if err := PingWithRetry(ctx, "redis", store.Ping, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		_ = rdb.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	createTopics(cfg.NSQDHTTP)

	return &Dependencies{DB: db, Redis: rdb, Store: store}, nil
}

func (d *Dependencies) Close() error {
	return errors.Join(d.Redis.Close(), d.DB.Close())
}

// PingWithRetry calls ping up to attempts times, sleeping delay between
// failures. It always pings at least once.
func PingWithRetry(ctx context.Context, name string, ping func(context.Context) error, attempts int, delay time.Duration) error {
	attempts = max(attempts, 1)

	var err error
	for i := 0; i < attempts; i++ {
		if err = ping(ctx); err == nil {
			return nil
		}
		slog.WarnContext(ctx, "dependency not ready, retrying...", "dependency", name, "attempt", i+1, "max_attempts", attempts, "error", err)
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}

// createTopics pre-creates the ingest topic so the consumer does not log
// lookup errors before the first publish.
func createTopics(nsqdHTTP string) {
	if nsqdHTTP == "" {
		return
	}
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go create(config.TopicDeliveryEnqueue)
}
