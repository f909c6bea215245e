package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/barkbase/automation/pkg/persistence"
	"github.com/barkbase/automation/pkg/persistence/memory"
	"github.com/barkbase/automation/pkg/persistence/postgresql"
	"github.com/barkbase/automation/pkg/persistence/redisqueue"
	"github.com/redis/go-redis/v9"
)

var (
	ErrUnsupportedPersistence = errors.New("unsupported persistence provider")
	ErrUnsupportedQueue       = errors.New("unsupported job queue provider")
	ErrRedisURLRequired       = errors.New("redis job queue requires a redis url")
)

var supportedPersistenceProviders = []string{"memory", "postgres", "postgresql"}

// NewPersistence opens the store named by databaseURL's scheme:
// memory:// or postgres://.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string, lockTTL time.Duration) (persistence.Persistence, error) {
	provider := parsePersistenceProvider(databaseURL)

	switch provider {
	case "memory":
		return memory.NewPersistence(memory.WithLockTTL(lockTTL)), nil
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL, lockTTL)
	default:
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedPersistence, provider, strings.Join(supportedPersistenceProviders, ", "))
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return databaseURL
	}

	return provider
}

// WithQueue swaps the job queue of p for the provider named by queue.
// "database" (or empty) keeps the store's own queue.
func WithQueue(ctx context.Context, logger *slog.Logger, p persistence.Persistence, queue, redisURL string, lockTTL time.Duration) (persistence.Persistence, error) {
	switch queue {
	case "", "database":
		return p, nil
	case "redis":
		if redisURL == "" {
			return nil, ErrRedisURLRequired
		}

		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}

		client := redis.NewClient(opts)

		err = client.Ping(ctx).Err()
		if err != nil {
			_ = client.Close()

			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		logger.InfoContext(ctx, "using redis job queue", "addr", opts.Addr)

		return persistence.WithJobQueue(p, redisqueue.NewQueue(client, logger, redisqueue.WithLockTTL(lockTTL))), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedQueue, queue)
	}
}
