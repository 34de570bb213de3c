package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/redis/go-redis/v9"
)

var _ Sequencer = (*RedisSequencer)(nil)

const counterKeyPrefix = "op-replay:test-number:"

// RedisSequencer allocates test numbers with Redis INCR so that several
// op-replay processes sharing one store agree on the numbering.
type RedisSequencer struct {
	client redis.UniversalClient
	seed   TestRunStore
}

// NewRedisSequencer creates a sequencer whose counters start from the
// highest test number found in seed the first time a service is seen.
func NewRedisSequencer(client redis.UniversalClient, seed TestRunStore) *RedisSequencer {
	return &RedisSequencer{client: client, seed: seed}
}

// NewRedisClient parses a redis URL (eg. redis://localhost:6379/0) into a client.
func NewRedisClient(url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// CheckRedisConnection pings the server with a short timeout.
func CheckRedisConnection(client redis.UniversalClient) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("error connecting to redis: %w", err)
	}
	return nil
}

// NextTestNumber seeds the counter with SETNX, which only the first caller
// wins, then increments it. Both commands are atomic on the server.
func (s *RedisSequencer) NextTestNumber(ctx context.Context, serviceID string) (int64, error) {
	key := counterKeyPrefix + serviceID

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to check test number counter: %w", err)
	}
	if exists == 0 && s.seed != nil {
		latest, err := s.seed.LatestTestNumber(ctx, serviceID)
		if err != nil {
			return 0, fmt.Errorf("failed to seed test number counter: %w", err)
		}
		seeded, err := s.client.SetNX(ctx, key, latest, 0).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to seed test number counter: %w", err)
		}
		if seeded {
			log.Debug("Seeded test number counter", "service", serviceID, "latest", latest)
		}
	}

	next, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment test number counter: %w", err)
	}
	return next, nil
}
