package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "orchestrator:provider:"

// RedisStore shares selections across orchestrator replicas.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromURL parses a redis:// URL and pings the server.
func NewRedisStoreFromURL(ctx context.Context, url string) (*RedisStore, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStore(client), nil
}

func redisKey(companyID string, workflowType models.WorkflowType) string {
	return fmt.Sprintf("%s%s:%s", redisKeyPrefix, companyID, workflowType)
}

func (s *RedisStore) Current(ctx context.Context, companyID string, workflowType models.WorkflowType) (string, error) {
	provider, err := s.client.Get(ctx, redisKey(companyID, workflowType)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("failed to read provider selection: %w", err)
	}

	return provider, nil
}

func (s *RedisStore) Set(ctx context.Context, companyID string, workflowType models.WorkflowType, provider string) error {
	err := s.client.Set(ctx, redisKey(companyID, workflowType), provider, 0).Err()
	if err != nil {
		return fmt.Errorf("failed to store provider selection: %w", err)
	}

	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
