package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agamariel/printdesk/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig параметры подключения к Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore хранит подготовленные изменения в Redis с TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStore создаёт хранилище поверх go-redis.
func NewRedisStore(cfg RedisConfig, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl:    ttl,
		logger: logger.With("component", "staging_redis"),
	}
}

// Ping проверяет доступность Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close освобождает соединения.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) SaveOrderUpdate(ctx context.Context, update *models.PendingUpdate) error {
	return s.set(ctx, orderKey(update.OrderID), update)
}

func (s *RedisStore) LoadOrderUpdate(ctx context.Context, orderID uuid.UUID) (*models.PendingUpdate, error) {
	raw, err := s.get(ctx, orderKey(orderID))
	if err != nil || raw == nil {
		return nil, err
	}
	return models.DecodePendingUpdate(raw)
}

func (s *RedisStore) ClearOrderUpdate(ctx context.Context, orderID uuid.UUID) error {
	return s.del(ctx, orderKey(orderID))
}

func (s *RedisStore) SaveProjectUpdate(ctx context.Context, update *models.ProjectPendingUpdate) error {
	return s.set(ctx, projectKey(update.ProjectID), update)
}

func (s *RedisStore) LoadProjectUpdate(ctx context.Context, projectID string) (*models.ProjectPendingUpdate, error) {
	raw, err := s.get(ctx, projectKey(projectID))
	if err != nil || raw == nil {
		return nil, err
	}
	return models.DecodeProjectPendingUpdate(raw)
}

func (s *RedisStore) ClearProjectUpdate(ctx context.Context, projectID string) error {
	return s.del(ctx, projectKey(projectID))
}

func (s *RedisStore) set(ctx context.Context, key string, value any) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) get(ctx context.Context, key string) ([]byte, error) {
	res, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return res, nil
}

func (s *RedisStore) del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
