package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/satindergrewal/snaptracks/internal/track"
	"github.com/sirupsen/logrus"
)

// Config configures the Redis connection and the record key.
type Config struct {
	Addr     string // e.g. localhost:6379
	Password string
	DB       int
	Key      string
}

// Store keeps the track record under a single Redis key.
type Store struct {
	client *redis.Client
	key    string
}

// NewStore connects and pings Redis.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &Store{client: client, key: cfg.Key}, nil
}

func (s *Store) Save(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		logrus.WithField("key", s.key).WithError(err).Error("Failed to save track record")
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, track.ErrNoRecord
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
