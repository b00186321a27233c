// Package cache provides the Redis-backed idempotency and score-result
// caches shared by replicas of the fraud detection service.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/banking/fraud-detection/internal/config"
	"github.com/banking/fraud-detection/internal/domain"
)

// Client wraps the Redis connection with typed accessors.
type Client struct {
	rdb            *redis.Client
	scoreCacheTTL  time.Duration
	idempotencyTTL time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{
		rdb:            rdb,
		scoreCacheTTL:  cfg.ScoreCacheTTL,
		idempotencyTTL: cfg.IdempotencyTTL,
	}, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// FirstSeen implements featurestore.IdempotencyCache via SETNX. The key
// lives as long as the lookback window, matching how long a redelivery
// could still skew the rolling statistics.
func (c *Client) FirstSeen(ctx context.Context, txID string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, "fraud:seen:"+txID, 1, c.idempotencyTTL).Result()
	if err != nil {
		return false, fmt.Errorf("setnx idempotency key: %w", err)
	}
	return ok, nil
}

// SaveScore caches a score result keyed by transaction id.
func (c *Client) SaveScore(ctx context.Context, result *domain.ScoreResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal score result: %w", err)
	}
	return c.rdb.Set(ctx, "fraud:score:"+result.TransactionID, data, c.scoreCacheTTL).Err()
}

// GetScore returns a cached score result, or nil if absent.
func (c *Client) GetScore(ctx context.Context, txID string) (*domain.ScoreResult, error) {
	data, err := c.rdb.Get(ctx, "fraud:score:"+txID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached score: %w", err)
	}

	var result domain.ScoreResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal cached score: %w", err)
	}
	return &result, nil
}
