// internal/cache/balance_cache.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"settlement-service/config"
	"settlement-service/internal/domain"
	"settlement-service/internal/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// BalanceCache stores derived balances keyed by account and account version.
// A posting bumps the version in the same transaction, so a stale key is never read after commit.
type BalanceCache interface {
	Get(ctx context.Context, accountID string, version int64) (domain.Balances, bool)
	Set(ctx context.Context, accountID string, version int64, b domain.Balances)
	Invalidate(ctx context.Context, accountID string, version int64)
}

func BalanceKey(accountID string, version int64) string {
	return fmt.Sprintf("wallet:balance:%s:v%d", accountID, version)
}

// NewRedisClient connects and pings before returning.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        50,
		MinIdleConns:    5,
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return client, nil
}

// ===============================
// Redis
// ===============================

type RedisBalanceCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisBalanceCache(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisBalanceCache {
	return &RedisBalanceCache{client: client, ttl: ttl, logger: logger}
}

// Get treats every redis failure as a miss; the ledger falls back to the database.
func (c *RedisBalanceCache) Get(ctx context.Context, accountID string, version int64) (domain.Balances, bool) {
	var b domain.Balances
	data, err := c.client.Get(ctx, BalanceKey(accountID, version)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("balance cache read failed", zap.String("account_id", accountID), zap.Error(err))
			metrics.BalanceCache.WithLabelValues("error").Inc()
			return b, false
		}
		metrics.BalanceCache.WithLabelValues("miss").Inc()
		return b, false
	}
	if err := json.Unmarshal(data, &b); err != nil {
		c.logger.Warn("balance cache entry corrupt", zap.String("account_id", accountID), zap.Error(err))
		metrics.BalanceCache.WithLabelValues("error").Inc()
		return b, false
	}
	metrics.BalanceCache.WithLabelValues("hit").Inc()
	return b, true
}

func (c *RedisBalanceCache) Set(ctx context.Context, accountID string, version int64, b domain.Balances) {
	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, BalanceKey(accountID, version), data, c.ttl).Err(); err != nil {
		c.logger.Warn("balance cache write failed", zap.String("account_id", accountID), zap.Error(err))
	}
}

func (c *RedisBalanceCache) Invalidate(ctx context.Context, accountID string, version int64) {
	if err := c.client.Del(ctx, BalanceKey(accountID, version)).Err(); err != nil {
		c.logger.Warn("balance cache invalidate failed", zap.String("account_id", accountID), zap.Error(err))
	}
}

// ===============================
// In-process
// ===============================

// MemoryBalanceCache is used when redis is disabled.
type MemoryBalanceCache struct {
	mu      sync.RWMutex
	entries map[string]domain.Balances
}

func NewMemoryBalanceCache() *MemoryBalanceCache {
	return &MemoryBalanceCache{entries: make(map[string]domain.Balances)}
}

func (c *MemoryBalanceCache) Get(_ context.Context, accountID string, version int64) (domain.Balances, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.entries[BalanceKey(accountID, version)]
	if ok {
		metrics.BalanceCache.WithLabelValues("hit").Inc()
	} else {
		metrics.BalanceCache.WithLabelValues("miss").Inc()
	}
	return b, ok
}

func (c *MemoryBalanceCache) Set(_ context.Context, accountID string, version int64, b domain.Balances) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[BalanceKey(accountID, version)] = b
}

func (c *MemoryBalanceCache) Invalidate(_ context.Context, accountID string, version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, BalanceKey(accountID, version))
}

// Len reports the number of cached entries.
func (c *MemoryBalanceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
