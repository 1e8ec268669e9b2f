// Package cache хранит в Redis отметки об уже обработанных событиях
// платёжного процессора, чтобы повторная доставка вебхука не применялась дважды.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/trial-lifecycle/internal/config"
)

const eventKeyPrefix = "stripe:event:"

// Cache клиент Redis с методами дедупликации событий.
type Cache struct {
	Db  *redis.Client
	ttl time.Duration
}

// InitServer подключается к Redis и проверяет соединение.
func InitServer(ctx context.Context, cfg config.RedisConnection) (*Cache, error) {
	const op = "cache.InitServer"
	db := redis.NewClient(&redis.Options{
		Addr:         cfg.AddressRedis,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Username:     cfg.User,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.TimeoutRedis,
		WriteTimeout: cfg.TimeoutRedis,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ttl := cfg.EventTTL
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &Cache{Db: db, ttl: ttl}, nil
}

// ClaimEvent атомарно отмечает событие как взятое в обработку.
// Возвращает false, если событие уже было отмечено ранее.
func (c *Cache) ClaimEvent(ctx context.Context, eventID string) (bool, error) {
	const op = "cache.ClaimEvent"
	ok, err := c.Db.SetNX(ctx, eventKeyPrefix+eventID, time.Now().UTC().Unix(), c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return ok, nil
}

// ReleaseEvent снимает отметку, чтобы повторная доставка события была обработана.
func (c *Cache) ReleaseEvent(ctx context.Context, eventID string) error {
	const op = "cache.ReleaseEvent"
	if err := c.Db.Del(ctx, eventKeyPrefix+eventID).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close закрывает соединение с Redis.
func (c *Cache) Close() error {
	return c.Db.Close()
}
