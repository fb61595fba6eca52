// Package replay помечает подписи токенов подтверждения как использованные, чтобы пара
// токен и код принималась только один раз. Сервис проверки при этом остаётся без состояния.
package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ErrConsumed возвращается, если токен уже был использован.
var ErrConsumed = errors.New("verification token already used")

const keyPrefix = "trustcore:otp:consumed:"

// RedisGuard хранит отметки использования в Redis с TTL, равным оставшемуся сроку токена.
type RedisGuard struct {
	client *redis.Client
}

// NewRedisGuard создаёт guard по URL вида redis://host:port/db.
func NewRedisGuard(redisURL string) (*RedisGuard, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisGuard{client: redis.NewClient(opts)}, nil
}

// NewRedisGuardFromClient оборачивает готовый клиент.
func NewRedisGuardFromClient(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

// Consume атомарно отмечает signature использованной до expiresAt.
// Повторный вызов до истечения срока возвращает ErrConsumed.
func (g *RedisGuard) Consume(ctx context.Context, signature string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}

	ok, err := g.client.SetNX(ctx, keyPrefix+signature, 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("mark token consumed: %w", err)
	}
	if !ok {
		return ErrConsumed
	}
	return nil
}

// Ping проверяет доступность Redis.
func (g *RedisGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

// Close закрывает соединение.
func (g *RedisGuard) Close() error {
	return g.client.Close()
}
