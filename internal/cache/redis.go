package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pippuri/whim-bot-sub000/internal/config"
	"github.com/redis/go-redis/v9"
)

const activeAgenciesKey = "cache:active-agencies"

// RedisCache shares the purchasable-agency list across instances so a roster
// change propagates within one TTL everywhere.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects a cache client. Returns nil when no address is
// configured; callers treat a nil cache as disabled.
func NewRedisCache(cfg config.RedisConfig, ttl time.Duration) *RedisCache {
	if cfg.Addr == "" {
		return nil
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		ttl:    ttl,
	}
}

// GetActiveAgencies returns the cached whitelist, or nil on a miss.
func (c *RedisCache) GetActiveAgencies(ctx context.Context) ([]string, error) {
	data, err := c.client.Get(ctx, activeAgenciesKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var agencies []string
	if err := json.Unmarshal(data, &agencies); err != nil {
		return nil, err
	}
	return agencies, nil
}

// SetActiveAgencies stores the whitelist with the configured TTL.
func (c *RedisCache) SetActiveAgencies(ctx context.Context, agencies []string) error {
	payload, err := json.Marshal(agencies)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, activeAgenciesKey, payload, c.ttl).Err()
}

// Close releases the client connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
