package app

import "github.com/learnhub-io/learnhub/internal/cache"

// RedisClientConfig converts loaded configuration into Redis client options.
func (c *Config) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  c.Cache.Redis.Address,
		Username: c.Cache.Redis.Username,
		Password: c.Cache.Redis.Password,
		DB:       c.Cache.Redis.DB,
		TLS:      c.Cache.Redis.TLS,
		Timeout:  c.Cache.Redis.Timeout,
	}
}
