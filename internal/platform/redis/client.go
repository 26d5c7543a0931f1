// Package redis builds the shared go-redis client used for scheduler locks and rate limit buckets.
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"keepsake/internal/platform/config"
)

var (
	poolConns = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "keepsake_redis_pool_conns",
		Help: "Redis pool connections by state",
	}, []string{"state"})
	poolEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keepsake_redis_pool_events_total",
		Help: "Redis pool hits, misses and timeouts",
	}, []string{"event"})
)

// Client wraps go-redis with a health check and pool metrics.
type Client struct {
	*redis.Client

	mu        sync.Mutex
	lastStats redis.PoolStats
}

// New connects to Redis. A nil client and nil error mean Redis is not configured.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{Client: client}, nil
}

// Health is registered as a readiness check.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// RecordPoolStats exports pool gauges and the counter deltas since the last call.
func (c *Client) RecordPoolStats() {
	stats := c.PoolStats()

	poolConns.WithLabelValues("total").Set(float64(stats.TotalConns))
	poolConns.WithLabelValues("idle").Set(float64(stats.IdleConns))

	c.mu.Lock()
	defer c.mu.Unlock()
	addDelta("hit", stats.Hits, c.lastStats.Hits)
	addDelta("miss", stats.Misses, c.lastStats.Misses)
	addDelta("timeout", stats.Timeouts, c.lastStats.Timeouts)
	c.lastStats = *stats
}

func addDelta(event string, now, before uint32) {
	if now > before {
		poolEvents.WithLabelValues(event).Add(float64(now - before))
	}
}
