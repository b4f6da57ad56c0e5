package reporter

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"firestige.xyz/satchel/internal/config"
	"firestige.xyz/satchel/internal/core"
)

const (
	defaultRedisChannel   = "satchel:status"
	defaultRedisKeyPrefix = "satchel:export:"
	redisDialTimeout      = 5 * time.Second
)

// RedisReporter publishes status events on a channel and stores each export
// document under its session key and the "latest" key.
type RedisReporter struct {
	client *redis.Client
	cfg    config.RedisReporterConfig

	reported atomic.Uint64
	failed   atomic.Uint64
}

// NewRedisReporter creates the client and pings the server.
func NewRedisReporter(ctx context.Context, cfg config.RedisReporterConfig) (*RedisReporter, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: redis reporter requires addr", core.ErrConfigInvalid)
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("%w: redis reporter ttl %s is negative", core.ErrConfigInvalid, cfg.TTL)
	}
	if cfg.Channel == "" {
		cfg.Channel = defaultRedisChannel
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultRedisKeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: redisDialTimeout,
		MaxRetries:  1,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}
	slog.Info("redis reporter started", "addr", cfg.Addr, "channel", cfg.Channel, "key_prefix", cfg.KeyPrefix)
	return &RedisReporter{client: client, cfg: cfg}, nil
}

func (r *RedisReporter) Name() string { return "redis" }

func exportKeys(prefix, sessionID string) []string {
	return []string{prefix + sessionID, prefix + "latest"}
}

func (r *RedisReporter) Report(ctx context.Context, ev core.StatusEvent) error {
	data, err := encodeStatus(ev)
	if err != nil {
		r.failed.Add(1)
		return err
	}
	if err := r.client.Publish(ctx, r.cfg.Channel, data).Err(); err != nil {
		r.failed.Add(1)
		return fmt.Errorf("redis publish %s: %w", r.cfg.Channel, err)
	}
	r.reported.Add(1)
	return nil
}

func (r *RedisReporter) Export(ctx context.Context, sessionID string, doc []byte) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range exportKeys(r.cfg.KeyPrefix, sessionID) {
			pipe.Set(ctx, key, doc, r.cfg.TTL)
		}
		return nil
	})
	if err != nil {
		r.failed.Add(1)
		return fmt.Errorf("redis store export %s: %w", sessionID, err)
	}
	r.reported.Add(1)
	return nil
}

func (r *RedisReporter) Close() error {
	err := r.client.Close()
	slog.Info("redis reporter stopped", "total_reported", r.reported.Load(), "total_errors", r.failed.Load())
	return err
}
