// Package cache publishes the latest snapshot to Redis so other services can
// read it without going through the HTTP API.
package cache

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/model"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Key      string        `yaml:"key"`
	TTL      time.Duration `yaml:"ttl"`
}

func (c Config) Enabled() bool { return c.Addr != "" }

// SnapshotCache keeps one hash per device holding the latest snapshot.
type SnapshotCache struct {
	rdb redis.Cmdable
	key string
	ttl time.Duration
}

func New(rdb redis.Cmdable, key string, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SnapshotCache{rdb: rdb, key: key, ttl: ttl}
}

// Open builds a client from cfg and pings it.
func Open(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// Key returns the hash key used for a device prefix.
func Key(device string) string {
	return "sensor:" + device + ":latest"
}

// Store writes the snapshot hash and refreshes its expiry in one round trip.
func (c *SnapshotCache) Store(ctx context.Context, snap model.SensorSnapshot) error {
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, c.key, SnapshotFields(snap))
	pipe.Expire(ctx, c.key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache snapshot: %w", err)
	}
	return nil
}

// SnapshotFields flattens a snapshot into hash fields. Non-finite
// readings are stored as empty strings.
func SnapshotFields(snap model.SensorSnapshot) map[string]interface{} {
	last := ""
	if snap.LastUpdate != nil {
		last = snap.LastUpdate.UTC().Format(time.RFC3339Nano)
	}
	return map[string]interface{}{
		"suhu":        formatFloat(snap.Temperature),
		"humidity":    formatFloat(snap.Humidity),
		"status":      snap.StatusText,
		"relayStatus": string(snap.RelayStatus),
		"lastUpdate":  last,
	}
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
