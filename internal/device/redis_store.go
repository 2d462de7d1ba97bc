package device

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisKey is the hash holding the device table.
const DefaultRedisKey = "blescanner:devices"

// RedisStore persists the device table as one Redis hash mapping MAC to
// the device's JSON encoding.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a store on client. An empty key uses DefaultRedisKey.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Save replaces the hash atomically.
func (s *RedisStore) Save(ctx context.Context, devices map[string]*Device) error {
	fields := make(map[string]any, len(devices))
	for mac, d := range devices {
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encoding device %s: %w", mac, err)
		}
		fields[mac] = string(data)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(fields) > 0 {
			pipe.HSet(ctx, s.key, fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing devices to redis: %w", err)
	}
	return nil
}

// Load reads the hash. A missing key is an empty table.
func (s *RedisStore) Load(ctx context.Context) (map[string]*Device, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("reading devices from redis: %w", err)
	}

	devices := make(map[string]*Device, len(raw))
	for mac, data := range raw {
		// Undecodable records load as nil and are skipped by Registry.Load.
		devices[mac], _ = decodeDevice([]byte(data))
	}
	return devices, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
