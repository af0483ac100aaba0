package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Close() error
}

// RedisStore claims each (device, counter) pair with SETNX and keeps a capped
// newest-first list per sensor.
type RedisStore struct {
	client    redisClient
	prefix    string
	retention int64
}

func OpenRedis(ctx context.Context, addr string, retention int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     50,
		MinIdleConns: 5,
		MaxRetries:   3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return newRedisStore(client, retention), nil
}

func newRedisStore(c redisClient, retention int) *RedisStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{client: c, prefix: "crane:", retention: int64(retention)}
}

func (s *RedisStore) seenKey(r domain.Reading) string {
	return fmt.Sprintf("%sseen:%s:%d", s.prefix, r.DeviceAddress, r.SequenceCounter)
}

func (s *RedisStore) recentKey(sensorID string) string {
	return s.prefix + "recent:" + sensorID
}

func (s *RedisStore) Accept(ctx context.Context, sensorID string, r domain.Reading, at time.Time) (domain.AcceptedReading, error) {
	claimed, err := s.client.SetNX(ctx, s.seenKey(r), at.UTC().Format(time.RFC3339Nano), 0).Result()
	if err != nil {
		return domain.AcceptedReading{}, fmt.Errorf("claim reading: %w", err)
	}
	if !claimed {
		return domain.AcceptedReading{}, ports.ErrDuplicate
	}

	id, err := s.client.Incr(ctx, s.prefix+"reading_id").Result()
	if err != nil {
		return domain.AcceptedReading{}, fmt.Errorf("allocate reading id: %w", err)
	}
	a := domain.AcceptedReading{
		ID:         domain.ReadingID(strconv.FormatInt(id, 10)),
		SensorID:   sensorID,
		AcceptedAt: at.UTC(),
		Reading:    r,
	}
	data, err := json.Marshal(a)
	if err != nil {
		return domain.AcceptedReading{}, fmt.Errorf("marshal reading: %w", err)
	}
	key := s.recentKey(sensorID)
	if err := s.client.LPush(ctx, key, data).Err(); err != nil {
		return domain.AcceptedReading{}, fmt.Errorf("store reading: %w", err)
	}
	s.client.LTrim(ctx, key, 0, s.retention-1)
	return a, nil
}

func (s *RedisStore) Recent(ctx context.Context, sensorID string, limit int) ([]domain.AcceptedReading, error) {
	if limit <= 0 {
		limit = int(s.retention)
	}
	items, err := s.client.LRange(ctx, s.recentKey(sensorID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("load recent readings: %w", err)
	}
	out := make([]domain.AcceptedReading, 0, len(items))
	for _, item := range items {
		var a domain.AcceptedReading
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

var _ ports.ReadingStore = (*RedisStore)(nil)
