package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	runKeyPrefix   = "job:"
	claimKeyPrefix = "claim:"

	// runTTL bounds how long finished run snapshots stay pollable.
	runTTL = 24 * time.Hour
	// claimTTL is a safety net against claims leaked by a crashed
	// process; the runner normally releases explicitly.
	claimTTL = 2 * time.Hour
)

// RedisRunStore is a RunStore backed by Redis, a drop-in for the
// in-memory default when runs should survive a restart.
type RedisRunStore struct {
	client *redis.Client
}

// NewRedisStores connects to Redis and returns run and claim stores
// sharing one client.
func NewRedisStores(redisURL string) (*RedisRunStore, *RedisClaimStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisRunStore{client: client}, &RedisClaimStore{client: client}, nil
}

// NewRedisRunStoreWithClient builds a run store from an existing client.
func NewRedisRunStoreWithClient(client *redis.Client) *RedisRunStore {
	return &RedisRunStore{client: client}
}

func (s *RedisRunStore) Create(ctx context.Context, run *Run) error {
	return s.write(ctx, run)
}

func (s *RedisRunStore) Update(ctx context.Context, run *Run) error {
	return s.write(ctx, run)
}

func (s *RedisRunStore) write(ctx context.Context, run *Run) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	if err := s.client.Set(ctx, runKeyPrefix+run.ID, payload, runTTL).Err(); err != nil {
		return fmt.Errorf("store run: %w", err)
	}
	return nil
}

func (s *RedisRunStore) Get(ctx context.Context, id string) (*Run, error) {
	payload, err := s.client.Get(ctx, runKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	var run Run
	if err := json.Unmarshal([]byte(payload), &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &run, nil
}

func (s *RedisRunStore) Close() error {
	return s.client.Close()
}

// RedisClaimStore implements atomic claims via SETNX.
type RedisClaimStore struct {
	client *redis.Client
}

// NewRedisClaimStoreWithClient builds a claim store from an existing client.
func NewRedisClaimStoreWithClient(client *redis.Client) *RedisClaimStore {
	return &RedisClaimStore{client: client}
}

func (s *RedisClaimStore) TryAcquire(ctx context.Context, itemID, runID string) (bool, error) {
	acquired, err := s.client.SetNX(ctx, claimKeyPrefix+itemID, runID, claimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire claim: %w", err)
	}
	return acquired, nil
}

func (s *RedisClaimStore) Release(ctx context.Context, itemID string) error {
	if err := s.client.Del(ctx, claimKeyPrefix+itemID).Err(); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}
