package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mjgate/internal/model"
)

const (
	taskKeyPrefix    = "mjgate:task:"
	taskInstanceKey  = "mjgate:tasks:instance:"
	taskIndexKey     = "mjgate:tasks"
	accountKeyPrefix = "mjgate:account:"
	accountIndexKey  = "mjgate:accounts"
)

// RedisTaskStore keeps task records as JSON values with a per-instance
// index for history listings. Terminal records expire after retention.
type RedisTaskStore struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewRedisTaskStore creates a task store. retention bounds how long
// finished task records are kept; zero means keep forever.
func NewRedisTaskStore(rdb *redis.Client, retention time.Duration) *RedisTaskStore {
	return &RedisTaskStore{rdb: rdb, retention: retention}
}

func (s *RedisTaskStore) Get(ctx context.Context, id string) (*model.Task, error) {
	data, err := s.rdb.Get(ctx, taskKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	t := &model.Task{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return t, nil
}

func (s *RedisTaskStore) Save(ctx context.Context, t *model.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	ttl := time.Duration(0)
	if s.retention > 0 && t.GetStatus().Terminal() {
		ttl = s.retention
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, taskKeyPrefix+t.ID, data, ttl)
	pipe.ZAdd(ctx, taskIndexKey, redis.Z{Score: float64(t.SubmitTime), Member: t.ID})
	if t.InstanceID != "" {
		pipe.ZAdd(ctx, taskInstanceKey+t.InstanceID, redis.Z{Score: float64(t.SubmitTime), Member: t.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

func (s *RedisTaskStore) Delete(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, taskKeyPrefix+id)
	pipe.ZRem(ctx, taskIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

func (s *RedisTaskStore) GetAllIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.ZRange(ctx, taskIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list task ids: %w", err)
	}
	return ids, nil
}

func (s *RedisTaskStore) ListByInstance(ctx context.Context, instanceID string, limit int) ([]*model.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.rdb.ZRevRange(ctx, taskInstanceKey+instanceID, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list tasks for %s: %w", instanceID, err)
	}
	out := make([]*model.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue // expired record still indexed
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// RedisAccountStore keeps account records as JSON values.
type RedisAccountStore struct {
	rdb *redis.Client
}

// NewRedisAccountStore creates an account store.
func NewRedisAccountStore(rdb *redis.Client) *RedisAccountStore {
	return &RedisAccountStore{rdb: rdb}
}

func (s *RedisAccountStore) Get(ctx context.Context, id string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	a := &model.Account{}
	if err := json.Unmarshal(data, a); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", id, err)
	}
	return a, nil
}

func (s *RedisAccountStore) Save(ctx context.Context, a *model.Account) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", a.ID, err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, accountKeyPrefix+a.ID, data, 0)
	pipe.SAdd(ctx, accountIndexKey, a.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save account %s: %w", a.ID, err)
	}
	return nil
}

func (s *RedisAccountStore) Delete(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, accountKeyPrefix+id)
	pipe.SRem(ctx, accountIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete account %s: %w", id, err)
	}
	return nil
}

func (s *RedisAccountStore) GetAll(ctx context.Context) ([]*model.Account, error) {
	ids, err := s.rdb.SMembers(ctx, accountIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list account ids: %w", err)
	}
	out := make([]*model.Account, 0, len(ids))
	for _, id := range ids {
		a, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
