package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

// Store はミラーキャッシュを保存する永続キーバリューストアです
type Store interface {
	// Get はキーの値を返します。キーがなければ ok=false です
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// SetMany は複数のキーをまとめて書き込みます
	SetMany(ctx context.Context, values map[string][]byte) error
}

// RedisStore は Redis をミラーキャッシュの保存先にします
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore は新しいRedisStoreを作成します
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, true, nil
}

// SetMany は MULTI/EXEC で書き込み、全体一覧とサービス別一覧が同時に切り替わるようにします
func (s *RedisStore) SetMany(ctx context.Context, values map[string][]byte) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, value := range values {
			pipe.Set(ctx, key, value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write mirror keys: %w", err)
	}
	return nil
}

// MemoryStore はプロセス内のストアです
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryStore は空のMemoryStoreを作成します
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (s *MemoryStore) SetMany(ctx context.Context, values map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range values {
		s.values[key] = append([]byte(nil), value...)
	}
	return nil
}
