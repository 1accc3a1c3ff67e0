package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"tempinbox/backend/internal/storage"
)

// LogStore 基于 Redis LIST 实现 storage.LogStore。
//
// Redis 会删除空列表，空列表也就无法携带 TTL，因此新建日志时先推入
// storage.Sentinel。追加使用 RPUSHX，键不存在时不会被隐式创建。
type LogStore struct {
	client *Client
}

var _ storage.LogStore = (*LogStore)(nil)

// NewLogStore 创建 Redis 日志存储。
func NewLogStore(client *Client) *LogStore {
	return &LogStore{client: client}
}

// CreateEmpty 写入占位元素并设置过期时间（同一事务内）。
func (s *LogStore) CreateEmpty(ctx context.Context, key string, ttl time.Duration) error {
	_, err := s.client.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.RPush(ctx, key, storage.Sentinel)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis create %s: %w", key, err)
	}
	return nil
}

// SetCanonicalExpiry 写入规范过期记录。
func (s *LogStore) SetCanonicalExpiry(ctx context.Context, metaKey, value string, ttl time.Duration) error {
	if err := s.client.rdb.Set(ctx, metaKey, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", metaKey, err)
	}
	return nil
}

// RemainingTTL 返回剩余生存时间。
//
// Redis 对不存在的键返回 -2，对没有过期时间的键返回 -1，两者都按不存在处理。
func (s *LogStore) RemainingTTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ttl %s: %w", key, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Append 使用 RPUSHX 追加记录。
func (s *LogStore) Append(ctx context.Context, key string, record []byte) error {
	n, err := s.client.rdb.RPushX(ctx, key, record).Result()
	if err != nil {
		return fmt.Errorf("redis rpushx %s: %w", key, err)
	}
	if n == 0 {
		return storage.ErrKeyMissing
	}
	return nil
}

// ReadAll 读取全部记录并去掉占位元素。
func (s *LogStore) ReadAll(ctx context.Context, key string) ([][]byte, error) {
	items, err := s.client.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", key, err)
	}
	out := make([][]byte, 0, len(items))
	for _, item := range items {
		if item == storage.Sentinel {
			continue
		}
		out = append(out, []byte(item))
	}
	return out, nil
}

// RenewTTL 重置过期时间。
func (s *LogStore) RenewTTL(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("redis expire %s: %w", key, err)
	}
	return nil
}

// DeleteAndRecreate 在 MULTI/EXEC 中执行 DEL + RPUSH + EXPIRE，
// 并发的 RPUSHX 只会落在事务之前的旧日志或之后的新日志上。
func (s *LogStore) DeleteAndRecreate(ctx context.Context, key string, ttl time.Duration) error {
	_, err := s.client.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.RPush(ctx, key, storage.Sentinel)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis recreate %s: %w", key, err)
	}
	return nil
}

// Ping 检查连接。
func (s *LogStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Close 关闭连接。
func (s *LogStore) Close() error {
	return s.client.Close()
}
