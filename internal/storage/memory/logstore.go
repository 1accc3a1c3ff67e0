package memory

import (
	"context"
	"sync"
	"time"

	"tempinbox/backend/internal/storage"
)

// entry 是一个带截止时间的键。list 与 value 二选一。
type entry struct {
	list     [][]byte
	value    string
	isList   bool
	deadline time.Time
}

// LogStore 使用内存实现 storage.LogStore，主要用于开发验证和测试。
//
// 语义与 Redis 实现一致：过期的键等同于不存在；所有操作在同一把锁内完成，
// 因此 DeleteAndRecreate 对并发 Append 是原子的。
type LogStore struct {
	mu   sync.Mutex
	keys map[string]*entry
	now  func() time.Time
}

// Option 配置内存存储。
type Option func(*LogStore)

// WithClock 替换时间来源（测试用）。
func WithClock(now func() time.Time) Option {
	return func(s *LogStore) {
		s.now = now
	}
}

// NewLogStore 创建一个内存日志存储。
func NewLogStore(opts ...Option) *LogStore {
	s := &LogStore{
		keys: make(map[string]*entry),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ storage.LogStore = (*LogStore)(nil)

// lookupLocked 返回未过期的键，过期的键顺带删除。
func (s *LogStore) lookupLocked(key string) (*entry, bool) {
	e, ok := s.keys[key]
	if !ok {
		return nil, false
	}
	if !s.now().Before(e.deadline) {
		delete(s.keys, key)
		return nil, false
	}
	return e, true
}

func (s *LogStore) newListLocked(key string, ttl time.Duration) {
	s.keys[key] = &entry{
		list:     [][]byte{[]byte(storage.Sentinel)},
		isList:   true,
		deadline: s.now().Add(ttl),
	}
}

// CreateEmpty 创建只含占位元素的日志。
func (s *LogStore) CreateEmpty(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newListLocked(key, ttl)
	return nil
}

// SetCanonicalExpiry 写入规范过期记录。
func (s *LogStore) SetCanonicalExpiry(_ context.Context, metaKey, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[metaKey] = &entry{
		value:    value,
		deadline: s.now().Add(ttl),
	}
	return nil
}

// RemainingTTL 返回剩余生存时间，键不存在时返回 0。
func (s *LogStore) RemainingTTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupLocked(key)
	if !ok {
		return 0, nil
	}
	return e.deadline.Sub(s.now()), nil
}

// Append 追加一条记录。
func (s *LogStore) Append(_ context.Context, key string, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupLocked(key)
	if !ok || !e.isList {
		return storage.ErrKeyMissing
	}
	cp := make([]byte, len(record))
	copy(cp, record)
	e.list = append(e.list, cp)
	return nil
}

// ReadAll 返回全部记录（不含占位元素）。
func (s *LogStore) ReadAll(_ context.Context, key string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupLocked(key)
	if !ok || !e.isList {
		return [][]byte{}, nil
	}
	out := make([][]byte, 0, len(e.list))
	for _, rec := range e.list {
		if storage.IsSentinel(rec) {
			continue
		}
		cp := make([]byte, len(rec))
		copy(cp, rec)
		out = append(out, cp)
	}
	return out, nil
}

// RenewTTL 重置过期时间，键不存在时什么也不做。
func (s *LogStore) RenewTTL(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.lookupLocked(key); ok {
		e.deadline = s.now().Add(ttl)
	}
	return nil
}

// DeleteAndRecreate 在同一临界区内清空并重建日志。
func (s *LogStore) DeleteAndRecreate(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	s.newListLocked(key, ttl)
	return nil
}

// Prune 删除所有已过期的键，返回删除数量。
func (s *LogStore) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	count := 0
	for key, e := range s.keys {
		if !now.Before(e.deadline) {
			delete(s.keys, key)
			count++
		}
	}
	return count
}

// Len 返回当前存活的键数量。
func (s *LogStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	count := 0
	for _, e := range s.keys {
		if now.Before(e.deadline) {
			count++
		}
	}
	return count
}

// Ping 内存存储总是可用。
func (s *LogStore) Ping(context.Context) error {
	return nil
}

// Close 无需释放资源。
func (s *LogStore) Close() error {
	return nil
}
