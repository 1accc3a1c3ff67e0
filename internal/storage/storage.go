package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrKeyMissing 日志键不存在（已过期或从未创建）。
	ErrKeyMissing = errors.New("key missing")
)

// Sentinel 是空日志内部占位元素。
//
// 部分存储原语不允许空序列携带 TTL，所以新建日志时先写入占位元素；
// ReadAll 永远不会把它返回给调用方。真实记录都是 JSON 对象，
// 不会与占位元素冲突。
const Sentinel = "__init__"

// LogStore 定义带过期时间的有序日志存储。
//
// 每个操作各自原子；跨键的读后写不保证原子性。
type LogStore interface {
	// CreateEmpty 创建空日志，ttl 后过期。
	CreateEmpty(ctx context.Context, key string, ttl time.Duration) error

	// SetCanonicalExpiry 写入规范过期记录（邮箱剩余时间的唯一依据）。
	SetCanonicalExpiry(ctx context.Context, metaKey, value string, ttl time.Duration) error

	// RemainingTTL 返回剩余生存时间，<= 0 表示键不存在或已过期。
	RemainingTTL(ctx context.Context, key string) (time.Duration, error)

	// Append 追加记录；键不存在时返回 ErrKeyMissing，绝不隐式创建键。
	Append(ctx context.Context, key string, record []byte) error

	// ReadAll 按追加顺序返回全部记录，不含占位元素。
	ReadAll(ctx context.Context, key string) ([][]byte, error)

	// RenewTTL 重置剩余生存时间，不改动内容。
	RenewTTL(ctx context.Context, key string, ttl time.Duration) error

	// DeleteAndRecreate 清空并重新初始化日志，仅供创建邮箱使用。
	// 实现必须让并发的 Append 要么看到旧日志要么看到新日志，不能看到中间的空档。
	DeleteAndRecreate(ctx context.Context, key string, ttl time.Duration) error

	// Ping 检查存储连通性。
	Ping(ctx context.Context) error

	// Close 释放底层连接。
	Close() error
}

// IsSentinel 判断记录是否为占位元素。
func IsSentinel(record []byte) bool {
	return string(record) == Sentinel
}
