package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"go.uber.org/zap"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/storage"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// LogKey 邮箱日志键
func LogKey(id string) string {
	return "inbox:" + id
}

// MetaKey 邮箱规范过期记录键，它的 TTL 决定邮箱是否存在
func MetaKey(id string) string {
	return "inbox:" + id + ":meta"
}

// MailboxService 邮箱生命周期管理
//
// 服务本身无状态，邮箱的全部状态都在 LogStore 的两个键上。
type MailboxService struct {
	store    storage.LogStore
	domain   string
	ttl      time.Duration
	idLength int
	now      func() time.Time
	newID    func(n int) string
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// MailboxOption 邮箱服务选项
type MailboxOption func(*MailboxService)

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) MailboxOption {
	return func(s *MailboxService) {
		s.now = now
	}
}

// WithIDGenerator 替换 ID 生成器（测试用）
func WithIDGenerator(fn func(n int) string) MailboxOption {
	return func(s *MailboxService) {
		s.newID = fn
	}
}

// NewMailboxService 创建邮箱服务
func NewMailboxService(store storage.LogStore, cfg config.MailboxConfig, logger *zap.Logger, metrics *monitoring.Metrics, opts ...MailboxOption) *MailboxService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MailboxService{
		store:    store,
		domain:   cfg.Domain,
		ttl:      cfg.TTL,
		idLength: cfg.IDLength,
		now:      time.Now,
		newID:    randomID,
		logger:   logger,
		metrics:  metrics,
	}
	if s.ttl <= 0 {
		s.ttl = 15 * time.Minute
	}
	if s.idLength <= 0 {
		s.idLength = 8
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Domain 服务域名
func (s *MailboxService) Domain() string {
	return s.domain
}

// Address 邮箱完整地址
func (s *MailboxService) Address(id string) string {
	return id + "@" + s.domain
}

// Create 创建一个新邮箱
//
// 先原子地清空并重建日志，再写规范过期记录；两者使用同一个 TTL。
func (s *MailboxService) Create(ctx context.Context) (*domain.Mailbox, error) {
	id := s.newID(s.idLength)

	if err := s.store.DeleteAndRecreate(ctx, LogKey(id), s.ttl); err != nil {
		s.logger.Error("failed to init mailbox log", zap.String("mailbox_id", id), zap.Error(err))
		return nil, fmt.Errorf("%w: init log: %w", domain.ErrStoreUnavailable, err)
	}

	createdAt := strconv.FormatInt(s.now().UnixMilli(), 10)
	if err := s.store.SetCanonicalExpiry(ctx, MetaKey(id), createdAt, s.ttl); err != nil {
		s.logger.Error("failed to set mailbox expiry", zap.String("mailbox_id", id), zap.Error(err))
		return nil, fmt.Errorf("%w: set expiry: %w", domain.ErrStoreUnavailable, err)
	}

	s.metrics.RecordMailboxCreated()
	s.logger.Info("mailbox created", zap.String("mailbox_id", id), zap.Duration("ttl", s.ttl))

	return &domain.Mailbox{
		ID:        id,
		Address:   s.Address(id),
		ExpiresIn: s.ttl,
	}, nil
}

// TTL 规范过期记录的剩余时间，<= 0 表示邮箱不存在
func (s *MailboxService) TTL(ctx context.Context, id string) (time.Duration, error) {
	ttl, err := s.store.RemainingTTL(ctx, MetaKey(id))
	if err != nil {
		return 0, fmt.Errorf("%w: read ttl: %w", domain.ErrStoreUnavailable, err)
	}
	return ttl, nil
}

// Exists 邮箱是否存在
func (s *MailboxService) Exists(ctx context.Context, id string) (bool, error) {
	ttl, err := s.TTL(ctx, id)
	if err != nil {
		return false, err
	}
	return ttl > 0, nil
}

// Get 读取收件箱
//
// 无法解码的记录直接跳过，不影响其余邮件。
func (s *MailboxService) Get(ctx context.Context, id string) (*domain.Inbox, error) {
	ttl, err := s.TTL(ctx, id)
	if err != nil {
		s.metrics.RecordInboxRead("error")
		return nil, err
	}
	if ttl <= 0 {
		s.metrics.RecordInboxRead("expired")
		return nil, domain.ErrMailboxExpired
	}

	records, err := s.store.ReadAll(ctx, LogKey(id))
	if err != nil {
		s.metrics.RecordInboxRead("error")
		return nil, fmt.Errorf("%w: read log: %w", domain.ErrStoreUnavailable, err)
	}

	messages := make([]domain.Message, 0, len(records))
	for i, rec := range records {
		var msg domain.Message
		if err := json.Unmarshal(rec, &msg); err != nil {
			s.logger.Warn("skipping undecodable record",
				zap.String("mailbox_id", id),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		messages = append(messages, msg)
	}

	s.metrics.RecordInboxRead("ok")
	return &domain.Inbox{
		MailboxID: id,
		Messages:  messages,
		ExpiresIn: ttl,
	}, nil
}

// Append 追加一封邮件，不会创建邮箱
//
// 日志不存在时返回 storage.ErrKeyMissing。
func (s *MailboxService) Append(ctx context.Context, id string, msg *domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := s.store.Append(ctx, LogKey(id), data); err != nil {
		if errors.Is(err, storage.ErrKeyMissing) {
			return err
		}
		return fmt.Errorf("%w: append: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// SyncExpiry 把日志 TTL 对齐到规范过期记录当前的剩余时间
//
// 每次都重新读取，规范记录已消失时什么也不做。
func (s *MailboxService) SyncExpiry(ctx context.Context, id string) error {
	ttl, err := s.TTL(ctx, id)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	if err := s.store.RenewTTL(ctx, LogKey(id), ttl); err != nil {
		return fmt.Errorf("%w: renew ttl: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func randomID(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = idAlphabet[rand.IntN(len(idAlphabet))]
	}
	return string(b)
}
