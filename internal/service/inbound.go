package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/mailparse"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/storage"
)

// DropReason 收件人被静默丢弃的原因
type DropReason string

const (
	DropForeignDomain   DropReason = "foreign_domain"
	DropNoMailbox       DropReason = "no_mailbox"
	DropExpiredInFlight DropReason = "expired_in_flight"
)

// Notifier 新邮件通知
type Notifier interface {
	NotifyNewMail(mailboxID string, msg *domain.Message)
}

// DeliveryReport 一封入站邮件的投递结果，用于日志和指标
type DeliveryReport struct {
	Recipients int
	Delivered  []string
	Dropped    map[DropReason]int
}

func (r *DeliveryReport) drop(reason DropReason) {
	if r.Dropped == nil {
		r.Dropped = make(map[DropReason]int)
	}
	r.Dropped[reason]++
}

// InboundService 入站邮件路由
//
// 按 To 再 Cc 的顺序逐个投递。不存在的邮箱直接丢弃，发件方不会收到任何错误。
type InboundService struct {
	mailboxes *MailboxService
	persist   *PersistDispatcher
	notifier  Notifier
	now       func() time.Time
	logger    *zap.Logger
	metrics   *monitoring.Metrics
}

// NewInboundService 创建入站路由服务，persist 和 notifier 可以为 nil
func NewInboundService(mailboxes *MailboxService, persist *PersistDispatcher, notifier Notifier, logger *zap.Logger, metrics *monitoring.Metrics) *InboundService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InboundService{
		mailboxes: mailboxes,
		persist:   persist,
		notifier:  notifier,
		now:       mailboxes.now,
		logger:    logger,
		metrics:   metrics,
	}
}

// Deliver 解析并投递一封邮件
//
// 解析失败返回包装 domain.ErrParseFailure 的错误。存储错误会中止剩余收件人的投递，
// 返回包装 domain.ErrStoreUnavailable 的错误，此前已投递的收件人保持投递。
func (s *InboundService) Deliver(ctx context.Context, raw io.Reader) (*DeliveryReport, error) {
	start := time.Now()

	email, err := mailparse.Parse(raw)
	if err != nil {
		s.metrics.RecordInbound("rejected", time.Since(start))
		s.logger.Warn("rejecting unparsable message", zap.Error(err))
		return nil, err
	}

	recipients := email.Recipients()
	report := &DeliveryReport{Recipients: len(recipients)}

	for _, rcpt := range recipients {
		if err := s.deliverOne(ctx, email, rcpt, report); err != nil {
			s.metrics.RecordInbound("failed", time.Since(start))
			s.logger.Error("delivery aborted by store failure",
				zap.String("recipient", rcpt),
				zap.Int("delivered", len(report.Delivered)),
				zap.Error(err))
			return report, err
		}
	}

	s.metrics.RecordInbound("accepted", time.Since(start))
	s.logger.Info("inbound message processed",
		zap.String("subject", email.Subject),
		zap.Int("recipients", report.Recipients),
		zap.Int("delivered", len(report.Delivered)),
		zap.Any("dropped", report.Dropped))

	return report, nil
}

func (s *InboundService) deliverOne(ctx context.Context, email *mailparse.Email, rcpt string, report *DeliveryReport) error {
	localPart, domainPart, ok := domain.SplitAddress(rcpt)
	if !ok || !strings.EqualFold(domainPart, s.mailboxes.Domain()) {
		s.dropped(report, DropForeignDomain, rcpt)
		return nil
	}
	id := domain.NormalizeLocalPart(localPart)

	exists, err := s.mailboxes.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		s.dropped(report, DropNoMailbox, rcpt)
		return nil
	}

	msg := &domain.Message{
		From:      email.From,
		Subject:   email.Subject,
		Body:      email.Text,
		HTML:      email.HTML,
		Timestamp: s.now().UnixMilli(),
	}
	if err := s.mailboxes.Append(ctx, id, msg); err != nil {
		if errors.Is(err, storage.ErrKeyMissing) {
			s.dropped(report, DropExpiredInFlight, rcpt)
			return nil
		}
		return err
	}
	report.Delivered = append(report.Delivered, id)
	s.metrics.RecordDelivery()

	syncErr := s.mailboxes.SyncExpiry(ctx, id)

	// 记录已写入日志，即使 TTL 同步失败也要交给持久化和通知
	s.persist.Dispatch(id, msg)
	if s.notifier != nil {
		s.notifier.NotifyNewMail(id, msg)
	}

	if syncErr != nil {
		return fmt.Errorf("sync expiry for %s: %w", id, syncErr)
	}
	return nil
}

func (s *InboundService) dropped(report *DeliveryReport, reason DropReason, rcpt string) {
	report.drop(reason)
	s.metrics.RecordDrop(string(reason))
	s.logger.Debug("recipient dropped", zap.String("recipient", rcpt), zap.String("reason", string(reason)))
}
