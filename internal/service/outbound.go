package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/relay"
)

// Relay 外发中继
type Relay interface {
	Send(ctx context.Context, mail relay.Mail) error
}

// SendInput 外发请求
type SendInput struct {
	ID      string `json:"id"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SendService 以邮箱地址为发件人外发邮件，不重试
type SendService struct {
	mailboxes *MailboxService
	relay     Relay
	logger    *zap.Logger
	metrics   *monitoring.Metrics
}

// NewSendService 创建外发服务，relay 为 nil 时所有发送都失败
func NewSendService(mailboxes *MailboxService, r Relay, logger *zap.Logger, metrics *monitoring.Metrics) *SendService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendService{
		mailboxes: mailboxes,
		relay:     r,
		logger:    logger,
		metrics:   metrics,
	}
}

// Send 发送邮件
func (s *SendService) Send(ctx context.Context, in SendInput) error {
	id := strings.TrimSpace(in.ID)
	to := strings.TrimSpace(in.To)
	if id == "" || to == "" {
		return domain.ErrMissingParameters
	}

	exists, err := s.mailboxes.Exists(ctx, id)
	if err != nil {
		s.metrics.RecordSend("error")
		return err
	}
	if !exists {
		return domain.ErrMailboxExpired
	}

	if s.relay == nil {
		s.metrics.RecordSend("unconfigured")
		s.logger.Warn("outbound relay not configured", zap.String("mailbox_id", id))
		return fmt.Errorf("%w: relay not configured", domain.ErrSendFailed)
	}

	err = s.relay.Send(ctx, relay.Mail{
		From:    s.mailboxes.Address(id),
		To:      to,
		Subject: in.Subject,
		Body:    in.Body,
	})
	if err != nil {
		s.metrics.RecordSend("error")
		s.logger.Error("failed to relay message",
			zap.String("mailbox_id", id),
			zap.String("to", to),
			zap.Error(err))
		return fmt.Errorf("%w: %w", domain.ErrSendFailed, err)
	}

	s.metrics.RecordSend("ok")
	s.logger.Info("message relayed", zap.String("mailbox_id", id), zap.String("to", to))
	return nil
}
