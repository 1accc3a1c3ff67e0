// Package smtp 实现只收信的 SMTP 服务端
//
// 路由完全依据邮件头的 To/Cc，RCPT TO 的内容不参与投递，
// 不存在的收件人静默丢弃，不会向发件方返回 550。
package smtp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/service"
)

const deliverTimeout = 30 * time.Second

var (
	errParse = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
		Message:      "message could not be parsed",
	}
	errTempFail = &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
		Message:      "temporary local problem, try again later",
	}
)

// Deliverer 入站邮件投递
type Deliverer interface {
	Deliver(ctx context.Context, raw io.Reader) (*service.DeliveryReport, error)
}

// Backend 实现 go-smtp 的 Backend 接口。
type Backend struct {
	deliverer Deliverer
	logger    *zap.Logger
}

// NewBackend 创建 SMTP Backend。
func NewBackend(deliverer Deliverer, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		deliverer: deliverer,
		logger:    logger,
	}
}

// NewServer 按配置创建 SMTP 服务器
func NewServer(be *Backend, cfg config.SMTPConfig) *gosmtp.Server {
	srv := gosmtp.NewServer(be)
	srv.Addr = cfg.BindAddr
	srv.Domain = cfg.Hostname
	srv.ReadTimeout = 60 * time.Second
	srv.WriteTimeout = 60 * time.Second
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	srv.MaxRecipients = cfg.MaxRecipients
	return srv
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	remote := ""
	if addr := c.Conn().RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &session{
		backend: b,
		logger:  b.logger.With(zap.String("remote_addr", remote)),
	}, nil
}

type session struct {
	backend *Backend
	logger  *zap.Logger
	from    string
	rcpts   int
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt 处理 RCPT 命令。任何地址都接受。
func (s *session) Rcpt(_ string, _ *gosmtp.RcptOptions) error {
	s.rcpts++
	return nil
}

// Data 处理邮件内容。
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		if errors.Is(err, gosmtp.ErrDataTooLarge) {
			return gosmtp.ErrDataTooLarge
		}
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	report, err := s.backend.deliverer.Deliver(ctx, bytes.NewReader(raw))
	switch {
	case err == nil:
		s.logger.Debug("message accepted",
			zap.String("mail_from", s.from),
			zap.Int("envelope_rcpts", s.rcpts),
			zap.Int("delivered", len(report.Delivered)))
		return nil
	case errors.Is(err, domain.ErrParseFailure):
		return errParse
	default:
		s.logger.Warn("temporary delivery failure", zap.String("mail_from", s.from), zap.Error(err))
		return errTempFail
	}
}

// Reset 重置状态。
func (s *session) Reset() {
	s.from = ""
	s.rcpts = 0
}

// Logout 会话结束。
func (s *session) Logout() error {
	return nil
}
