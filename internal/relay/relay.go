// Package relay 通过上游 SMTP 中继外发邮件
package relay

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"tempinbox/backend/internal/config"
)

// TLS 模式
const (
	TLSStartTLS = "starttls"
	TLSImplicit = "tls"
	TLSNone     = "none"
)

const defaultTimeout = 30 * time.Second

// ErrNotConfigured 未配置中继主机
var ErrNotConfigured = errors.New("relay not configured")

// Mail 一封待外发的纯文本邮件
type Mail struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Client 中继客户端
//
// 每次发送新建一个连接，不排队也不重试。
type Client struct {
	addr      string
	host      string
	username  string
	password  string
	tlsMode   string
	tlsConfig *tls.Config
	heloName  string
	timeout   time.Duration
	logger    *zap.Logger
}

// Option 客户端选项
type Option func(*Client)

// WithTLSConfig 替换 TLS 配置
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		c.tlsConfig = cfg
	}
}

// WithHeloName 设置 EHLO 主机名
func WithHeloName(name string) Option {
	return func(c *Client) {
		c.heloName = name
	}
}

// WithTimeout 设置连接和命令超时
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// New 创建中继客户端，Host 为空时返回 ErrNotConfigured
func New(cfg config.RelayConfig, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cfg.Host == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	mode := cfg.TLS
	if mode == "" {
		mode = TLSStartTLS
	}

	c := &Client{
		addr:      net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		host:      cfg.Host,
		username:  cfg.Username,
		password:  cfg.Password,
		tlsMode:   mode,
		tlsConfig: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		heloName:  "localhost",
		timeout:   defaultTimeout,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Send 发送一封邮件
func (c *Client) Send(ctx context.Context, m Mail) error {
	body, err := Compose(m, time.Now())
	if err != nil {
		return fmt.Errorf("compose message: %w", err)
	}

	client, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if c.username != "" {
		if err := client.Auth(sasl.NewPlainClient("", c.username, c.password)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.SendMail(m.From, []string{m.To}, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	if err := client.Quit(); err != nil {
		c.logger.Debug("relay quit failed", zap.Error(err))
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (*smtp.Client, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	var (
		conn net.Conn
		err  error
	)
	if c.tlsMode == TLSImplicit {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: c.tlsConfig}).DialContext(ctx, "tcp", c.addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", c.addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.addr, err)
	}

	var client *smtp.Client
	if c.tlsMode == TLSStartTLS {
		client, err = smtp.NewClientStartTLS(conn, c.tlsConfig)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	} else {
		client = smtp.NewClient(conn)
		if err := client.Hello(c.heloName); err != nil {
			client.Close()
			return nil, fmt.Errorf("ehlo: %w", err)
		}
	}
	client.CommandTimeout = c.timeout
	client.SubmissionTimeout = c.timeout
	return client, nil
}

// Compose 生成 RFC 5322 纯文本邮件
func Compose(m Mail, date time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Address: m.From}})
	h.SetAddressList("To", []*mail.Address{{Address: m.To}})
	h.SetSubject(m.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, m.Body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
