package smtp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/service"
	"tempinbox/backend/internal/storage/memory"
)

// stubDeliverer 返回预设结果
type stubDeliverer struct {
	mu  sync.Mutex
	err error
	got string
}

func (d *stubDeliverer) received() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.got
}

func (d *stubDeliverer) Deliver(_ context.Context, raw io.Reader) (*service.DeliveryReport, error) {
	b, _ := io.ReadAll(raw)
	d.mu.Lock()
	d.got = string(b)
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return &service.DeliveryReport{}, nil
}

func startServer(t *testing.T, d Deliverer, limiter *ConnectionLimiter) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(NewBackend(d, nil), config.SMTPConfig{
		Hostname:        "mx.example.com",
		MaxMessageBytes: 1 << 20,
		MaxRecipients:   10,
	})
	var l net.Listener = ln
	if limiter != nil {
		l = NewListener(ln, limiter, nil, nil)
	}
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })
	return ln.Addr().String()
}

func sendRaw(addr, rcpt, raw string) error {
	c, err := gosmtp.Dial(addr)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.SendMail("sender@other.org", []string{rcpt}, strings.NewReader(raw)); err != nil {
		return err
	}
	return c.Quit()
}

const sample = "From: sender@other.org\r\nTo: abc12345@example.com\r\nSubject: Hi\r\n\r\ntest"

func TestSession_Data(t *testing.T) {
	t.Run("正常接收", func(t *testing.T) {
		d := &stubDeliverer{}
		addr := startServer(t, d, nil)

		require.NoError(t, sendRaw(addr, "anything@anywhere.test", sample))
		assert.Contains(t, d.received(), "Subject: Hi")
	})

	t.Run("解析失败返回554", func(t *testing.T) {
		d := &stubDeliverer{err: domain.ErrParseFailure}
		addr := startServer(t, d, nil)

		err := sendRaw(addr, "x@example.com", sample)
		var smtpErr *gosmtp.SMTPError
		require.True(t, errors.As(err, &smtpErr), "got %v", err)
		assert.Equal(t, 554, smtpErr.Code)
	})

	t.Run("存储故障返回451", func(t *testing.T) {
		d := &stubDeliverer{err: domain.ErrStoreUnavailable}
		addr := startServer(t, d, nil)

		err := sendRaw(addr, "x@example.com", sample)
		var smtpErr *gosmtp.SMTPError
		require.True(t, errors.As(err, &smtpErr), "got %v", err)
		assert.Equal(t, 451, smtpErr.Code)
	})

	t.Run("端到端投递到邮箱", func(t *testing.T) {
		store := memory.NewLogStore()
		mailboxes := service.NewMailboxService(store, config.MailboxConfig{Domain: "example.com", TTL: time.Minute, IDLength: 8}, nil, nil)
		inbound := service.NewInboundService(mailboxes, nil, nil, nil, nil)
		addr := startServer(t, inbound, nil)

		mb, err := mailboxes.Create(context.Background())
		require.NoError(t, err)

		raw := "From: sender@other.org\r\nTo: " + mb.Address + ", ghost@example.com\r\nSubject: Hi\r\n\r\ntest"
		// 信封收件人与邮件头无关
		require.NoError(t, sendRaw(addr, "unrelated@elsewhere.test", raw))

		inbox, err := mailboxes.Get(context.Background(), mb.ID)
		require.NoError(t, err)
		require.Len(t, inbox.Messages, 1)
		assert.Equal(t, "test", inbox.Messages[0].Body)
	})
}

func TestConnectionLimiter(t *testing.T) {
	t.Run("并发上限", func(t *testing.T) {
		l := NewConnectionLimiter(2, 0)
		assert.True(t, l.Acquire())
		assert.True(t, l.Acquire())
		assert.False(t, l.Acquire())

		l.Release()
		assert.Equal(t, 1, l.Current())
		assert.True(t, l.Acquire())
	})

	t.Run("速率上限", func(t *testing.T) {
		l := NewConnectionLimiter(0, 1)
		assert.True(t, l.Acquire())
		assert.False(t, l.Acquire())
	})

	t.Run("Release不会变为负数", func(t *testing.T) {
		l := NewConnectionLimiter(1, 0)
		l.Release()
		assert.Equal(t, 0, l.Current())
	})

	t.Run("超限连接收到421", func(t *testing.T) {
		limiter := NewConnectionLimiter(1, 0)
		addr := startServer(t, &stubDeliverer{}, limiter)

		first, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		defer first.Close()
		buf := make([]byte, 128)
		n, err := first.Read(buf)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(buf[:n]), "220"))

		second, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		defer second.Close()
		_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err = second.Read(buf)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(buf[:n]), "421 4.7.0"))
	})

	t.Run("关闭连接后释放许可", func(t *testing.T) {
		limiter := NewConnectionLimiter(1, 0)
		addr := startServer(t, &stubDeliverer{}, limiter)

		require.NoError(t, sendRaw(addr, "x@example.com", sample))
		require.Eventually(t, func() bool { return limiter.Current() == 0 }, 2*time.Second, 10*time.Millisecond)
		require.NoError(t, sendRaw(addr, "x@example.com", sample))
	})
}
