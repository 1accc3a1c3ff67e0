// Package maildir 把已投递的邮件副本写入 Maildir 目录，每个邮箱一个子目录
package maildir

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-maildir"
	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
)

// ErrInvalidInbox 邮箱 ID 不能作为目录名
var ErrInvalidInbox = errors.New("invalid inbox id")

// Store Maildir 持久化存储
type Store struct {
	root   string
	domain string
	log    *zap.Logger

	mu    sync.Mutex
	ready map[string]maildir.Dir
}

// New 创建 Maildir 存储，root 不存在时自动创建
func New(root, mailDomain string, log *zap.Logger) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("maildir root is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create maildir root: %w", err)
	}
	return &Store{
		root:   root,
		domain: mailDomain,
		log:    log,
		ready:  make(map[string]maildir.Dir),
	}, nil
}

// ensureMaildir 确保邮箱目录存在
func (s *Store) ensureMaildir(inboxID string) (maildir.Dir, error) {
	if inboxID == "" || inboxID != filepath.Base(inboxID) || strings.HasPrefix(inboxID, ".") {
		return "", ErrInvalidInbox
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir, ok := s.ready[inboxID]; ok {
		return dir, nil
	}

	path := filepath.Join(s.root, inboxID)
	dir := maildir.Dir(path)
	if _, err := os.Stat(filepath.Join(path, "cur")); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o700); err != nil {
			return "", err
		}
		if err := dir.Init(); err != nil {
			return "", err
		}
	}
	s.ready[inboxID] = dir
	return dir, nil
}

// Write 写入一条记录
func (s *Store) Write(ctx context.Context, msg *domain.StoredMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.ensureMaildir(msg.InboxID)
	if err != nil {
		return fmt.Errorf("prepare maildir for %q: %w", msg.InboxID, err)
	}

	delivery, err := maildir.NewDelivery(string(dir))
	if err != nil {
		return fmt.Errorf("start delivery: %w", err)
	}
	if err := Render(delivery, msg, s.domain); err != nil {
		_ = delivery.Abort()
		return fmt.Errorf("render message: %w", err)
	}
	if err := delivery.Close(); err != nil {
		return fmt.Errorf("finish delivery: %w", err)
	}
	return nil
}

// Render 把记录还原为 RFC 5322 邮件；有 HTML 时生成 multipart/alternative
func Render(w io.Writer, msg *domain.StoredMessage, mailDomain string) error {
	var h mail.Header
	h.SetDate(time.UnixMilli(msg.Ts))
	h.SetText("From", msg.From)
	to := msg.InboxID
	if mailDomain != "" {
		to += "@" + mailDomain
	}
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(msg.Subject)
	h.Set("X-Tempinbox-Record", msg.ID)

	if msg.HTML == "" {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		body, err := mail.CreateSingleInlineWriter(w, h)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(body, msg.Body); err != nil {
			return err
		}
		return body.Close()
	}

	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return err
	}
	iw, err := mw.CreateInline()
	if err != nil {
		return err
	}
	for _, part := range []struct{ contentType, content string }{
		{"text/plain", msg.Body},
		{"text/html", msg.HTML},
	} {
		var ph mail.InlineHeader
		ph.SetContentType(part.contentType, map[string]string{"charset": "utf-8"})
		pw, err := iw.CreatePart(ph)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(pw, part.content); err != nil {
			return err
		}
		if err := pw.Close(); err != nil {
			return err
		}
	}
	if err := iw.Close(); err != nil {
		return err
	}
	return mw.Close()
}

// Ping 检查根目录可写
func (s *Store) Ping(context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.root)
	}
	return nil
}

// Close 无需释放资源
func (s *Store) Close() error {
	return nil
}
