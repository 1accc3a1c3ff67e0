package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/storage/memory"
)

const testDomain = "example.com"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fixedIDs 按顺序返回给定的 ID
func fixedIDs(ids ...string) func(int) string {
	var mu sync.Mutex
	i := 0
	return func(int) string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[i%len(ids)]
		i++
		return id
	}
}

type testEnv struct {
	clock     *fakeClock
	store     *memory.LogStore
	mailboxes *MailboxService
}

func newTestEnv(t *testing.T, opts ...MailboxOption) *testEnv {
	t.Helper()
	clk := newFakeClock()
	store := memory.NewLogStore(memory.WithClock(clk.Now))
	cfg := testMailboxConfig()
	opts = append([]MailboxOption{WithClock(clk.Now)}, opts...)
	return &testEnv{
		clock:     clk,
		store:     store,
		mailboxes: NewMailboxService(store, cfg, nil, nil, opts...),
	}
}

func testMailboxConfig() config.MailboxConfig {
	return config.MailboxConfig{Domain: testDomain, TTL: 900 * time.Second, IDLength: 8}
}

// rawMail 构造一封简单邮件
func rawMail(to, cc, subject, body string) string {
	var b strings.Builder
	b.WriteString("From: Sender <sender@other.org>\r\n")
	b.WriteString("To: " + to + "\r\n")
	if cc != "" {
		b.WriteString("Cc: " + cc + "\r\n")
	}
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	return b.String()
}

var errBoom = errors.New("boom")

// flakyStore 在指定键上模拟存储故障
type flakyStore struct {
	*memory.LogStore
	failTTL    string
	failAppend string
	failRenew  string
}

func (s *flakyStore) RemainingTTL(ctx context.Context, key string) (time.Duration, error) {
	if key == s.failTTL {
		return 0, errBoom
	}
	return s.LogStore.RemainingTTL(ctx, key)
}

func (s *flakyStore) Append(ctx context.Context, key string, record []byte) error {
	if key == s.failAppend {
		return errBoom
	}
	return s.LogStore.Append(ctx, key, record)
}

func (s *flakyStore) RenewTTL(ctx context.Context, key string, ttl time.Duration) error {
	if key == s.failRenew {
		return errBoom
	}
	return s.LogStore.RenewTTL(ctx, key, ttl)
}

// MockNotifier 模拟新邮件通知
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyNewMail(mailboxID string, msg *domain.Message) {
	m.Called(mailboxID, msg)
}
