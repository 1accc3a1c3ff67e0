package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/relay"
)

// MockRelay 模拟外发中继
type MockRelay struct {
	mock.Mock
}

func (m *MockRelay) Send(ctx context.Context, mail relay.Mail) error {
	args := m.Called(ctx, mail)
	return args.Error(0)
}

func TestSendService_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("缺少参数", func(t *testing.T) {
		env := newTestEnv(t)
		svc := NewSendService(env.mailboxes, new(MockRelay), nil, nil)

		assert.ErrorIs(t, svc.Send(ctx, SendInput{To: "a@b.c"}), domain.ErrMissingParameters)
		assert.ErrorIs(t, svc.Send(ctx, SendInput{ID: "abc"}), domain.ErrMissingParameters)
	})

	t.Run("邮箱过期", func(t *testing.T) {
		env := newTestEnv(t)
		r := new(MockRelay)
		svc := NewSendService(env.mailboxes, r, nil, nil)

		err := svc.Send(ctx, SendInput{ID: "gone1234", To: "a@b.c"})
		assert.ErrorIs(t, err, domain.ErrMailboxExpired)
		r.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("以邮箱地址为发件人发送", func(t *testing.T) {
		env := newTestEnv(t, WithIDGenerator(fixedIDs("abc12345")))
		_, err := env.mailboxes.Create(ctx)
		require.NoError(t, err)

		r := new(MockRelay)
		r.On("Send", mock.Anything, relay.Mail{
			From:    "abc12345@example.com",
			To:      "dest@other.org",
			Subject: "hello",
			Body:    "body",
		}).Return(nil).Once()

		svc := NewSendService(env.mailboxes, r, nil, nil)
		err = svc.Send(ctx, SendInput{ID: "abc12345", To: "dest@other.org", Subject: "hello", Body: "body"})
		require.NoError(t, err)
		r.AssertExpectations(t)
	})

	t.Run("中继失败", func(t *testing.T) {
		env := newTestEnv(t, WithIDGenerator(fixedIDs("abc12345")))
		_, err := env.mailboxes.Create(ctx)
		require.NoError(t, err)

		r := new(MockRelay)
		r.On("Send", mock.Anything, mock.Anything).Return(errBoom).Once()

		svc := NewSendService(env.mailboxes, r, nil, nil)
		err = svc.Send(ctx, SendInput{ID: "abc12345", To: "dest@other.org"})
		assert.ErrorIs(t, err, domain.ErrSendFailed)
	})

	t.Run("未配置中继", func(t *testing.T) {
		env := newTestEnv(t, WithIDGenerator(fixedIDs("abc12345")))
		_, err := env.mailboxes.Create(ctx)
		require.NoError(t, err)

		svc := NewSendService(env.mailboxes, nil, nil, nil)
		err = svc.Send(ctx, SendInput{ID: "abc12345", To: "dest@other.org"})
		assert.ErrorIs(t, err, domain.ErrSendFailed)
	})
}
