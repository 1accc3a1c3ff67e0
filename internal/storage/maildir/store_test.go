package maildir

import (
	"context"
	"io"
	"testing"

	"github.com/emersion/go-maildir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/mailparse"
)

func readAll(t *testing.T, dir maildir.Dir) []*mailparse.Email {
	t.Helper()
	msgs, err := dir.Unseen()
	require.NoError(t, err)

	var out []*mailparse.Email
	for _, m := range msgs {
		rc, err := m.Open()
		require.NoError(t, err)
		email, err := mailparse.Parse(rc)
		rc.Close()
		require.NoError(t, err)
		out = append(out, email)
	}
	return out
}

func TestStore_Write(t *testing.T) {
	ctx := context.Background()

	t.Run("纯文本记录", func(t *testing.T) {
		root := t.TempDir()
		store, err := New(root, "example.com", nil)
		require.NoError(t, err)
		require.NoError(t, store.Ping(ctx))

		rec := domain.NewStoredMessage("rec-1", "abc12345", &domain.Message{
			From: "张三 <zhang@other.org>", Subject: "Hi", Body: "test", Timestamp: 1700000000000,
		})
		require.NoError(t, store.Write(ctx, rec))

		emails := readAll(t, maildir.Dir(root+"/abc12345"))
		require.Len(t, emails, 1)
		assert.Equal(t, "Hi", emails[0].Subject)
		assert.Equal(t, "test", emails[0].Text)
		assert.Equal(t, "张三 <zhang@other.org>", emails[0].From)
		assert.Equal(t, []string{"abc12345@example.com"}, emails[0].To)
	})

	t.Run("带HTML的记录", func(t *testing.T) {
		root := t.TempDir()
		store, err := New(root, "example.com", nil)
		require.NoError(t, err)

		rec := domain.NewStoredMessage("rec-2", "abc12345", &domain.Message{
			Subject: "html", Body: "plain", HTML: "<p>rich</p>",
		})
		require.NoError(t, store.Write(ctx, rec))
		require.NoError(t, store.Write(ctx, rec))

		emails := readAll(t, maildir.Dir(root+"/abc12345"))
		require.Len(t, emails, 2)
		assert.Equal(t, "plain", emails[0].Text)
		assert.Equal(t, "<p>rich</p>", emails[0].HTML)
	})

	t.Run("拒绝非法邮箱ID", func(t *testing.T) {
		store, err := New(t.TempDir(), "example.com", nil)
		require.NoError(t, err)

		for _, id := range []string{"", "../evil", "a/b", ".hidden"} {
			err := store.Write(ctx, &domain.StoredMessage{ID: "x", InboxID: id})
			assert.ErrorIs(t, err, ErrInvalidInbox, id)
		}
	})
}

func TestRender(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(Render(pw, &domain.StoredMessage{ID: "r", InboxID: "abc", Subject: "s", Body: "b"}, ""))
	}()
	email, err := mailparse.Parse(pr)
	require.NoError(t, err)
	assert.Equal(t, "s", email.Subject)
	assert.Equal(t, "b", email.Text)
}
