package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempinbox/backend/internal/domain"
)

type staticChecker map[string]bool

func (c staticChecker) Exists(_ context.Context, id string) (bool, error) {
	return c[id], nil
}

func setupHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(nil, staticChecker{"abc12345": true}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	r := gin.New()
	r.GET("/inbox/:id/ws", HandleWebSocket(hub))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, srv
}

func wsURL(srv *httptest.Server, id string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/inbox/" + id + "/ws"
}

func readFrame(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub(t *testing.T) {
	t.Run("订阅后收到新邮件通知", func(t *testing.T) {
		hub, srv := setupHub(t)

		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "abc12345"), nil)
		require.NoError(t, err)
		defer conn.Close()

		first := readFrame(t, conn)
		assert.Equal(t, MessageTypeSubscribed, first.Type)
		require.Eventually(t, func() bool { return hub.Subscribers("abc12345") == 1 }, time.Second, 10*time.Millisecond)

		hub.NotifyNewMail("abc12345", &domain.Message{From: "a@b.c", Subject: "Hi", Timestamp: 42})

		msg := readFrame(t, conn)
		assert.Equal(t, MessageTypeNewMail, msg.Type)
		assert.Equal(t, "abc12345", msg.MailboxID)
		var data NewMailData
		require.NoError(t, json.Unmarshal(msg.Data, &data))
		assert.Equal(t, "Hi", data.Subject)
		assert.Equal(t, int64(42), data.Ts)
	})

	t.Run("邮箱不存在返回404", func(t *testing.T) {
		_, srv := setupHub(t)

		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "missing1"), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("客户端断开后取消订阅", func(t *testing.T) {
		hub, srv := setupHub(t)

		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "abc12345"), nil)
		require.NoError(t, err)
		readFrame(t, conn)
		require.Eventually(t, func() bool { return hub.Subscribers("abc12345") == 1 }, time.Second, 10*time.Millisecond)

		conn.Close()
		assert.Eventually(t, func() bool { return hub.Subscribers("abc12345") == 0 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("没有订阅者时通知不阻塞", func(t *testing.T) {
		hub := NewHub(nil, staticChecker{}, nil)
		for i := 0; i < 1000; i++ {
			hub.NotifyNewMail("nobody", &domain.Message{})
		}
	})
}
