package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// MailboxChecker 判断邮箱是否存在
type MailboxChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if origin == "*" || origin == requestOrigin {
					return true
				}
			}
			return false
		},
	}
}

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeNewMail    MessageType = "new_mail"
	MessageTypeSubscribed MessageType = "subscribed"
	MessageTypePing       MessageType = "ping"
	MessageTypePong       MessageType = "pong"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	MailboxID string          `json:"mailboxId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMailData 新邮件通知内容，正文需要通过 GET /inbox/:id 获取
type NewMailData struct {
	From    string `json:"from"`
	Subject string `json:"subject"`
	Ts      int64  `json:"ts"`
}

// Client 代表一个WebSocket客户端连接，只订阅一个邮箱
type Client struct {
	ID        string
	MailboxID string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
}

// BroadcastMessage 待广播的消息
type BroadcastMessage struct {
	MailboxID string
	Message   *Message
}

// Hub 管理所有WebSocket连接
type Hub struct {
	clients        map[string]*Client            // clientID -> Client
	mailboxes      map[string]map[string]*Client // mailboxID -> clientID -> Client
	register       chan *Client
	unregister     chan *Client
	broadcast      chan *BroadcastMessage
	done           chan struct{}
	mu             sync.RWMutex
	log            *zap.Logger
	allowedOrigins []string
	checker        MailboxChecker
}

// NewHub 创建新的Hub
func NewHub(allowedOrigins []string, checker MailboxChecker, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:        make(map[string]*Client),
		mailboxes:      make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan *BroadcastMessage, 256),
		done:           make(chan struct{}),
		log:            log,
		allowedOrigins: allowedOrigins,
		checker:        checker,
	}
}

// Run 运行Hub主循环，ctx 结束时关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			if h.mailboxes[client.MailboxID] == nil {
				h.mailboxes[client.MailboxID] = make(map[string]*Client)
			}
			h.mailboxes[client.MailboxID][client.ID] = client
			h.mu.Unlock()
			h.log.Debug("client registered", zap.String("client_id", client.ID), zap.String("mailbox_id", client.MailboxID))

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.broadcastToMailbox(msg.MailboxID, msg.Message)
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	if clients, exists := h.mailboxes[client.MailboxID]; exists {
		delete(clients, client.ID)
		if len(clients) == 0 {
			delete(h.mailboxes, client.MailboxID)
		}
	}
	delete(h.clients, client.ID)
	close(client.send)
	h.log.Debug("client unregistered", zap.String("client_id", client.ID))
}

// NotifyNewMail 通知订阅了该邮箱的客户端
//
// 不会阻塞投递：广播队列已满时丢弃通知。
func (h *Hub) NotifyNewMail(mailboxID string, message *domain.Message) {
	data, err := json.Marshal(NewMailData{
		From:    message.From,
		Subject: message.Subject,
		Ts:      message.Timestamp,
	})
	if err != nil {
		h.log.Error("failed to marshal new mail data", zap.Error(err))
		return
	}

	msg := &BroadcastMessage{
		MailboxID: mailboxID,
		Message: &Message{
			Type:      MessageTypeNewMail,
			MailboxID: mailboxID,
			Data:      data,
			Timestamp: time.Now(),
		},
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("broadcast queue full, dropping notification", zap.String("mailbox_id", mailboxID))
	}
}

// Subscribers 订阅某个邮箱的连接数
func (h *Hub) Subscribers(mailboxID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.mailboxes[mailboxID])
}

// broadcastToMailbox 向订阅了指定邮箱的客户端广播消息
func (h *Hub) broadcastToMailbox(mailboxID string, msg *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.mailboxes[mailboxID]
	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	for _, client := range clients {
		select {
		case client.send <- data:
		default:
			h.log.Warn("client channel blocked, skipping", zap.String("client_id", client.ID))
		}
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*Client)
	h.mailboxes = make(map[string]map[string]*Client)
}

// HandleWebSocket 处理 /inbox/:id/ws，邮箱不存在时返回 404
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		mailboxID := c.Param("id")
		exists, err := hub.checker.Exists(c.Request.Context(), mailboxID)
		if err != nil {
			hub.log.Error("websocket mailbox check failed", zap.String("mailbox_id", mailboxID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_fetch_inbox"})
			return
		}
		if !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "mailbox_expired"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Warn("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			ID:        uuid.NewString(),
			MailboxID: mailboxID,
			conn:      conn,
			send:      make(chan []byte, sendBuffer),
			hub:       hub,
		}

		if data, err := json.Marshal(&Message{
			Type:      MessageTypeSubscribed,
			MailboxID: mailboxID,
			Timestamp: time.Now(),
		}); err == nil {
			client.send <- data
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump 读取客户端消息
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		if msg.Type == MessageTypePing {
			c.sendMessage(&Message{Type: MessageTypePong, Timestamp: time.Now()})
		}
	}
}

// writePump 向客户端写入消息
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendMessage 发送消息到客户端，缓冲区满时丢弃
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.ID]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
