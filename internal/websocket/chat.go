package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tempmail/mailbot/internal/bot"
	"tempmail/mailbot/internal/logger"
	"tempmail/mailbot/internal/middleware"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	// handleTimeout 单条消息的处理时限
	handleTimeout = 30 * time.Second
)

// Dispatcher 处理一条聊天消息
type Dispatcher interface {
	Handle(ctx context.Context, update bot.Update) []string
}

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeMessage MessageType = "message"
	MessageTypeReply   MessageType = "reply"
	MessageTypePing    MessageType = "ping"
	MessageTypePong    MessageType = "pong"
	MessageTypeError   MessageType = "error"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType `json:"type"`
	Text      string      `json:"text,omitempty"`
	Replies   []string    `json:"replies,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

var errMissingUser = errors.New("user id required")

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

// Chat 聊天传输：每个连接对应一个用户，消息交给分发器处理
type Chat struct {
	dispatcher Dispatcher
	upgrader   websocket.Upgrader
	clients    map[string]*Client
	mu         sync.Mutex
	log        *zap.Logger
}

// Client 代表一个WebSocket客户端连接
type Client struct {
	ID       string
	UserID   int64
	Username string

	conn *websocket.Conn
	send chan []byte
	chat *Chat
	log  *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewChat 创建聊天传输
func NewChat(dispatcher Dispatcher, allowedOrigins []string, log *zap.Logger) *Chat {
	// 如果没有配置，默认允许所有
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Chat{
		dispatcher: dispatcher,
		upgrader:   upgraderFactory(allowedOrigins),
		clients:    make(map[string]*Client),
		log:        logger.OrNop(log).Named("websocket"),
	}
}

// Handler 处理 WebSocket 握手。
//
// 用户身份来自网关令牌；未启用令牌校验时使用查询参数 userId。
func (h *Chat) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, username, err := identify(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "msg": err.Error()})
			return
		}

		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.log.Warn("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			ID:       uuid.NewString(),
			UserID:   userID,
			Username: username,
			conn:     conn,
			send:     make(chan []byte, 16),
			chat:     h,
			log:      h.log.With(zap.Int64("user_id", userID)),
		}
		h.register(client)

		go client.writePump()
		go client.readPump()
	}
}

// Connections 当前连接数
func (h *Chat) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close 关闭所有连接
func (h *Chat) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
}

func (h *Chat) register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
	h.log.Debug("client connected", zap.String("client_id", client.ID), zap.Int64("user_id", client.UserID))
}

func (h *Chat) unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client.ID)
	h.mu.Unlock()
}

func identify(c *gin.Context) (int64, string, error) {
	if userID, ok := middleware.UserID(c); ok {
		return userID, middleware.Username(c), nil
	}
	userID, err := strconv.ParseInt(c.Query("userId"), 10, 64)
	if err != nil || userID <= 0 {
		return 0, "", errMissingUser
	}
	return userID, c.Query("username"), nil
}

// readPump 按顺序处理客户端消息
func (c *Client) readPump() {
	defer func() {
		c.chat.unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(middleware.DefaultBodyLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		c.handleMessage(&msg)
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeMessage:
		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		replies := c.chat.dispatcher.Handle(ctx, bot.Update{
			UserID:   c.UserID,
			Username: c.Username,
			Text:     msg.Text,
		})
		cancel()
		c.sendMessage(&Message{Type: MessageTypeReply, Replies: replies, Timestamp: time.Now()})
	case MessageTypePing:
		c.sendMessage(&Message{Type: MessageTypePong, Timestamp: time.Now()})
	default:
		c.sendMessage(&Message{Type: MessageTypeError, Error: "unknown message type", Timestamp: time.Now()})
	}
}

// sendMessage 发送消息给客户端
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("client channel blocked", zap.String("client_id", c.ID))
	}
}

// close 通知 writePump 发送关闭帧并退出
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
