package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/mailbot/internal/bot"
)

// echoDispatcher 记录收到的消息并原样回复
type echoDispatcher struct {
	mu      sync.Mutex
	updates []bot.Update
}

func (d *echoDispatcher) Handle(_ context.Context, update bot.Update) []string {
	d.mu.Lock()
	d.updates = append(d.updates, update)
	d.mu.Unlock()
	return []string{"echo: " + update.Text}
}

func newTestServer(t *testing.T, dispatcher Dispatcher) (*Chat, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	chat := NewChat(dispatcher, nil, nil)
	router := gin.New()
	router.GET("/ws", chat.Handler())

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return chat, server
}

func wsURL(server *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws" + query
}

func TestChat(t *testing.T) {
	t.Run("消息交给分发器处理", func(t *testing.T) {
		dispatcher := &echoDispatcher{}
		_, server := newTestServer(t, dispatcher)

		conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, "?userId=42&username=alice"), nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeMessage, Text: "/newmail"}))
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

		var reply Message
		require.NoError(t, conn.ReadJSON(&reply))
		assert.Equal(t, MessageTypeReply, reply.Type)
		assert.Equal(t, []string{"echo: /newmail"}, reply.Replies)

		dispatcher.mu.Lock()
		defer dispatcher.mu.Unlock()
		require.Len(t, dispatcher.updates, 1)
		assert.Equal(t, int64(42), dispatcher.updates[0].UserID)
		assert.Equal(t, "alice", dispatcher.updates[0].Username)
	})

	t.Run("心跳与未知类型", func(t *testing.T) {
		_, server := newTestServer(t, &echoDispatcher{})

		conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, "?userId=1"), nil)
		require.NoError(t, err)
		defer conn.Close()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

		var reply Message
		require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
		require.NoError(t, conn.ReadJSON(&reply))
		assert.Equal(t, MessageTypePong, reply.Type)

		require.NoError(t, conn.WriteJSON(Message{Type: "subscribe"}))
		require.NoError(t, conn.ReadJSON(&reply))
		assert.Equal(t, MessageTypeError, reply.Type)
	})

	t.Run("缺少用户ID时拒绝握手", func(t *testing.T) {
		_, server := newTestServer(t, &echoDispatcher{})

		_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, ""), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("关闭所有连接", func(t *testing.T) {
		chat, server := newTestServer(t, &echoDispatcher{})

		conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, "?userId=1"), nil)
		require.NoError(t, err)
		defer conn.Close()

		assert.Eventually(t, func() bool { return chat.Connections() == 1 }, time.Second, 10*time.Millisecond)
		chat.Close()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err = conn.ReadMessage()
		assert.Error(t, err)
		assert.Eventually(t, func() bool { return chat.Connections() == 0 }, time.Second, 10*time.Millisecond)
	})
}
