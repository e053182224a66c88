package httptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/mailbot/internal/auth/jwt"
	"tempmail/mailbot/internal/bot"
	"tempmail/mailbot/internal/config"
	"tempmail/mailbot/internal/domain"
	"tempmail/mailbot/internal/health"
	"tempmail/mailbot/internal/middleware"
	"tempmail/mailbot/internal/monitoring"
	"tempmail/mailbot/internal/provider"
	"tempmail/mailbot/internal/service"
	"tempmail/mailbot/internal/session"
	"tempmail/mailbot/internal/storage/memory"
)

const testSecret = "test-secret-test-secret-test-secret"

type testEnv struct {
	router *gin.Engine
	client *provider.Memory
	tokens *jwt.Manager
}

func newTestEnv(t *testing.T, withAuth bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := memory.NewStore()
	client := provider.NewMemory("temp.mail")
	registry := service.NewMailboxRegistry(store, client, service.RegistryConfig{Limit: 2}, nil)
	sessions := session.NewManager(session.NewMemoryRepository(), registry, time.Minute, nil)
	dispatcher := bot.NewDispatcher(service.NewUserService(store, nil, nil), registry, sessions, 100, nil)

	env := &testEnv{client: client, tokens: jwt.NewManager(testSecret, "gateway")}
	var tokens *jwt.Manager
	if withAuth {
		tokens = env.tokens
	}

	env.router = NewRouter(RouterDependencies{
		Config:     &config.Config{CORS: config.CORSConfig{AllowedOrigins: []string{"*"}}},
		Mailboxes:  registry,
		Dispatcher: dispatcher,
		Health:     health.NewChecker(ctx, store, nil, nil),
		Metrics:    monitoring.NewMetrics(),
		Auth:       middleware.NewGatewayAuth(tokens, nil),
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var resp Response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func decode(t *testing.T, data interface{}, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestMailboxEndpoints(t *testing.T) {
	t.Run("创建邮箱", func(t *testing.T) {
		env := newTestEnv(t, false)

		rec, resp := env.do(t, http.MethodPost, "/api/v1/users/7/mailboxes", `{"username":"alice"}`, "")
		require.Equal(t, http.StatusCreated, rec.Code)

		var result domain.CreateResult
		decode(t, resp.Data, &result)
		assert.Equal(t, int64(7), result.Mailbox.UserID)
		assert.Equal(t, 1, result.ActiveCount)
		assert.True(t, env.client.Has(result.Mailbox.Email))
	})

	t.Run("超过上限时返回被淘汰的邮箱", func(t *testing.T) {
		env := newTestEnv(t, false)
		for i := 0; i < 2; i++ {
			rec, _ := env.do(t, http.MethodPost, "/api/v1/users/7/mailboxes", "", "")
			require.Equal(t, http.StatusCreated, rec.Code)
		}

		_, resp := env.do(t, http.MethodPost, "/api/v1/users/7/mailboxes", "", "")
		var result domain.CreateResult
		decode(t, resp.Data, &result)
		require.NotNil(t, result.Evicted)
		assert.Equal(t, int64(1), result.Evicted.ID)
		assert.Equal(t, 2, result.ActiveCount)
	})

	t.Run("历史记录最新的在前", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.do(t, http.MethodPost, "/api/v1/users/7/mailboxes", "", "")
		env.do(t, http.MethodPost, "/api/v1/users/7/mailboxes", "", "")

		rec, resp := env.do(t, http.MethodGet, "/api/v1/users/7/mailboxes?limit=10", "", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var list listMailboxesResponse
		decode(t, resp.Data, &list)
		require.Equal(t, 2, list.Count)
		assert.Greater(t, list.Items[0].ID, list.Items[1].ID)

		rec, _ = env.do(t, http.MethodGet, "/api/v1/users/7/mailboxes?limit=abc", "", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("删除邮箱", func(t *testing.T) {
		env := newTestEnv(t, false)
		_, resp := env.do(t, http.MethodPost, "/api/v1/users/7/mailboxes", "", "")
		var result domain.CreateResult
		decode(t, resp.Data, &result)
		path := fmt.Sprintf("/api/v1/users/7/mailboxes/%d", result.Mailbox.ID)

		// 其他用户看到的是不存在
		rec, _ := env.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/users/8/mailboxes/%d", result.Mailbox.ID), "", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.True(t, env.client.Has(result.Mailbox.Email))

		rec, _ = env.do(t, http.MethodDelete, path, "", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, env.client.Has(result.Mailbox.Email))

		rec, _ = env.do(t, http.MethodDelete, path, "", "")
		assert.Equal(t, http.StatusConflict, rec.Code)

		rec, _ = env.do(t, http.MethodDelete, "/api/v1/users/7/mailboxes/999", "", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec, _ = env.do(t, http.MethodDelete, "/api/v1/users/7/mailboxes/x", "", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("无效用户ID", func(t *testing.T) {
		env := newTestEnv(t, false)
		rec, _ := env.do(t, http.MethodGet, "/api/v1/users/abc/mailboxes", "", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUpdateEndpoint(t *testing.T) {
	env := newTestEnv(t, false)

	rec, resp := env.do(t, http.MethodPost, "/api/v1/updates", `{"userId":7,"username":"alice","text":"/newmail"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out updateResponse
	decode(t, resp.Data, &out)
	require.Len(t, out.Replies, 1)
	assert.Contains(t, out.Replies[0], "New Email Created")

	rec, _ = env.do(t, http.MethodPost, "/api/v1/updates", `{"text":"/newmail"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGatewayTokenRequired(t *testing.T) {
	env := newTestEnv(t, true)

	rec, _ := env.do(t, http.MethodGet, "/api/v1/users/7/mailboxes", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := env.tokens.Issue(7, "alice", time.Minute)
	require.NoError(t, err)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/users/7/mailboxes", "", token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/users/8/mailboxes", "", token)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/updates", `{"userId":8,"text":"/start"}`, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOperationalEndpoints(t *testing.T) {
	env := newTestEnv(t, true)

	rec, _ := env.do(t, http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mailbot_http_requests_total")
}

func TestStatusFor(t *testing.T) {
	status, _ := statusFor(fmt.Errorf("%w: timeout", domain.ErrProviderUnavailable))
	assert.Equal(t, http.StatusBadGateway, status)

	status, _ = statusFor(domain.ErrStorageUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, _ = statusFor(domain.ErrMailboxNotOwned)
	assert.Equal(t, http.StatusNotFound, status)
}
