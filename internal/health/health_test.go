package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"tempmail/mailbot/internal/storage/memory"
)

// brokenStore 健康检查始终失败
type brokenStore struct {
	*memory.Store
}

func (brokenStore) Health(context.Context) error {
	return errors.New("connection refused")
}

type stubVerifier struct {
	active bool
	err    error
}

func (v stubVerifier) VerifyDomain(context.Context) (bool, error) {
	return v.active, v.err
}

func serve(handler func(http.ResponseWriter, *http.Request)) int {
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	return rec.Code
}

func TestChecker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t.Run("存储正常时就绪", func(t *testing.T) {
		hc := NewChecker(ctx, memory.NewStore(), nil, nil)

		assert.Equal(t, http.StatusOK, serve(hc.LiveEndpoint))
		assert.Equal(t, http.StatusOK, serve(hc.ReadyEndpoint))
	})

	t.Run("存储故障时未就绪但仍存活", func(t *testing.T) {
		hc := NewChecker(ctx, brokenStore{memory.NewStore()}, nil, nil)

		assert.Equal(t, http.StatusOK, serve(hc.LiveEndpoint))
		assert.Equal(t, http.StatusServiceUnavailable, serve(hc.ReadyEndpoint))
	})

	t.Run("域名检查", func(t *testing.T) {
		hc := NewChecker(ctx, memory.NewStore(), nil, nil)

		assert.NoError(t, hc.domainCheck(stubVerifier{active: true})())
		assert.ErrorIs(t, hc.domainCheck(stubVerifier{active: false})(), ErrDomainInactive)
		assert.Error(t, hc.domainCheck(stubVerifier{err: errors.New("timeout")})())
	})
}
