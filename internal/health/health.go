package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"tempmail/mailbot/internal/logger"
	"tempmail/mailbot/internal/storage"
)

// DomainVerifier 远程邮箱服务的域名状态检查
type DomainVerifier interface {
	VerifyDomain(ctx context.Context) (bool, error)
}

// ErrDomainInactive 远程服务上的发信域名未激活
var ErrDomainInactive = errors.New("mail domain is not active")

// Checker 健康检查器
//
// 存活检查只关心进程本身；就绪检查包含存储连接和远程域名状态。
type Checker struct {
	health  healthcheck.Handler
	store   storage.Store
	timeout time.Duration
	logger  *zap.Logger
}

// NewChecker 创建健康检查器；verifier 为 nil 时跳过域名检查。
// 域名检查在后台运行，直到 ctx 结束。
func NewChecker(ctx context.Context, store storage.Store, verifier DomainVerifier, log *zap.Logger) *Checker {
	hc := &Checker{
		health:  healthcheck.NewHandler(),
		store:   store,
		timeout: 5 * time.Second,
		logger:  logger.OrNop(log).Named("health"),
	}

	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	hc.health.AddReadinessCheck("storage", hc.storageCheck())
	if verifier != nil {
		// 远程 API 有速率限制，结果缓存一分钟
		hc.health.AddReadinessCheck("mail-domain",
			healthcheck.AsyncWithContext(ctx, hc.domainCheck(verifier), time.Minute))
	}

	return hc
}

// Handler 返回健康检查处理器（/live 与 /ready）
func (hc *Checker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活检查
func (hc *Checker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *Checker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

func (hc *Checker) storageCheck() healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), hc.timeout)
		defer cancel()

		if err := hc.store.Health(ctx); err != nil {
			hc.logger.Warn("storage health check failed", zap.Error(err))
			return err
		}
		return nil
	}
}

func (hc *Checker) domainCheck(verifier DomainVerifier) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), hc.timeout)
		defer cancel()

		active, err := verifier.VerifyDomain(ctx)
		if err != nil {
			hc.logger.Warn("mail domain check failed", zap.Error(err))
			return fmt.Errorf("verify mail domain: %w", err)
		}
		if !active {
			return ErrDomainInactive
		}
		return nil
	}
}
