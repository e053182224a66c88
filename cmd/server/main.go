package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmail/mailbot/internal/auth/jwt"
	"tempmail/mailbot/internal/bot"
	"tempmail/mailbot/internal/config"
	"tempmail/mailbot/internal/events"
	"tempmail/mailbot/internal/health"
	"tempmail/mailbot/internal/logger"
	"tempmail/mailbot/internal/middleware"
	"tempmail/mailbot/internal/monitoring"
	"tempmail/mailbot/internal/provider"
	"tempmail/mailbot/internal/service"
	"tempmail/mailbot/internal/session"
	"tempmail/mailbot/internal/storage"
	"tempmail/mailbot/internal/storage/memory"
	"tempmail/mailbot/internal/storage/postgres"
	redisstore "tempmail/mailbot/internal/storage/redis"
	sqlstore "tempmail/mailbot/internal/storage/sql"
	httptransport "tempmail/mailbot/internal/transport/http"
	"tempmail/mailbot/internal/websocket"
)

// main 启动邮箱机器人服务：HTTP API、聊天 WebSocket 与后台任务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting mailbot server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.Int("mailbox_limit", cfg.Mailbox.Limit),
	)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics()

	// 初始化存储层
	store, err := initializeStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("failed to close storage", zap.Error(err))
		}
	}()

	// 远程邮箱服务
	client, verifier := initializeProvider(cfg, log)

	// Redis 仅在会话或锁需要时连接
	var redisClient *redisstore.Client
	if cfg.Session.Store == "redis" || cfg.Lock.Type == "redis" {
		redisClient, err = redisstore.New(ctx, &cfg.Redis, log)
		if err != nil {
			log.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer func() { _ = redisClient.Close() }()
	}

	// 生命周期事件
	publisher, stopPublisher := initializePublisher(cfg, log)
	defer stopPublisher()

	// 核心服务
	registry := service.NewMailboxRegistry(store, client, service.RegistryConfig{
		Limit:              cfg.Mailbox.Limit,
		HistoryLimit:       cfg.Mailbox.HistoryLimit,
		ProviderTimeout:    cfg.Provider.Timeout,
		MarkDeletedRetries: cfg.Mailbox.MarkDeletedRetries,
		RetryBackoff:       cfg.Mailbox.RetryBackoff,
	}, log)
	registry.SetMetrics(metrics)
	registry.SetPublisher(publisher)
	var userLocker *redisstore.Locker
	if cfg.Lock.Type == "redis" {
		userLocker = redisstore.NewLocker(redisClient, cfg.Lock.TTL)
		registry.SetLocker(userLocker)
		log.Info("using distributed user lock", zap.Duration("ttl", cfg.Lock.TTL))
	}

	var sessionRepo session.Repository = session.NewMemoryRepository()
	if cfg.Session.Store == "redis" {
		sessionRepo = redisstore.NewSessionRepository(redisClient)
	}
	sessions := session.NewManager(sessionRepo, registry, cfg.Session.TTL, log)
	sessions.SetMetrics(metrics)
	if userLocker != nil {
		// 会话锁与注册中心的锁相互独立，键前缀不同
		sessions.SetLocker(userLocker.WithPrefix("mailbot:lock:session:"))
	}

	users := service.NewUserService(store, metrics, log)
	dispatcher := bot.NewDispatcher(users, registry, sessions, cfg.Mailbox.HistoryLimit, log)

	// 传输层
	var tokens *jwt.Manager
	if cfg.Transport.Secret != "" {
		tokens = jwt.NewManager(cfg.Transport.Secret, cfg.Transport.Issuer)
	} else {
		log.Warn("transport secret not configured, gateway tokens are not verified")
	}

	chat := websocket.NewChat(dispatcher, cfg.CORS.AllowedOrigins, log)
	healthChecker := health.NewChecker(ctx, store, verifier, log)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:     cfg,
		Mailboxes:  registry,
		Dispatcher: dispatcher,
		Chat:       chat,
		Health:     healthChecker,
		Metrics:    metrics,
		Auth:       middleware.NewGatewayAuth(tokens, log),
		Logger:     log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 过期会话清理 goroutine（Redis 会话依赖键过期）
	group.Go(func() error {
		log.Info("starting session sweeper", zap.Duration("interval", cfg.Session.SweepInterval))
		return sessions.RunSweeper(groupCtx, cfg.Session.SweepInterval)
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		chat.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// initializeStorage 根据配置选择存储实现
func initializeStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil
	}

	switch cfg.Database.Type {
	case "postgres", "postgresql":
		if cfg.Database.Driver == "gorm" {
			log.Info("using PostgreSQL storage via gorm")
			return sqlstore.NewStore("postgres", cfg.Database.DSN,
				cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
		}

		client, err := postgres.New(ctx, &cfg.Database, log)
		if err != nil {
			return nil, err
		}
		store := postgres.NewStore(client)
		if err := store.EnsureSchema(ctx); err != nil {
			client.Close()
			return nil, err
		}
		log.Info("using PostgreSQL storage via pgx")
		return store, nil

	case "mysql":
		log.Info("using MySQL storage via gorm")
		return sqlstore.NewStore("mysql", cfg.Database.DSN,
			cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)

	default:
		return nil, fmt.Errorf("unsupported database type: %s (supported: postgres, mysql)", cfg.Database.Type)
	}
}

// initializeProvider 创建远程邮箱服务客户端；Mailgun 同时作为就绪检查的域名校验方
func initializeProvider(cfg *config.Config, log *zap.Logger) (provider.Client, health.DomainVerifier) {
	if cfg.Provider.Type != "mailgun" {
		log.Info("using in-memory mail provider", zap.String("domain", cfg.Provider.Domain))
		return provider.NewMemory(cfg.Provider.Domain), nil
	}

	mailgun := provider.NewMailgun(provider.MailgunConfig{
		APIKey:        cfg.Provider.APIKey,
		Domain:        cfg.Provider.Domain,
		APIBase:       cfg.Provider.APIBase,
		WebhookURL:    cfg.Provider.WebhookURL,
		RatePerSecond: cfg.Provider.RatePerSecond,
		Timeout:       cfg.Provider.Timeout,
	}, log)
	log.Info("using Mailgun provider", zap.String("domain", cfg.Provider.Domain))
	return mailgun, mailgun
}

// initializePublisher 创建事件发布器，返回的函数在退出时排空队列
func initializePublisher(cfg *config.Config, log *zap.Logger) (events.Publisher, func()) {
	if cfg.Events.NSQAddress == "" {
		return events.Nop{}, func() {}
	}

	producer, err := events.NewNSQPublisher(cfg.Events.NSQAddress, cfg.Events.Topic)
	if err != nil {
		log.Warn("failed to create NSQ producer, events disabled", zap.Error(err))
		return events.Nop{}, func() {}
	}
	if err := producer.Ping(); err != nil {
		log.Warn("nsqd not reachable yet", zap.String("address", cfg.Events.NSQAddress), zap.Error(err))
	}

	async := events.NewAsyncPublisher(producer, 2, 1024, log)
	async.Start()
	log.Info("publishing lifecycle events",
		zap.String("nsqd", cfg.Events.NSQAddress),
		zap.String("topic", cfg.Events.Topic),
	)
	return async, func() {
		async.Stop()
		producer.Close()
	}
}
