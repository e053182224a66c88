package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/mailbot/internal/bot"
	"tempmail/mailbot/internal/config"
	"tempmail/mailbot/internal/health"
	"tempmail/mailbot/internal/middleware"
	"tempmail/mailbot/internal/monitoring"
	"tempmail/mailbot/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config     *config.Config
	Mailboxes  MailboxService
	Dispatcher *bot.Dispatcher
	Chat       *websocket.Chat
	Health     *health.Checker
	Metrics    *monitoring.Metrics
	Auth       *middleware.GatewayAuth
	Logger     *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	auth := deps.Auth
	if auth == nil {
		auth = middleware.NewGatewayAuth(nil, deps.Logger)
	}

	mailboxes := &mailboxHandler{mailboxes: deps.Mailboxes}
	updates := &updateHandler{dispatcher: deps.Dispatcher}

	// 健康检查
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	} else {
		router.GET("/health/live", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	v1 := router.Group("/api/v1", auth.RequireToken())
	{
		users := v1.Group("/users/:userId", requireSameUser())
		{
			users.POST("/mailboxes", mailboxes.create)
			users.GET("/mailboxes", mailboxes.list)
			users.DELETE("/mailboxes/:mailboxId", mailboxes.delete)
		}

		v1.POST("/updates", updates.handle)

		if deps.Chat != nil {
			v1.GET("/ws", deps.Chat.Handler())
		}
	}

	return router
}
