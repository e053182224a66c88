package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/mailbot/internal/auth/jwt"
	"tempmail/mailbot/internal/logger"
)

const (
	ctxUserID   = "userID"
	ctxUsername = "username"
)

// GatewayAuth 校验聊天网关签发的令牌
type GatewayAuth struct {
	manager *jwt.Manager
	log     *zap.Logger
}

// NewGatewayAuth 创建网关认证中间件；manager 为 nil 时不做校验（本地开发）
func NewGatewayAuth(manager *jwt.Manager, log *zap.Logger) *GatewayAuth {
	return &GatewayAuth{
		manager: manager,
		log:     logger.OrNop(log).Named("auth"),
	}
}

// Enabled 是否启用了令牌校验
func (ga *GatewayAuth) Enabled() bool {
	return ga.manager != nil
}

// RequireToken 要求有效令牌，并把用户信息写入上下文
func (ga *GatewayAuth) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ga.manager == nil {
			c.Next()
			return
		}

		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": http.StatusUnauthorized,
				"msg":  "authentication required",
			})
			return
		}

		claims, err := ga.manager.ValidateToken(token)
		if err != nil {
			ga.log.Warn("invalid gateway token",
				zap.Error(err),
				zap.String("ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": http.StatusUnauthorized,
				"msg":  "invalid or expired token",
			})
			return
		}

		// ValidateToken 已校验过 Subject
		userID, _ := claims.UserID()
		c.Set(ctxUserID, userID)
		c.Set(ctxUsername, claims.Username)

		c.Next()
	}
}

// UserID 返回令牌中的用户 ID；未认证时 ok 为 false
func UserID(c *gin.Context) (int64, bool) {
	value, exists := c.Get(ctxUserID)
	if !exists {
		return 0, false
	}
	id, ok := value.(int64)
	return id, ok
}

// Username 返回令牌中的显示名
func Username(c *gin.Context) string {
	return c.GetString(ctxUsername)
}

// extractToken 从请求中提取令牌
func extractToken(c *gin.Context) string {
	// 1. 从 Authorization header 提取
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}

	// 2. WebSocket 握手无法携带 header 时使用查询参数
	return c.Query("token")
}
