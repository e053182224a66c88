package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tempmail/mailbot/internal/domain"
)

// 通用错误消息
const (
	MsgInvalidRequest   = "请求参数格式错误"
	MsgInvalidUserID    = "用户ID无效"
	MsgInvalidMailboxID = "邮箱ID无效"
	MsgUserMismatch     = "令牌与用户不匹配"
	MsgInternalError    = "服务器内部错误，请稍后重试"
)

// errorMappings 业务错误 -> HTTP 状态码与消息，按顺序匹配
var errorMappings = []struct {
	err    error
	status int
	msg    string
}{
	// 不属于该用户与不存在对外不可区分
	{domain.ErrMailboxNotFound, http.StatusNotFound, "邮箱不存在"},
	{domain.ErrMailboxNotOwned, http.StatusNotFound, "邮箱不存在"},
	{domain.ErrMailboxAlreadyDeleted, http.StatusConflict, "邮箱已删除"},
	{domain.ErrUserNotFound, http.StatusNotFound, "用户不存在"},
	{domain.ErrProviderUnavailable, http.StatusBadGateway, "邮件服务暂时不可用，请稍后重试"},
	{domain.ErrStorageUnavailable, http.StatusServiceUnavailable, "存储服务暂时不可用，请稍后重试"},
}

// statusFor 返回错误对应的状态码与消息
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.msg
		}
	}
	return http.StatusInternalServerError, MsgInternalError
}

// respondError 按错误类别写入响应
func respondError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	_ = c.Error(err)
	Error(c, status, msg)
}
