package httptransport

import (
	"github.com/gin-gonic/gin"

	"tempmail/mailbot/internal/bot"
	"tempmail/mailbot/internal/middleware"
)

type updateHandler struct {
	dispatcher *bot.Dispatcher
}

type updateResponse struct {
	Replies []string `json:"replies"`
}

// handle 接收聊天网关转发的用户消息，返回需要发送的回复
func (h *updateHandler) handle(c *gin.Context) {
	var update bot.Update
	if err := c.ShouldBindJSON(&update); err != nil || update.UserID <= 0 {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if tokenUser, ok := middleware.UserID(c); ok && tokenUser != update.UserID {
		Forbidden(c, MsgUserMismatch)
		return
	}

	Success(c, updateResponse{Replies: h.dispatcher.Handle(c.Request.Context(), update)})
}
