package httptransport

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"tempmail/mailbot/internal/domain"
	"tempmail/mailbot/internal/middleware"
)

// MailboxService REST 接口使用的邮箱操作
type MailboxService interface {
	Create(ctx context.Context, ref domain.UserRef) (*domain.CreateResult, error)
	List(ctx context.Context, userID int64, limit int) ([]domain.Mailbox, error)
	Delete(ctx context.Context, userID, mailboxID int64) (*domain.Mailbox, error)
}

type mailboxHandler struct {
	mailboxes MailboxService
}

type createMailboxRequest struct {
	Username string `json:"username"`
}

type listMailboxesResponse struct {
	Items []domain.Mailbox `json:"items"`
	Count int              `json:"count"`
}

// requireSameUser 解析路径中的用户 ID；启用令牌校验时必须与令牌用户一致
func requireSameUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
		if err != nil || userID <= 0 {
			BadRequest(c, MsgInvalidUserID)
			return
		}
		if tokenUser, ok := middleware.UserID(c); ok && tokenUser != userID {
			Forbidden(c, MsgUserMismatch)
			return
		}
		c.Set("pathUserID", userID)
		c.Next()
	}
}

func pathUserID(c *gin.Context) int64 {
	return c.GetInt64("pathUserID")
}

func (h *mailboxHandler) create(c *gin.Context) {
	var req createMailboxRequest
	// 请求体可选
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, MsgInvalidRequest)
			return
		}
	}
	if req.Username == "" {
		req.Username = middleware.Username(c)
	}

	result, err := h.mailboxes.Create(c.Request.Context(), domain.UserRef{
		ID:       pathUserID(c),
		Username: req.Username,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	Created(c, result)
}

func (h *mailboxHandler) list(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			BadRequest(c, MsgInvalidRequest)
			return
		}
		limit = parsed
	}

	items, err := h.mailboxes.List(c.Request.Context(), pathUserID(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, listMailboxesResponse{Items: items, Count: len(items)})
}

func (h *mailboxHandler) delete(c *gin.Context) {
	mailboxID, err := strconv.ParseInt(c.Param("mailboxId"), 10, 64)
	if err != nil || mailboxID <= 0 {
		BadRequest(c, MsgInvalidMailboxID)
		return
	}

	mailbox, err := h.mailboxes.Delete(c.Request.Context(), pathUserID(c), mailboxID)
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, mailbox)
}
