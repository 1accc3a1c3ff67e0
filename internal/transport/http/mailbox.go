package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempinbox/backend/internal/service"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	mailboxes *service.MailboxService
	sender    *service.SendService
	logger    *zap.Logger
}

// createMailbox POST /create
func (h *Handler) createMailbox(c *gin.Context) {
	mb, err := h.mailboxes.Create(c.Request.Context())
	if err != nil {
		h.logger.Error("create mailbox failed", zap.Error(err))
		abort(c, http.StatusInternalServerError, CodeCreateFailed)
		return
	}
	c.JSON(http.StatusOK, newCreateResponse(mb))
}

// getInbox GET /inbox/:id
func (h *Handler) getInbox(c *gin.Context) {
	id := c.Param("id")
	inbox, err := h.mailboxes.Get(c.Request.Context(), id)
	if err != nil {
		status, code := inboxErrorStatus(err, CodeFetchFailed)
		if status >= http.StatusInternalServerError {
			h.logger.Error("fetch inbox failed", zap.String("mailbox_id", id), zap.Error(err))
		}
		abort(c, status, code)
		return
	}
	c.JSON(http.StatusOK, newInboxResponse(inbox))
}

// sendMail POST /send
func (h *Handler) sendMail(c *gin.Context) {
	var in service.SendInput
	// 无法解析的请求体按缺少参数处理
	if err := c.ShouldBindJSON(&in); err != nil {
		abort(c, http.StatusBadRequest, CodeMissingParameters)
		return
	}

	if err := h.sender.Send(c.Request.Context(), in); err != nil {
		status, code := inboxErrorStatus(err, CodeSendFailed)
		abort(c, status, code)
		return
	}
	c.JSON(http.StatusOK, SendResponse{Success: true})
}
