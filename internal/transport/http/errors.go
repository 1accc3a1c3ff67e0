package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tempinbox/backend/internal/domain"
)

// 对外错误码，内部错误细节不会出现在响应中
const (
	CodeCreateFailed      = "failed_to_create_mailbox"
	CodeFetchFailed       = "failed_to_fetch_inbox"
	CodeSendFailed        = "failed_to_send"
	CodeMailboxExpired    = "mailbox_expired"
	CodeMissingParameters = "missing_parameters"
	CodeRateLimited       = "rate_limited"
	CodeNotFound          = "not_found"
)

// ErrorBody 错误响应
type ErrorBody struct {
	Error string `json:"error"`
}

// abort 写入错误响应并终止处理链
func abort(c *gin.Context, status int, code string) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: code})
}

// inboxErrorStatus 收件箱相关错误映射，fallback 为其余错误的错误码
func inboxErrorStatus(err error, fallback string) (int, string) {
	switch {
	case errors.Is(err, domain.ErrMailboxExpired):
		return http.StatusNotFound, CodeMailboxExpired
	case errors.Is(err, domain.ErrMissingParameters):
		return http.StatusBadRequest, CodeMissingParameters
	default:
		return http.StatusInternalServerError, fallback
	}
}
