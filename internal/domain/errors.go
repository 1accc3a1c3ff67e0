package domain

import "errors"

// 对外可见的错误分类。边界层只根据这些哨兵错误映射状态码，
// 不会把内部错误细节透出。
var (
	// ErrMailboxExpired 规范过期记录不存在或 TTL <= 0。
	ErrMailboxExpired = errors.New("mailbox expired")

	// ErrMissingParameters 调用方缺少必填参数。
	ErrMissingParameters = errors.New("missing parameters")

	// ErrStoreUnavailable 存储操作失败。
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrParseFailure 入站邮件无法解析。
	ErrParseFailure = errors.New("parse failure")

	// ErrSendFailed 外发中继失败或未配置。
	ErrSendFailed = errors.New("send failed")
)
