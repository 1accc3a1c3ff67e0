package domain

import "time"

// Mailbox 表示一个临时邮箱。
//
// 邮箱没有独立的状态字段：规范过期记录的剩余 TTL 大于 0 即视为存在，
// 过期即删除。
type Mailbox struct {
	ID        string        `json:"id"`
	Address   string        `json:"email"`
	ExpiresIn time.Duration `json:"-"`
}

// ExpiresInSeconds 返回剩余生存时间（秒）。
func (m *Mailbox) ExpiresInSeconds() int64 {
	return int64(m.ExpiresIn / time.Second)
}

// Inbox 是一次收件箱查询的结果。
type Inbox struct {
	MailboxID string
	Messages  []Message
	ExpiresIn time.Duration
}

// ExpiresInSeconds 返回剩余生存时间（秒）。
func (i *Inbox) ExpiresInSeconds() int64 {
	return int64(i.ExpiresIn / time.Second)
}
