package domain

import "time"

// Message 是写入邮箱日志的规范化邮件记录。
//
// 日志内的记录严格按追加顺序返回，没有投递 ID，也不去重。
type Message struct {
	From      string `json:"from"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	HTML      string `json:"html"`
	Timestamp int64  `json:"ts"` // 投递时间，Unix 毫秒
}

// ReceivedAt 返回投递时间。
func (m *Message) ReceivedAt() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// StoredMessage 是写入持久化存储的邮件副本，本系统不会读回。
type StoredMessage struct {
	ID      string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	InboxID string `json:"inboxId" gorm:"type:varchar(64);index;not null"`
	From    string `json:"from" gorm:"type:varchar(512)"`
	Subject string `json:"subject" gorm:"type:varchar(998)"`
	Body    string `json:"body" gorm:"type:text"`
	HTML    string `json:"html" gorm:"type:text"`
	Ts      int64  `json:"ts" gorm:"index"`
}

// TableName 固定持久化表名。
func (StoredMessage) TableName() string {
	return "stored_messages"
}

// NewStoredMessage 由日志记录构造持久化副本。
func NewStoredMessage(id, inboxID string, msg *Message) *StoredMessage {
	return &StoredMessage{
		ID:      id,
		InboxID: inboxID,
		From:    msg.From,
		Subject: msg.Subject,
		Body:    msg.Body,
		HTML:    msg.HTML,
		Ts:      msg.Timestamp,
	}
}
