// Package mailparse 将原始 RFC 5322 邮件解析为路由所需的字段
package mailparse

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"tempinbox/backend/internal/domain"
)

// Email 解析后的邮件
type Email struct {
	From        string
	To          []string
	Cc          []string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Attachment 附件摘要，不保存内容
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
}

// Recipients 按 To 再 Cc 的顺序返回全部收件人，不去重
func (e *Email) Recipients() []string {
	out := make([]string, 0, len(e.To)+len(e.Cc))
	out = append(out, e.To...)
	out = append(out, e.Cc...)
	return out
}

// Parse 解析邮件
//
// 无法识别的字符集不视为失败，按原样读取；子部分的未知传输编码会跳过该部分。
// 头部无法解析或顶层传输编码未知时返回的错误包装 domain.ErrParseFailure。
func Parse(r io.Reader) (*Email, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && (mr == nil || !isLenient(err)) {
		return nil, fmt.Errorf("%w: %v", domain.ErrParseFailure, err)
	}
	defer mr.Close()

	email := &Email{
		From: decodeText(mr.Header, "From"),
		To:   addressList(mr.Header, "To"),
		Cc:   addressList(mr.Header, "Cc"),
	}
	email.Subject, err = mr.Header.Subject()
	if err != nil {
		email.Subject = mr.Header.Get("Subject")
	}

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if isLenient(err) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrParseFailure, err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			readInline(email, h, p.Body)
		case *mail.AttachmentHeader:
			email.Attachments = append(email.Attachments, readAttachment(h, p.Body))
		}
	}

	return email, nil
}

// readInline 保留第一个 text/plain 和第一个 text/html 部分，其余内联类型忽略
func readInline(email *Email, h *mail.InlineHeader, body io.Reader) {
	mediaType, _, err := h.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}

	switch strings.ToLower(mediaType) {
	case "text/html":
		if email.HTML != "" {
			return
		}
		b, err := io.ReadAll(body)
		if err == nil {
			email.HTML = string(b)
		}
	case "text/plain":
		if email.Text != "" {
			return
		}
		b, err := io.ReadAll(body)
		if err == nil {
			email.Text = string(b)
		}
	}
}

func readAttachment(h *mail.AttachmentHeader, body io.Reader) Attachment {
	filename, err := h.Filename()
	if err != nil || filename == "" {
		filename = "unnamed"
	}
	mediaType, _, err := h.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "application/octet-stream"
	}
	size, _ := io.Copy(io.Discard, body)

	return Attachment{
		Filename:    filename,
		ContentType: mediaType,
		Size:        size,
	}
}

// addressList 返回头部中的地址列表
//
// 严格解析失败时退化为按逗号切分，只保留含 @ 的片段
func addressList(h mail.Header, key string) []string {
	if !h.Has(key) {
		return nil
	}

	list, err := h.AddressList(key)
	if err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, a.Address)
		}
		return out
	}

	var out []string
	for _, part := range strings.Split(decodeText(h, key), ",") {
		part = strings.TrimSpace(part)
		if i := strings.LastIndex(part, "<"); i >= 0 {
			part = strings.TrimSuffix(part[i+1:], ">")
		}
		if strings.Contains(part, "@") {
			out = append(out, strings.TrimSpace(part))
		}
	}
	return out
}

func decodeText(h mail.Header, key string) string {
	v, err := h.Text(key)
	if err != nil {
		return h.Get(key)
	}
	return v
}

func isLenient(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
