package mailparse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempinbox/backend/internal/domain"
)

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func TestParse(t *testing.T) {
	t.Run("纯文本邮件", func(t *testing.T) {
		raw := crlf(`From: Alice <alice@other.org>
To: abc12345@example.com
Subject: Hi
Content-Type: text/plain; charset=utf-8

test`)
		email, err := Parse(strings.NewReader(raw))
		require.NoError(t, err)

		assert.Equal(t, "Alice <alice@other.org>", email.From)
		assert.Equal(t, []string{"abc12345@example.com"}, email.To)
		assert.Empty(t, email.Cc)
		assert.Equal(t, "Hi", email.Subject)
		assert.Equal(t, "test", email.Text)
		assert.Empty(t, email.HTML)
	})

	t.Run("缺少Content-Type按纯文本处理", func(t *testing.T) {
		raw := crlf(`From: a@b.c
To: x@example.com
Subject: no type

hello`)
		email, err := Parse(strings.NewReader(raw))
		require.NoError(t, err)
		assert.Equal(t, "hello", email.Text)
	})

	t.Run("收件人顺序To然后Cc且不去重", func(t *testing.T) {
		raw := crlf(`From: a@b.c
To: one@example.com, "Two" <two@example.com>
Cc: one@example.com
Subject: s

b`)
		email, err := Parse(strings.NewReader(raw))
		require.NoError(t, err)
		assert.Equal(t,
			[]string{"one@example.com", "two@example.com", "one@example.com"},
			email.Recipients())
	})

	t.Run("multipart取文本和HTML并记录附件", func(t *testing.T) {
		raw := crlf(`From: a@b.c
To: x@example.com
Subject: multi
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary=outer

--outer
Content-Type: multipart/alternative; boundary=inner

--inner
Content-Type: text/plain; charset=utf-8

plain body
--inner
Content-Type: text/html; charset=utf-8

<p>html body</p>
--inner--
--outer
Content-Type: application/pdf
Content-Disposition: attachment; filename="doc.pdf"
Content-Transfer-Encoding: base64

aGVsbG8=
--outer--
`)
		email, err := Parse(strings.NewReader(raw))
		require.NoError(t, err)

		assert.Equal(t, "plain body", email.Text)
		assert.Equal(t, "<p>html body</p>", email.HTML)
		require.Len(t, email.Attachments, 1)
		assert.Equal(t, "doc.pdf", email.Attachments[0].Filename)
		assert.Equal(t, "application/pdf", email.Attachments[0].ContentType)
		assert.Equal(t, int64(5), email.Attachments[0].Size)
	})

	t.Run("编码字主题和quoted-printable正文", func(t *testing.T) {
		raw := crlf(`From: =?UTF-8?B?5byg5LiJ?= <zhang@b.c>
To: x@example.com
Subject: =?UTF-8?B?5L2g5aW9?=
Content-Type: text/plain; charset=utf-8
Content-Transfer-Encoding: quoted-printable

caf=C3=A9`)
		email, err := Parse(strings.NewReader(raw))
		require.NoError(t, err)

		assert.Equal(t, "你好", email.Subject)
		assert.Equal(t, "张三 <zhang@b.c>", email.From)
		assert.Equal(t, "café", email.Text)
	})

	t.Run("GBK正文转换为UTF-8", func(t *testing.T) {
		// "中文" 的 GBK 编码
		raw := crlf("From: a@b.c\nTo: x@example.com\nSubject: gbk\nContent-Type: text/plain; charset=gbk\n\n") + "\xd6\xd0\xce\xc4"
		email, err := Parse(strings.NewReader(raw))
		require.NoError(t, err)
		assert.Equal(t, "中文", email.Text)
	})

	t.Run("畸形地址列表退化解析", func(t *testing.T) {
		raw := crlf(`From: a@b.c
To: broken <<x@example.com>, y@example.com
Subject: s

b`)
		email, err := Parse(strings.NewReader(raw))
		require.NoError(t, err)
		assert.Contains(t, email.To, "y@example.com")
	})

	t.Run("头部损坏返回解析错误", func(t *testing.T) {
		_, err := Parse(strings.NewReader("this is not a header line\r\n\r\nbody"))
		assert.ErrorIs(t, err, domain.ErrParseFailure)
	})

	t.Run("顶层未知传输编码返回解析错误而不是panic", func(t *testing.T) {
		raw := crlf(`From: a@b.c
To: x@example.com
Content-Transfer-Encoding: x-weird
Subject: s

body`)
		var err error
		require.NotPanics(t, func() {
			_, err = Parse(strings.NewReader(raw))
		})
		assert.ErrorIs(t, err, domain.ErrParseFailure)
	})

	t.Run("非text/plain的内联文本不进入正文", func(t *testing.T) {
		raw := crlf(`From: a@b.c
To: x@example.com
Subject: invite
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="b1"

--b1
Content-Type: text/calendar; charset=utf-8

BEGIN:VCALENDAR
--b1
Content-Type: text/csv; charset=utf-8

a,b,c
--b1
Content-Type: text/plain; charset=utf-8

real body
--b1--`)
		email, err := Parse(strings.NewReader(raw))
		require.NoError(t, err)
		assert.Equal(t, "real body", email.Text)
		assert.Empty(t, email.HTML)
	})

	t.Run("只有日历部分时正文为空", func(t *testing.T) {
		raw := crlf(`From: a@b.c
To: x@example.com
Subject: invite
Content-Type: text/calendar; charset=utf-8

BEGIN:VCALENDAR`)
		email, err := Parse(strings.NewReader(raw))
		require.NoError(t, err)
		assert.Empty(t, email.Text)
	})
}
