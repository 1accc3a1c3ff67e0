package mailparse

import (
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

func init() {
	message.CharsetReader = charsetReader
}

// charsetReader 将非 UTF-8 字符集转换为 UTF-8，供 go-message 解码正文和编码字
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	charset = strings.ToLower(strings.TrimSpace(charset))
	switch charset {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return input, nil
	}

	enc := getCharsetEncoding(charset)
	if enc == nil {
		return nil, fmt.Errorf("unhandled charset %q", charset)
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

// getCharsetEncoding 根据字符集名称返回编码器
//
// 常见的中日韩字符集直接映射，其余交给 WHATWG 名称表
func getCharsetEncoding(charset string) encoding.Encoding {
	switch charset {
	case "gb2312", "gbk", "gb18030":
		return simplifiedchinese.GB18030
	case "big5":
		return traditionalchinese.Big5
	case "iso-2022-jp":
		return japanese.ISO2022JP
	case "shift_jis", "sjis":
		return japanese.ShiftJIS
	case "euc-jp":
		return japanese.EUCJP
	case "euc-kr", "ks_c_5601-1987":
		return korean.EUCKR
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil
	}
	return enc
}
