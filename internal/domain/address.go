package domain

import "strings"

// SplitAddress 把邮件地址拆成本地部分和域名。
// 地址不含 @ 时 ok 为 false。
func SplitAddress(addr string) (localPart, domainPart string, ok bool) {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	idx := strings.LastIndex(addr, "@")
	if idx <= 0 || idx == len(addr)-1 {
		return "", "", false
	}
	return addr[:idx], addr[idx+1:], true
}

// NormalizeLocalPart 统一本地部分大小写。邮箱 ID 只由小写字母和数字组成。
func NormalizeLocalPart(localPart string) string {
	return strings.ToLower(strings.TrimSpace(localPart))
}
