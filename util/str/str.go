package str

import (
	"strings"
)

// SplitTrim 按分隔符切分并去掉空白，丢弃空段
func SplitTrim(s string, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
