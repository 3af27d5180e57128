package util

import (
	"fmt"
	"strings"
)

// Str2List 按分隔符拆分字符串，去除空白与重复项，保持原有顺序
func Str2List(str string, sep string) []string {
	list := make([]string, 0)

	if str == "" {
		return list
	}

	seen := make(map[string]bool)
	for _, elem := range strings.Split(str, sep) {
		elem = strings.TrimSpace(elem)
		if len(elem) == 0 || seen[elem] {
			continue
		}
		seen[elem] = true
		list = append(list, elem)
	}

	return list
}

// FormatClock renders seconds as m:ss or h:mm:ss for transcript timestamps.
func FormatClock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
