// Package report 解析模型输出的自由文本：推理块、判定结果、重要函数列表。
package report

import (
	"regexp"
	"strings"
)

var (
	thinkPattern   = regexp.MustCompile(`(?s)<think>.*?</think>`)
	verdictPattern = regexp.MustCompile("(?i)```verdict\\s*Malicious\\s*=\\s*(True|False|Uncertain)")
	sigfnPattern   = regexp.MustCompile("```sigfn_list\\s*\\n([^`]+)```")
)

// StripReasoning 删除全部 <think>...</think> 块并去掉首尾空白
func StripReasoning(text string) string {
	return strings.TrimSpace(thinkPattern.ReplaceAllString(text, ""))
}

// ParseVerdict 查找 ```verdict 块，返回捕获到的原样字面量（True/False/Uncertain 及其大小写变体）
func ParseVerdict(text string) (string, bool) {
	m := verdictPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParseSignificantFunctions 解析 ```sigfn_list 块中逗号分隔的函数名，块不存在时返回 nil
func ParseSignificantFunctions(text string) []string {
	m := sigfnPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	var names []string
	for _, part := range strings.Split(strings.TrimSpace(m[1]), ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}
