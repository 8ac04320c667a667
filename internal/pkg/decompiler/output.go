package decompiler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

const (
	OutputStartMarker = "===REAL JSON OUTPUT==="
	OutputEndMarker   = "===END JSON OUTPUT==="
)

var outputPattern = regexp.MustCompile(`(?s)===REAL JSON OUTPUT===\r?\n(.*?)===END JSON OUTPUT===`)

// Function 反编译器输出的单个函数
type Function struct {
	C     string   `json:"c"`
	Sig   string   `json:"sig"`
	Desc  string   `json:"desc,omitempty"`
	Calls []string `json:"calls,omitempty"`
}

// Result 一次反编译的结果
type Result struct {
	Functions map[string]Function
	// Raw 标记块中的原始 JSON，缩进后原样保存
	Raw []byte
}

// Names 按名称排序的函数名
func (r *Result) Names() []string {
	names := make([]string, 0, len(r.Functions))
	for name := range r.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseOutput 从反编译日志中提取标记之间的 JSON
func ParseOutput(output []byte) (*Result, error) {
	m := outputPattern.FindSubmatch(output)
	if m == nil {
		return nil, &ExtractionError{Message: "could not find JSON output in decompiler results"}
	}

	payload := bytes.TrimSpace(m[1])
	var functions map[string]Function
	if err := json.Unmarshal(payload, &functions); err != nil {
		return nil, &ExtractionError{Message: "decompiler emitted malformed JSON", RawError: err}
	}

	var raw bytes.Buffer
	if err := json.Indent(&raw, payload, "", "  "); err != nil {
		return nil, &ExtractionError{Message: "decompiler emitted malformed JSON", RawError: err}
	}

	return &Result{Functions: functions, Raw: raw.Bytes()}, nil
}

// FormatCallTree 将原始映射格式化为 “函数名 + ├─ 被调函数” 的摘要
func FormatCallTree(raw []byte) (string, error) {
	var functions map[string]Function
	if err := json.Unmarshal(raw, &functions); err != nil {
		return "", fmt.Errorf("failed to decode function dump: %w", err)
	}

	result := &Result{Functions: functions}
	var buf bytes.Buffer
	for _, name := range result.Names() {
		buf.WriteString(name)
		buf.WriteByte('\n')
		for _, callee := range functions[name].Calls {
			buf.WriteString("├─ ")
			buf.WriteString(callee)
			buf.WriteByte('\n')
		}
		buf.WriteByte('\n')
	}
	return buf.String(), nil
}
