package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// RecoveryStage 标识 JSON 片段是从哪一步定位到的
type RecoveryStage string

const (
	StageNone   RecoveryStage = "none"
	StageFenced RecoveryStage = "fenced_block"
	StageBraces RecoveryStage = "brace_span"
)

var fencedJSONPattern = regexp.MustCompile("(?is)```json\\s*(\\{.*?\\})\\s*```")

// ParseResult JSON 恢复的结果: 成功时 Value 为对象的原始 JSON，失败时 Reason 给出原因
type ParseResult struct {
	Value  json.RawMessage
	Reason string
	Stage  RecoveryStage
}

// OK 是否解析成功
func (r ParseResult) OK() bool {
	return r.Reason == "" && len(r.Value) > 0
}

// Decode 将成功恢复的对象解码到 v
func (r ParseResult) Decode(v any) error {
	if !r.OK() {
		return fmt.Errorf("json recovery failed: %s", r.Reason)
	}
	return json.Unmarshal(r.Value, v)
}

func parsedOK(value []byte, stage RecoveryStage) ParseResult {
	return ParseResult{Value: json.RawMessage(value), Stage: stage}
}

func parseFailed(stage RecoveryStage, format string, args ...any) ParseResult {
	return ParseResult{Reason: fmt.Sprintf(format, args...), Stage: stage}
}

type recoveryOptions struct {
	repairQuotes bool
}

// RecoveryOption JSON 恢复选项
type RecoveryOption func(*recoveryOptions)

// WithQuoteRepair 解析失败时再尝试转义字符串内部未转义的双引号
func WithQuoteRepair(enabled bool) RecoveryOption {
	return func(o *recoveryOptions) {
		o.repairQuotes = enabled
	}
}

// RecoverJSON 从模型的自由文本输出中恢复一个 JSON 对象:
//  1. 优先取内容为 {...} 的 ```json 围栏块；
//  2. 否则取第一个 '{' 到最后一个 '}' 的贪婪区间；
//  3. 解析前删除紧挨 '}' 或 ']' 的尾随逗号。
//
// 对嵌套且括号不平衡的畸形结构无能为力。
func RecoverJSON(text string, opts ...RecoveryOption) ParseResult {
	options := recoveryOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	text = strings.TrimPrefix(text, "\uFEFF")
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}

	candidate, stage := locateJSON(text)
	if stage == StageNone {
		return parseFailed(StageNone, "no JSON object found in response")
	}

	cleaned := stripTrailingCommas(candidate)
	value, err := decodeObject(cleaned)
	if err != nil && options.repairQuotes {
		if repaired, repairErr := decodeObject(sanitizeJSON(cleaned)); repairErr == nil {
			return parsedOK(repaired, stage)
		}
	}
	if err != nil {
		return parseFailed(stage, "invalid JSON: %v", err)
	}
	return parsedOK(value, stage)
}

func locateJSON(text string) (string, RecoveryStage) {
	if m := fencedJSONPattern.FindStringSubmatch(text); m != nil {
		return m[1], StageFenced
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return "", StageNone
	}
	return text[start : end+1], StageBraces
}

func decodeObject(s string) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("value is not a JSON object")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// stripTrailingCommas 删除字符串字面量之外、紧挨 '}' 或 ']' 的逗号
func stripTrailingCommas(src string) string {
	var b strings.Builder
	b.Grow(len(src))
	inStr, escaped := false, false
	for i := 0; i < len(src); i++ {
		c := src[i]
		if inStr {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		if c == '"' {
			inStr = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(src) && isJSONSpace(src[j]) {
				j++
			}
			if j < len(src) && (src[j] == '}' || src[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// sanitizeJSON 将字符串字面量内部并非真正结束的双引号改写为 \"。
// 判断依据: 结束引号之后的下一个非空白字符必须是 : , ] }。
func sanitizeJSON(src string) string {
	var b strings.Builder
	inStr := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]

		switch {
		case c == '"' && !escaped:
			if !inStr {
				inStr = true
				b.WriteByte(c)
				break
			}
			j := i + 1
			for j < len(src) && isJSONSpace(src[j]) {
				j++
			}
			if j >= len(src) || src[j] == ':' || src[j] == ',' || src[j] == ']' || src[j] == '}' {
				inStr = false
				b.WriteByte(c)
			} else {
				b.WriteString("\\\"")
			}
			escaped = false
		case c == '\\' && !escaped:
			escaped = true
			b.WriteByte(c)
		default:
			b.WriteByte(c)
			escaped = false
		}
	}

	return b.String()
}
