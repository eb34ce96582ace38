package pipeline

import (
	"fmt"
	"sort"
	"strings"

	xerrors "MarketSeer/internal/errors"
)

// Kind 是输出字段的期望类型。
type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindList   Kind = "list"
	KindObject Kind = "object"
)

// Schema 声明模型输出的必需顶层字段及其类型。
type Schema map[string]Kind

// Validate 检查解析后的文档是否满足 schema。
// 返回的错误统一携带 MALFORMED_OUTPUT 错误码，由校验层决定是否重试。
func (s Schema) Validate(doc map[string]any) error {
	if doc == nil {
		return xerrors.New(xerrors.CodeMalformedOutput, "模型输出不是 JSON 对象")
	}
	var problems []string
	for _, field := range s.sortedFields() {
		value, ok := doc[field]
		if !ok {
			problems = append(problems, fmt.Sprintf("缺少字段 %q", field))
			continue
		}
		if !matchesKind(value, s[field]) {
			problems = append(problems, fmt.Sprintf("字段 %q 应为 %s", field, s[field]))
		}
	}
	if len(problems) > 0 {
		return xerrors.New(xerrors.CodeMalformedOutput, strings.Join(problems, "; "))
	}
	return nil
}

// Describe 渲染 schema 的人类可读描述，用于提示词与纠偏重试。
func (s Schema) Describe() string {
	fields := s.sortedFields()
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%q (%s)", field, s[field]))
	}
	return strings.Join(parts, ", ")
}

func (s Schema) sortedFields() []string {
	fields := make([]string, 0, len(s))
	for field := range s {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

func matchesKind(value any, kind Kind) bool {
	switch kind {
	case KindString:
		_, ok := value.(string)
		return ok
	case KindNumber:
		// encoding/json 将所有数字解码为 float64。
		_, ok := value.(float64)
		return ok
	case KindList:
		_, ok := value.([]any)
		return ok
	case KindObject:
		_, ok := value.(map[string]any)
		return ok
	default:
		return false
	}
}
