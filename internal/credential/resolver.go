package credential

import (
	"os"
	"strings"
)

// Lookup 定义凭据槽位的查找函数，默认读取进程环境变量。
// 测试中可以注入固定映射以保证结果可复现。
type Lookup func(name string) string

// Credential 表示一个已解析的凭据槽位及其取值。
type Credential struct {
	Slot  string
	Value string
}

// Resolver 按槽位名称检查凭据是否存在。
// 同一环境下的解析结果是确定的：不缓存、不引入随机性。
type Resolver struct {
	lookup Lookup
}

// Option 定义可选配置。
type Option func(*Resolver)

// WithLookup 注入自定义查找函数。
func WithLookup(lookup Lookup) Option {
	return func(r *Resolver) {
		if lookup != nil {
			r.lookup = lookup
		}
	}
}

// NewResolver 创建凭据解析器。
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{lookup: os.Getenv}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Present 返回槽位的非空取值。空白字符不算有效凭据。
func (r *Resolver) Present(slot string) (string, bool) {
	if r == nil || strings.TrimSpace(slot) == "" {
		return "", false
	}
	value := strings.TrimSpace(r.lookup(slot))
	if value == "" {
		return "", false
	}
	return value, true
}

// ResolveSlots 按声明顺序检查每个槽位，返回凭据存在的子集。
// 没有任何槽位命中时返回空切片而不是错误，是否致命由调用方决定。
func (r *Resolver) ResolveSlots(slots []string) []Credential {
	if r == nil {
		return nil
	}
	resolved := make([]Credential, 0, len(slots))
	for _, slot := range slots {
		if value, ok := r.Present(slot); ok {
			resolved = append(resolved, Credential{Slot: slot, Value: value})
		}
	}
	return resolved
}
