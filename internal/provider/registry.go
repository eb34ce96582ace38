package provider

import (
	"fmt"

	"MarketSeer/internal/credential"
	xerrors "MarketSeer/internal/errors"
)

// CostTag 描述 provider 默认模型的成本效率档位。
type CostTag string

const (
	CostLow    CostTag = "low"
	CostMedium CostTag = "medium"
	CostHigh   CostTag = "high"
)

// 支持的 provider 标识。
const (
	Gemini    = "gemini"
	OpenAI    = "openai"
	Anthropic = "anthropic"
	Mistral   = "mistral"
	SelfHost  = "selfhost"
)

// Descriptor 描述一个文本生成后端：标识、凭据槽位、默认模型、
// 成本档位与静态优先级。进程启动后不可变。
type Descriptor struct {
	ID           string
	Slot         string
	DefaultModel string
	Cost         CostTag
	Rank         int
}

// Resolved 将 Descriptor 与运行时解析到的凭据组合在一起。
// 每次运行只创建一次，从不落盘，也不写入日志。
type Resolved struct {
	Descriptor
	Credential string
}

// Catalog 返回内置的 provider 静态表，按优先级排列。
// 排名在构造期唯一；成本档位只作参考，不参与选择。
func Catalog() []Descriptor {
	return []Descriptor{
		{ID: Gemini, Slot: "GEN_MODEL_API", DefaultModel: "gemini-2.0-flash-lite", Cost: CostHigh, Rank: 0},
		{ID: OpenAI, Slot: "OPENAI_API_KEY", DefaultModel: "gpt-4o-mini", Cost: CostMedium, Rank: 1},
		{ID: Anthropic, Slot: "ANTHROPIC_API_KEY", DefaultModel: "claude-3-haiku-20240307", Cost: CostHigh, Rank: 2},
		{ID: Mistral, Slot: "MISTRAL_API_KEY", DefaultModel: "mistral-large-latest", Cost: CostMedium, Rank: 3},
	}
}

// Registry 维护 provider 静态表并负责基于凭据的可用性判定与选择。
type Registry struct {
	descriptors []Descriptor
}

// NewRegistry 基于给定的描述表创建注册表。
func NewRegistry(descriptors []Descriptor) *Registry {
	cloned := make([]Descriptor, len(descriptors))
	copy(cloned, descriptors)
	return &Registry{descriptors: cloned}
}

// DefaultRegistry 返回使用内置静态表的注册表。
func DefaultRegistry() *Registry {
	return NewRegistry(Catalog())
}

// Descriptors 返回静态表的副本。
func (r *Registry) Descriptors() []Descriptor {
	if r == nil {
		return nil
	}
	cloned := make([]Descriptor, len(r.descriptors))
	copy(cloned, r.descriptors)
	return cloned
}

// Lookup 按标识查找描述符。
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	if r == nil {
		return Descriptor{}, false
	}
	for _, desc := range r.descriptors {
		if desc.ID == id {
			return desc, true
		}
	}
	return Descriptor{}, false
}

// Qualifying 逐个检查描述符的凭据槽位，返回凭据存在的子集，
// 保持静态表的声明顺序。没有命中时返回空切片。
func (r *Registry) Qualifying(resolver *credential.Resolver) []Resolved {
	if r == nil || resolver == nil {
		return nil
	}
	qualifying := make([]Resolved, 0, len(r.descriptors))
	for _, desc := range r.descriptors {
		value, ok := resolver.Present(desc.Slot)
		if !ok {
			continue
		}
		qualifying = append(qualifying, Resolved{Descriptor: desc, Credential: value})
	}
	return qualifying
}

// Select 在可用集合中挑选优先级数值最小的 provider。
// 排名相同时取静态表中先出现的一个。集合为空时返回 PROVIDER_UNAVAILABLE。
func Select(qualifying []Resolved) (Resolved, error) {
	if len(qualifying) == 0 {
		return Resolved{}, xerrors.New(xerrors.CodeProviderUnavailable, "没有可用的 provider")
	}
	best := qualifying[0]
	for _, candidate := range qualifying[1:] {
		if candidate.Rank < best.Rank {
			best = candidate
		}
	}
	return best, nil
}

// Pick 是 Qualifying 与 Select 的组合：先判定可用集合再做确定性选择。
// 可用集合为空时返回 CREDENTIAL_MISSING，保证没有任何网络调用发生。
func (r *Registry) Pick(resolver *credential.Resolver) (Resolved, error) {
	qualifying := r.Qualifying(resolver)
	if len(qualifying) == 0 {
		return Resolved{}, xerrors.New(xerrors.CodeCredentialMissing,
			fmt.Sprintf("检查了 %d 个凭据槽位，均未配置", len(r.Descriptors())))
	}
	return Select(qualifying)
}
