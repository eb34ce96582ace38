package llm

import "context"

// Request 描述一次文本生成调用的全部参数。
// 字段与生成端点的通用契约一一对应：prompt、max_tokens、temperature。
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response 是生成端点返回的原始文本。
type Response struct {
	Text string
}

// Client 定义了调用文本生成后端的统一能力接口。
// 流水线与校验层只依赖该接口，从不依赖具体 provider 的类型。
// 每次 Generate 对应一次出站请求，调用之间不保留可变状态。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
