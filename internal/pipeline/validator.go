package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	xerrors "MarketSeer/internal/errors"
	"MarketSeer/internal/llm"
)

// defaultMaxRetries 是任务未显式配置时的重试预算。
const defaultMaxRetries = 2

// Validator 负责调用生成端点并把输出约束到任务 schema。
// 限流、超时与格式错误共享同一份重试预算，重试为立即重试，不做退避。
type Validator struct {
	client llm.Client
}

// NewValidator 创建校验器。
func NewValidator(client llm.Client) *Validator {
	return &Validator{client: client}
}

// GenerateValidated 发起一次受校验的生成调用。
// ctx 取消在下一次尝试前生效，进行中的调用不被打断；
// 格式不符时带着 schema 说明与解析错误重新发问；
// 预算耗尽后返回 VALIDATION_FAILURE，由流水线终止整个运行。
func (v *Validator) GenerateValidated(ctx context.Context, basePrompt string, schema Schema, req llm.Request, maxRetries int) (map[string]any, string, int, error) {
	if v == nil || v.client == nil {
		return nil, "", 0, xerrors.New(xerrors.CodeInitializationFailure, "未配置生成客户端")
	}
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}

	currentPrompt := basePrompt
	attempts := 0
	var lastErr error

	for attempts <= maxRetries {
		if err := ctx.Err(); err != nil {
			return nil, "", attempts, err
		}
		attempts++

		req.Prompt = currentPrompt
		// 取消只在循环顶部生效：已发出的生成调用允许跑完，
		// 调用本身仍受客户端自身的超时约束。
		resp, err := v.client.Generate(context.WithoutCancel(ctx), req)
		if err != nil {
			if !xerrors.RetryableError(err) {
				return nil, "", attempts, err
			}
			lastErr = err
			continue
		}

		doc, parseErr := parseJSONOutput(resp.Text)
		if parseErr == nil {
			parseErr = schema.Validate(doc)
		}
		if parseErr == nil {
			return doc, resp.Text, attempts, nil
		}

		lastErr = parseErr
		currentPrompt = amendPrompt(basePrompt, schema, parseErr)
	}

	return nil, "", attempts, xerrors.Wrap(xerrors.CodeValidationFailure, lastErr,
		fmt.Sprintf("输出校验重试耗尽（%d 次尝试）", attempts))
}

// parseJSONOutput 解析模型输出，容忍 markdown 代码围栏与前后缀说明文字。
func parseJSONOutput(text string) (map[string]any, error) {
	cleaned := stripCodeFences(text)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, xerrors.New(xerrors.CodeMalformedOutput, "输出中没有 JSON 对象")
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &doc); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMalformedOutput, err, "解析 JSON 输出失败")
	}
	return doc, nil
}

func stripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	// 围栏可能带语言标注，如 ```json。
	if newline := strings.Index(trimmed, "\n"); newline >= 0 {
		trimmed = trimmed[newline+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// amendPrompt 在原始提示词后追加纠偏说明，重申 schema 与上次的解析错误。
func amendPrompt(basePrompt string, schema Schema, parseErr error) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n## Correction\n")
	b.WriteString("Your previous response could not be parsed: ")
	b.WriteString(parseErr.Error())
	b.WriteString("\nRespond again with ONLY a single JSON object containing these top-level fields: ")
	b.WriteString(schema.Describe())
	b.WriteString(". Do not include any prose outside the JSON object.")
	return b.String()
}
