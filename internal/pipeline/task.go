package pipeline

import (
	"time"

	"MarketSeer/internal/llm"
	"MarketSeer/internal/prompt"
)

// TaskSpec 描述流水线中的一个调研任务。
// 任务顺序执行，后序任务通过 Consumes 声明依赖的前序产出。
type TaskSpec struct {
	// Position 是任务在流水线中的序号，从 1 开始。
	Position int
	// Key 是任务的稳定标识，也是 {key} 占位符的引用名。
	Key string
	// Title 是任务的可读名称，用于日志与报表。
	Title string
	// Persona 指定以哪个研究角色的口吻下达任务。
	Persona string
	// Template 是任务提示词的主体，可包含 {key} 形式的前序产出占位符。
	Template string
	// Schema 声明模型输出必须包含的顶层字段及类型。
	Schema Schema
	// Preset 决定生成参数档位：数据收集类任务用 strict，分析类用 standard。
	Preset llm.Preset
	// ContextBudget 是企业画像段落的 token 预算。
	ContextBudget int
	// MaxRetries 是校验失败后的最大重试次数。
	MaxRetries int
	// ProfileFields 是该任务注入的画像字段清单。
	ProfileFields []prompt.Field
	// Consumes 列出该任务依赖的前序任务 key。
	Consumes []string
}

// TaskResult 记录单个任务的执行产出。
type TaskResult struct {
	Key         string         `json:"key"`
	Title       string         `json:"title"`
	Output      map[string]any `json:"output"`
	RawText     string         `json:"raw_text"`
	Attempts    int            `json:"attempts"`
	Duration    time.Duration  `json:"duration"`
	CompletedAt int64          `json:"completed_at"`
}
