package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"MarketSeer/internal/agent"
	xerrors "MarketSeer/internal/errors"
	"MarketSeer/internal/knowledge"
	"MarketSeer/internal/llm"
	"MarketSeer/internal/profile"
	"MarketSeer/internal/prompt"
	"MarketSeer/pkg/logger"
)

// Observer 在每个任务结束后收到回调，用于指标上报。
type Observer func(taskKey string, duration time.Duration, err error)

// Pipeline 顺序执行调研任务目录，产出结构化的研究结果。
// 单个运行内是单线程的，唯一的阻塞调用是生成请求本身。
type Pipeline struct {
	validator *Validator
	tasks     []TaskSpec
	injector  *prompt.Injector
	knowledge knowledge.Provider
	profile   *profile.Profile
	observer  Observer

	// 部署级覆盖：零值表示沿用任务目录里的默认值。
	defaultPreset llm.Preset
	custom        llm.CustomParams
	maxRetries    int
	contextBudget int
}

// Outcome 汇总一次运行的全部产出。
// 运行中途被取消时 Canceled 为真，已完成的任务结果保留。
type Outcome struct {
	Results   []TaskResult
	Report    map[string]any
	Canceled  bool
	FailedKey string
}

// Option 定义可选的流水线配置。
type Option func(*Pipeline)

// WithTasks 替换默认任务目录。
func WithTasks(tasks []TaskSpec) Option {
	return func(p *Pipeline) {
		if len(tasks) > 0 {
			p.tasks = tasks
		}
	}
}

// WithProfile 配置企业画像，用于提示词个性化。
func WithProfile(client *profile.Profile, opts ...prompt.Option) Option {
	return func(p *Pipeline) {
		p.profile = client
		p.injector = prompt.NewInjector(client, opts...)
	}
}

// WithKnowledge 配置行业知识库，检索结果附加到提示词参考段。
func WithKnowledge(provider knowledge.Provider) Option {
	return func(p *Pipeline) {
		p.knowledge = provider
	}
}

// WithObserver 注册任务级回调。
func WithObserver(observer Observer) Option {
	return func(p *Pipeline) {
		p.observer = observer
	}
}

// WithDefaultPreset 设置部署级生成档位，覆盖任务目录中的档位。
// 运行级档位优先级更高。
func WithDefaultPreset(preset llm.Preset) Option {
	return func(p *Pipeline) {
		p.defaultPreset = preset
	}
}

// WithCustomParams 配置 custom 档位生效时使用的调用参数。
func WithCustomParams(custom llm.CustomParams) Option {
	return func(p *Pipeline) {
		p.custom = custom
	}
}

// WithMaxRetries 覆盖所有任务的重试预算，0 表示沿用任务默认值。
func WithMaxRetries(retries int) Option {
	return func(p *Pipeline) {
		if retries > 0 {
			p.maxRetries = retries
		}
	}
}

// WithContextBudget 覆盖所有任务的画像注入预算，0 表示沿用任务默认值。
func WithContextBudget(budget int) Option {
	return func(p *Pipeline) {
		if budget > 0 {
			p.contextBudget = budget
		}
	}
}

// New 创建流水线，默认使用内置的七步任务目录。
func New(client llm.Client, opts ...Option) *Pipeline {
	p := &Pipeline{
		validator: NewValidator(client),
		tasks:     Catalog(),
		injector:  prompt.NewInjector(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Run 执行全部任务并返回产出，生成档位沿用任务目录与部署级配置。
// 首个终态失败立即终止运行并返回错误，已完成的结果保留在 Outcome 中；
// 运行级取消不视为失败，Outcome.Canceled 标记为真且 err 为 nil。
func (p *Pipeline) Run(ctx context.Context, objective string) (*Outcome, error) {
	return p.RunWithPreset(ctx, objective, "")
}

// RunWithPreset 以运行级档位覆盖执行全部任务。
// preset 为空时回退到部署级档位，再回退到任务目录中的档位。
func (p *Pipeline) RunWithPreset(ctx context.Context, objective string, preset llm.Preset) (*Outcome, error) {
	log := logger.Named("pipeline")
	outcome := &Outcome{}
	resultsByKey := make(map[string]*TaskResult, len(p.tasks))

	for _, task := range p.tasks {
		if ctx.Err() != nil {
			log.Warn("运行被取消，保留已完成的任务结果",
				"completed", len(outcome.Results), "next_task", task.Key)
			outcome.Canceled = true
			return outcome, nil
		}

		spec := p.effectiveSpec(task, preset)
		cfg, err := llm.NewConfig(spec.Preset, p.custom)
		if err != nil {
			outcome.FailedKey = spec.Key
			return outcome, xerrors.Wrap(xerrors.CodeInvalidArgument, err,
				fmt.Sprintf("任务 %s 的生成档位无效", spec.Key))
		}

		basePrompt := p.buildPrompt(spec, objective, resultsByKey)
		req := llm.Request{
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}

		log.Info("开始执行任务", "task", spec.Key, "position", spec.Position, "preset", string(spec.Preset))
		started := time.Now()
		doc, raw, attempts, err := p.validator.GenerateValidated(ctx, basePrompt, spec.Schema, req, spec.MaxRetries)
		duration := time.Since(started)
		if p.observer != nil {
			p.observer(spec.Key, duration, err)
		}

		if err != nil {
			if ctx.Err() != nil {
				outcome.Canceled = true
				log.Warn("运行在任务执行中被取消", "task", spec.Key, "completed", len(outcome.Results))
				return outcome, nil
			}
			outcome.FailedKey = spec.Key
			log.Error("任务终态失败，终止运行",
				"task", spec.Key, "attempts", attempts, "error", err)
			return outcome, err
		}

		result := TaskResult{
			Key:         spec.Key,
			Title:       spec.Title,
			Output:      doc,
			RawText:     raw,
			Attempts:    attempts,
			Duration:    duration,
			CompletedAt: time.Now().Unix(),
		}
		outcome.Results = append(outcome.Results, result)
		resultsByKey[spec.Key] = &result
		log.Info("任务完成", "task", spec.Key, "attempts", attempts, "duration", duration.String())
	}

	if final, ok := resultsByKey[KeyFinalReport]; ok {
		outcome.Report = final.Output
	} else if n := len(outcome.Results); n > 0 {
		outcome.Report = outcome.Results[n-1].Output
	}
	return outcome, nil
}

// effectiveSpec 合并任务定义与覆盖项：运行级档位 > 部署级档位 > 任务档位，
// 重试预算与注入预算取部署级配置（配置为零时沿用任务默认值）。
func (p *Pipeline) effectiveSpec(task TaskSpec, preset llm.Preset) TaskSpec {
	spec := task
	switch {
	case preset != "":
		spec.Preset = preset
	case p.defaultPreset != "":
		spec.Preset = p.defaultPreset
	}
	if p.maxRetries > 0 {
		spec.MaxRetries = p.maxRetries
	}
	if p.contextBudget > 0 {
		spec.ContextBudget = p.contextBudget
	}
	return spec
}

// buildPrompt 组装任务提示词：角色前导、调研目标、任务主体、
// 前序产出、行业参考，最后注入企业画像段落与输出约束。
func (p *Pipeline) buildPrompt(task TaskSpec, objective string, resultsByKey map[string]*TaskResult) string {
	var b strings.Builder

	if persona, err := agent.Lookup(task.Persona); err == nil {
		b.WriteString(persona.Preamble(p.profile))
		b.WriteString("\n\n")
	}

	if strings.TrimSpace(objective) != "" {
		b.WriteString("## Objective\n")
		b.WriteString(strings.TrimSpace(objective))
		b.WriteString("\n\n")
	}

	b.WriteString("## Task\n")
	body := task.Template
	var leftovers []string
	for _, key := range task.Consumes {
		result, ok := resultsByKey[key]
		if !ok {
			continue
		}
		placeholder := "{" + key + "}"
		if strings.Contains(body, placeholder) {
			body = strings.ReplaceAll(body, placeholder, result.RawText)
		} else {
			leftovers = append(leftovers, key)
		}
	}
	b.WriteString(body)

	if len(leftovers) > 0 {
		b.WriteString("\n\n## Context\n")
		for _, key := range leftovers {
			b.WriteString("### ")
			b.WriteString(key)
			b.WriteString("\n")
			b.WriteString(resultsByKey[key].RawText)
			b.WriteString("\n")
		}
	}

	p.writeReference(&b, task)

	assembled := p.injector.Inject(b.String(), task.ProfileFields, task.ContextBudget)

	var out strings.Builder
	out.WriteString(assembled)
	out.WriteString("\n\n## Required Output\n")
	out.WriteString("Respond with ONLY a single JSON object containing these top-level fields: ")
	out.WriteString(task.Schema.Describe())
	out.WriteString(".")
	return out.String()
}

// writeReference 附加行业侧重点与知识库片段。
func (p *Pipeline) writeReference(b *strings.Builder, task TaskSpec) {
	industry := ""
	if p.profile != nil {
		industry = p.profile.Industry
	}

	var lines []string
	if industry != "" {
		lines = append(lines, "Industry focus: "+knowledge.IndustryFocus(industry))
	}
	if p.knowledge != nil {
		for _, snippet := range p.knowledge.Query(task.Title, industry) {
			if strings.TrimSpace(snippet.Content) == "" {
				continue
			}
			if strings.TrimSpace(snippet.Title) != "" {
				lines = append(lines, snippet.Title+": "+snippet.Content)
			} else {
				lines = append(lines, snippet.Content)
			}
		}
	}

	if len(lines) == 0 {
		return
	}
	b.WriteString("\n\n## Reference\n")
	for _, line := range lines {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
}
