package pipeline

import (
	"context"
	"fmt"
	"strings"

	xerrors "MarketSeer/internal/errors"
	"MarketSeer/internal/llm"
	"MarketSeer/internal/run"
)

// RunExecutor 把流水线适配为运行处理器所需的执行器。
type RunExecutor struct {
	pipeline *Pipeline
}

// NewRunExecutor 创建执行器适配层。
func NewRunExecutor(p *Pipeline) *RunExecutor {
	return &RunExecutor{pipeline: p}
}

// Execute 执行运行对应的流水线并转换产出。
// 运行携带的生成档位覆盖任务目录的档位，未携带时沿用目录配置。
// 取消产生 Partial 结果；终态失败返回错误，已完成的任务结果仍随结果返回。
func (e *RunExecutor) Execute(ctx context.Context, r *run.Run) (*run.ExecutionResult, error) {
	var preset llm.Preset
	if requested := strings.TrimSpace(r.Preset); requested != "" {
		parsed, err := llm.ParsePreset(requested)
		if err != nil {
			return &run.ExecutionResult{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err,
				fmt.Sprintf("运行 %s 的生成档位无效", r.ID))
		}
		preset = parsed
	}

	outcome, err := e.pipeline.RunWithPreset(ctx, r.Objective, preset)
	result := &run.ExecutionResult{}
	if outcome != nil {
		result.TaskResults = convertResults(outcome.Results)
		result.Report = outcome.Report
		result.Partial = outcome.Canceled
	}
	if err != nil {
		return result, err
	}
	return result, nil
}

func convertResults(results []TaskResult) []run.TaskResult {
	if len(results) == 0 {
		return nil
	}
	converted := make([]run.TaskResult, 0, len(results))
	for _, r := range results {
		converted = append(converted, run.TaskResult{
			Key:         r.Key,
			Title:       r.Title,
			Output:      r.Output,
			Attempts:    r.Attempts,
			DurationMS:  r.Duration.Milliseconds(),
			CompletedAt: r.CompletedAt,
		})
	}
	return converted
}

// Ensure RunExecutor 实现 run.Executor 接口。
var _ run.Executor = (*RunExecutor)(nil)
