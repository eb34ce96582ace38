package run

import "context"

// Executor 定义了处理器所需的流水线能力。
// Partial 结果配合 nil 错误表示运行被取消；
// 非 nil 错误表示终态失败，已完成的任务结果仍随 result 返回。
type Executor interface {
	Execute(ctx context.Context, r *Run) (*ExecutionResult, error)
}
