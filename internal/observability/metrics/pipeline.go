package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type taskKey struct {
	task   string
	result string
}

type taskCollector struct {
	mu      sync.Mutex
	tasks   map[taskKey]uint64
	latency map[string]*histogram
	runs    map[string]uint64
}

var pipelineCollector = &taskCollector{
	tasks:   make(map[taskKey]uint64),
	latency: make(map[string]*histogram),
	runs:    make(map[string]uint64),
}

// ObserveTask records the outcome and duration of a single research task.
func ObserveTask(task string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	pipelineCollector.observeTask(task, result, duration)
}

// ObserveRun records the terminal status of a research run.
func ObserveRun(status string) {
	pipelineCollector.mu.Lock()
	defer pipelineCollector.mu.Unlock()
	pipelineCollector.runs[status]++
}

func (c *taskCollector) observeTask(task, result string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tasks[taskKey{task: task, result: result}]++
	hist := c.latency[task]
	if hist == nil {
		hist = newHistogram()
		c.latency[task] = hist
	}
	hist.observe(duration.Seconds())
}

func (c *taskCollector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type taskMetric struct {
		taskKey
		value uint64
	}
	tasks := make([]taskMetric, 0, len(c.tasks))
	for key, value := range c.tasks {
		tasks = append(tasks, taskMetric{taskKey: key, value: value})
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].task == tasks[j].task {
			return tasks[i].result < tasks[j].result
		}
		return tasks[i].task < tasks[j].task
	})

	taskNames := make([]string, 0, len(c.latency))
	for name := range c.latency {
		taskNames = append(taskNames, name)
	}
	sort.Strings(taskNames)

	statuses := make([]string, 0, len(c.runs))
	for status := range c.runs {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)

	var builder strings.Builder
	builder.Grow(1024)

	builder.WriteString("# HELP marketseer_pipeline_tasks_total Total number of research tasks executed.\n")
	builder.WriteString("# TYPE marketseer_pipeline_tasks_total counter\n")
	for _, metric := range tasks {
		builder.WriteString(fmt.Sprintf("marketseer_pipeline_tasks_total{task=\"%s\",result=\"%s\"} %d\n",
			escape(metric.task), escape(metric.result), metric.value))
	}

	builder.WriteString("# HELP marketseer_pipeline_task_duration_seconds Research task duration in seconds.\n")
	builder.WriteString("# TYPE marketseer_pipeline_task_duration_seconds histogram\n")
	for _, name := range taskNames {
		hist := c.latency[name]
		for idx, bound := range hist.buckets {
			builder.WriteString(fmt.Sprintf("marketseer_pipeline_task_duration_seconds_bucket{task=\"%s\",le=\"%s\"} %d\n",
				escape(name), formatFloat(bound), hist.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("marketseer_pipeline_task_duration_seconds_bucket{task=\"%s\",le=\"+Inf\"} %d\n",
			escape(name), hist.count))
		builder.WriteString(fmt.Sprintf("marketseer_pipeline_task_duration_seconds_sum{task=\"%s\"} %s\n",
			escape(name), formatFloat(hist.sum)))
		builder.WriteString(fmt.Sprintf("marketseer_pipeline_task_duration_seconds_count{task=\"%s\"} %d\n",
			escape(name), hist.count))
	}

	builder.WriteString("# HELP marketseer_runs_total Total number of research runs by terminal status.\n")
	builder.WriteString("# TYPE marketseer_runs_total counter\n")
	for _, status := range statuses {
		builder.WriteString(fmt.Sprintf("marketseer_runs_total{status=\"%s\"} %d\n",
			escape(status), c.runs[status]))
	}

	return builder.String()
}
