package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	xerrors "MarketSeer/internal/errors"
	"MarketSeer/internal/llm"
	"MarketSeer/internal/profile"
)

// scriptedClient 依次返回预先编排的响应或错误。
type scriptedClient struct {
	steps    []scriptStep
	index    int
	prompts  []string
	requests []llm.Request
	// onGenerate 在每次调用开始时执行，可在调用中途触发取消等动作。
	onGenerate func(ctx context.Context)
}

type scriptStep struct {
	text string
	err  error
}

func (c *scriptedClient) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	c.prompts = append(c.prompts, req.Prompt)
	c.requests = append(c.requests, req)
	if c.onGenerate != nil {
		c.onGenerate(ctx)
	}
	if c.index >= len(c.steps) {
		return nil, errors.New("script exhausted")
	}
	step := c.steps[c.index]
	c.index++
	if step.err != nil {
		return nil, step.err
	}
	return &llm.Response{Text: step.text}, nil
}

// validJSONFor 根据 schema 构造一份最小的合法输出。
func validJSONFor(schema Schema) string {
	doc := make(map[string]any, len(schema))
	for field, kind := range schema {
		switch kind {
		case KindString:
			doc[field] = "样例内容"
		case KindNumber:
			doc[field] = 1.0
		case KindList:
			doc[field] = []any{"条目"}
		case KindObject:
			doc[field] = map[string]any{"k": "v"}
		}
	}
	encoded, _ := json.Marshal(doc)
	return string(encoded)
}

func testProfile() *profile.Profile {
	return &profile.Profile{
		CompanyName: "星图智能",
		Industry:    "Enterprise Software",
	}
}

func TestPipelineRunsFullCatalog(t *testing.T) {
	tasks := Catalog()
	client := &scriptedClient{}
	for _, task := range tasks {
		client.steps = append(client.steps, scriptStep{text: validJSONFor(task.Schema)})
	}

	p := New(client, WithProfile(testProfile()))
	outcome, err := p.Run(context.Background(), "enterprise LLM market analysis")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(outcome.Results) != len(tasks) {
		t.Fatalf("expected %d results, got %d", len(tasks), len(outcome.Results))
	}
	if outcome.Canceled {
		t.Fatal("run should not be canceled")
	}
	if outcome.Report == nil {
		t.Fatal("final report missing")
	}
	if _, ok := outcome.Report["executive_summary"]; !ok {
		t.Fatalf("report should be the final task output: %+v", outcome.Report)
	}
	for i, task := range tasks {
		if outcome.Results[i].Key != task.Key {
			t.Fatalf("result %d should be %s, got %s", i, task.Key, outcome.Results[i].Key)
		}
	}
}

func TestPipelineThreadsEarlierOutputs(t *testing.T) {
	tasks := Catalog()[:2]
	marker := `{"market_segments":["fintech-segment-marker"],"summary":{"total":1}}`
	client := &scriptedClient{steps: []scriptStep{
		{text: marker},
		{text: validJSONFor(tasks[1].Schema)},
	}}

	p := New(client, WithProfile(testProfile()), WithTasks(tasks))
	if _, err := p.Run(context.Background(), ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(client.prompts) != 2 {
		t.Fatalf("expected 2 prompts, got %d", len(client.prompts))
	}
	if !strings.Contains(client.prompts[1], "fintech-segment-marker") {
		t.Fatalf("second prompt should embed the first task output:\n%s", client.prompts[1])
	}
	if strings.Contains(client.prompts[1], "{key_market_segments}") {
		t.Fatal("placeholder should have been replaced")
	}
}

func TestPipelineRetriesThenSucceeds(t *testing.T) {
	tasks := Catalog()[:2]
	client := &scriptedClient{steps: []scriptStep{
		{text: validJSONFor(tasks[0].Schema)},
		{err: xerrors.New(xerrors.CodeRateLimited, "限流")},
		{text: "not json at all"},
		{text: validJSONFor(tasks[1].Schema)},
	}}

	p := New(client, WithTasks(tasks))
	outcome, err := p.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(outcome.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(outcome.Results))
	}
	if outcome.Results[1].Attempts != 3 {
		t.Fatalf("expected 3 attempts on second task, got %d", outcome.Results[1].Attempts)
	}
}

func TestPipelineTerminalFailureStopsRun(t *testing.T) {
	tasks := Catalog()[:4]
	client := &scriptedClient{steps: []scriptStep{
		{text: validJSONFor(tasks[0].Schema)},
		// 第二个任务的重试预算耗尽（1 + MaxRetries 次尝试）。
		{text: "garbage"},
		{text: "garbage"},
		{text: "garbage"},
	}}

	p := New(client, WithTasks(tasks))
	outcome, err := p.Run(context.Background(), "")
	if err == nil {
		t.Fatal("expected terminal failure")
	}
	if xerrors.CodeOf(err) != xerrors.CodeValidationFailure {
		t.Fatalf("expected VALIDATION_FAILURE, got %v", err)
	}
	if outcome.FailedKey != tasks[1].Key {
		t.Fatalf("unexpected failed key: %s", outcome.FailedKey)
	}
	if len(outcome.Results) != 1 {
		t.Fatalf("earlier results should be retained, got %d", len(outcome.Results))
	}
	// 终态失败后不再发起任何调用。
	if len(client.prompts) != 4 {
		t.Fatalf("no task should start after a terminal failure, saw %d calls", len(client.prompts))
	}
}

func TestPipelineNonRetryableFailureDoesNotRetry(t *testing.T) {
	tasks := Catalog()[:1]
	client := &scriptedClient{steps: []scriptStep{
		{err: xerrors.New(xerrors.CodeProviderUnavailable, "provider 不可用")},
	}}

	p := New(client, WithTasks(tasks))
	_, err := p.Run(context.Background(), "")
	if xerrors.CodeOf(err) != xerrors.CodeProviderUnavailable {
		t.Fatalf("expected PROVIDER_UNAVAILABLE, got %v", err)
	}
	if len(client.prompts) != 1 {
		t.Fatalf("non-retryable failure should not retry, saw %d calls", len(client.prompts))
	}
}

func TestPipelineCancellationYieldsPartialOutcome(t *testing.T) {
	tasks := Catalog()[:3]
	ctx, cancel := context.WithCancel(context.Background())

	client := &scriptedClient{steps: []scriptStep{
		{text: validJSONFor(tasks[0].Schema)},
		{text: validJSONFor(tasks[1].Schema)},
	}}
	p := New(client, WithTasks(tasks), WithObserver(func(key string, _ time.Duration, _ error) {
		if key == tasks[1].Key {
			cancel()
		}
	}))

	outcome, err := p.Run(ctx, "")
	if err != nil {
		t.Fatalf("cancellation should not surface as an error: %v", err)
	}
	if !outcome.Canceled {
		t.Fatal("outcome should be marked canceled")
	}
	if len(outcome.Results) != 2 {
		t.Fatalf("completed results should be retained, got %d", len(outcome.Results))
	}
	if len(client.prompts) != 2 {
		t.Fatalf("no task should start after cancellation, saw %d calls", len(client.prompts))
	}
}

func TestPipelinePromptContainsPersonaAndSchema(t *testing.T) {
	tasks := Catalog()[:1]
	client := &scriptedClient{steps: []scriptStep{
		{text: validJSONFor(tasks[0].Schema)},
	}}

	p := New(client, WithProfile(testProfile()), WithTasks(tasks))
	if _, err := p.Run(context.Background(), "扩大企业级市场份额"); err != nil {
		t.Fatalf("run: %v", err)
	}
	prompt := client.prompts[0]
	for _, section := range []string{"## Role", "## Task", "## Required Output", "## Objective"} {
		if !strings.Contains(prompt, section) {
			t.Fatalf("prompt missing section %q:\n%s", section, prompt)
		}
	}
	if !strings.Contains(prompt, "market_segments") {
		t.Fatalf("prompt should restate the schema fields:\n%s", prompt)
	}
	if !strings.Contains(prompt, "星图智能") {
		t.Fatalf("prompt should carry the company context:\n%s", prompt)
	}
}

func TestRunPresetOverridesCatalogPresets(t *testing.T) {
	// 目录前两个任务默认 strict（150 tokens / 0.1）。
	tasks := Catalog()[:2]
	client := &scriptedClient{steps: []scriptStep{
		{text: validJSONFor(tasks[0].Schema)},
		{text: validJSONFor(tasks[1].Schema)},
	}}

	p := New(client, WithTasks(tasks))
	if _, err := p.RunWithPreset(context.Background(), "", llm.PresetStandard); err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, req := range client.requests {
		if req.MaxTokens != 300 || req.Temperature != 0.3 {
			t.Fatalf("request %d should use the standard preset, got max_tokens=%d temperature=%v",
				i, req.MaxTokens, req.Temperature)
		}
	}
}

func TestRunWithoutPresetKeepsCatalogPresets(t *testing.T) {
	tasks := Catalog()[:1]
	client := &scriptedClient{steps: []scriptStep{
		{text: validJSONFor(tasks[0].Schema)},
	}}

	p := New(client, WithTasks(tasks))
	if _, err := p.Run(context.Background(), ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	req := client.requests[0]
	if req.MaxTokens != 150 || req.Temperature != 0.1 {
		t.Fatalf("data collection task should keep the strict preset, got max_tokens=%d temperature=%v",
			req.MaxTokens, req.Temperature)
	}
}

func TestDeploymentPresetAndCustomParamsReachRequests(t *testing.T) {
	tasks := Catalog()[:1]
	client := &scriptedClient{steps: []scriptStep{
		{text: validJSONFor(tasks[0].Schema)},
	}}

	p := New(client, WithTasks(tasks),
		WithDefaultPreset(llm.PresetCustom),
		WithCustomParams(llm.CustomParams{MaxTokens: 512, Temperature: 0.55}),
	)
	if _, err := p.Run(context.Background(), ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	req := client.requests[0]
	if req.MaxTokens != 512 || req.Temperature != 0.55 {
		t.Fatalf("custom params should reach the request, got max_tokens=%d temperature=%v",
			req.MaxTokens, req.Temperature)
	}
}

func TestMaxRetriesOverrideShrinksRetryBudget(t *testing.T) {
	// 目录默认重试预算 2（3 次尝试），覆盖为 1 后只允许 2 次。
	tasks := Catalog()[:1]
	client := &scriptedClient{steps: []scriptStep{
		{text: "garbage"},
		{text: "garbage"},
		{text: validJSONFor(tasks[0].Schema)},
	}}

	p := New(client, WithTasks(tasks), WithMaxRetries(1))
	_, err := p.Run(context.Background(), "")
	if xerrors.CodeOf(err) != xerrors.CodeValidationFailure {
		t.Fatalf("expected VALIDATION_FAILURE after the shrunk budget, got %v", err)
	}
	if len(client.prompts) != 2 {
		t.Fatalf("expected 2 attempts under max_retries=1, saw %d", len(client.prompts))
	}
}

func TestContextBudgetOverrideDropsCompanyContext(t *testing.T) {
	tasks := Catalog()[:1]
	generous := &scriptedClient{steps: []scriptStep{{text: validJSONFor(tasks[0].Schema)}}}
	p := New(generous, WithTasks(tasks), WithProfile(testProfile()))
	if _, err := p.Run(context.Background(), ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(generous.prompts[0], "## Company Context") {
		t.Fatalf("default budget should carry the company context:\n%s", generous.prompts[0])
	}

	tiny := &scriptedClient{steps: []scriptStep{{text: validJSONFor(tasks[0].Schema)}}}
	p = New(tiny, WithTasks(tasks), WithProfile(testProfile()), WithContextBudget(1))
	if _, err := p.Run(context.Background(), ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.Contains(tiny.prompts[0], "## Company Context") {
		t.Fatalf("a one-token budget cannot fit any context:\n%s", tiny.prompts[0])
	}
}

func TestCancellationDoesNotAbortInFlightTask(t *testing.T) {
	tasks := Catalog()[:2]
	ctx, cancel := context.WithCancel(context.Background())

	client := &scriptedClient{steps: []scriptStep{
		{text: validJSONFor(tasks[0].Schema)},
	}}
	client.onGenerate = func(callCtx context.Context) {
		cancel()
		if callCtx.Err() != nil {
			t.Error("in-flight generation should not observe run cancellation")
		}
	}

	p := New(client, WithTasks(tasks))
	outcome, err := p.Run(ctx, "")
	if err != nil {
		t.Fatalf("cancellation should not surface as an error: %v", err)
	}
	if !outcome.Canceled {
		t.Fatal("outcome should be marked canceled")
	}
	if len(outcome.Results) != 1 {
		t.Fatalf("the in-flight task result should be retained, got %d", len(outcome.Results))
	}
	if len(client.prompts) != 1 {
		t.Fatalf("no later task should start after cancellation, saw %d calls", len(client.prompts))
	}
}

func TestCatalogShape(t *testing.T) {
	tasks := Catalog()
	if len(tasks) != 7 {
		t.Fatalf("expected 7 tasks, got %d", len(tasks))
	}
	wantKeys := []string{
		KeyMarketSegments, KeyMarketResearch, KeyCompetitorProfiles,
		KeyCompetitorMarketing, KeyTechTrends, KeyRegulatoryShifts, KeyFinalReport,
	}
	byKey := make(map[string]TaskSpec, len(tasks))
	for i, task := range tasks {
		if task.Key != wantKeys[i] {
			t.Fatalf("task %d should be %s, got %s", i, wantKeys[i], task.Key)
		}
		if task.Position != i+1 {
			t.Fatalf("task %s has position %d, want %d", task.Key, task.Position, i+1)
		}
		if len(task.Schema) == 0 {
			t.Fatalf("task %s has no schema", task.Key)
		}
		byKey[task.Key] = task
	}
	// 依赖只能指向前序任务。
	seen := make(map[string]bool)
	for _, task := range tasks {
		for _, dep := range task.Consumes {
			if !seen[dep] {
				t.Fatalf("task %s consumes %s before it is produced", task.Key, dep)
			}
		}
		seen[task.Key] = true
	}
	if byKey[KeyMarketSegments].Preset != llm.PresetStrict {
		t.Fatal("data collection tasks should use the strict preset")
	}
	if byKey[KeyFinalReport].Preset != llm.PresetStandard {
		t.Fatal("the compile task should use the standard preset")
	}
	if len(byKey[KeyFinalReport].Consumes) != 6 {
		t.Fatalf("the compile task should consume all six analyses, got %d", len(byKey[KeyFinalReport].Consumes))
	}
}
