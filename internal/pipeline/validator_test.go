package pipeline

import (
	"context"
	"strings"
	"testing"

	xerrors "MarketSeer/internal/errors"
	"MarketSeer/internal/llm"
)

func TestParseJSONOutputToleratesFencesAndProse(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"bare", `{"summary": "ok"}`},
		{"fenced", "```json\n{\"summary\": \"ok\"}\n```"},
		{"fenced no language", "```\n{\"summary\": \"ok\"}\n```"},
		{"prose prefix", "Here is the requested analysis:\n{\"summary\": \"ok\"}\nLet me know if you need more."},
	}
	for _, tc := range cases {
		doc, err := parseJSONOutput(tc.text)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if doc["summary"] != "ok" {
			t.Fatalf("%s: unexpected doc %+v", tc.name, doc)
		}
	}
}

func TestParseJSONOutputRejectsNonObject(t *testing.T) {
	for _, text := range []string{"", "plain prose", "[1, 2, 3]", "{broken"} {
		if _, err := parseJSONOutput(text); xerrors.CodeOf(err) != xerrors.CodeMalformedOutput {
			t.Fatalf("text %q: expected MALFORMED_OUTPUT, got %v", text, err)
		}
	}
}

func TestSchemaValidateCollectsAllProblems(t *testing.T) {
	schema := Schema{
		"executive_summary": KindString,
		"recommendations":   KindList,
		"metrics":           KindObject,
	}
	err := schema.Validate(map[string]any{
		"executive_summary": 42.0,
		"metrics":           map[string]any{},
	})
	if xerrors.CodeOf(err) != xerrors.CodeMalformedOutput {
		t.Fatalf("expected MALFORMED_OUTPUT, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "executive_summary") || !strings.Contains(msg, "recommendations") {
		t.Fatalf("error should name every offending field: %s", msg)
	}
}

func TestGenerateValidatedAmendsPromptOnMalformedOutput(t *testing.T) {
	schema := Schema{"summary": KindString}
	client := &scriptedClient{steps: []scriptStep{
		{text: "definitely not json"},
		{text: `{"summary": "修正后"}`},
	}}

	v := NewValidator(client)
	doc, _, attempts, err := v.GenerateValidated(context.Background(), "base prompt", schema, llm.Request{}, 2)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if doc["summary"] != "修正后" {
		t.Fatalf("unexpected doc: %+v", doc)
	}
	second := client.prompts[1]
	if !strings.Contains(second, "## Correction") {
		t.Fatalf("retry prompt should carry a correction section:\n%s", second)
	}
	if !strings.Contains(second, `"summary" (string)`) {
		t.Fatalf("retry prompt should restate the schema:\n%s", second)
	}
	if !strings.HasPrefix(second, "base prompt") {
		t.Fatalf("correction should extend the base prompt:\n%s", second)
	}
}

func TestGenerateValidatedSharedRetryBudget(t *testing.T) {
	schema := Schema{"summary": KindString}
	client := &scriptedClient{steps: []scriptStep{
		{err: xerrors.New(xerrors.CodeRateLimited, "限流")},
		{text: "garbage"},
		{err: xerrors.New(xerrors.CodeTimeout, "超时")},
	}}

	v := NewValidator(client)
	_, _, attempts, err := v.GenerateValidated(context.Background(), "p", schema, llm.Request{}, 2)
	if xerrors.CodeOf(err) != xerrors.CodeValidationFailure {
		t.Fatalf("expected VALIDATION_FAILURE after budget exhaustion, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestGenerateValidatedLetsInFlightCallFinish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	client := &scriptedClient{steps: []scriptStep{{text: `{"summary": "ok"}`}}}
	client.onGenerate = func(callCtx context.Context) {
		// 调用中途取消运行：本次调用不受影响，结果仍然返回。
		cancel()
		select {
		case <-callCtx.Done():
			t.Error("the generate call should be detached from run cancellation")
		default:
		}
	}

	v := NewValidator(client)
	doc, _, attempts, err := v.GenerateValidated(ctx, "p", Schema{"summary": KindString}, llm.Request{}, 2)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
	if doc["summary"] != "ok" {
		t.Fatalf("unexpected doc: %+v", doc)
	}
}

func TestGenerateValidatedStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{steps: []scriptStep{{text: `{"summary": "ok"}`}}}
	v := NewValidator(client)
	_, _, _, err := v.GenerateValidated(ctx, "p", Schema{"summary": KindString}, llm.Request{}, 2)
	if err == nil {
		t.Fatal("expected context error")
	}
	if len(client.prompts) != 0 {
		t.Fatalf("no call should be made after cancellation, saw %d", len(client.prompts))
	}
}
