package run

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	runs := []*Run{
		{ID: "r1", Objective: "o1", Status: StatusPending, MaxRetries: 3},
		{ID: "r2", Objective: "o2", Status: StatusPending, MaxRetries: 3},
		{ID: "r3", Objective: "o3", Status: StatusPending, MaxRetries: 3},
	}

	for _, r := range runs {
		if err := store.Create(ctx, r); err != nil {
			t.Fatalf("create run %s: %v", r.ID, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "r2", CodeRunProcessing, "boom", ExecutionResult{}, true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "r3", ExecutionResult{
		Report: map[string]any{"executive_summary": "完成"},
	}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.runs["r1"].UpdatedAt = base.Unix()
	store.runs["r2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.runs["r3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(all))
	}
	if all[0].ID != "r3" {
		t.Fatalf("expected newest run first, got %s", all[0].ID)
	}

	failed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "r2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	withReport, err := store.List(ctx, buildListOptions([]ListOption{WithReportPresence(true)}))
	if err != nil {
		t.Fatalf("list with report: %v", err)
	}
	if len(withReport) != 1 || withReport[0].ID != "r3" {
		t.Fatalf("unexpected report list: %+v", withReport)
	}

	since := base.Add(15 * time.Second)
	recent, err := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(since)}))
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 runs to match since filter, got %d", len(recent))
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	runs := []*Run{
		{ID: "a", Objective: "o1", Status: StatusPending, MaxRetries: 3},
		{ID: "b", Objective: "o2", Status: StatusPending, MaxRetries: 3},
		{ID: "c", Objective: "o3", Status: StatusPending, MaxRetries: 3},
		{ID: "d", Objective: "o4", Status: StatusPending, MaxRetries: 3},
	}

	for _, r := range runs {
		if err := store.Create(ctx, r); err != nil {
			t.Fatalf("create run %s: %v", r.ID, err)
		}
	}

	if err := store.MarkFailed(ctx, "b", CodeRunProcessing, "boom", ExecutionResult{}, true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "c", ExecutionResult{Report: map[string]any{"executive_summary": "完成"}}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if err := store.MarkPartial(ctx, "d", ExecutionResult{TaskResults: []TaskResult{{Key: "key_market_segments"}}}); err != nil {
		t.Fatalf("mark partial: %v", err)
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 4 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 || stats.Partial != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestMemoryStoreClaimRules(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Claim(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := store.Create(ctx, &Run{ID: "r", Objective: "o", Status: StatusPending, MaxRetries: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, err := store.Claim(ctx, "r")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed run: %+v", claimed)
	}

	if _, err := store.Claim(ctx, "r"); !errors.Is(err, ErrRunConflict) {
		t.Fatalf("claiming a running run should conflict, got %v", err)
	}

	if err := store.MarkFailed(ctx, "r", CodeRunProcessing, "boom", ExecutionResult{}, false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "r"); err != nil {
		t.Fatalf("failed run should be claimable again: %v", err)
	}

	if err := store.MarkFailed(ctx, "r", CodeRunProcessing, "boom", ExecutionResult{}, false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "r"); !errors.Is(err, ErrRunExhausted) {
		t.Fatalf("expected exhausted after max retries, got %v", err)
	}

	if err := store.MarkSucceeded(ctx, "r", ExecutionResult{}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if _, err := store.Claim(ctx, "r"); !errors.Is(err, ErrRunCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}
}

func TestMemoryStoreFailedRunRetainsResults(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Run{ID: "r", Objective: "o", Status: StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	retained := ExecutionResult{
		TaskResults: []TaskResult{
			{Key: "key_market_segments", Title: "Identify key market segments"},
			{Key: "key_market_research", Title: "Collect reports and news"},
		},
	}
	if err := store.MarkFailed(ctx, "r", CodeRunProcessing, "boom", retained, true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	r, err := store.Get(ctx, "r")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.Status != StatusFailed {
		t.Fatalf("unexpected status: %s", r.Status)
	}
	if len(r.TaskResults) != 2 {
		t.Fatalf("failed run should retain completed task results, got %d", len(r.TaskResults))
	}
}
