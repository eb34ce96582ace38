package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"MarketSeer/internal/auth"
	"MarketSeer/internal/run"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *run.Service, run.Store) {
	t.Helper()

	store := run.NewMemoryStore()
	queue := run.NewMemoryQueue(16)
	service := run.NewService(store, queue, 3)
	return NewServer(":0", service, opts...), service, store
}

func TestHandleSubmitRun(t *testing.T) {
	server, _, _ := newTestServer(t)
	handler := server.Handler()

	body := strings.NewReader(`{"objective": "enterprise LLM market analysis"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusAccepted)
	}
	var got run.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID == "" || got.Status != run.StatusPending {
		t.Fatalf("unexpected run: %+v", got)
	}
}

func TestHandleSubmitRunValidation(t *testing.T) {
	server, _, _ := newTestServer(t)
	handler := server.Handler()

	t.Run("empty objective", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{"objective": ""}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("unknown preset", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs",
			strings.NewReader(`{"objective": "o", "preset": "extreme"}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})
}

func TestHandleRunDetail(t *testing.T) {
	server, _, store := newTestServer(t)
	handler := server.Handler()

	sample := &run.Run{
		ID:         "run-success",
		Objective:  "demo",
		Status:     run.StatusSucceeded,
		Attempts:   1,
		MaxRetries: 3,
		Report:     map[string]any{"executive_summary": "完成"},
	}
	if err := store.Create(context.Background(), sample); err != nil {
		t.Fatalf("create sample run: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-success", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var got run.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != sample.ID || got.Status != run.StatusSucceeded {
		t.Fatalf("unexpected run: %+v", got)
	}
}

func TestHandleRunDetailErrors(t *testing.T) {
	server, _, _ := newTestServer(t)
	handler := server.Handler()

	t.Run("invalid method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/run-1", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestHandleRunReport(t *testing.T) {
	server, _, store := newTestServer(t)
	handler := server.Handler()

	withReport := &run.Run{
		ID:        "run-report",
		Objective: "demo",
		Status:    run.StatusSucceeded,
		Report:    map[string]any{"executive_summary": "总结"},
	}
	pending := &run.Run{ID: "run-pending", Objective: "demo", Status: run.StatusPending, MaxRetries: 3}
	for _, r := range []*run.Run{withReport, pending} {
		if err := store.Create(context.Background(), r); err != nil {
			t.Fatalf("create run %s: %v", r.ID, err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-report/report", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d, body %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		RunID  string         `json:"run_id"`
		Report map[string]any `json:"report"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.RunID != "run-report" || payload.Report["executive_summary"] != "总结" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-pending/report", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("run without report should return 404, got %d", rec.Code)
	}
}

func TestHandleListRunsWithFilters(t *testing.T) {
	server, _, store := newTestServer(t)
	handler := server.Handler()

	runs := []*run.Run{
		{ID: "r1", Objective: "alpha", Status: run.StatusPending, MaxRetries: 3},
		{ID: "r2", Objective: "beta", Status: run.StatusPending, MaxRetries: 3},
	}
	for _, r := range runs {
		if err := store.Create(context.Background(), r); err != nil {
			t.Fatalf("create run %s: %v", r.ID, err)
		}
	}
	if err := store.MarkSucceeded(context.Background(), "r2", run.ExecutionResult{
		Report: map[string]any{"executive_summary": "ok"},
	}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?status=succeeded&has_report=true", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var payload struct {
		Runs  []run.Run `json:"runs"`
		Count int       `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Count != 1 || payload.Runs[0].ID != "r2" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs?status=bogus", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid status filter should return 400, got %d", rec.Code)
	}
}

func TestHandleRunStats(t *testing.T) {
	server, _, store := newTestServer(t)
	handler := server.Handler()

	if err := store.Create(context.Background(), &run.Run{ID: "r1", Objective: "o", Status: run.StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create run: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var stats run.RunStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestHandleHealthz(t *testing.T) {
	server, _, _ := newTestServer(t)
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["status"] != "healthy" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestAuthProtectedEndpoints(t *testing.T) {
	store, err := auth.NewMemoryStore([]auth.Seed{
		{
			Username:    "analyst",
			Password:    "s3cret",
			Roles:       []string{"analyst"},
			Permissions: []string{PermRunsRead, PermRunsWrite, PermReportsRead},
		},
		{
			Username:    "viewer",
			Password:    "v1ewer",
			Permissions: []string{PermRunsRead},
		},
	})
	if err != nil {
		t.Fatalf("create auth store: %v", err)
	}
	authService, err := auth.NewService(context.Background(), auth.Config{
		Mode: auth.ModeJWT,
		JWT:  auth.JWTOptions{Secret: "test-secret"},
	}, store)
	if err != nil {
		t.Fatalf("create auth service: %v", err)
	}

	server, _, _ := newTestServer(t, WithAuth(authService))
	handler := server.Handler()

	token := func(username, password string) string {
		t.Helper()
		body := strings.NewReader(`{"grant_type": "password", "username": "` + username + `", "password": "` + password + `"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", body)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("token request failed: %d %s", rec.Code, rec.Body.String())
		}
		var pair auth.TokenPair
		if err := json.Unmarshal(rec.Body.Bytes(), &pair); err != nil {
			t.Fatalf("decode token pair: %v", err)
		}
		return pair.AccessToken
	}

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 without token, got %d", rec.Code)
		}
	})

	t.Run("bad credentials", func(t *testing.T) {
		body := strings.NewReader(`{"grant_type": "password", "username": "analyst", "password": "wrong"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", body)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for bad credentials, got %d", rec.Code)
		}
	})

	t.Run("authorized submit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs",
			strings.NewReader(`{"objective": "market analysis"}`))
		req.Header.Set("Authorization", "Bearer "+token("analyst", "s3cret"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202 with token, got %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("read-only subject cannot submit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs",
			strings.NewReader(`{"objective": "market analysis"}`))
		req.Header.Set("Authorization", "Bearer "+token("viewer", "v1ewer"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403 for viewer submit, got %d", rec.Code)
		}

		listReq := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
		listReq.Header.Set("Authorization", "Bearer "+token("viewer", "v1ewer"))
		listRec := httptest.NewRecorder()
		handler.ServeHTTP(listRec, listReq)
		if listRec.Code != http.StatusOK {
			t.Fatalf("viewer should be able to list runs, got %d", listRec.Code)
		}
	})
}
