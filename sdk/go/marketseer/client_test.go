package marketseer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestAuthenticateStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/token" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var creds Credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if creds.GrantType != "password" {
			t.Fatalf("expected password grant, got %q", creds.GrantType)
		}
		_ = json.NewEncoder(w).Encode(Token{
			AccessToken: "abc123",
			ExpiresIn:   3600,
			TokenType:   "Bearer",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	_, err := client.Authenticate(context.Background(), Credentials{
		Username: "analyst",
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	if got := client.AccessToken(); got != "abc123" {
		t.Fatalf("expected token abc123, got %q", got)
	}
}

func TestSubmitRunSendsBearerToken(t *testing.T) {
	runSubmitted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/token":
			_ = json.NewEncoder(w).Encode(Token{AccessToken: "token"})
		case "/api/v1/runs":
			if r.Header.Get("Authorization") != "Bearer token" {
				t.Fatalf("expected bearer token, got %q", r.Header.Get("Authorization"))
			}
			runSubmitted = true
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(Run{ID: "run-1", Status: "pending"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	if _, err := client.Authenticate(context.Background(), Credentials{}); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	created, err := client.SubmitRun(context.Background(), RunSubmission{Objective: "market analysis"})
	if err != nil {
		t.Fatalf("submit run: %v", err)
	}
	if created.ID != "run-1" {
		t.Fatalf("unexpected run: %+v", created)
	}
	if !runSubmitted {
		t.Fatal("run was not submitted")
	}
}

func TestGetRunError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/runs/run-404" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error": "run not found",
				"code":  "RUN_NOT_FOUND",
			})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	client.SetAccessToken("token")

	_, err := client.GetRun(context.Background(), "run-404")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "RUN_NOT_FOUND" || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestWaitForRunPollsUntilTerminal(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs/run-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		status := "running"
		if polls.Add(1) >= 3 {
			status = "succeeded"
		}
		_ = json.NewEncoder(w).Encode(Run{ID: "run-1", Status: status})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	client.SetAccessToken("token")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	final, err := client.WaitForRun(ctx, "run-1", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait for run: %v", err)
	}
	if final.Status != "succeeded" {
		t.Fatalf("unexpected final status: %s", final.Status)
	}
	if polls.Load() < 3 {
		t.Fatalf("expected at least 3 polls, got %d", polls.Load())
	}
}

func TestGetReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs/run-1/report" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(Report{
			RunID:  "run-1",
			Status: "succeeded",
			Report: map[string]any{"executive_summary": "summary"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	client.SetAccessToken("token")

	report, err := client.GetReport(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if report.Report["executive_summary"] != "summary" {
		t.Fatalf("unexpected report: %+v", report)
	}
}
