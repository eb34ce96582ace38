package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewarePassesThroughWhenDisabled(t *testing.T) {
	svc, err := NewService(context.Background(), Config{Mode: ModeDisabled}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	called := false
	handler := svc.Middleware(MiddlewareConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	if !called {
		t.Fatal("expected handler to be invoked")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestMiddlewareEnforcesPermissions(t *testing.T) {
	viewer := Seed{
		Username:    "viewer",
		Password:    "只读口令",
		Permissions: []string{"runs:read"},
	}
	svc := newTestService(t, []Seed{analystSeed(), viewer})

	token := func(username, password string) string {
		t.Helper()
		pair, err := svc.Authenticate(context.Background(), TokenRequest{Username: username, Password: password})
		if err != nil {
			t.Fatalf("authenticate %s: %v", username, err)
		}
		return pair.AccessToken
	}

	var seen *Subject
	handler := svc.Middleware(MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet:  {"runs:read"},
			http.MethodPost: {"runs:write"},
		},
		AuditEvent: "runs",
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("insufficient permission", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)
		req.Header.Set("Authorization", "Bearer "+token("viewer", "只读口令"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("authorized request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)
		req.Header.Set("Authorization", "Bearer "+token("analyst", "星图口令-2026"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rec.Code)
		}
		if seen == nil || seen.Username != "analyst" {
			t.Fatalf("expected analyst subject in context, got %+v", seen)
		}
	})

	t.Run("viewer can read", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
		req.Header.Set("Authorization", "Bearer "+token("viewer", "只读口令"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rec.Code)
		}
	})
}
