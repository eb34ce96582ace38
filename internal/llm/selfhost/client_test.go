package selfhost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "MarketSeer/internal/errors"
	"MarketSeer/internal/llm"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when base url is missing")
	}
}

func TestGenerateSuccess(t *testing.T) {
	var captured struct {
		Path string
		Body map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Path = r.URL.Path
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"response": `{"market_trends":[],"summary":{}}`,
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	resp, err := client.Generate(context.Background(), llm.Request{
		Prompt:      "识别企业自动化市场的新兴趋势",
		MaxTokens:   150,
		Temperature: 0.1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Text != `{"market_trends":[],"summary":{}}` {
		t.Fatalf("unexpected response text: %q", resp.Text)
	}
	if captured.Path != "/generate" {
		t.Fatalf("unexpected request path: %q", captured.Path)
	}
	if got := captured.Body["max_tokens"]; got != float64(150) {
		t.Fatalf("max_tokens not forwarded: %v", got)
	}
	if got := captured.Body["temperature"]; got != 0.1 {
		t.Fatalf("temperature not forwarded: %v", got)
	}
}

func TestGenerateErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "model not loaded"})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	if _, err := client.Generate(context.Background(), llm.Request{Prompt: "test"}); err == nil {
		t.Fatalf("expected error when body carries an error field")
	}
}

func TestGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	_, err = client.Generate(context.Background(), llm.Request{Prompt: "test"})
	if err == nil {
		t.Fatalf("expected error on 503")
	}
	if xerrors.CodeOf(err) != xerrors.CodeRateLimited {
		t.Fatalf("unexpected error code: %s", xerrors.CodeOf(err))
	}
	if !xerrors.RetryableError(err) {
		t.Fatalf("overload errors should be retryable")
	}
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/health" {
				t.Fatalf("unexpected path: %q", r.URL.Path)
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "healthy"})
		}))
		defer srv.Close()

		client, err := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		client.httpClient = srv.Client()

		if err := client.HealthCheck(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("degraded status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "loading"})
		}))
		defer srv.Close()

		client, err := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		client.httpClient = srv.Client()

		if err := client.HealthCheck(context.Background()); err == nil {
			t.Fatalf("expected error for non-healthy status")
		}
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "not found", http.StatusNotFound)
		}))
		defer srv.Close()

		client, err := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		client.httpClient = srv.Client()

		if err := client.HealthCheck(context.Background()); err == nil {
			t.Fatalf("expected error on 404")
		}
	})
}
