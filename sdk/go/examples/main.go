package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"MarketSeer/sdk/go/marketseer"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(marketseer.Token{AccessToken: "demo-token", ExpiresIn: 3600, TokenType: "Bearer"})
	})
	mux.HandleFunc("/api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(marketseer.Run{
				ID:     "run-demo",
				Status: "pending",
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/runs/run-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(marketseer.Run{
			ID:     "run-demo",
			Status: "succeeded",
			Report: map[string]any{"executive_summary": "demo summary"},
		})
	})
	mux.HandleFunc("/api/v1/runs/run-demo/report", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(marketseer.Report{
			RunID:  "run-demo",
			Status: "succeeded",
			Report: map[string]any{"executive_summary": "demo summary"},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := marketseer.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := client.Authenticate(ctx, marketseer.Credentials{Username: "demo", Password: "secret"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("authenticated with token %s\n", token.AccessToken)

	created, err := client.SubmitRun(ctx, marketseer.RunSubmission{Objective: "enterprise LLM market analysis"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted run %s (status=%s)\n", created.ID, created.Status)

	final, err := client.WaitForRun(ctx, created.ID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	report, err := client.GetReport(ctx, final.ID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("run %s finished with report: %v\n", final.ID, report.Report)
}
