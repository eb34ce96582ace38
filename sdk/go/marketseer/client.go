package marketseer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// DefaultPollInterval is the interval WaitForRun uses between status polls.
const DefaultPollInterval = 2 * time.Second

// Client wraps the HTTP interactions with the MarketSeer REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Credentials represents the password grant used to obtain access tokens.
type Credentials struct {
	GrantType string `json:"grant_type,omitempty"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// Token represents an issued access token pair.
type Token struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
}

// RunSubmission represents the payload required to create a research run.
type RunSubmission struct {
	ID        string         `json:"id,omitempty"`
	Objective string         `json:"objective"`
	Preset    string         `json:"preset,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskResult mirrors the per-task output attached to a run.
type TaskResult struct {
	Key         string         `json:"key"`
	Title       string         `json:"title"`
	Output      map[string]any `json:"output"`
	Attempts    int            `json:"attempts"`
	DurationMS  int64          `json:"duration_ms"`
	CompletedAt int64          `json:"completed_at"`
}

// Run contains the full state of a research run.
type Run struct {
	ID          string         `json:"id"`
	Objective   string         `json:"objective"`
	Preset      string         `json:"preset,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Status      string         `json:"status"`
	Attempts    int            `json:"attempts"`
	MaxRetries  int            `json:"max_retries"`
	LastError   string         `json:"last_error,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	TaskResults []TaskResult   `json:"task_results,omitempty"`
	Report      map[string]any `json:"report,omitempty"`
	CreatedAt   int64          `json:"created_at"`
	UpdatedAt   int64          `json:"updated_at"`
}

// Terminal reports whether the run has reached a final state.
func (r *Run) Terminal() bool {
	switch r.Status {
	case "succeeded", "partial", "failed":
		return true
	default:
		return false
	}
}

// Report wraps the final strategic report of a completed run.
type Report struct {
	RunID     string         `json:"run_id"`
	Status    string         `json:"status"`
	Objective string         `json:"objective"`
	Report    map[string]any `json:"report"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("marketseer api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("marketseer api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the MarketSeer API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// Authenticate exchanges credentials for an access token and stores it for
// subsequent calls.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (Token, error) {
	if creds.GrantType == "" {
		creds.GrantType = "password"
	}
	var token Token
	if err := c.post(ctx, "/api/v1/auth/token", creds, &token, false); err != nil {
		return Token{}, err
	}
	c.mu.Lock()
	c.accessToken = token.AccessToken
	c.mu.Unlock()
	return token, nil
}

// SubmitRun creates a new research run using the stored access token.
func (c *Client) SubmitRun(ctx context.Context, submission RunSubmission) (Run, error) {
	var created Run
	if err := c.post(ctx, "/api/v1/runs", submission, &created, true); err != nil {
		return Run{}, err
	}
	return created, nil
}

// GetRun fetches run details by identifier.
func (c *Client) GetRun(ctx context.Context, runID string) (Run, error) {
	var current Run
	endpoint := "/api/v1/runs/" + url.PathEscape(runID)
	if err := c.get(ctx, endpoint, &current, true); err != nil {
		return Run{}, err
	}
	return current, nil
}

// GetReport fetches the final strategic report of a completed run.
func (c *Client) GetReport(ctx context.Context, runID string) (Report, error) {
	var report Report
	endpoint := "/api/v1/runs/" + url.PathEscape(runID) + "/report"
	if err := c.get(ctx, endpoint, &report, true); err != nil {
		return Report{}, err
	}
	return report, nil
}

// WaitForRun polls the run until it reaches a terminal state or the context
// is cancelled.
func (c *Client) WaitForRun(ctx context.Context, runID string, interval time.Duration) (Run, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		current, err := c.GetRun(ctx, runID)
		if err != nil {
			return Run{}, err
		}
		if current.Terminal() {
			return current, nil
		}
		select {
		case <-ctx.Done():
			return Run{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken overrides the stored access token. Pass an empty string to
// clear it when the server runs with authentication disabled.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any, withAuth bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body), withAuth)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any, withAuth bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil, withAuth)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader, withAuth bool) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if withAuth {
		// 未设置令牌时按匿名请求发送，兼容关闭认证的部署。
		if token := c.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
