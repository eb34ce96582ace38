package selfhost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"MarketSeer/internal/llm"
)

const (
	defaultTimeout     = 60 * time.Second
	healthCheckTimeout = 10 * time.Second
)

// Config 描述自托管推理端点的连接信息。
// 端点通常是经隧道暴露的 GPU 宿主机，实现最小生成契约：
// POST /generate 接收 {prompt, max_tokens, temperature}，返回 {"response": 文本}。
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client 通过 HTTP 调用自托管的文本生成端点。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 根据配置创建自托管端点客户端。
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("未提供自托管端点地址")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Generate 发起一次生成调用并返回原始文本。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload, err := json.Marshal(map[string]any{
		"prompt":      req.Prompt,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("序列化生成请求失败: %w", err)
	}

	endpoint := c.baseURL + "/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建生成请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.TransportError("自托管端点", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, llm.StatusError("自托管端点", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Response string `json:"response"`
		Error    string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析生成响应失败: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("自托管端点返回错误: %s", decoded.Error)
	}

	text := strings.TrimSpace(decoded.Response)
	if text == "" {
		return nil, errors.New("自托管端点响应内容为空")
	}

	return &llm.Response{Text: text}, nil
}

// HealthCheck 探测端点健康状态，启动阶段调用一次。
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("构建健康检查请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return llm.TransportError("自托管端点", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return llm.StatusError("自托管端点", resp.StatusCode, "健康检查失败")
	}

	var decoded struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("解析健康检查响应失败: %w", err)
	}
	if decoded.Status != "healthy" {
		return fmt.Errorf("自托管端点状态异常: %s", decoded.Status)
	}
	return nil
}

// Ensure Client 实现 llm.Client 接口。
var _ llm.Client = (*Client)(nil)
