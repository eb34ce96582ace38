package alerting

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
)

const webhookTimeout = 10 * time.Second

// SlackWebhookSender 通过 incoming webhook 向 Slack 发送消息。
type SlackWebhookSender struct {
	WebhookURL string
	HTTPClient *http.Client
}

// Send 实现 SlackSender 接口。channel 由 webhook 本身决定，参数仅作日志用途。
func (s *SlackWebhookSender) Send(ctx context.Context, _ string, content string) error {
	if s == nil || strings.TrimSpace(s.WebhookURL) == "" {
		return errors.New("Slack webhook 未配置")
	}
	payload := map[string]string{"text": content}
	return postJSON(ctx, s.httpClient(), s.WebhookURL, payload)
}

func (s *SlackWebhookSender) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{Timeout: webhookTimeout}
}

// DingTalkWebhookSender 通过自定义机器人 webhook 向钉钉发送消息。
type DingTalkWebhookSender struct {
	WebhookURL string
	HTTPClient *http.Client
}

// Send 实现 DingTalkSender 接口。
func (s *DingTalkWebhookSender) Send(ctx context.Context, content string) error {
	if s == nil || strings.TrimSpace(s.WebhookURL) == "" {
		return errors.New("钉钉 webhook 未配置")
	}
	payload := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	}
	return postJSON(ctx, s.httpClient(), s.WebhookURL, payload)
}

func (s *DingTalkWebhookSender) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{Timeout: webhookTimeout}
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化 webhook 消息失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("构建 webhook 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送 webhook 请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Ensure senders 满足各自的接口。
var (
	_ SlackSender    = (*SlackWebhookSender)(nil)
	_ DingTalkSender = (*DingTalkWebhookSender)(nil)
)
