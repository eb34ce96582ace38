package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 描述了 MarketSeer 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	RunQueue  RunQueueConfig  `yaml:"run_queue"`
	LLM       LLMConfig       `yaml:"llm"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Profile   ProfileConfig   `yaml:"profile"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Alerts    AlertConfig     `yaml:"alerts"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Auth      AuthConfig      `yaml:"auth"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LogConfig 控制结构化日志与审计日志的输出方式。
type LogConfig struct {
	Level   string      `yaml:"level"`
	Format  string      `yaml:"format"`
	Outputs []string    `yaml:"outputs"`
	Audit   AuditConfig `yaml:"audit"`
}

// AuditConfig 控制审计日志的落盘与滚动策略。
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// StorageConfig 统一描述运行记录与报告归档的后端连接信息。
type StorageConfig struct {
	RunStore      RunStoreConfig      `yaml:"run_store"`
	ReportArchive ReportArchiveConfig `yaml:"report_archive"`
}

// RunStoreConfig 描述分析运行记录的存储后端，默认内存实现。
type RunStoreConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `yaml:"conn_max_idle_time_seconds"`
	Retries                int    `yaml:"retries"`
}

// ReportArchiveConfig 描述最终战略报告的归档后端。
type ReportArchiveConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RunQueueConfig 描述运行调度队列。
type RunQueueConfig struct {
	Driver   string              `yaml:"driver"`
	Worker   int                 `yaml:"worker"`
	Redis    RedisQueueConfig    `yaml:"redis"`
	RabbitMQ RabbitMQQueueConfig `yaml:"rabbitmq"`
}

// RedisQueueConfig 描述 Redis 队列连接参数。
type RedisQueueConfig struct {
	Address          string `yaml:"address"`
	Password         string `yaml:"password"`
	DB               int    `yaml:"db"`
	Queue            string `yaml:"queue"`
	BlockWaitSeconds int    `yaml:"block_wait_seconds"`
}

// RabbitMQQueueConfig 描述 RabbitMQ 队列连接参数。
type RabbitMQQueueConfig struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Prefetch   int    `yaml:"prefetch"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// LLMConfig 用于配置大模型调用方式。
// Provider 为空时按凭据优先级自动选择；
// Preset 为空时沿用任务目录中的逐任务档位，设置后统一覆盖。
type LLMConfig struct {
	Preset    string                    `yaml:"preset"`
	Provider  string                    `yaml:"provider"`
	Custom    CustomPresetConfig        `yaml:"custom"`
	Endpoints map[string]EndpointConfig `yaml:"endpoints"`
	SelfHost  SelfHostConfig            `yaml:"selfhost"`
}

// CustomPresetConfig 描述 custom 档位的调用参数，超出硬上限会被收敛。
type CustomPresetConfig struct {
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// Timeout 返回 custom 档位的请求超时。
func (c CustomPresetConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EndpointConfig 允许按 provider 覆盖网关地址与模型名。
type EndpointConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// SelfHostConfig 描述自托管推理端点。启用后优先于云端 provider。
type SelfHostConfig struct {
	Enabled        bool   `yaml:"enabled"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout 返回自托管端点的请求超时。
func (c SelfHostConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PipelineConfig 控制流水线执行参数。
type PipelineConfig struct {
	MaxRetries    int `yaml:"max_retries"`
	ContextBudget int `yaml:"context_budget"`
}

// ProfileConfig 描述企业画像文件位置。
type ProfileConfig struct {
	Path string `yaml:"path"`
}

// KnowledgeConfig 描述行业背景知识库。
type KnowledgeConfig struct {
	Source     string `yaml:"source"`
	MaxResults int    `yaml:"max_results"`
}

// AlertConfig 描述告警通知渠道的 webhook 地址。
type AlertConfig struct {
	SlackWebhook    string `yaml:"slack_webhook"`
	SlackChannel    string `yaml:"slack_channel"`
	DingTalkWebhook string `yaml:"dingtalk_webhook"`
}

// MetricsConfig 描述独立的指标服务监听地址，为空则不启动。
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// AuthConfig 描述 API 层的认证配置。
type AuthConfig struct {
	Mode  string       `yaml:"mode"`
	Store string       `yaml:"store"`
	JWT   JWTConfig    `yaml:"jwt"`
	Seeds []SeedConfig `yaml:"seeds"`
}

// JWTConfig 描述本地 JWT 签发参数。
type JWTConfig struct {
	Secret            string   `yaml:"secret"`
	Issuer            string   `yaml:"issuer"`
	Audience          []string `yaml:"audience"`
	AccessTTLSeconds  int64    `yaml:"access_ttl_seconds"`
	RefreshTTLSeconds int64    `yaml:"refresh_ttl_seconds"`
}

// SeedConfig 描述启动时预置的账号。
type SeedConfig struct {
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	Roles       []string `yaml:"roles"`
	Permissions []string `yaml:"permissions"`
	Disabled    bool     `yaml:"disabled"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir"`
}

// Load 负责解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if c.Log.Audit.Enabled && c.Log.Audit.Path == "" {
		c.Log.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
	}

	if c.Storage.RunStore.Driver == "" {
		c.Storage.RunStore.Driver = "memory"
	}
	if c.Storage.RunStore.Retries <= 0 {
		c.Storage.RunStore.Retries = 3
	}
	if c.Storage.ReportArchive.Driver == "" {
		c.Storage.ReportArchive.Driver = "memory"
	}
	if c.Storage.ReportArchive.Driver == "mysql" && c.Storage.ReportArchive.DSN == "" {
		c.Storage.ReportArchive.DSN = c.Storage.RunStore.DSN
	}

	if c.RunQueue.Driver == "" {
		c.RunQueue.Driver = "memory"
	}
	if c.RunQueue.Worker <= 0 {
		c.RunQueue.Worker = 4
	}
	if c.RunQueue.Redis.Queue == "" {
		c.RunQueue.Redis.Queue = "marketseer:runs"
	}
	if c.RunQueue.RabbitMQ.Queue == "" {
		c.RunQueue.RabbitMQ.Queue = "marketseer.runs"
	}

	if c.Pipeline.MaxRetries <= 0 {
		c.Pipeline.MaxRetries = 2
	}
	if c.Pipeline.ContextBudget <= 0 {
		c.Pipeline.ContextBudget = 150
	}

	if c.Profile.Path == "" {
		c.Profile.Path = filepath.Join(baseDir, "company_profile.json")
	} else if !filepath.IsAbs(c.Profile.Path) {
		c.Profile.Path = filepath.Join(baseDir, c.Profile.Path)
	}

	if c.Knowledge.Source != "" && !filepath.IsAbs(c.Knowledge.Source) {
		c.Knowledge.Source = filepath.Join(baseDir, c.Knowledge.Source)
	}
	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 3
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	if c.Auth.Store == "" {
		c.Auth.Store = "memory"
	}
	if c.Auth.JWT.AccessTTLSeconds <= 0 {
		c.Auth.JWT.AccessTTLSeconds = 3600
	}
	if c.Auth.JWT.RefreshTTLSeconds <= 0 {
		c.Auth.JWT.RefreshTTLSeconds = 86400
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// validate 检查互相矛盾的配置组合。
func (c *Config) validate() error {
	// 空档位表示沿用任务目录里的逐任务档位。
	switch c.LLM.Preset {
	case "", "strict", "standard", "custom":
	default:
		return fmt.Errorf("未知的生成档位: %s", c.LLM.Preset)
	}

	switch c.Storage.RunStore.Driver {
	case "memory", "mysql":
	default:
		return fmt.Errorf("未知的运行存储驱动: %s", c.Storage.RunStore.Driver)
	}
	if c.Storage.RunStore.Driver == "mysql" && strings.TrimSpace(c.Storage.RunStore.DSN) == "" {
		return errors.New("mysql 运行存储需要配置 dsn")
	}

	switch c.RunQueue.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("未知的队列驱动: %s", c.RunQueue.Driver)
	}

	switch c.Auth.Mode {
	case "disabled", "jwt":
	default:
		return fmt.Errorf("未知的认证模式: %s", c.Auth.Mode)
	}
	if c.Auth.Mode == "jwt" && strings.TrimSpace(c.Auth.JWT.Secret) == "" {
		return errors.New("jwt 认证需要配置 secret")
	}

	if c.LLM.SelfHost.Enabled && strings.TrimSpace(c.LLM.SelfHost.BaseURL) == "" {
		return errors.New("自托管端点需要配置 base_url")
	}
	return nil
}
