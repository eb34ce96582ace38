package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"MarketSeer/internal/api"
	"MarketSeer/internal/auth"
	"MarketSeer/internal/config"
	"MarketSeer/internal/credential"
	xerrors "MarketSeer/internal/errors"
	"MarketSeer/internal/knowledge"
	"MarketSeer/internal/llm"
	"MarketSeer/internal/llm/anthropic"
	"MarketSeer/internal/llm/gemini"
	"MarketSeer/internal/llm/mistral"
	"MarketSeer/internal/llm/openai"
	"MarketSeer/internal/llm/selfhost"
	"MarketSeer/internal/observability/alerting"
	"MarketSeer/internal/observability/metrics"
	"MarketSeer/internal/pipeline"
	"MarketSeer/internal/profile"
	"MarketSeer/internal/provider"
	"MarketSeer/internal/run"
	"MarketSeer/internal/storage/mysql"
	"MarketSeer/pkg/logger"
)

// main 是 MarketSeer 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx); err != nil {
		log.Fatalf("marketseerd 运行失败: %v", err)
	}
}

func serve(ctx context.Context) error {
	// .env 仅作为凭据槽位的便捷注入方式，不存在时忽略。
	_ = godotenv.Load()

	configPath := os.Getenv("MARKETSEER_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "marketseer.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()
	mainLog := logger.Named("marketseerd")

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// 凭据解析先于任何出站请求：没有可用凭据时进程直接拒绝启动。
	llmClient, resolved, err := createLLMClient(ctx, cfg)
	if err != nil {
		return err
	}
	mainLog.Info("文本生成后端就绪", slog.String("provider", resolved))

	prof, err := profile.Load(cfg.Profile.Path)
	if err != nil {
		return err
	}
	if prof == nil {
		mainLog.Warn("未找到企业画像，提示词将不携带个性化上下文", slog.String("path", cfg.Profile.Path))
	}

	var knowledgeProvider knowledge.Provider
	if cfg.Knowledge.Source != "" {
		staticProvider, err := knowledge.LoadStaticProvider(cfg.Knowledge.Source, cfg.Knowledge.MaxResults)
		if err != nil {
			return err
		}
		knowledgeProvider = staticProvider
	}

	pipeOpts := []pipeline.Option{
		pipeline.WithProfile(prof),
		pipeline.WithKnowledge(knowledgeProvider),
		pipeline.WithObserver(metrics.ObserveTask),
		pipeline.WithMaxRetries(cfg.Pipeline.MaxRetries),
		pipeline.WithContextBudget(cfg.Pipeline.ContextBudget),
		pipeline.WithCustomParams(llm.CustomParams{
			MaxTokens:   cfg.LLM.Custom.MaxTokens,
			Temperature: cfg.LLM.Custom.Temperature,
			Timeout:     cfg.LLM.Custom.Timeout(),
		}),
	}
	if preset := strings.TrimSpace(cfg.LLM.Preset); preset != "" {
		parsed, err := llm.ParsePreset(preset)
		if err != nil {
			return err
		}
		pipeOpts = append(pipeOpts, pipeline.WithDefaultPreset(parsed))
	}
	pipe := pipeline.New(llmClient, pipeOpts...)

	var runStore run.Store
	switch cfg.Storage.RunStore.Driver {
	case "", "memory":
		runStore = run.NewMemoryStore()
	case "mysql":
		store, err := run.NewMySQLStore(cfg.Storage.RunStore.DSN)
		if err != nil {
			return err
		}
		runStore = store
	default:
		return fmt.Errorf("未知的运行存储驱动: %s", cfg.Storage.RunStore.Driver)
	}
	defer func() {
		if runStore != nil {
			_ = runStore.Close()
		}
	}()

	var runQueue run.Queue
	switch cfg.RunQueue.Driver {
	case "", "memory":
		runQueue = run.NewMemoryQueue(1024)
	case "redis":
		queue, err := run.NewRedisQueue(run.RedisQueueConfig{
			Address:   cfg.RunQueue.Redis.Address,
			Password:  cfg.RunQueue.Redis.Password,
			DB:        cfg.RunQueue.Redis.DB,
			Queue:     cfg.RunQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.RunQueue.Redis.BlockWaitSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		runQueue = queue
	case "rabbitmq":
		queue, err := run.NewRabbitMQQueue(run.RabbitMQConfig{
			URL:        cfg.RunQueue.RabbitMQ.URL,
			Queue:      cfg.RunQueue.RabbitMQ.Queue,
			Prefetch:   cfg.RunQueue.RabbitMQ.Prefetch,
			Durable:    cfg.RunQueue.RabbitMQ.Durable,
			AutoDelete: cfg.RunQueue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		runQueue = queue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.RunQueue.Driver)
	}
	defer func() {
		if runQueue != nil {
			if err := runQueue.Close(); err != nil {
				mainLog.Error("关闭运行队列失败", slog.Any("error", err))
			}
		}
	}()

	var reportArchive mysql.ReportArchive
	switch cfg.Storage.ReportArchive.Driver {
	case "", "memory":
		archive, err := mysql.NewMemoryReportArchive(dataDir)
		if err != nil {
			return err
		}
		reportArchive = archive
	case "mysql":
		archive, err := mysql.NewSQLReportArchive(ctx, mysql.Config{
			DSN:             cfg.Storage.ReportArchive.DSN,
			MaxOpenConns:    cfg.Storage.RunStore.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.RunStore.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.RunStore.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Storage.RunStore.ConnMaxIdleTimeSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		reportArchive = archive
	default:
		return fmt.Errorf("未知的报告档案驱动: %s", cfg.Storage.ReportArchive.Driver)
	}
	if closer, ok := reportArchive.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	companyName := ""
	if prof != nil {
		companyName = prof.CompanyName
	}
	executor := &archivingExecutor{
		next:        pipeline.NewRunExecutor(pipe),
		archive:     reportArchive,
		companyName: companyName,
		log:         logger.Named("archive"),
	}

	runService := run.NewService(runStore, runQueue, cfg.Storage.RunStore.Retries)

	processorOpts := []run.ProcessorOption{
		run.WithWorkerCount(cfg.RunQueue.Worker),
		run.WithProcessorLogger(logger.Named("processor")),
	}
	if dispatcher := buildAlertDispatcher(cfg.Alerts); dispatcher != nil {
		processorOpts = append(processorOpts, run.WithAlertDispatcher(dispatcher))
	}
	processor := run.NewProcessor(executor, runStore, runQueue, runQueue, processorOpts...)

	authService, authCloser, err := createAuthService(ctx, cfg)
	if err != nil {
		return err
	}
	if authCloser != nil {
		defer authCloser()
	}

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				mainLog.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			mainLog.Error("运行处理器异常退出", slog.Any("error", err))
		}
	}()

	serverOpts := []api.Option{api.WithReportArchive(reportArchive)}
	if authService != nil {
		serverOpts = append(serverOpts, api.WithAuth(authService))
	}
	server := api.NewServer(cfg.Server.Address, runService, serverOpts...)

	mainLog.Info("服务启动", slog.String("address", cfg.Server.Address))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createLLMClient 根据配置选择文本生成后端。
// 自托管端点启用时优先生效，启动时探活失败则拒绝启动；
// 否则按凭据可用性在静态表中选择。
func createLLMClient(ctx context.Context, cfg *config.Config) (llm.Client, string, error) {
	if cfg.LLM.SelfHost.Enabled {
		client, err := selfhost.NewClient(selfhost.Config{
			BaseURL: cfg.LLM.SelfHost.BaseURL,
			Timeout: cfg.LLM.SelfHost.Timeout(),
		})
		if err != nil {
			return nil, "", err
		}
		if err := client.HealthCheck(ctx); err != nil {
			return nil, "", fmt.Errorf("自托管推理端点探活失败: %w", err)
		}
		return client, provider.SelfHost, nil
	}

	resolver := credential.NewResolver()
	registry := provider.DefaultRegistry()

	var resolved provider.Resolved
	if forced := strings.TrimSpace(cfg.LLM.Provider); forced != "" {
		desc, ok := registry.Lookup(forced)
		if !ok {
			return nil, "", fmt.Errorf("未知的大模型 provider: %s", forced)
		}
		value, ok := resolver.Present(desc.Slot)
		if !ok {
			return nil, "", xerrors.New(xerrors.CodeCredentialMissing,
				fmt.Sprintf("provider %s 的凭据槽位 %s 未配置", desc.ID, desc.Slot))
		}
		resolved = provider.Resolved{Descriptor: desc, Credential: value}
	} else {
		picked, err := registry.Pick(resolver)
		if err != nil {
			return nil, "", err
		}
		resolved = picked
	}

	endpoint := cfg.LLM.Endpoints[resolved.ID]
	model := endpoint.Model
	if model == "" {
		model = resolved.DefaultModel
	}
	timeout := cfg.LLM.Custom.Timeout()

	var client llm.Client
	var err error
	switch resolved.ID {
	case provider.Gemini:
		client, err = gemini.NewClient(gemini.Config{
			APIKey:  resolved.Credential,
			BaseURL: endpoint.BaseURL,
			Model:   model,
			Timeout: timeout,
		})
	case provider.OpenAI:
		client, err = openai.NewClient(openai.Config{
			APIKey:  resolved.Credential,
			BaseURL: endpoint.BaseURL,
			Model:   model,
			Timeout: timeout,
		})
	case provider.Anthropic:
		client, err = anthropic.NewClient(anthropic.Config{
			APIKey:  resolved.Credential,
			BaseURL: endpoint.BaseURL,
			Model:   model,
			Timeout: timeout,
		})
	case provider.Mistral:
		client, err = mistral.NewClient(mistral.Config{
			APIKey:  resolved.Credential,
			BaseURL: endpoint.BaseURL,
			Model:   model,
			Timeout: timeout,
		})
	default:
		return nil, "", fmt.Errorf("未知的大模型 provider: %s", resolved.ID)
	}
	if err != nil {
		return nil, "", err
	}
	return client, resolved.ID, nil
}

// createAuthService 根据配置构造认证服务。认证关闭时返回 nil。
func createAuthService(ctx context.Context, cfg *config.Config) (*auth.Service, func(), error) {
	if cfg.Auth.Mode == "" || cfg.Auth.Mode == string(auth.ModeDisabled) {
		return nil, nil, nil
	}

	seeds := make([]auth.Seed, 0, len(cfg.Auth.Seeds))
	for _, seed := range cfg.Auth.Seeds {
		seeds = append(seeds, auth.Seed{
			Username:    seed.Username,
			Password:    seed.Password,
			Roles:       seed.Roles,
			Permissions: seed.Permissions,
			Disabled:    seed.Disabled,
		})
	}

	var store auth.Store
	var closer func()
	switch cfg.Auth.Store {
	case "", "memory":
		memStore, err := auth.NewMemoryStore(nil)
		if err != nil {
			return nil, nil, err
		}
		store = memStore
	case "mysql":
		sqlStore, err := mysql.NewSQLAuthStore(ctx, mysql.Config{
			DSN: cfg.Storage.RunStore.DSN,
		})
		if err != nil {
			return nil, nil, err
		}
		store = sqlStore
		closer = func() { _ = sqlStore.Close() }
	default:
		return nil, nil, fmt.Errorf("未知的认证存储: %s", cfg.Auth.Store)
	}

	service, err := auth.NewService(ctx, auth.Config{
		Mode: auth.Mode(cfg.Auth.Mode),
		JWT: auth.JWTOptions{
			Secret:     cfg.Auth.JWT.Secret,
			Issuer:     cfg.Auth.JWT.Issuer,
			Audience:   cfg.Auth.JWT.Audience,
			AccessTTL:  cfg.Auth.JWT.AccessTTLSeconds,
			RefreshTTL: cfg.Auth.JWT.RefreshTTLSeconds,
		},
		Seeds: seeds,
	}, store)
	if err != nil {
		if closer != nil {
			closer()
		}
		return nil, nil, err
	}
	return service, closer, nil
}

// buildAlertDispatcher 根据 webhook 配置组装告警派发器，
// 没有任何渠道时返回 nil。
func buildAlertDispatcher(cfg config.AlertConfig) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.SlackWebhook != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    &alerting.SlackWebhookSender{WebhookURL: cfg.SlackWebhook},
			ChannelID: cfg.SlackChannel,
		})
	}
	if cfg.DingTalkWebhook != "" {
		notifiers = append(notifiers, &alerting.DingTalkNotifier{
			Sender: &alerting.DingTalkWebhookSender{WebhookURL: cfg.DingTalkWebhook},
		})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}

// archivingExecutor 在流水线完整成功后把最终报告写入档案。
// 归档失败只记日志，不影响运行状态：报告仍随运行记录返回。
type archivingExecutor struct {
	next        run.Executor
	archive     mysql.ReportArchive
	companyName string
	log         *slog.Logger
}

func (e *archivingExecutor) Execute(ctx context.Context, r *run.Run) (*run.ExecutionResult, error) {
	result, err := e.next.Execute(ctx, r)
	switch {
	case err != nil:
		metrics.ObserveRun("failed")
	case result != nil && result.Partial:
		metrics.ObserveRun("partial")
	default:
		metrics.ObserveRun("succeeded")
	}
	if err != nil || result == nil || result.Partial || len(result.Report) == 0 {
		return result, err
	}

	payload, marshalErr := json.Marshal(result.Report)
	if marshalErr != nil {
		e.log.Error("序列化报告失败", slog.Any("error", marshalErr), slog.String("run_id", r.ID))
		return result, nil
	}
	now := time.Now().Unix()
	record := &mysql.ReportRecord{
		RunID:       r.ID,
		Objective:   r.Objective,
		CompanyName: e.companyName,
		Report:      string(payload),
		TaskCount:   len(result.TaskResults),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if archiveErr := e.archive.Create(ctx, record); archiveErr != nil {
		e.log.Error("归档报告失败", slog.Any("error", archiveErr), slog.String("run_id", r.ID))
	}
	return result, nil
}
