package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"LabNexus/internal/agent"
	"LabNexus/internal/api"
	"LabNexus/internal/config"
	"LabNexus/internal/convo"
	"LabNexus/internal/labdata"
	"LabNexus/internal/ledger"
	ledgermem "LabNexus/internal/ledger/memory"
	"LabNexus/internal/ledger/neox"
	"LabNexus/internal/llm"
	"LabNexus/internal/llm/openai"
	"LabNexus/internal/notary"
	"LabNexus/internal/observability/alerting"
	"LabNexus/internal/router"
	"LabNexus/internal/tool"
	"LabNexus/internal/tools"
	"LabNexus/pkg/logger"
)

// main 是实验室助手守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("nexusd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("NEXUS_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "nexus.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		OutputPaths: func() []string {
			if cfg.Logging.File != "" {
				return []string{"stdout", cfg.Logging.File}
			}
			return nil
		}(),
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.AuditFile != "",
			Path:       cfg.Logging.AuditFile,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	// 推理引擎。
	engine, err := createEngine(cfg)
	if err != nil {
		return err
	}

	// 会话上下文存储。
	contexts, err := createContextStore(cfg)
	if err != nil {
		return err
	}
	defer contexts.Close()

	// 实验数据存储。
	lab, err := createLabStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer lab.Close()

	// 账本客户端与存证服务。
	ledgerClient, err := createLedgerClient(ctx, cfg)
	if err != nil {
		return err
	}
	ledgerSvc := ledger.NewService(ledgerClient,
		ledger.WithConfirmTimeout(cfg.ConfirmTimeout()),
		ledger.WithPollInterval(cfg.PollInterval()),
		ledger.WithRecordSink(lab),
	)
	defer ledgerSvc.Close()

	// 工具注册。
	deps := tools.Deps{
		Lab:      lab,
		Ledger:   ledgerSvc,
		Contexts: contexts,
		PubMed: tools.NewPubMedClient(tools.PubMedConfig{
			BaseURL: cfg.Literature.BaseURL,
			APIKey:  cfg.Literature.APIKey,
		}),
	}
	if cfg.Voice.Enabled {
		deps.Voice = tools.NewVoiceClient(tools.VoiceConfig{
			BaseURL:   cfg.Voice.BaseURL,
			APIKey:    cfg.Voice.APIKey,
			VoiceID:   cfg.Voice.VoiceID,
			OutputDir: cfg.Voice.OutputDir,
		})
	}
	registry := tool.NewRegistry()
	tools.RegisterAll(registry, deps)

	// 意图路由。
	rt, err := router.FromConfig(cfg.Router.RulesFile, cfg.Router.DefaultAgent, cfg.Router.DefaultIntent)
	if err != nil {
		return err
	}

	runtime := agent.NewRuntime(rt, engine, registry, contexts, agent.DefaultDescriptors(),
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithHistoryLimit(cfg.Agent.HistoryLimit),
	)

	// 终态失败告警：审计日志兜底，配置了 webhook 时同时外推。
	alerts := alerting.NewDispatcher(
		&alerting.AuditNotifier{},
		alerting.NewWebhookNotifier(cfg.Alerting.WebhookURL),
	)

	// 异步存证流水线。
	queue, err := createNotaryQueue(cfg)
	if err != nil {
		return err
	}
	defer queue.Close()
	processor := notary.NewProcessor(queue, lab, ledgerSvc,
		notary.WithWorkers(cfg.Notary.Workers),
		notary.WithMaxAttempts(cfg.Notary.MaxAttempts),
		notary.WithAlerting(alerts),
	)
	go func() {
		if err := processor.Run(ctx); err != nil && ctx.Err() == nil {
			logger.L().Error("存证流水线退出", "error", err)
		}
	}()

	server := api.NewServer(cfg.Server.Address, cfg.Server.APIKey, runtime, processor, ledgerSvc)
	return server.Start(ctx)
}

func createEngine(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		return openai.NewClient(openai.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLMTimeout(),
		})
	default:
		return nil, fmt.Errorf("暂不支持的推理引擎: %s", cfg.LLM.Provider)
	}
}

func createContextStore(cfg *config.Config) (convo.Store, error) {
	switch cfg.ContextStore.Driver {
	case "", "memory":
		return convo.NewMemoryStore(cfg.ContextStore.Capacity)
	case "redis":
		return convo.NewRedisStore(convo.RedisStoreConfig{
			Address:   cfg.ContextStore.Address,
			Password:  cfg.ContextStore.Password,
			DB:        cfg.ContextStore.DB,
			KeyPrefix: cfg.ContextStore.KeyPrefix,
			TTL:       cfg.ContextTTL(),
		})
	default:
		return nil, fmt.Errorf("暂不支持的会话存储驱动: %s", cfg.ContextStore.Driver)
	}
}

func createLabStore(ctx context.Context, cfg *config.Config) (labdata.Store, error) {
	switch cfg.LabStore.Driver {
	case "", "memory":
		return labdata.NewMemoryStore(), nil
	case "mysql":
		return labdata.NewMySQLStore(ctx, labdata.MySQLConfig{
			DSN:          cfg.LabStore.DSN,
			MaxOpenConns: cfg.LabStore.MaxOpenConns,
			MaxIdleConns: cfg.LabStore.MaxIdleConns,
		})
	default:
		return nil, fmt.Errorf("暂不支持的实验数据存储驱动: %s", cfg.LabStore.Driver)
	}
}

func createLedgerClient(ctx context.Context, cfg *config.Config) (ledger.Client, error) {
	switch cfg.Ledger.Driver {
	case "", "mock":
		return ledgermem.New(), nil
	case "neox":
		return neox.NewClient(ctx, neox.Config{
			NetworkID:  cfg.Ledger.NetworkID,
			RPCURL:     cfg.Ledger.RPCURL,
			PrivateKey: cfg.Ledger.PrivateKey,
			ChainID:    cfg.Ledger.ChainID,
		})
	default:
		return nil, fmt.Errorf("暂不支持的账本驱动: %s", cfg.Ledger.Driver)
	}
}

func createNotaryQueue(cfg *config.Config) (notary.Queue, error) {
	switch cfg.Notary.Driver {
	case "", "memory":
		return notary.NewMemoryQueue(1024), nil
	case "redis":
		return notary.NewRedisQueue(notary.RedisQueueConfig{
			Address:  cfg.Notary.Address,
			Password: cfg.Notary.Password,
			DB:       cfg.Notary.DB,
			Queue:    cfg.Notary.Queue,
		})
	case "rabbitmq":
		return notary.NewRabbitMQQueue(notary.RabbitMQConfig{
			URL:     cfg.Notary.URL,
			Queue:   cfg.Notary.Queue,
			Durable: cfg.Notary.Durable,
		})
	default:
		return nil, fmt.Errorf("暂不支持的存证队列驱动: %s", cfg.Notary.Driver)
	}
}
