package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"Legend-Guardian/internal/agent"
	"Legend-Guardian/internal/api"
	"Legend-Guardian/internal/auth"
	"Legend-Guardian/internal/config"
	"Legend-Guardian/internal/intent"
	"Legend-Guardian/internal/llm"
	"Legend-Guardian/internal/llm/openai"
	"Legend-Guardian/internal/memory"
	"Legend-Guardian/internal/observability/alerting"
	"Legend-Guardian/internal/plan"
	"Legend-Guardian/internal/platform"
	"Legend-Guardian/internal/rag"
	"Legend-Guardian/pkg/logger"
)

// main 是 Legend Guardian 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("guardiand 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv(config.EnvConfigPath)
	if configPath == "" {
		configPath = filepath.Join("configs", "guardian.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := initLogger(cfg); err != nil {
		return err
	}
	defer logger.Sync()

	// 大模型客户端是可选的, rules 模式下完全走确定性解析。
	var chatClient llm.ChatClient
	var embedder llm.Embedder
	if cfg.LLM.Provider == "openai" {
		client, err := openai.NewClient(openai.Config{
			APIKey:         cfg.LLM.OpenAI.APIKey,
			BaseURL:        cfg.LLM.OpenAI.BaseURL,
			Model:          cfg.LLM.OpenAI.Model,
			EmbeddingModel: cfg.LLM.OpenAI.EmbeddingModel,
			Timeout:        cfg.LLM.OpenAI.Timeout.Std(),
		})
		if err != nil {
			return err
		}
		chatClient = client
		embedder = client
	}

	// 知识库: 优先从快照恢复, 再增量加载文档目录。
	ragOpts := []rag.IndexOption{
		rag.WithChunker(rag.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)),
	}
	if embedder != nil {
		ragOpts = append(ragOpts, rag.WithEmbedder(embedder))
	}
	index := rag.NewIndex(ragOpts...)
	if cfg.RAG.SnapshotPath != "" {
		if err := index.Restore(cfg.RAG.SnapshotPath); err != nil {
			logger.L().Warn("知识库快照恢复失败", "error", err)
		}
	}
	if index.Len() == 0 {
		if n, err := rag.LoadDir(ctx, index, cfg.RAG.DocsDir); err != nil {
			logger.L().Warn("知识库文档加载失败", "error", err)
		} else if n > 0 {
			logger.L().Info("知识库加载完成", "chunks", n, "dir", cfg.RAG.DocsDir)
		}
	}

	episodes, err := createEpisodeStore(cfg)
	if err != nil {
		return err
	}
	defer episodes.Close()

	// Legend 平台的三个上游客户端。
	engine, err := platform.NewEngineClient(endpointOptions(cfg.Legend.Engine))
	if err != nil {
		return err
	}
	sdlc, err := platform.NewSDLCClient(endpointOptions(cfg.Legend.SDLC))
	if err != nil {
		return err
	}
	depot, err := platform.NewDepotClient(endpointOptions(cfg.Legend.Depot))
	if err != nil {
		return err
	}

	ag := agent.New(engine, sdlc, depot,
		agent.WithDefaults(cfg.Legend.Project.ProjectID, cfg.Legend.Project.WorkspaceID))
	registry, err := ag.Registry()
	if err != nil {
		return err
	}

	executor, err := plan.NewExecutor(registry,
		plan.WithStepTimeout(cfg.Executor.StepTimeout.Std()),
		plan.WithGracePeriod(cfg.Executor.GracePeriod.Std()),
		plan.WithEpisodeStore(episodes))
	if err != nil {
		return err
	}

	planStore, err := createPlanStore(cfg)
	if err != nil {
		return err
	}
	defer planStore.Close()

	queue, err := createQueue(cfg)
	if err != nil {
		return err
	}
	defer queue.Close()

	planService := plan.NewService(planStore, queue, executor, registry)

	processor := plan.NewProcessor(executor, planStore, queue,
		plan.WithWorkerCount(cfg.Executor.Workers),
		plan.WithAlertDispatcher(createAlerts(cfg)))

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("计划处理器异常退出", "error", err)
		}
	}()

	parserOpts := []intent.ParserOption{
		intent.WithIndex(index),
		intent.WithTopK(cfg.RAG.TopK),
		intent.WithDefaults(cfg.Legend.Project.ProjectID, cfg.Legend.Project.WorkspaceID),
	}
	if chatClient != nil {
		parserOpts = append(parserOpts, intent.WithChatClient(chatClient))
	}
	parser := intent.NewParser(registry, parserOpts...)

	server := api.NewServer(cfg.Server.Address, parser, planService,
		api.WithEpisodes(episodes),
		api.WithPolicy(ag.Policy()),
		api.WithGuard(auth.NewGuard(cfg.Auth.Enabled, cfg.Auth.Tokens)),
		api.WithTimeouts(cfg.Server.ReadTimeout.Std(), cfg.Server.WriteTimeout.Std(),
			cfg.Server.ShutdownTimeout.Std()))

	err = server.Start(ctx)

	// 退出前保存知识库快照, 下次启动免于重新向量化。
	if cfg.RAG.SnapshotPath != "" {
		if saveErr := index.Save(cfg.RAG.SnapshotPath); saveErr != nil {
			logger.L().Warn("知识库快照保存失败", "error", saveErr)
		}
	}
	return err
}

func initLogger(cfg *config.Config) error {
	logCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.FilePath != "" {
		logCfg.OutputPaths = []string{cfg.Logging.FilePath}
		logCfg.Audit = logger.AuditConfig{
			Enabled:    true,
			Path:       cfg.Logging.FilePath + ".audit",
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		}
	}
	return logger.Init(logCfg)
}

func endpointOptions(ep config.ServiceEndpoint) platform.Options {
	return platform.Options{
		BaseURL:    ep.URL,
		Token:      ep.Token,
		Timeout:    ep.Timeout.Std(),
		MaxRetries: ep.MaxRetries,
	}
}

func createEpisodeStore(cfg *config.Config) (memory.Store, error) {
	switch cfg.Storage.Driver {
	case "mysql":
		return memory.NewMySQLStore(cfg.Storage.DSN, cfg.Memory.Capacity)
	default:
		return memory.NewRingStore(cfg.Memory.Capacity), nil
	}
}

func createPlanStore(cfg *config.Config) (plan.Store, error) {
	switch cfg.Storage.Driver {
	case "mysql":
		return plan.NewMySQLStore(cfg.Storage.DSN)
	default:
		return plan.NewMemoryStore(), nil
	}
}

func createQueue(cfg *config.Config) (plan.Queue, error) {
	switch cfg.Queue.Driver {
	case "redis":
		return plan.NewRedisQueue(plan.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Addr,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Key,
			BlockWait: 5 * time.Second,
		})
	case "rabbitmq":
		return plan.NewRabbitMQQueue(plan.RabbitMQConfig{
			URL:      cfg.Queue.RabbitMQ.URL,
			Queue:    cfg.Queue.RabbitMQ.Queue,
			Prefetch: cfg.Executor.Workers,
			Durable:  true,
		})
	default:
		return plan.NewMemoryQueue(1024), nil
	}
}

func createAlerts(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.Enabled && cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:       cfg.Alerting.WebhookURL,
			ChannelID: cfg.Alerting.Channel,
		})
	}
	return alerting.NewFanout(notifiers...)
}
