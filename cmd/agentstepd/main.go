package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"AgentStep/internal/agent"
	"AgentStep/internal/api"
	"AgentStep/internal/auth"
	"AgentStep/internal/config"
	"AgentStep/internal/llm"
	"AgentStep/internal/llm/openai"
	"AgentStep/internal/llm/scripted"
	"AgentStep/internal/observability/alerting"
	"AgentStep/internal/observability/metrics"
	"AgentStep/internal/simpleagent"
	storageredis "AgentStep/internal/storage/redis"
	"AgentStep/internal/task"
	"AgentStep/pkg/logger"
)

// main 是 AgentStep 守护进程的入口。
func main() {
	configPath := flag.String("config", config.Path(), "配置文件路径")
	objective := flag.String("run", "", "不启动服务，直接在本地逐步运行给定目标")
	maxSteps := flag.Int("max-steps", 0, "本地运行的最大步数，默认取 queue.max_steps")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *objective, *maxSteps); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("agentstepd 运行失败: %v", err)
	}
}

func run(ctx context.Context, configPath, objective string, maxSteps int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}
	factory, err := createFactory(cfg, llmClient)
	if err != nil {
		return err
	}

	if objective != "" {
		if maxSteps <= 0 {
			maxSteps = cfg.Queue.MaxSteps
		}
		return runOnce(ctx, factory, objective, maxSteps)
	}
	return serve(ctx, cfg, factory)
}

// loadConfig 在默认路径不存在时退回内置默认值，显式指定的路径必须存在。
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == config.DefaultPath {
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			return config.Default("."), nil
		}
	}
	return nil, err
}

func serve(ctx context.Context, cfg *config.Config, factory agent.Factory) error {
	log := logger.Named("agentstepd")

	var redisClient *goredis.Client
	if cfg.Storage.Driver == "redis" || cfg.Queue.Driver == "redis" {
		client, err := storageredis.Open(ctx, cfg.Storage.Redis)
		if err != nil {
			return err
		}
		redisClient = client
		defer redisClient.Close()
	}

	store, err := createStore(ctx, cfg, redisClient)
	if err != nil {
		return err
	}

	queue, err := createQueue(cfg, redisClient)
	if err != nil {
		_ = store.Close()
		return err
	}

	recorder := metrics.New(true)
	svc, err := task.NewService(store, factory,
		task.WithProducer(queue),
		task.WithObserver(recorder),
		task.WithAgentCacheSize(cfg.Cache.AgentCacheSize),
		task.WithBootstrapProgress(func(stage task.ProgressStage, notice string) {
			log.Info(notice, slog.String("stage", string(stage)))
		}),
	)
	if err != nil {
		_ = store.Close()
		_ = queue.Close()
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error("关闭任务服务失败", slog.Any("error", err))
		}
	}()

	processor := task.NewProcessor(svc, queue, queue,
		task.WithWorkerCount(cfg.Queue.Workers),
		task.WithMaxSteps(cfg.Queue.MaxSteps),
		task.WithAlertDispatcher(createAlerter(cfg)),
	)
	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	if cfg.Metrics.Enabled {
		go func() {
			if err := recorder.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	log.Info("AgentStep 启动",
		slog.String("storage", cfg.Storage.Driver),
		slog.String("queue", cfg.Queue.Driver),
		slog.String("llm", cfg.LLM.Provider),
		slog.String("workspace_parent", cfg.Agent.WorkspaceParent),
	)
	authSvc, err := auth.NewService(cfg.Auth)
	if err != nil {
		return err
	}
	server := api.NewServer(cfg.Server.Address, svc, api.WithMetrics(recorder), api.WithAuth(authSvc))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runOnce 通过任务处理器在进程内完成一次任务，每一步的输出打印到标准输出。
func runOnce(ctx context.Context, factory agent.Factory, objective string, maxSteps int) error {
	bootstrapper := task.NewBootstrapper(factory, task.WithProgress(func(_ task.ProgressStage, notice string) {
		fmt.Fprintln(os.Stderr, notice)
	}))
	step, err := task.NewHandler(bootstrapper).HandleInput(ctx, map[string]any{"user_objective": objective})
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	for i := 1; i <= maxSteps; i++ {
		result, err := step(ctx, task.StepInput{})
		if err != nil {
			return err
		}
		if err := encoder.Encode(map[string]any{"step": i, "output": result.Output, "is_last": result.IsLast}); err != nil {
			return err
		}
		if result.IsLast {
			return nil
		}
	}
	return fmt.Errorf("超过最大步数 %d 仍未结束", maxSteps)
}

func createStore(ctx context.Context, cfg *config.Config, redisClient *goredis.Client) (task.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return task.NewMemoryStore(), nil
	case "mysql":
		return task.OpenMySQLStore(ctx, cfg.Storage.MySQL)
	case "redis":
		return task.NewRedisStore(redisClient, cfg.Storage.Redis.Prefix()), nil
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

func createQueue(cfg *config.Config, redisClient *goredis.Client) (task.Queue, error) {
	switch cfg.Queue.Driver {
	case "memory":
		return task.NewMemoryQueue(cfg.Queue.Buffer), nil
	case "redis":
		return task.NewRedisQueue(redisClient, cfg.Queue.Redis.Queue, cfg.Queue.Redis.BlockWait), nil
	case "rabbitmq":
		return task.NewRabbitMQQueue(cfg.Queue.RabbitMQ)
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
}

func createAlerter(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.Webhook.URL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:     cfg.Alerting.Webhook.URL,
			Headers: cfg.Alerting.Webhook.Headers,
			Client:  &http.Client{Timeout: cfg.Alerting.Webhook.Timeout},
		})
	}
	return alerting.NewFanout(notifiers...)
}

func createFactory(cfg *config.Config, client llm.Client) (*simpleagent.Factory, error) {
	defaults := simpleagent.DefaultSettings()
	if cfg.Agent.DefaultsFile != "" {
		loaded, err := simpleagent.LoadDefaults(cfg.Agent.DefaultsFile)
		if err != nil {
			return nil, err
		}
		defaults = loaded
	}
	if cfg.Agent.MaxCycles > 0 {
		defaults.Agent.Configuration.MaxCyclesPerTask = cfg.Agent.MaxCycles
	}
	if err := os.MkdirAll(cfg.Agent.WorkspaceParent, 0o755); err != nil {
		return nil, fmt.Errorf("创建工作区目录失败: %w", err)
	}
	parent, err := filepath.Abs(cfg.Agent.WorkspaceParent)
	if err != nil {
		return nil, err
	}
	return simpleagent.NewFactory(client,
		simpleagent.WithDefaults(defaults),
		simpleagent.WithWorkspaceParent(parent),
	), nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "openai":
		apiKey := cfg.LLM.OpenAI.Key()
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		client, err := openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "scripted":
		return scripted.New(cfg.LLM.Scripted.Replies), nil
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}
