package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"AgentStep/internal/auth"
	storagemysql "AgentStep/internal/storage/mysql"
	storageredis "AgentStep/internal/storage/redis"
	"AgentStep/internal/task"
	"AgentStep/pkg/logger"
)

// EnvPath 指定配置文件路径的环境变量。
const EnvPath = "AGENTSTEP_CONFIG"

// DefaultPath 是未设置 EnvPath 时读取的配置文件。
const DefaultPath = "configs/agentstep.yaml"

// Config 描述了 AgentStep 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     auth.Config    `yaml:"auth"`
	Logging  logger.Config  `yaml:"logging"`
	Storage  StorageConfig  `yaml:"storage"`
	Queue    QueueConfig    `yaml:"queue"`
	LLM      LLMConfig      `yaml:"llm"`
	Agent    AgentConfig    `yaml:"agent"`
	Cache    CacheConfig    `yaml:"cache"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Alerting AlertingConfig `yaml:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址。
type ServerConfig struct {
	Address string `yaml:"address"`
}

// StorageConfig 选择任务存储后端。
type StorageConfig struct {
	Driver string              `yaml:"driver"`
	MySQL  storagemysql.Config `yaml:"mysql"`
	Redis  storageredis.Config `yaml:"redis"`
}

// QueueConfig 控制自动运行队列。Redis 队列复用 storage.redis 的连接参数。
type QueueConfig struct {
	Driver   string              `yaml:"driver"`
	Workers  int                 `yaml:"workers"`
	MaxSteps int                 `yaml:"max_steps"`
	Buffer   int                 `yaml:"buffer"`
	Redis    RedisQueueConfig    `yaml:"redis"`
	RabbitMQ task.RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisQueueConfig 描述 Redis 列表队列。
type RedisQueueConfig struct {
	Queue     string        `yaml:"queue"`
	BlockWait time.Duration `yaml:"block_wait"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string         `yaml:"provider"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Scripted ScriptedConfig `yaml:"scripted"`
}

// OpenAIConfig 描述 OpenAI 兼容接口。
type OpenAIConfig struct {
	APIKey    string        `yaml:"api_key"`
	APIKeyEnv string        `yaml:"api_key_env"`
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ScriptedConfig 为离线运行提供固定回复。
type ScriptedConfig struct {
	Replies []string `yaml:"replies"`
}

// AgentConfig 控制参考智能体。
type AgentConfig struct {
	WorkspaceParent string `yaml:"workspace_parent"`
	DefaultsFile    string `yaml:"defaults_file"`
	MaxCycles       int    `yaml:"max_cycles"`
}

// CacheConfig 控制常驻智能体句柄的缓存。
type CacheConfig struct {
	AgentCacheSize int `yaml:"agent_cache_size"`
}

// MetricsConfig 控制 Prometheus 指标暴露。
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// AlertingConfig 配置告警通道。
type AlertingConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
}

// WebhookConfig 描述 webhook 告警。
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

// Path 返回环境变量指定的配置路径，未设置时返回 DefaultPath。
func Path() string {
	if path := strings.TrimSpace(os.Getenv(EnvPath)); path != "" {
		return path
	}
	return DefaultPath
}

// Load 负责解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default 返回不依赖配置文件的默认配置，路径相对于 baseDir。
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	c.Auth.Mode = auth.Mode(strings.ToLower(strings.TrimSpace(string(c.Auth.Mode))))
	if c.Auth.Mode == "" {
		c.Auth.Mode = auth.ModeDisabled
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Path != "" {
		c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}

	c.Queue.Driver = strings.ToLower(strings.TrimSpace(c.Queue.Driver))
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 1
	}
	if c.Queue.MaxSteps <= 0 {
		c.Queue.MaxSteps = 50
	}
	if c.Queue.Buffer <= 0 {
		c.Queue.Buffer = 64
	}
	if c.Queue.Redis.Queue == "" {
		c.Queue.Redis.Queue = "agentstep:queue"
	}
	if c.Queue.Redis.BlockWait <= 0 {
		c.Queue.Redis.BlockWait = 5 * time.Second
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}

	if c.Agent.WorkspaceParent == "" {
		c.Agent.WorkspaceParent = filepath.Join(baseDir, "workspaces")
	} else {
		c.Agent.WorkspaceParent = resolve(baseDir, c.Agent.WorkspaceParent)
	}
	if c.Agent.DefaultsFile != "" {
		c.Agent.DefaultsFile = resolve(baseDir, c.Agent.DefaultsFile)
	}

	if c.Cache.AgentCacheSize <= 0 {
		c.Cache.AgentCacheSize = 128
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Validate 检查驱动取值及其必需参数。
func (c *Config) Validate() error {
	switch c.Auth.Mode {
	case auth.ModeDisabled:
	case auth.ModeAPIKey:
		if len(c.Auth.Keys) == 0 {
			return errors.New("auth.mode 为 api_key 时至少需要一个 auth.keys")
		}
	default:
		return fmt.Errorf("不支持的认证模式: %s", c.Auth.Mode)
	}

	switch c.Storage.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.MySQL.DSN) == "" {
			return errors.New("storage.mysql.dsn 不能为空")
		}
	case "redis":
		if strings.TrimSpace(c.Storage.Redis.Address) == "" {
			return errors.New("storage.redis.address 不能为空")
		}
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Storage.Driver)
	}

	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Storage.Redis.Address) == "" {
			return errors.New("redis 队列需要配置 storage.redis.address")
		}
	case "rabbitmq":
		if strings.TrimSpace(c.Queue.RabbitMQ.URL) == "" {
			return errors.New("queue.rabbitmq.url 不能为空")
		}
	default:
		return fmt.Errorf("不支持的队列驱动: %s", c.Queue.Driver)
	}

	switch c.LLM.Provider {
	case "openai", "scripted":
	default:
		return fmt.Errorf("不支持的 LLM 提供方: %s", c.LLM.Provider)
	}

	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Address) == c.Server.Address {
		return errors.New("metrics.address 不能与 server.address 相同")
	}
	return nil
}

// Key 返回直接配置的密钥，缺省时读取环境变量。
func (c OpenAIConfig) Key() string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	if c.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
}
