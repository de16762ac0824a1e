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

// EnvConfigPath 允许通过环境变量覆盖配置文件路径。
const EnvConfigPath = "GUARDIAN_CONFIG"

// Config 描述守护进程在启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Auth     AuthConfig     `json:"auth" yaml:"auth"`
	Legend   LegendConfig   `json:"legend" yaml:"legend"`
	LLM      LLMConfig      `json:"llm" yaml:"llm"`
	RAG      RAGConfig      `json:"rag" yaml:"rag"`
	Memory   MemoryConfig   `json:"memory" yaml:"memory"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Queue    QueueConfig    `json:"queue" yaml:"queue"`
	Executor ExecutorConfig `json:"executor" yaml:"executor"`
	Alerting AlertingConfig `json:"alerting" yaml:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address         string   `json:"address" yaml:"address"`
	ReadTimeout     Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig 透传给日志模块。
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"`
	FilePath   string `json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// AuthConfig 描述 API 的访问令牌白名单。
type AuthConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Tokens  []string `json:"tokens" yaml:"tokens"`
}

// LegendConfig 汇总 Legend 平台三个服务的访问信息。
type LegendConfig struct {
	Engine  ServiceEndpoint `json:"engine" yaml:"engine"`
	SDLC    ServiceEndpoint `json:"sdlc" yaml:"sdlc"`
	Depot   ServiceEndpoint `json:"depot" yaml:"depot"`
	Project ProjectDefaults `json:"project" yaml:"project"`
}

// ServiceEndpoint 描述单个上游服务的访问方式。
// Token 缺省时从 TokenEnv 指定的环境变量读取，避免把令牌写进配置文件。
type ServiceEndpoint struct {
	URL        string   `json:"url" yaml:"url"`
	Token      string   `json:"token" yaml:"token"`
	TokenEnv   string   `json:"token_env" yaml:"token_env"`
	Timeout    Duration `json:"timeout" yaml:"timeout"`
	MaxRetries int      `json:"max_retries" yaml:"max_retries"`
}

// ProjectDefaults 在请求未指定时充当缺省的项目与工作区。
type ProjectDefaults struct {
	ProjectID   string `json:"project_id" yaml:"project_id"`
	WorkspaceID string `json:"workspace_id" yaml:"workspace_id"`
}

// LLMConfig 用于配置大模型推理与向量化的调用方式。
type LLMConfig struct {
	Provider string       `json:"provider" yaml:"provider"`
	OpenAI   OpenAIConfig `json:"openai" yaml:"openai"`
}

// OpenAIConfig 描述 OpenAI 兼容接口所需的信息。
type OpenAIConfig struct {
	BaseURL        string   `json:"base_url" yaml:"base_url"`
	APIKey         string   `json:"api_key" yaml:"api_key"`
	Model          string   `json:"model" yaml:"model"`
	EmbeddingModel string   `json:"embedding_model" yaml:"embedding_model"`
	Timeout        Duration `json:"timeout" yaml:"timeout"`
}

// RAGConfig 控制知识库的切分与检索行为。
type RAGConfig struct {
	DocsDir      string `json:"docs_dir" yaml:"docs_dir"`
	SnapshotPath string `json:"snapshot_path" yaml:"snapshot_path"`
	ChunkSize    int    `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap" yaml:"chunk_overlap"`
	TopK         int    `json:"top_k" yaml:"top_k"`
}

// MemoryConfig 控制情节记忆的容量与后端。
type MemoryConfig struct {
	Capacity int `json:"capacity" yaml:"capacity"`
}

// StorageConfig 统一描述 MySQL 等后端的连接信息。
type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

// QueueConfig 控制异步计划队列的实现方式。
type QueueConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RedisConfig 描述 Redis 列表队列的连接信息。
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Key      string `json:"key" yaml:"key"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接信息。
type RabbitMQConfig struct {
	URL   string `json:"url" yaml:"url"`
	Queue string `json:"queue" yaml:"queue"`
}

// ExecutorConfig 控制计划执行器与后台工作池。
type ExecutorConfig struct {
	Workers     int      `json:"workers" yaml:"workers"`
	StepTimeout Duration `json:"step_timeout" yaml:"step_timeout"`
	GracePeriod Duration `json:"grace_period" yaml:"grace_period"`
}

// AlertingConfig 控制告警通道。
type AlertingConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
	Channel    string `json:"channel" yaml:"channel"`
}

// Load 负责解析指定路径的配置文件，支持 JSON 与 YAML。
// 路径为空时回退到 GUARDIAN_CONFIG 环境变量。
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	// yaml.v3 同时兼容 JSON 文档，统一走一个解析入口。
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default 返回一份不依赖配置文件的缺省配置，主要服务于本地试运行和测试。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = Duration(30 * time.Second)
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = Duration(60 * time.Second)
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Legend.Engine.URL == "" {
		c.Legend.Engine.URL = "http://localhost:6300"
	}
	if c.Legend.SDLC.URL == "" {
		c.Legend.SDLC.URL = "http://localhost:6100/api"
	}
	if c.Legend.Depot.URL == "" {
		c.Legend.Depot.URL = "http://localhost:6200/depot/api"
	}
	for _, ep := range []*ServiceEndpoint{&c.Legend.Engine, &c.Legend.SDLC, &c.Legend.Depot} {
		if ep.Timeout <= 0 {
			ep.Timeout = Duration(30 * time.Second)
		}
		if ep.MaxRetries <= 0 {
			ep.MaxRetries = 3
		}
		if ep.Token == "" && ep.TokenEnv != "" {
			ep.Token = os.Getenv(ep.TokenEnv)
		}
	}
	if c.Legend.Project.ProjectID == "" {
		c.Legend.Project.ProjectID = "demo-project"
	}
	if c.Legend.Project.WorkspaceID == "" {
		c.Legend.Project.WorkspaceID = "guardian-dev"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "rules"
	}
	if c.LLM.OpenAI.BaseURL == "" {
		c.LLM.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if c.LLM.OpenAI.EmbeddingModel == "" {
		c.LLM.OpenAI.EmbeddingModel = "text-embedding-3-small"
	}
	if c.LLM.OpenAI.Timeout <= 0 {
		c.LLM.OpenAI.Timeout = Duration(60 * time.Second)
	}

	if c.RAG.DocsDir == "" {
		c.RAG.DocsDir = filepath.Join(baseDir, "docs")
	} else if !filepath.IsAbs(c.RAG.DocsDir) {
		c.RAG.DocsDir = filepath.Join(baseDir, c.RAG.DocsDir)
	}
	if c.RAG.ChunkSize <= 0 {
		c.RAG.ChunkSize = 1000
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		c.RAG.ChunkOverlap = 200
	}
	if c.RAG.TopK <= 0 {
		c.RAG.TopK = 5
	}

	if c.Memory.Capacity <= 0 {
		c.Memory.Capacity = 1000
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Redis.Key == "" {
		c.Queue.Redis.Key = "guardian:plans"
	}
	if c.Queue.RabbitMQ.Queue == "" {
		c.Queue.RabbitMQ.Queue = "guardian.plans"
	}

	if c.Executor.Workers <= 0 {
		c.Executor.Workers = 4
	}
	if c.Executor.StepTimeout <= 0 {
		c.Executor.StepTimeout = Duration(60 * time.Second)
	}
	if c.Executor.GracePeriod <= 0 {
		c.Executor.GracePeriod = Duration(5 * time.Second)
	}
}

// validate 校验互相关联的字段，避免把问题留到运行期。
func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return errors.New("storage.driver 为 mysql 时必须提供 dsn")
		}
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Storage.Driver)
	}

	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if c.Queue.Redis.Addr == "" {
			return errors.New("queue.driver 为 redis 时必须提供 addr")
		}
	case "rabbitmq":
		if c.Queue.RabbitMQ.URL == "" {
			return errors.New("queue.driver 为 rabbitmq 时必须提供 url")
		}
	default:
		return fmt.Errorf("不支持的队列驱动: %s", c.Queue.Driver)
	}

	switch c.LLM.Provider {
	case "rules":
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			return errors.New("llm.provider 为 openai 时必须提供 api_key")
		}
	default:
		return fmt.Errorf("不支持的模型提供方: %s", c.LLM.Provider)
	}

	if c.Auth.Enabled && len(c.Auth.Tokens) == 0 {
		return errors.New("auth.enabled 为 true 时必须至少提供一个令牌")
	}

	return nil
}
