package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Config 描述服务启动阶段需要加载的全部配置。
type Config struct {
	Server       ServerConfig       `json:"server"`
	Logging      LoggingConfig      `json:"logging"`
	LLM          LLMConfig          `json:"llm"`
	Router       RouterConfig       `json:"router"`
	Agent        AgentConfig        `json:"agent"`
	ContextStore ContextStoreConfig `json:"context_store"`
	LabStore     LabStoreConfig     `json:"lab_store"`
	Ledger       LedgerConfig       `json:"ledger"`
	Notary       NotaryConfig       `json:"notary"`
	Literature   LiteratureConfig   `json:"literature"`
	Alerting     AlertingConfig     `json:"alerting"`
	Voice        VoiceConfig        `json:"voice"`
}

// ServerConfig 控制 HTTP API 的监听地址与鉴权。
type ServerConfig struct {
	Address string `json:"address"`
	// APIKey 为空时不启用鉴权，仅建议在本地开发使用。
	APIKey string `json:"api_key"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	File       string `json:"file"`
	AuditFile  string `json:"audit_file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// LLMConfig 配置推理引擎。
type LLMConfig struct {
	Provider       string `json:"provider"`
	APIKey         string `json:"api_key"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// RouterConfig 配置意图路由。RulesFile 为空时使用内置规则表。
type RouterConfig struct {
	RulesFile     string `json:"rules_file"`
	DefaultAgent  string `json:"default_agent"`
	DefaultIntent string `json:"default_intent"`
}

// AgentConfig 配置回合运行时。
type AgentConfig struct {
	MaxIterations int `json:"max_iterations"`
	HistoryLimit  int `json:"history_limit"`
}

// ContextStoreConfig 配置会话上下文存储，driver 取 memory 或 redis。
type ContextStoreConfig struct {
	Driver     string `json:"driver"`
	Capacity   int    `json:"capacity"`
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	KeyPrefix  string `json:"key_prefix"`
	TTLMinutes int    `json:"ttl_minutes"`
}

// LabStoreConfig 配置实验数据存储，driver 取 memory 或 mysql。
type LabStoreConfig struct {
	Driver       string `json:"driver"`
	DSN          string `json:"dsn"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
}

// LedgerConfig 配置账本客户端，driver 取 mock 或 neox。
type LedgerConfig struct {
	Driver                string `json:"driver"`
	NetworkID             string `json:"network_id"`
	RPCURL                string `json:"rpc_url"`
	PrivateKey            string `json:"private_key"`
	ChainID               int64  `json:"chain_id"`
	ConfirmTimeoutSeconds int    `json:"confirm_timeout_seconds"`
	PollIntervalSeconds   int    `json:"poll_interval_seconds"`
}

// NotaryConfig 配置异步存证队列，driver 取 memory、redis 或 rabbitmq。
type NotaryConfig struct {
	Driver      string `json:"driver"`
	Workers     int    `json:"workers"`
	MaxAttempts int    `json:"max_attempts"`
	Queue       string `json:"queue"`
	// Redis 队列参数。
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	// RabbitMQ 队列参数。
	URL     string `json:"url"`
	Durable bool   `json:"durable"`
}

// LiteratureConfig 配置文献检索客户端。
type LiteratureConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

// AlertingConfig 配置终态失败的告警投递。WebhookURL 为空时仅写审计日志。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// VoiceConfig 配置语音合成工具。Enabled 为 false 时不注册语音工具。
type VoiceConfig struct {
	Enabled   bool   `json:"enabled"`
	BaseURL   string `json:"base_url"`
	APIKey    string `json:"api_key"`
	VoiceID   string `json:"voice_id"`
	OutputDir string `json:"output_dir"`
}

// Load 解析指定路径的 JSON 配置文件并套用默认值与环境变量覆盖。
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
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 60
	}

	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 8
	}
	if c.Agent.HistoryLimit <= 0 {
		c.Agent.HistoryLimit = 20
	}

	if c.ContextStore.Driver == "" {
		c.ContextStore.Driver = "memory"
	}
	if c.LabStore.Driver == "" {
		c.LabStore.Driver = "memory"
	}
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "mock"
	}
	if c.Ledger.ConfirmTimeoutSeconds <= 0 {
		c.Ledger.ConfirmTimeoutSeconds = 60
	}
	if c.Ledger.PollIntervalSeconds <= 0 {
		c.Ledger.PollIntervalSeconds = 2
	}

	if c.Notary.Driver == "" {
		c.Notary.Driver = "memory"
	}
	if c.Notary.Workers <= 0 {
		c.Notary.Workers = 2
	}
	if c.Notary.MaxAttempts <= 0 {
		c.Notary.MaxAttempts = 3
	}
}

// applyEnvOverrides 允许用环境变量注入密钥，避免把私钥写进配置文件。
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NEXUS_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("NEXUS_LEDGER_PRIVATE_KEY"); v != "" {
		c.Ledger.PrivateKey = v
	}
	if v := os.Getenv("NEXUS_API_KEY"); v != "" {
		c.Server.APIKey = v
	}
	if v := os.Getenv("NEXUS_NCBI_API_KEY"); v != "" {
		c.Literature.APIKey = v
	}
	if v := os.Getenv("NEXUS_ALERT_WEBHOOK_URL"); v != "" {
		c.Alerting.WebhookURL = v
	}
	if v := os.Getenv("NEXUS_VOICE_API_KEY"); v != "" {
		c.Voice.APIKey = v
	}
}

// LLMTimeout 返回推理调用超时。
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// ConfirmTimeout 返回交易确认超时。
func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.Ledger.ConfirmTimeoutSeconds) * time.Second
}

// PollInterval 返回确认轮询间隔。
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Ledger.PollIntervalSeconds) * time.Second
}

// ContextTTL 返回会话上下文的过期时间，0 表示不过期。
func (c *Config) ContextTTL() time.Duration {
	return time.Duration(c.ContextStore.TTLMinutes) * time.Minute
}
