package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"IntentLayer-Lite/pkg/logger"
)

// Config 描述了 intentd 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Auth     AuthConfig     `json:"auth"`
	Logging  logger.Config  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Redis    RedisConfig    `json:"redis"`
	Queue    QueueConfig    `json:"queue"`
	Web3     Web3Config     `json:"web3"`
	Adapters AdapterConfig  `json:"adapters"`
	Router   RouterConfig   `json:"router"`
	Executor ExecutorConfig `json:"executor"`
	Alerting AlertingConfig `json:"alerting"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address             string `json:"address"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
	MetricsEnabled      *bool  `json:"metrics_enabled"`
}

// ReadTimeout 返回读超时。
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout 返回写超时。
func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

// Metrics 报告是否暴露 /metrics。
func (s ServerConfig) Metrics() bool {
	return s.MetricsEnabled == nil || *s.MetricsEnabled
}

// AuthConfig 描述 API 鉴权方式。
type AuthConfig struct {
	Mode            string   `json:"mode"`
	JWTSecret       string   `json:"jwt_secret"`
	JWTSecretEnv    string   `json:"jwt_secret_env"`
	Issuer          string   `json:"issuer"`
	Audience        []string `json:"audience"`
	TokenTTLSeconds int      `json:"token_ttl_seconds"`
}

// TokenTTL 返回签发令牌的默认有效期。
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLSeconds) * time.Second
}

// Secret 返回 JWT 密钥，优先使用直接配置的值。
func (a AuthConfig) Secret() string {
	if secret := strings.TrimSpace(a.JWTSecret); secret != "" {
		return secret
	}
	if a.JWTSecretEnv != "" {
		return strings.TrimSpace(os.Getenv(a.JWTSecretEnv))
	}
	return ""
}

// StorageConfig 统一描述授权书与意图记录的持久化方式。
type StorageConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
	MandateCache           struct {
		Enabled    bool `json:"enabled"`
		TTLSeconds int  `json:"ttl_seconds"`
	} `json:"mandate_cache"`
	LedgerDriver string `json:"ledger_driver"`
}

// RedisConfig 是队列、缓存与额度账本共享的 Redis 连接。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// Enabled 报告是否配置了 Redis。
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Address) != ""
}

// QueueConfig 描述意图执行队列。
type QueueConfig struct {
	Driver   string `json:"driver"`
	Workers  int    `json:"workers"`
	Capacity int    `json:"capacity"`
	Redis    struct {
		Queue            string `json:"queue"`
		BlockWaitSeconds int    `json:"block_wait_seconds"`
	} `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// Web3Config 包含访问区块链节点所需的配置。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	RPCURL       string `json:"rpc_url"`
	DefaultChain string `json:"default_chain"`
}

// AdapterConfig 指向协议适配器目录文件。
type AdapterConfig struct {
	Catalog string `json:"catalog"`
}

// RouterConfig 控制意图生命周期的默认参数。
type RouterConfig struct {
	MaxRetries              int `json:"max_retries"`
	DefaultIntentTTLSeconds int `json:"default_intent_ttl_seconds"`
	DefaultMaxSlippageBps   int `json:"default_max_slippage_bps"`
}

// DefaultIntentTTL 返回意图默认有效期。
func (r RouterConfig) DefaultIntentTTL() time.Duration {
	return time.Duration(r.DefaultIntentTTLSeconds) * time.Second
}

// ExecutorConfig 描述交易签名与广播策略。
type ExecutorConfig struct {
	SignerKey             string  `json:"signer_key"`
	SignerKeyEnv          string  `json:"signer_key_env"`
	Confirmations         *uint64 `json:"confirmations"`
	ReceiptTimeoutSeconds int     `json:"receipt_timeout_seconds"`
	PollIntervalMillis    int     `json:"poll_interval_millis"`
	GasMultiplier         float64 `json:"gas_multiplier"`
}

// Key 返回签名私钥（十六进制）。为空表示仅编译不广播。
func (e ExecutorConfig) Key() string {
	if key := strings.TrimSpace(e.SignerKey); key != "" {
		return key
	}
	if e.SignerKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(e.SignerKeyEnv))
	}
	return ""
}

// ConfirmationCount 返回最后一笔交易需要等待的确认数，0 表示广播后不等待。
func (e ExecutorConfig) ConfirmationCount() uint64 {
	if e.Confirmations == nil {
		return 1
	}
	return *e.Confirmations
}

// ReceiptTimeout 返回等待回执的超时时间。
func (e ExecutorConfig) ReceiptTimeout() time.Duration {
	return time.Duration(e.ReceiptTimeoutSeconds) * time.Second
}

// PollInterval 返回回执轮询间隔。
func (e ExecutorConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalMillis) * time.Millisecond
}

// AlertingConfig 配置告警通知。
type AlertingConfig struct {
	WebhookURL     string `json:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

const (
	// EnvConfigPath 指定配置文件路径的环境变量。
	EnvConfigPath = "INTENTLAYER_CONFIG"
	// EnvSignerKey 覆盖签名私钥的环境变量。
	EnvSignerKey = "INTENTLAYER_SIGNER_KEY"
)

// Path 返回配置文件路径，优先读取环境变量。
func Path() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return filepath.Join("configs", "intentlayer.json")
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(content, filepath.Dir(path))
}

// Parse 解析配置内容，baseDir 用于解析相对路径。
func Parse(content []byte, baseDir string) (*Config, error) {
	expanded := os.ExpandEnv(string(content))

	var cfg Config
	decoder := json.NewDecoder(strings.NewReader(expanded))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(baseDir)
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
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 30
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	c.Auth.Mode = strings.ToLower(c.Auth.Mode)

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.MandateCache.TTLSeconds <= 0 {
		c.Storage.MandateCache.TTLSeconds = 60
	}
	if c.Storage.LedgerDriver == "" {
		c.Storage.LedgerDriver = "memory"
	}

	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "intentlayer"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.Capacity <= 0 {
		c.Queue.Capacity = 1024
	}
	if c.Queue.Redis.BlockWaitSeconds <= 0 {
		c.Queue.Redis.BlockWaitSeconds = 5
	}

	if c.Router.MaxRetries <= 0 {
		c.Router.MaxRetries = 3
	}
	if c.Router.DefaultIntentTTLSeconds <= 0 {
		c.Router.DefaultIntentTTLSeconds = 600
	}
	if c.Router.DefaultMaxSlippageBps <= 0 {
		c.Router.DefaultMaxSlippageBps = 100
	}

	if key := strings.TrimSpace(os.Getenv(EnvSignerKey)); key != "" {
		c.Executor.SignerKey = key
	}
	if c.Executor.Confirmations == nil {
		confirmations := uint64(1)
		c.Executor.Confirmations = &confirmations
	}
	if c.Executor.ReceiptTimeoutSeconds <= 0 {
		c.Executor.ReceiptTimeoutSeconds = 120
	}
	if c.Executor.PollIntervalMillis <= 0 {
		c.Executor.PollIntervalMillis = 1000
	}
	if c.Executor.GasMultiplier < 1 {
		c.Executor.GasMultiplier = 1.2
	}

	if c.Alerting.TimeoutSeconds <= 0 {
		c.Alerting.TimeoutSeconds = 5
	}

	c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir, "data")
	c.Web3.ChainConfig = resolvePath(baseDir, c.Web3.ChainConfig, "")
	c.Adapters.Catalog = resolvePath(baseDir, c.Adapters.Catalog, "")
	if c.Logging.Audit.Path != "" {
		c.Logging.Audit.Path = resolvePath(baseDir, c.Logging.Audit.Path, "")
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return errors.New("storage.driver=mysql 需要配置 dsn")
		}
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.Driver)
	}

	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if !c.Redis.Enabled() {
			return errors.New("queue.driver=redis 需要配置 redis.address")
		}
	case "rabbitmq":
		if strings.TrimSpace(c.Queue.RabbitMQ.URL) == "" {
			return errors.New("queue.driver=rabbitmq 需要配置 rabbitmq.url")
		}
	default:
		return fmt.Errorf("未知的队列驱动: %s", c.Queue.Driver)
	}

	switch c.Storage.LedgerDriver {
	case "memory":
	case "redis":
		if !c.Redis.Enabled() {
			return errors.New("ledger_driver=redis 需要配置 redis.address")
		}
	default:
		return fmt.Errorf("未知的额度账本驱动: %s", c.Storage.LedgerDriver)
	}
	if c.Storage.MandateCache.Enabled && !c.Redis.Enabled() {
		return errors.New("mandate_cache 需要配置 redis.address")
	}

	switch c.Auth.Mode {
	case "disabled":
	case "jwt":
		if c.Auth.Secret() == "" {
			return errors.New("auth.mode=jwt 需要配置 jwt_secret 或 jwt_secret_env")
		}
	default:
		return fmt.Errorf("未知的鉴权模式: %s", c.Auth.Mode)
	}
	return nil
}

func resolvePath(baseDir, value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		if fallback == "" {
			return ""
		}
		value = fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}
