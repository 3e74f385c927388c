package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wwwzy/IntervAgent/internal/storage"
)

const (
	ProviderArk    = "ark"
	ProviderOpenAI = "openai"
)

// ModelConfig 描述对话模型服务。provider=openai 时可对接任意 OpenAI 兼容端点（例如 DashScope）。
type ModelConfig struct {
	Provider    string        `mapstructure:"provider"`
	APIKey      string        `mapstructure:"api_key"`
	ModelID     string        `mapstructure:"model_id"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// AgentConfig 控制编排循环的边界与重试策略。
type AgentConfig struct {
	// MaxIterations 为单条用户消息允许的最大模型往返次数。
	MaxIterations int `mapstructure:"max_iterations"`
	// ModelRetries 为模型调用失败后的重试次数（不含首次调用）。
	ModelRetries int           `mapstructure:"model_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
	// HistoryExchanges 为对话界面保留的最近用户轮数。
	HistoryExchanges int `mapstructure:"history_exchanges"`
}

type ToolsConfig struct {
	DefaultTimeout time.Duration            `mapstructure:"default_timeout"`
	Timeouts       map[string]time.Duration `mapstructure:"timeouts"`
	DownloadDir    string                   `mapstructure:"download_dir"`
	Audit          bool                     `mapstructure:"audit"`
}

type SMTPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	SSL      bool          `mapstructure:"ssl"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type MailboxConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	Folder   string        `mapstructure:"folder"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type InjectionConfig struct {
	// PolicyFile 为可选的 YAML 规则文件；为空时使用内置规则。
	PolicyFile string `mapstructure:"policy_file"`
	// Watch 为 true 时监听规则文件变化并热加载。
	Watch bool `mapstructure:"watch"`
}

// IntakeConfig 控制 start 命令运行的后台收件服务。
type IntakeConfig struct {
	PollEnabled  bool          `mapstructure:"poll_enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollJitter   time.Duration `mapstructure:"poll_jitter"`
	PollLimit    int           `mapstructure:"poll_limit"`

	RetentionEnabled  bool          `mapstructure:"retention_enabled"`
	RetentionInterval time.Duration `mapstructure:"retention_interval"`
	AuditKeepDays     int           `mapstructure:"audit_keep_days"`
	AuditKeepCount    int           `mapstructure:"audit_keep_count"`
}

type Config struct {
	Storage   storage.Config  `mapstructure:"storage"`
	Model     ModelConfig     `mapstructure:"model"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Mailbox   MailboxConfig   `mapstructure:"mailbox"`
	Injection InjectionConfig `mapstructure:"injection"`
	Intake    IntakeConfig    `mapstructure:"intake"`
	LogLevel  string          `mapstructure:"log_level"`
}

func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		// 默认搜索路径
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.intervagent")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("INTERVAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal 只会解码 Viper 已知的 key，所以所有 key 都要先在 setDefaults 中登记。
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Model.Provider {
	case ProviderArk, ProviderOpenAI:
	default:
		return fmt.Errorf("model.provider must be one of %q/%q, got %q", ProviderArk, ProviderOpenAI, c.Model.Provider)
	}
	if c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key is required (or set DASHSCOPE_API_KEY / ARK_API_KEY env var)")
	}
	if c.Model.ModelID == "" {
		return fmt.Errorf("model.model_id is required (or set MODEL_ID env var)")
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive")
	}
	if c.Agent.ModelRetries < 0 {
		return fmt.Errorf("agent.model_retries must not be negative")
	}
	return nil
}

// ToolTimeout 返回指定工具的超时时间：先查 tools.timeouts，再退回 tools.default_timeout。
func (c ToolsConfig) ToolTimeout(name string) time.Duration {
	if d, ok := c.Timeouts[name]; ok && d > 0 {
		return d
	}
	return c.DefaultTimeout
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("log_level", d.LogLevel)

	// -------------------------------------------------------------------------
	// Storage
	// -------------------------------------------------------------------------
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.busy_timeout", d.Storage.BusyTimeout)
	v.SetDefault("storage.enable_wal", d.Storage.EnableWAL)
	v.SetDefault("storage.max_open_conns", d.Storage.MaxOpenConns)

	// -------------------------------------------------------------------------
	// Model (对话模型)
	// -------------------------------------------------------------------------
	v.SetDefault("model.provider", d.Model.Provider)
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.model_id", d.Model.ModelID)
	v.SetDefault("model.base_url", d.Model.BaseURL)
	v.SetDefault("model.temperature", d.Model.Temperature)
	v.SetDefault("model.max_tokens", d.Model.MaxTokens)
	v.SetDefault("model.timeout", d.Model.Timeout)

	// 兼容原有的环境变量命名，优先级低于 INTERVAGENT_MODEL_*
	_ = v.BindEnv("model.api_key", "INTERVAGENT_MODEL_API_KEY", "DASHSCOPE_API_KEY", "ARK_API_KEY")
	_ = v.BindEnv("model.model_id", "INTERVAGENT_MODEL_MODEL_ID", "MODEL_ID", "ARK_MODEL_ID")
	_ = v.BindEnv("model.base_url", "INTERVAGENT_MODEL_BASE_URL", "MODEL_BASE_URL", "ARK_BASE_URL")

	// -------------------------------------------------------------------------
	// Agent (编排循环)
	// -------------------------------------------------------------------------
	v.SetDefault("agent.max_iterations", d.Agent.MaxIterations)
	v.SetDefault("agent.model_retries", d.Agent.ModelRetries)
	v.SetDefault("agent.retry_backoff", d.Agent.RetryBackoff)
	v.SetDefault("agent.max_backoff", d.Agent.MaxBackoff)
	v.SetDefault("agent.history_exchanges", d.Agent.HistoryExchanges)

	// -------------------------------------------------------------------------
	// Tools
	// -------------------------------------------------------------------------
	v.SetDefault("tools.default_timeout", d.Tools.DefaultTimeout)
	v.SetDefault("tools.timeouts", map[string]time.Duration{})
	v.SetDefault("tools.download_dir", d.Tools.DownloadDir)
	v.SetDefault("tools.audit", d.Tools.Audit)

	// -------------------------------------------------------------------------
	// SMTP / IMAP
	// -------------------------------------------------------------------------
	v.SetDefault("smtp.host", d.SMTP.Host)
	v.SetDefault("smtp.port", d.SMTP.Port)
	v.SetDefault("smtp.user", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.ssl", d.SMTP.SSL)
	v.SetDefault("smtp.timeout", d.SMTP.Timeout)

	_ = v.BindEnv("smtp.host", "INTERVAGENT_SMTP_HOST", "SMTP_HOST")
	_ = v.BindEnv("smtp.port", "INTERVAGENT_SMTP_PORT", "SMTP_PORT")
	_ = v.BindEnv("smtp.user", "INTERVAGENT_SMTP_USER", "SMTP_USER")
	_ = v.BindEnv("smtp.password", "INTERVAGENT_SMTP_PASSWORD", "SMTP_AUID")
	_ = v.BindEnv("smtp.from", "INTERVAGENT_SMTP_FROM", "SMTP_FROM")

	v.SetDefault("mailbox.host", d.Mailbox.Host)
	v.SetDefault("mailbox.port", d.Mailbox.Port)
	v.SetDefault("mailbox.user", "")
	v.SetDefault("mailbox.password", "")
	v.SetDefault("mailbox.folder", d.Mailbox.Folder)
	v.SetDefault("mailbox.timeout", d.Mailbox.Timeout)

	_ = v.BindEnv("mailbox.host", "INTERVAGENT_MAILBOX_HOST", "IMAP_HOST")
	_ = v.BindEnv("mailbox.user", "INTERVAGENT_MAILBOX_USER", "IMAP_USER", "SMTP_USER")
	_ = v.BindEnv("mailbox.password", "INTERVAGENT_MAILBOX_PASSWORD", "IMAP_PASSWORD", "SMTP_AUID")

	// -------------------------------------------------------------------------
	// Injection (外部文本注入检测)
	// -------------------------------------------------------------------------
	v.SetDefault("injection.policy_file", "")
	v.SetDefault("injection.watch", d.Injection.Watch)

	// -------------------------------------------------------------------------
	// Intake (后台收件服务)
	// -------------------------------------------------------------------------
	v.SetDefault("intake.poll_enabled", d.Intake.PollEnabled)
	v.SetDefault("intake.poll_interval", d.Intake.PollInterval)
	v.SetDefault("intake.poll_jitter", d.Intake.PollJitter)
	v.SetDefault("intake.poll_limit", d.Intake.PollLimit)
	v.SetDefault("intake.retention_enabled", d.Intake.RetentionEnabled)
	v.SetDefault("intake.retention_interval", d.Intake.RetentionInterval)
	v.SetDefault("intake.audit_keep_days", d.Intake.AuditKeepDays)
	v.SetDefault("intake.audit_keep_count", d.Intake.AuditKeepCount)
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Storage: storage.Config{
			Path:         "intervagent.db",
			BusyTimeout:  5 * time.Second,
			EnableWAL:    true,
			MaxOpenConns: 4,
		},
		Model: ModelConfig{
			Provider:    ProviderOpenAI,
			ModelID:     "qwen-plus",
			BaseURL:     "https://dashscope.aliyuncs.com/compatible-mode/v1",
			Temperature: 0.1,
			MaxTokens:   2048,
			Timeout:     60 * time.Second,
		},
		Agent: AgentConfig{
			MaxIterations:    10,
			ModelRetries:     3,
			RetryBackoff:     500 * time.Millisecond,
			MaxBackoff:       8 * time.Second,
			HistoryExchanges: 30,
		},
		Tools: ToolsConfig{
			DefaultTimeout: 30 * time.Second,
			Timeouts:       map[string]time.Duration{},
			DownloadDir:    "registrations",
			Audit:          true,
		},
		SMTP: SMTPConfig{
			Host:    "smtp.163.com",
			Port:    465,
			SSL:     true,
			Timeout: 15 * time.Second,
		},
		Mailbox: MailboxConfig{
			Host:    "imap.163.com",
			Port:    993,
			Folder:  "INBOX",
			Timeout: 30 * time.Second,
		},
		Injection: InjectionConfig{
			Watch: true,
		},
		Intake: IntakeConfig{
			PollEnabled:       true,
			PollInterval:      5 * time.Minute,
			PollJitter:        30 * time.Second,
			PollLimit:         20,
			RetentionEnabled:  true,
			RetentionInterval: time.Hour,
			AuditKeepDays:     30,
		},
	}
}
