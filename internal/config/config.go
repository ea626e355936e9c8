package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppConfig holds application-level settings.
type AppConfig struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // text | json
}

// GitHubConfig GitHub API 访问参数
type GitHubConfig struct {
	Token   string `mapstructure:"token"`
	BaseURL string `mapstructure:"base_url"` // 为空时使用 api.github.com
}

// CacheConfig 缓存后端，memory:// 或 redis://host:port/db
type CacheConfig struct {
	URL string `mapstructure:"url"`
}

// DatabaseConfig 历史记录存储，DSN 为空时不启用
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DiscoveryConfig 发现流程的默认参数
type DiscoveryConfig struct {
	MaxResults  int `mapstructure:"max_results"`
	Concurrency int `mapstructure:"concurrency"`
	MinStars    int `mapstructure:"min_stars"`
}

// LLMConfig 生成学习路线使用的大模型
type LLMConfig struct {
	Provider string `mapstructure:"provider"` // gemini | openai
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	BaseURL  string `mapstructure:"base_url"` // 仅 openai 兼容接口
}

// WarmConfig 定时预热缓存
type WarmConfig struct {
	Schedule string   `mapstructure:"schedule"` // cron 表达式
	Concepts []string `mapstructure:"concepts"`
}

// NotifyConfig 预热完成后的推送渠道，Webhook 为空时不推送
type NotifyConfig struct {
	FeishuWebhook string `mapstructure:"feishu_webhook"`
}

// Config is the top-level configuration structure.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Warm      WarmConfig      `mapstructure:"warm"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

// EnvPrefix 环境变量前缀，例如 SCOUT_GITHUB_TOKEN
const EnvPrefix = "SCOUT"

// 常见的无前缀环境变量，和带前缀的写法同时生效
var bareEnv = map[string]string{
	"github.token":          "GITHUB_TOKEN",
	"cache.url":             "REDIS_URL",
	"database.dsn":          "DATABASE_URL",
	"app.log_level":         "LOG_LEVEL",
	"notify.feishu_webhook": "FEISHU_WEBHOOK",
}

// FillDefaults applies default values if not provided.
func (c *Config) FillDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.LogFormat == "" {
		c.App.LogFormat = "text"
	}
	if c.Cache.URL == "" {
		c.Cache.URL = "memory://"
	}
	if c.Discovery.MaxResults <= 0 {
		c.Discovery.MaxResults = 10
	}
	if c.Discovery.Concurrency <= 0 {
		c.Discovery.Concurrency = 4
	}
	if c.Discovery.MinStars <= 0 {
		c.Discovery.MinStars = 10
	}
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = "gemini"
	}
	if c.Warm.Schedule == "" {
		c.Warm.Schedule = "@every 30m"
	}
}

// Validate 检查取值是否合法，只校验会导致启动失败的字段
func (c *Config) Validate() error {
	switch c.App.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format must be text or json, got %q", c.App.LogFormat)
	}
	switch c.LLM.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("llm.provider must be gemini or openai, got %q", c.LLM.Provider)
	}
	if !strings.HasPrefix(c.Cache.URL, "memory://") && !strings.HasPrefix(c.Cache.URL, "redis://") && !strings.HasPrefix(c.Cache.URL, "rediss://") {
		return fmt.Errorf("cache.url must start with memory:// or redis://, got %q", c.Cache.URL)
	}
	return nil
}

// Load 读取 .env、配置文件和环境变量，cfgFile 为空时按默认路径查找 config.yaml
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	// .env 不存在是正常情况
	_ = godotenv.Load()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
		v.AddConfigPath("$HOME/.config/github-learning-scout")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range bareEnv {
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}
	// api key 依赖 provider，两个都绑定，先出现的生效
	_ = v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY")
	// AutomaticEnv 只对已知 key 生效，其余 key 需要显式绑定
	for _, key := range []string{"app.log_format", "github.base_url", "discovery.max_results", "discovery.concurrency", "discovery.min_stars", "llm.provider", "llm.model", "llm.base_url", "warm.schedule", "warm.concepts"} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return Config{}, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config: %w", err)
	}
	cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
