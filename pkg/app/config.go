package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	LogFormat   string         `mapstructure:"log_format"`
	HTTP        HTTPConfig     `mapstructure:"http"`
	Webhook     WebhookConfig  `mapstructure:"webhook"`
	Store       StoreConfig    `mapstructure:"store"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Queue       QueueConfig    `mapstructure:"queue"`
	Engine      EngineConfig   `mapstructure:"engine"`
	Workers     WorkersConfig  `mapstructure:"workers"`
	Vendors     VendorsConfig  `mapstructure:"vendors"`
	Privacy     PrivacyConfig  `mapstructure:"privacy"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type WebhookConfig struct {
	AccountID          string `mapstructure:"account_id"`
	StrictAccountCheck bool   `mapstructure:"strict_account_check"`
	AccountAddress     string `mapstructure:"account_address"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type QueueConfig struct {
	Stream        string `mapstructure:"stream"`
	Group         string `mapstructure:"group"`
	Consumer      string `mapstructure:"consumer"`
	MaxAttempts   int    `mapstructure:"max_attempts"`
	BackoffBaseMS int    `mapstructure:"backoff_base_ms"`
	BackoffMaxMS  int    `mapstructure:"backoff_max_ms"`
}

type EngineConfig struct {
	MaxIterations      int `mapstructure:"max_iterations"`
	MaxHistory         int `mapstructure:"max_history"`
	HistoryWindowHours int `mapstructure:"history_window_hours"`
}

type WorkersConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT       VendorConfig `mapstructure:"stt"`
	LLM       VendorConfig `mapstructure:"llm"`
	Messaging VendorConfig `mapstructure:"messaging"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("webhook.strict_account_check", false)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "billow.db")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("queue.stream", "billow:tasks")
	v.SetDefault("queue.group", "workers")
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base_ms", 1000)
	v.SetDefault("queue.backoff_max_ms", 300000)
	v.SetDefault("engine.max_iterations", 5)
	v.SetDefault("engine.max_history", 15)
	v.SetDefault("engine.history_window_hours", 2)
	v.SetDefault("workers.concurrency", 4)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Vendors.Messaging.Provider) == "" {
		return fmt.Errorf("vendors.messaging.provider is required")
	}
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		return fmt.Errorf("vendors.stt.provider is required")
	}
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver must be one of memory, sqlite, postgres")
	}
	return nil
}

// QueueBackoffBase and QueueBackoffMax convert the millisecond config
// values to durations.
func (c *Config) QueueBackoffBase() time.Duration {
	return time.Duration(c.Queue.BackoffBaseMS) * time.Millisecond
}

func (c *Config) QueueBackoffMax() time.Duration {
	return time.Duration(c.Queue.BackoffMaxMS) * time.Millisecond
}

func (c *Config) HistoryWindow() time.Duration {
	return time.Duration(c.Engine.HistoryWindowHours) * time.Hour
}

// expandEnvStrings resolves ${VAR} references so secrets stay out of
// the config file.
func expandEnvStrings(cfg *Config) {
	cfg.Webhook.AccountID = os.ExpandEnv(cfg.Webhook.AccountID)
	cfg.Webhook.AccountAddress = os.ExpandEnv(cfg.Webhook.AccountAddress)
	cfg.Store.DSN = os.ExpandEnv(cfg.Store.DSN)
	cfg.Redis.Addr = os.ExpandEnv(cfg.Redis.Addr)
	cfg.Redis.Password = os.ExpandEnv(cfg.Redis.Password)
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
	cfg.Vendors.Messaging.Settings = expandSettings(cfg.Vendors.Messaging.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}
