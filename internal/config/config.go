package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	NATS    NATSConfig    `yaml:"nats"`
	Store   StoreConfig   `yaml:"store"`
	Web     WebConfig     `yaml:"web"`
	Queue   QueueConfig   `yaml:"queue"`
	Monitor MonitorConfig `yaml:"monitor"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Notify  NotifyConfig  `yaml:"notify"`
	LLM     LLMConfig     `yaml:"llm"`
	Vault   VaultConfig   `yaml:"vault"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

// QueueConfig controls task dispatch. Durable selects the JetStream-backed
// event bus instead of plain NATS pub/sub.
type QueueConfig struct {
	Durable     bool          `yaml:"durable"`
	MaxRetries  int           `yaml:"max_retries"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
	Concurrency int           `yaml:"concurrency"`
}

type MonitorConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

type SandboxConfig struct {
	Image   string        `yaml:"image"`
	Timeout time.Duration `yaml:"timeout"`
}

type NotifyConfig struct {
	TelegramToken string  `yaml:"telegram_token"`
	AllowFrom     []int64 `yaml:"allow_from"`
	SMTPAddr      string  `yaml:"smtp_addr"`
	SMTPFrom      string  `yaml:"smtp_from"`
	SMSWebhookURL string  `yaml:"sms_webhook_url"`
}

type LLMConfig struct {
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	KeyName  string `yaml:"key_name"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

func defaults() Config {
	return Config{
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/swarmd.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Queue: QueueConfig{
			Durable:     true,
			MaxRetries:  3,
			TaskTimeout: 15 * time.Minute,
			Concurrency: 4,
		},
		Monitor: MonitorConfig{
			Enabled:  true,
			Schedule: "*/5 * * * *",
		},
		Sandbox: SandboxConfig{
			Image:   "alpine:3",
			Timeout: 10 * time.Minute,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("SWARMD_CONFIG")
	if path == "" {
		path = "config/swarmd.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SWARMD_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("SWARMD_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("SWARMD_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("SWARMD_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SWARMD_TELEGRAM_TOKEN"); v != "" {
		cfg.Notify.TelegramToken = v
	}
	if v := os.Getenv("SWARMD_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("SWARMD_LLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}
}
