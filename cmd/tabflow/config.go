package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rendis/tabflow/internal/dispatch"
	"github.com/rendis/tabflow/internal/trigger"
)

// Config holds all tabflow configuration.
// Priority: env vars > config.yaml > defaults.
type Config struct {
	DBPath    string `yaml:"db_path"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // auto | text | json
	PoolSize  int    `yaml:"pool_size"`

	Driver            string        `yaml:"driver"` // http | chromedp | playwright
	Headless          bool          `yaml:"headless"`
	ChromePath        string        `yaml:"chrome_path"`
	InstallBrowsers   bool          `yaml:"install_browsers"`
	UserAgent         string        `yaml:"user_agent"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `yaml:"action_timeout"` // zero follows navigation_timeout
	PreviewChars      int           `yaml:"preview_chars"`
	Screenshots       bool          `yaml:"screenshots"`
	URLAllow          []string      `yaml:"url_allow"`
	URLDeny           []string      `yaml:"url_deny"`

	RedisURL   string `yaml:"redis_url"`
	ListenAddr string `yaml:"listen_addr"` // status panel; empty disables it
	Tracing    string `yaml:"tracing"`     // none | stdout

	OpenAI     dispatch.LLMConfig `yaml:"openai"`
	Connectors ConnectorsConfig   `yaml:"connectors"`

	Schedules       []trigger.Job `yaml:"schedules"`
	TriggerInterval time.Duration `yaml:"trigger_interval"`
}

// ConnectorsConfig enables the built-in integrate connectors.
type ConnectorsConfig struct {
	TelegramToken    string            `yaml:"telegram_token"`
	TelegramEndpoint string            `yaml:"telegram_endpoint"`
	DiscordToken     string            `yaml:"discord_token"`
	Webhooks         map[string]string `yaml:"webhooks"`
}

func defaultConfig() Config {
	return Config{
		DBPath:          filepath.Join(tabflowDir(), "tabflow.db"),
		LogLevel:        "info",
		LogFormat:       "auto",
		PoolSize:        10,
		Driver:          "http",
		Headless:        true,
		Tracing:         "none",
		TriggerInterval: trigger.DefaultInterval,
	}
}

func tabflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tabflow"
	}
	return filepath.Join(home, ".tabflow")
}

func defaultConfigPath() string {
	return filepath.Join(tabflowDir(), "config.yaml")
}

// loadConfig layers defaults, the YAML file and env vars. An explicit path
// must exist; the default path is optional.
func loadConfig(path string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv("TABFLOW_" + key); v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v := getenv("TABFLOW_" + key); v != "" {
			*dst = splitList(v)
		}
	}

	str("DB_PATH", &cfg.DBPath)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("DRIVER", &cfg.Driver)
	str("CHROME_PATH", &cfg.ChromePath)
	str("USER_AGENT", &cfg.UserAgent)
	str("REDIS_URL", &cfg.RedisURL)
	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("TRACING", &cfg.Tracing)
	str("OPENAI_API_KEY", &cfg.OpenAI.APIKey)
	str("OPENAI_BASE_URL", &cfg.OpenAI.BaseURL)
	str("OPENAI_MODEL", &cfg.OpenAI.Model)
	str("TELEGRAM_TOKEN", &cfg.Connectors.TelegramToken)
	str("DISCORD_TOKEN", &cfg.Connectors.DiscordToken)
	list("URL_ALLOW", &cfg.URLAllow)
	list("URL_DENY", &cfg.URLDeny)

	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = getenv("OPENAI_API_KEY")
	}

	if v := getenv("TABFLOW_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TABFLOW_POOL_SIZE: %w", err)
		}
		cfg.PoolSize = n
	}
	if v := getenv("TABFLOW_PREVIEW_CHARS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TABFLOW_PREVIEW_CHARS: %w", err)
		}
		cfg.PreviewChars = n
	}
	if v := getenv("TABFLOW_NAVIGATION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TABFLOW_NAVIGATION_TIMEOUT: %w", err)
		}
		cfg.NavigationTimeout = d
	}
	if v := getenv("TABFLOW_ACTION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TABFLOW_ACTION_TIMEOUT: %w", err)
		}
		cfg.ActionTimeout = d
	}
	if v := getenv("TABFLOW_HEADLESS"); v != "" {
		cfg.Headless = v == "true" || v == "1"
	}
	if v := getenv("TABFLOW_SCREENSHOTS"); v != "" {
		cfg.Screenshots = v == "true" || v == "1"
	}
	return nil
}

func (c Config) validate() error {
	switch c.Driver {
	case "http", "chromedp", "playwright":
	default:
		return fmt.Errorf("driver must be http, chromedp or playwright, got %q", c.Driver)
	}
	switch c.LogFormat {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("log_format must be auto, text or json, got %q", c.LogFormat)
	}
	switch c.Tracing {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("tracing must be none or stdout, got %q", c.Tracing)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive, got %d", c.PoolSize)
	}
	for i, job := range c.Schedules {
		if job.Cron == "" || job.WorkflowID == "" {
			return fmt.Errorf("schedules[%d]: cron and workflow are required", i)
		}
	}
	return nil
}

// dbURI turns a plain path into the file URI libsql expects.
func dbURI(path string) string {
	if strings.Contains(path, "://") || strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
