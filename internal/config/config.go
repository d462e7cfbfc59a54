package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Source       Source       `yaml:"source"`
	Keywords     []string     `yaml:"keywords"`
	Scoring      Scoring      `yaml:"scoring"`
	Analysis     Analysis     `yaml:"analysis"`
	LLM          LLM          `yaml:"llm"`
	Channels     Channels     `yaml:"channels"`
	Scheduler    Scheduler    `yaml:"scheduler"`
	Housekeeping Housekeeping `yaml:"housekeeping"`
	Server       Server       `yaml:"server"`
	Logging      Logging      `yaml:"logging"`
	Output       Output       `yaml:"output"`
}

// Source configures the PNCP consultation API and the collection axes.
type Source struct {
	BaseURL       string        `yaml:"base_url"`
	PageSize      int           `yaml:"page_size"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryBase     time.Duration `yaml:"retry_base"`
	RetryMax      time.Duration `yaml:"retry_max"`
	Timeout       time.Duration `yaml:"timeout"`
	Categories    []int         `yaml:"categories"`
	Regions       []string      `yaml:"regions"`
	LookbackHours int           `yaml:"lookback_hours"`
}

type Scoring struct {
	Enabled                    bool   `yaml:"enabled"`
	Provider                   string `yaml:"provider"`
	Model                      string `yaml:"model"`
	Threshold                  int    `yaml:"threshold"`
	MaxClassificationsPerCycle int    `yaml:"max_classifications_per_cycle"`
	MaxClassificationsPerDay   int    `yaml:"max_classifications_per_day"`
	Concurrency                int    `yaml:"concurrency"`
}

type Analysis struct {
	AutoAnalyze bool   `yaml:"auto_analyze"`
	TopN        int    `yaml:"top_n"`
	MaxPerDay   int    `yaml:"max_per_day"`
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	MaxTokens   int    `yaml:"max_tokens"`
	FetchOrigin bool   `yaml:"fetch_origin"`
}

type LLM struct {
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Ollama    OllamaConfig    `yaml:"ollama"`
}

type AnthropicConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
}

type OllamaConfig struct {
	URL string `yaml:"url"`
}

type Channels struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Email    EmailConfig    `yaml:"email"`
	Slack    SlackConfig    `yaml:"slack"`
	Webhook  WebhookConfig  `yaml:"webhook"`
}

type TelegramConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BotTokenEnv string `yaml:"bot_token_env"`
	ChatID      int64  `yaml:"chat_id"`
	APIURL      string `yaml:"api_url"`
}

type EmailConfig struct {
	Enabled     bool     `yaml:"enabled"`
	SMTPHost    string   `yaml:"smtp_host"`
	SMTPPort    int      `yaml:"smtp_port"`
	Username    string   `yaml:"username"`
	PasswordEnv string   `yaml:"smtp_password_env"`
	From        string   `yaml:"from"`
	To          []string `yaml:"to"`
}

type SlackConfig struct {
	Enabled       bool   `yaml:"enabled"`
	WebhookURLEnv string `yaml:"webhook_url_env"`
}

type WebhookConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

type Scheduler struct {
	IntervalMinutes int `yaml:"interval_minutes"`
}

type Housekeeping struct {
	DocumentWarningDays int `yaml:"document_warning_days"`
	ChatRetentionDays   int `yaml:"chat_retention_days"`
	UsageRetentionDays  int `yaml:"usage_retention_days"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for bidscout.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "bidscout")
}

// DataDir returns the XDG data directory for bidscout.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "bidscout")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/bidscout/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'bidscout init' to create a default config",
		xdgConfig,
	)
}

// LoadDotEnv loads secrets from a .env file into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load reads, parses and validates a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with every default resolved.
func Default() *Config {
	return &Config{
		Source: Source{
			BaseURL:       "https://pncp.gov.br/api/consulta",
			PageSize:      50,
			MaxRetries:    3,
			RetryBase:     time.Second,
			RetryMax:      30 * time.Second,
			Timeout:       30 * time.Second,
			Categories:    []int{6, 8, 4},
			LookbackHours: 24,
		},
		Scoring: Scoring{
			Enabled:                    true,
			Provider:                   "claude",
			Model:                      "claude-haiku-4-5-20251001",
			Threshold:                  60,
			MaxClassificationsPerCycle: 20,
			MaxClassificationsPerDay:   200,
			Concurrency:                4,
		},
		Analysis: Analysis{
			AutoAnalyze: true,
			TopN:        5,
			MaxPerDay:   50,
			Provider:    "claude",
			Model:       "claude-sonnet-4-5-20250929",
			MaxTokens:   2048,
		},
		LLM: LLM{
			Anthropic: AnthropicConfig{APIKeyEnv: "ANTHROPIC_API_KEY"},
			Ollama:    OllamaConfig{URL: "http://localhost:11434"},
		},
		Channels: Channels{
			Telegram: TelegramConfig{BotTokenEnv: "TELEGRAM_BOT_TOKEN"},
			Email:    EmailConfig{SMTPPort: 587, PasswordEnv: "SMTP_PASSWORD"},
			Slack:    SlackConfig{WebhookURLEnv: "SLACK_WEBHOOK_URL"},
		},
		Scheduler: Scheduler{IntervalMinutes: 30},
		Housekeeping: Housekeeping{
			DocumentWarningDays: 30,
			ChatRetentionDays:   90,
			UsageRetentionDays:  365,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "info", Format: "text"},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Scheduler.IntervalMinutes < 1 || c.Scheduler.IntervalMinutes > 1440 {
		errs = append(errs, fmt.Errorf("scheduler.interval_minutes must be between 1 and 1440, got %d", c.Scheduler.IntervalMinutes))
	}
	if c.Scoring.Threshold < 0 || c.Scoring.Threshold > 100 {
		errs = append(errs, fmt.Errorf("scoring.threshold must be between 0 and 100, got %d", c.Scoring.Threshold))
	}
	if c.Scoring.MaxClassificationsPerCycle < 0 || c.Scoring.MaxClassificationsPerDay < 0 {
		errs = append(errs, errors.New("scoring classification caps must not be negative"))
	}
	if c.Scoring.Concurrency < 1 {
		errs = append(errs, errors.New("scoring.concurrency must be at least 1"))
	}
	if c.Source.PageSize < 1 || c.Source.PageSize > 500 {
		errs = append(errs, fmt.Errorf("source.page_size must be between 1 and 500, got %d", c.Source.PageSize))
	}
	if c.Source.MaxRetries < 1 {
		errs = append(errs, errors.New("source.max_retries must be at least 1"))
	}
	if c.Source.LookbackHours < 1 {
		errs = append(errs, errors.New("source.lookback_hours must be at least 1"))
	}
	if len(c.Source.Categories) == 0 {
		errs = append(errs, errors.New("source.categories must not be empty"))
	}
	if c.Analysis.TopN < 0 || c.Analysis.MaxPerDay < 0 {
		errs = append(errs, errors.New("analysis.top_n and analysis.max_per_day must not be negative"))
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	return errors.Join(errs...)
}

// Secret returns the value of the environment variable named by envName.
func Secret(envName string) string {
	if envName == "" {
		return ""
	}
	return os.Getenv(envName)
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath returns the SQLite database path inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "bidscout.db")
}

// Lookback returns the collection window as a duration.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.Source.LookbackHours) * time.Hour
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
