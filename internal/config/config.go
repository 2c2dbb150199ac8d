// Package config provides YAML-based configuration loading for nudge.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level nudge configuration, loaded from nudge.yaml.
type Config struct {
	Institute    string          `yaml:"institute"`
	SupportEmail string          `yaml:"support_email"`
	FormURL      string          `yaml:"form_url"`
	Deadline     string          `yaml:"deadline"`
	Source       SourceConfig    `yaml:"source"`
	Oracle       OracleConfig    `yaml:"oracle"`
	Notify       NotifyConfig    `yaml:"notify"`
	Ledger       LedgerConfig    `yaml:"ledger"`
	Database     DatabaseConfig  `yaml:"database"`
	Redis        RedisConfig     `yaml:"redis"`
	Dashboard    DashboardConfig `yaml:"dashboard"`
	Daemon       DaemonConfig    `yaml:"daemon"`
}

// SourceConfig selects where student rows come from.
type SourceConfig struct {
	Kind            string `yaml:"kind"` // "csv" or "sheets"
	Path            string `yaml:"path"`
	SheetID         string `yaml:"sheet_id"`
	Range           string `yaml:"range"`
	CredentialsFile string `yaml:"credentials_file"`
}

// OracleConfig configures the decision oracle.
type OracleConfig struct {
	Provider  string        `yaml:"provider"` // "anthropic" or "gemini"
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	MaxTurns  int           `yaml:"max_turns"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// NotifyConfig configures delivery providers. Providers lists preference
// order; the first one with complete credentials is the primary.
type NotifyConfig struct {
	FromEmail     string         `yaml:"from_email"`
	FromName      string         `yaml:"from_name"`
	Providers     []string       `yaml:"providers"`
	Timeout       time.Duration  `yaml:"timeout"`
	RatePerMinute int            `yaml:"rate_per_minute"`
	SendGrid      SendGridConfig `yaml:"sendgrid"`
	SMTP          SMTPConfig     `yaml:"smtp"`
	Slack         SlackConfig    `yaml:"slack"`
	Discord       DiscordConfig  `yaml:"discord"`
}

// SendGridConfig holds SendGrid credentials.
type SendGridConfig struct {
	APIKey string `yaml:"api_key"`
}

// SMTPConfig holds SMTP (Gmail by default) credentials.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SlackConfig holds the Slack bot token used for direct messages.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds the Discord bot token and target channel.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// LedgerConfig configures the communication and schedule ledgers.
type LedgerConfig struct {
	Backend          string `yaml:"backend"` // "sql" or "redis"
	MinIntervalHours int    `yaml:"min_interval_hours"`
	GuardSends       *bool  `yaml:"guard_sends"`
	RecordSimulated  bool   `yaml:"record_simulated"`
}

// DatabaseConfig holds connection settings for the SQL store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// RedisConfig holds connection settings for the redis ledger backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// DashboardConfig configures the HTTP dashboard.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// DaemonConfig configures scheduled batch runs.
type DaemonConfig struct {
	Schedule string `yaml:"schedule"`
	Live     bool   `yaml:"live"`
}

// ValidationError reports configuration problems that make a run impossible.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "config: validation failed: " + strings.Join(e.Problems, "; ")
}

// Load reads a YAML config file from path, overlays environment variables
// and returns a validated Config. A missing file is not an error when the
// environment supplies the required settings.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		data = nil
	}
	return parse(data, os.Getenv)
}

// Parse unmarshals YAML bytes into a validated Config, overlaying the
// process environment.
func Parse(data []byte) (*Config, error) {
	return parse(data, os.Getenv)
}

func parse(data []byte, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(getenv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays secrets and deployment knobs from the environment.
// Environment values win over the file.
func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Deadline, "PROFILE_COMPLETION_DEADLINE")
	set(&c.FormURL, "GOOGLE_FORM_URL")
	set(&c.SupportEmail, "SUPPORT_EMAIL")
	set(&c.Notify.FromEmail, "FROM_EMAIL")
	set(&c.Notify.FromName, "FROM_NAME")
	set(&c.Notify.SendGrid.APIKey, "SENDGRID_API_KEY")
	set(&c.Notify.SMTP.Username, "GMAIL_ADDRESS")
	set(&c.Notify.SMTP.Password, "GMAIL_APP_PASSWORD")
	set(&c.Notify.Slack.BotToken, "SLACK_BOT_TOKEN")
	set(&c.Notify.Discord.BotToken, "DISCORD_BOT_TOKEN")
	set(&c.Notify.Discord.ChannelID, "DISCORD_CHANNEL_ID")
	set(&c.Source.Path, "EXCEL_FILE_PATH")
	set(&c.Source.SheetID, "GOOGLE_SHEET_ID")
	set(&c.Source.CredentialsFile, "GOOGLE_CREDENTIALS_FILE")
	set(&c.Redis.Addr, "NUDGE_REDIS_ADDR")
	set(&c.Database.Password, "NUDGE_DB_PASSWORD")

	if c.Oracle.APIKey == "" {
		switch strings.ToLower(c.Oracle.Provider) {
		case "gemini":
			set(&c.Oracle.APIKey, "GEMINI_API_KEY")
		default:
			set(&c.Oracle.APIKey, "ANTHROPIC_API_KEY")
		}
	}
	if v := getenv("NUDGE_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Oracle.MaxTurns = n
		}
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Institute == "" {
		c.Institute = "IIIT Dharwad / IIIT Raichur"
	}
	if c.FormURL == "" {
		c.FormURL = "https://forms.google.com/your-form"
	}
	if c.SupportEmail == "" {
		c.SupportEmail = "support@iiitdwd.ac.in"
	}
	if c.Source.Kind == "" {
		if c.Source.SheetID != "" && c.Source.Path == "" {
			c.Source.Kind = "sheets"
		} else {
			c.Source.Kind = "csv"
		}
	}
	if c.Source.Kind == "csv" && c.Source.Path == "" {
		c.Source.Path = "student_profiles.csv"
	}
	if c.Source.Range == "" {
		c.Source.Range = "Sheet1"
	}
	if c.Source.CredentialsFile == "" {
		c.Source.CredentialsFile = "credentials.json"
	}
	if c.Oracle.Provider == "" {
		c.Oracle.Provider = "anthropic"
	}
	if c.Oracle.Model == "" {
		switch c.Oracle.Provider {
		case "gemini":
			c.Oracle.Model = "gemini-2.5-flash"
		default:
			c.Oracle.Model = "claude-sonnet-4-20250514"
		}
	}
	if c.Oracle.MaxTurns == 0 {
		c.Oracle.MaxTurns = 40
	}
	if c.Oracle.MaxTokens == 0 {
		c.Oracle.MaxTokens = 8000
	}
	if c.Oracle.Timeout == 0 {
		c.Oracle.Timeout = 5 * time.Minute
	}
	if c.Notify.FromEmail == "" {
		c.Notify.FromEmail = "noreply@iiitdwd.ac.in"
	}
	if c.Notify.FromName == "" {
		c.Notify.FromName = "IIIT Administration"
	}
	if len(c.Notify.Providers) == 0 {
		c.Notify.Providers = []string{"sendgrid", "smtp"}
	}
	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = 30 * time.Second
	}
	if c.Notify.RatePerMinute == 0 {
		c.Notify.RatePerMinute = 60
	}
	if c.Notify.SMTP.Host == "" {
		c.Notify.SMTP.Host = "smtp.gmail.com"
	}
	if c.Notify.SMTP.Port == 0 {
		c.Notify.SMTP.Port = 465
	}
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = "sql"
	}
	if c.Ledger.MinIntervalHours == 0 {
		c.Ledger.MinIntervalHours = 48
	}
	if c.Ledger.GuardSends == nil {
		guard := true
		c.Ledger.GuardSends = &guard
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "nudge.db"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Name == "" {
		c.Database.Name = "nudge"
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "nudge"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Daemon.Schedule == "" {
		c.Daemon.Schedule = "0 9 * * *"
	}
}

// validate checks that all required fields are present and consistent.
// Delivery credentials are checked separately by RequireLiveDelivery since
// simulated runs do not need them.
func (c *Config) validate() error {
	var errs []string
	if strings.TrimSpace(c.Deadline) == "" {
		errs = append(errs, "deadline is required (PROFILE_COMPLETION_DEADLINE)")
	}
	switch c.Oracle.Provider {
	case "anthropic", "gemini":
		if c.Oracle.APIKey == "" {
			errs = append(errs, fmt.Sprintf("oracle.api_key is required for provider %q", c.Oracle.Provider))
		}
	default:
		errs = append(errs, fmt.Sprintf("oracle.provider %q is not supported", c.Oracle.Provider))
	}
	if c.Oracle.MaxTurns < 1 {
		errs = append(errs, "oracle.max_turns must be positive")
	}
	switch c.Source.Kind {
	case "csv":
		if c.Source.Path == "" {
			errs = append(errs, "source.path is required for csv sources")
		}
	case "sheets":
		if c.Source.SheetID == "" {
			errs = append(errs, "source.sheet_id is required for sheets sources")
		}
	default:
		errs = append(errs, fmt.Sprintf("source.kind %q is not supported", c.Source.Kind))
	}
	for i, p := range c.Notify.Providers {
		if !knownProvider(p) {
			errs = append(errs, fmt.Sprintf("notify.providers[%d] %q is not supported", i, p))
		}
	}
	switch c.Ledger.Backend {
	case "sql", "redis":
	default:
		errs = append(errs, fmt.Sprintf("ledger.backend %q is not supported", c.Ledger.Backend))
	}
	if c.Ledger.MinIntervalHours < 0 {
		errs = append(errs, "ledger.min_interval_hours must not be negative")
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}
	if len(errs) > 0 {
		return &ValidationError{Problems: errs}
	}
	return nil
}

func knownProvider(name string) bool {
	switch name {
	case "sendgrid", "smtp", "slack", "discord":
		return true
	}
	return false
}

// ProviderConfigured reports whether the named provider has complete
// credentials.
func (c *Config) ProviderConfigured(name string) bool {
	switch name {
	case "sendgrid":
		return c.Notify.SendGrid.APIKey != ""
	case "smtp":
		return c.Notify.SMTP.Username != "" && c.Notify.SMTP.Password != ""
	case "slack":
		return c.Notify.Slack.BotToken != ""
	case "discord":
		return c.Notify.Discord.BotToken != "" && c.Notify.Discord.ChannelID != ""
	}
	return false
}

// RequireLiveDelivery returns a ValidationError when no configured provider
// has complete credentials.
func (c *Config) RequireLiveDelivery() error {
	for _, p := range c.Notify.Providers {
		if c.ProviderConfigured(p) {
			return nil
		}
	}
	return &ValidationError{Problems: []string{
		"no delivery provider has complete credentials (set SENDGRID_API_KEY or GMAIL_ADDRESS/GMAIL_APP_PASSWORD)",
	}}
}

// GuardSendsEnabled reports whether send_email refuses recipients inside the
// minimum contact interval.
func (c *Config) GuardSendsEnabled() bool {
	return c.Ledger.GuardSends == nil || *c.Ledger.GuardSends
}
