package config

// EnvStatus reports which settings are present in the effective
// configuration, named by the environment variables that can supply them.
type EnvStatus struct {
	Configured []string `json:"configured"`
	Optional   []string `json:"optional"`
	Missing    []string `json:"missing"`
	Providers  []string `json:"providers"`
	Status     string   `json:"status"` // "ready" or "incomplete"
}

type setting struct {
	name    string
	present func(*Config) bool
}

func (c *Config) oracleKeyName() string {
	if c.Oracle.Provider == "gemini" {
		return "GEMINI_API_KEY"
	}
	return "ANTHROPIC_API_KEY"
}

var optionalSettings = []setting{
	{"EXCEL_FILE_PATH", func(c *Config) bool { return c.Source.Path != "" }},
	{"GOOGLE_SHEET_ID", func(c *Config) bool { return c.Source.SheetID != "" }},
	{"FROM_EMAIL", func(c *Config) bool { return c.Notify.FromEmail != "" }},
	{"FROM_NAME", func(c *Config) bool { return c.Notify.FromName != "" }},
	{"SUPPORT_EMAIL", func(c *Config) bool { return c.SupportEmail != "" }},
	{"GMAIL_ADDRESS", func(c *Config) bool { return c.Notify.SMTP.Username != "" }},
	{"SLACK_BOT_TOKEN", func(c *Config) bool { return c.Notify.Slack.BotToken != "" }},
	{"DISCORD_BOT_TOKEN", func(c *Config) bool { return c.Notify.Discord.BotToken != "" }},
}

// Status summarises readiness for a live run. Secrets are reported by
// name only.
func (c *Config) Status() EnvStatus {
	required := []setting{
		{c.oracleKeyName(), func(c *Config) bool { return c.Oracle.APIKey != "" }},
		{"SENDGRID_API_KEY or GMAIL_APP_PASSWORD", func(c *Config) bool { return c.RequireLiveDelivery() == nil }},
		{"GOOGLE_FORM_URL", func(c *Config) bool { return c.FormURL != "" }},
		{"PROFILE_COMPLETION_DEADLINE", func(c *Config) bool { return c.Deadline != "" }},
	}
	st := EnvStatus{
		Configured: []string{},
		Optional:   []string{},
		Missing:    []string{},
		Providers:  []string{},
	}
	for _, s := range required {
		if s.present(c) {
			st.Configured = append(st.Configured, s.name)
		} else {
			st.Missing = append(st.Missing, s.name)
		}
	}
	for _, s := range optionalSettings {
		if s.present(c) {
			st.Optional = append(st.Optional, s.name)
		}
	}
	for _, p := range c.Notify.Providers {
		if c.ProviderConfigured(p) {
			st.Providers = append(st.Providers, p)
		}
	}
	st.Status = "ready"
	if len(st.Missing) > 0 {
		st.Status = "incomplete"
	}
	return st
}
