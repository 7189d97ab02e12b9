// ABOUTME: Configuration loading and parsing for almanac
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete almanac configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Tailscale    TailscaleConfig    `yaml:"tailscale"`
	Database     DatabaseConfig     `yaml:"database"`
	NLP          NLPConfig          `yaml:"nlp"`
	Conversation ConversationConfig `yaml:"conversation"`
	Frontends    FrontendsConfig    `yaml:"frontends"`
	OAuth        OAuthConfig        `yaml:"oauth"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	// BaseURL is the external URL settings links are built from.
	// If not set, it's derived from http_addr or the tailscale hostname.
	BaseURL string `yaml:"base_url"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // Serve TLS with Tailscale certs on :443
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// NLPConfig holds intent classification configuration. An empty wit_token
// selects the offline keyword classifier.
type NLPConfig struct {
	WitToken string `yaml:"wit_token"`
}

// ConversationConfig holds conversation timing configuration. Zero values
// mean wait forever.
type ConversationConfig struct {
	ReplyTimeout    time.Duration `yaml:"-"`
	SettingsTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ReplyTimeoutRaw    string `yaml:"reply_timeout"`
	SettingsTimeoutRaw string `yaml:"settings_timeout"`
}

// FrontendsConfig holds configuration for all frontend integrations
type FrontendsConfig struct {
	Terminal TerminalConfig `yaml:"terminal"`
	Slack    SlackConfig    `yaml:"slack"`
	Matrix   MatrixConfig   `yaml:"matrix"`
	Webchat  WebchatConfig  `yaml:"webchat"`
}

// TerminalConfig holds the local terminal frontend configuration
type TerminalConfig struct {
	Enabled bool   `yaml:"enabled"`
	User    string `yaml:"user"`
}

// SlackConfig holds Slack Events API integration configuration
type SlackConfig struct {
	Enabled         bool     `yaml:"enabled"`
	SigningSecret   string   `yaml:"signing_secret"`
	BotToken        string   `yaml:"bot_token"`
	AllowedChannels []string `yaml:"allowed_channels"`
}

// MatrixConfig holds Matrix integration configuration
type MatrixConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Homeserver   string   `yaml:"homeserver"`
	UserID       string   `yaml:"user_id"`
	AccessToken  string   `yaml:"access_token"`
	RecoveryKey  string   `yaml:"recovery_key"`
	DataDir      string   `yaml:"data_dir"`
	AllowedRooms []string `yaml:"allowed_rooms"`
}

// WebchatConfig holds the browser chat frontend configuration
type WebchatConfig struct {
	Enabled bool `yaml:"enabled"`
}

// OAuthConfig holds OAuth client configuration for calendar providers
type OAuthConfig struct {
	Office OfficeOAuthConfig `yaml:"office"`
}

// OfficeOAuthConfig holds the Microsoft identity platform client used to
// pre-fill the settings form with a Graph token. Leaving client_id empty
// disables the flow; users then paste a token by hand.
type OfficeOAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Tenant       string `yaml:"tenant"`
	StateSecret  string `yaml:"state_secret"`
}

// Configured reports whether the OAuth flow can be offered.
func (c OfficeOAuthConfig) Configured() bool {
	return c.ClientID != ""
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale provides the listener
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Frontends.Slack.Enabled {
		if c.Frontends.Slack.SigningSecret == "" {
			return fmt.Errorf("frontends.slack.signing_secret is required when slack is enabled")
		}
		if c.Frontends.Slack.BotToken == "" {
			return fmt.Errorf("frontends.slack.bot_token is required when slack is enabled")
		}
	}

	if c.Frontends.Matrix.Enabled {
		if c.Frontends.Matrix.Homeserver == "" {
			return fmt.Errorf("frontends.matrix.homeserver is required when matrix is enabled")
		}
		if c.Frontends.Matrix.UserID == "" {
			return fmt.Errorf("frontends.matrix.user_id is required when matrix is enabled")
		}
		if c.Frontends.Matrix.AccessToken == "" {
			return fmt.Errorf("frontends.matrix.access_token is required when matrix is enabled")
		}
	}

	if c.OAuth.Office.Configured() {
		if c.OAuth.Office.ClientSecret == "" {
			return fmt.Errorf("oauth.office.client_secret is required when client_id is set")
		}
		if c.OAuth.Office.StateSecret == "" {
			return fmt.Errorf("oauth.office.state_secret is required when client_id is set")
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Conversation.ReplyTimeoutRaw != "" {
		cfg.Conversation.ReplyTimeout, err = time.ParseDuration(cfg.Conversation.ReplyTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing reply_timeout %q: %w", cfg.Conversation.ReplyTimeoutRaw, err)
		}
	}

	if cfg.Conversation.SettingsTimeoutRaw != "" {
		cfg.Conversation.SettingsTimeout, err = time.ParseDuration(cfg.Conversation.SettingsTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing settings_timeout %q: %w", cfg.Conversation.SettingsTimeoutRaw, err)
		}
	}

	return nil
}
