package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // NOTIFY_TIMEZONE must resolve in minimal images

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"production"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort    int    `envconfig:"HTTP_PORT" default:"8000"`

	// Slack (optional; without tokens the agent serves the status endpoints only)
	SlackBotToken string `envconfig:"SLACK_BOT_TOKEN"`
	SlackAppToken string `envconfig:"SLACK_APP_TOKEN"` // xapp- token for Socket Mode
	SlackCommand  string `envconfig:"SLACK_COMMAND" default:"/inactivity"`
	AdminUserIDs  string `envconfig:"ADMIN_USER_IDS"` // Comma-separated user IDs allowed to change policy besides workspace admins

	// Slash command flood control, per user
	CommandRateLimit  int           `envconfig:"COMMAND_RATE_LIMIT" default:"10"`
	CommandRateWindow time.Duration `envconfig:"COMMAND_RATE_WINDOW" default:"1m"`

	// Status server
	MgmtAuthMode string `envconfig:"MGMT_AUTH_MODE" default:"none"` // "none" or "api-key"
	MgmtAPIKey   string `envconfig:"MGMT_API_KEY"`

	// Storage, policy defaults and timezone
	Documents

	// Policy
	MinThresholdDays int  `envconfig:"MIN_THRESHOLD_DAYS" default:"1"`
	MaxThresholdDays int  `envconfig:"MAX_THRESHOLD_DAYS" default:"30"`
	WatchPolicy      bool `envconfig:"WATCH_POLICY" default:"true"`

	// Notification
	SendTimeout    time.Duration `envconfig:"SEND_TIMEOUT" default:"10s"`
	SendRatePerSec float64       `envconfig:"SEND_RATE_PER_SEC" default:"1"`

	// Keep-alive pinger
	HealthCheckURL string `envconfig:"HEALTH_CHECK_URL"`
	KeepAliveSpec  string `envconfig:"KEEPALIVE_SPEC" default:"*/3 * * * *"`

	// Caches and logs
	UserCacheSize int           `envconfig:"USER_CACHE_SIZE" default:"2048"`
	UserCacheTTL  time.Duration `envconfig:"USER_CACHE_TTL" default:"1h"`
	AuditCapacity int           `envconfig:"AUDIT_CAPACITY" default:"1000"`
}

// Documents locates and interprets the persisted policy and activity
// documents. The agent and inactivityctl share it.
type Documents struct {
	DataDir            string `envconfig:"DATA_DIR" default:"./data"`
	StorageDriver      string `envconfig:"STORAGE_DRIVER" default:"file"` // "file" or "sqlite"
	SQLitePath         string `envconfig:"SQLITE_PATH"`                  // defaults to DATA_DIR/agent.db
	PolicyDefaultsFile string `envconfig:"POLICY_DEFAULTS_FILE"`
	NotifyTimezone     string `envconfig:"NOTIFY_TIMEZONE" default:"Asia/Tokyo"`
}

// SlackEnabled returns true if Slack tokens are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// IsDevelopment reports whether console logging should be used.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// AdminUserList returns the parsed list of extra admin user IDs.
func (c *Config) AdminUserList() []string {
	if c.AdminUserIDs == "" {
		return nil
	}
	parts := strings.Split(c.AdminUserIDs, ",")
	ids := make([]string, 0, len(parts))
	for _, id := range parts {
		id = strings.TrimSpace(id)
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// SQLiteFile returns the database path, defaulting into DATA_DIR.
func (c *Documents) SQLiteFile() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(c.DataDir, "agent.db")
}

// Location loads NOTIFY_TIMEZONE.
func (c *Documents) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.NotifyTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid NOTIFY_TIMEZONE %q: %w", c.NotifyTimezone, err)
	}
	return loc, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	switch strings.ToLower(c.StorageDriver) {
	case "file", "sqlite":
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER %q, expected file or sqlite", c.StorageDriver)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.HTTPPort)
	}
	if c.MinThresholdDays < 1 {
		return fmt.Errorf("MIN_THRESHOLD_DAYS must be at least 1, got %d", c.MinThresholdDays)
	}
	if c.MaxThresholdDays < c.MinThresholdDays {
		return fmt.Errorf("MAX_THRESHOLD_DAYS (%d) is below MIN_THRESHOLD_DAYS (%d)", c.MaxThresholdDays, c.MinThresholdDays)
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("SEND_TIMEOUT must be positive")
	}
	switch c.MgmtAuthMode {
	case "none":
	case "api-key":
		if c.MgmtAPIKey == "" {
			return fmt.Errorf("MGMT_API_KEY is required when MGMT_AUTH_MODE=api-key")
		}
	default:
		return fmt.Errorf("invalid MGMT_AUTH_MODE %q, expected none or api-key", c.MgmtAuthMode)
	}
	if !strings.HasPrefix(c.SlackCommand, "/") {
		return fmt.Errorf("SLACK_COMMAND must start with '/', got %q", c.SlackCommand)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}

// LoadDocuments reads only the Documents settings, for tools that open the
// agent's storage without running it.
func LoadDocuments() (*Documents, error) {
	var docs Documents
	if err := envconfig.Process("", &docs); err != nil {
		return nil, fmt.Errorf("loading storage config: %w", err)
	}
	return &docs, nil
}
