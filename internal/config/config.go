package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// ErrConfigMissing is returned when a required setting is absent.
// The agent must not start its loop when this error is reported.
var ErrConfigMissing = errors.New("required setting missing")

// Config represents the complete agent configuration
type Config struct {
	Credential   string             `mapstructure:"credential"`
	Endpoint     string             `mapstructure:"endpoint"`
	Interval     int                `mapstructure:"interval"` // seconds
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Delivery     DeliveryConfig     `mapstructure:"delivery"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Verification VerificationConfig `mapstructure:"verification"`
	Control      ControlConfig      `mapstructure:"control"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// MetricsConfig selects and tunes the metrics provider
type MetricsConfig struct {
	Source         string        `mapstructure:"source"` // "builtin" or "exporter"
	ExporterURL    string        `mapstructure:"exporter_url"`
	CaptureDisplay bool          `mapstructure:"capture_display"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// DeliveryConfig controls how payloads are posted
type DeliveryConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	Encoding string        `mapstructure:"encoding"` // "json" or "form"
}

// LedgerConfig locates the persisted ledger
type LedgerConfig struct {
	Backend         string        `mapstructure:"backend"` // "file" or "sqlite"
	Path            string        `mapstructure:"path"`
	CompactInterval time.Duration `mapstructure:"compact_interval"`
}

// VerificationConfig controls the services/tasks verification job
type VerificationConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// ControlConfig configures the optional NATS control plane
type ControlConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URLs          []string      `mapstructure:"urls"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Auth          AuthConfig    `mapstructure:"auth"`
	TLS           TLSConfig     `mapstructure:"tls"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
}

// AuthConfig holds NATS authentication settings
type AuthConfig struct {
	Type      string `mapstructure:"type"` // "creds", "token", "userpass", "none"
	CredsFile string `mapstructure:"creds_file"`
	Token     string `mapstructure:"token"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// TLSConfig holds TLS settings for the NATS connection
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	CAFile             string `mapstructure:"ca_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// IntervalDuration returns the polling interval as a time.Duration
func (c *Config) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// Load reads configuration from configPath (optional), a .env file in the
// working directory, and the environment.
func Load(configPath string) (*Config, error) {
	return LoadWithEnvFile(configPath, ".env")
}

// LoadWithEnvFile is Load with an explicit dotenv file location.
// Variables already present in the environment are never overridden by the file.
func LoadWithEnvFile(configPath, envFile string) (*Config, error) {
	if envFile != "" {
		if err := gotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// The config file is optional: environment-only deployments are supported
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("credential", "")
	v.SetDefault("endpoint", "")
	v.SetDefault("interval", 0)

	v.SetDefault("metrics.source", "builtin")
	v.SetDefault("metrics.capture_display", true)
	v.SetDefault("metrics.timeout", 30*time.Second)

	v.SetDefault("delivery.timeout", 30*time.Second)
	v.SetDefault("delivery.encoding", "json")

	v.SetDefault("ledger.backend", "file")
	v.SetDefault("ledger.compact_interval", 24*time.Hour)

	v.SetDefault("verification.enabled", false)
	v.SetDefault("verification.interval", 5*time.Minute)

	v.SetDefault("control.enabled", false)
	v.SetDefault("control.urls", []string{"nats://localhost:4222"})
	v.SetDefault("control.subject_prefix", "agents")
	v.SetDefault("control.auth.type", "none")
	v.SetDefault("control.max_reconnects", -1)
	v.SetDefault("control.reconnect_wait", 2*time.Second)
	v.SetDefault("control.drain_timeout", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)

	UpdateConfigDefaults(v)
}

// bindEnv maps AGENT_* variables onto config keys and keeps the legacy
// variable names used by existing deployments working.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// BindEnv only fails when called without a key
	_ = v.BindEnv("credential", "AGENT_CREDENTIAL", "API_KEY", "PASSWORD")
	_ = v.BindEnv("endpoint", "AGENT_ENDPOINT", "API_URL")
	_ = v.BindEnv("interval", "AGENT_INTERVAL", "INTERVAL")
}

// validate checks the configuration for required fields and sane values
func validate(cfg *Config) error {
	if cfg.Credential == "" {
		return fmt.Errorf("%w: credential (set AGENT_CREDENTIAL or API_KEY)", ErrConfigMissing)
	}
	if cfg.Endpoint == "" {
		return fmt.Errorf("%w: endpoint (set AGENT_ENDPOINT or API_URL)", ErrConfigMissing)
	}
	if err := validateEndpoint(cfg.Endpoint); err != nil {
		return err
	}
	if cfg.Interval == 0 {
		return fmt.Errorf("%w: interval (set AGENT_INTERVAL or INTERVAL)", ErrConfigMissing)
	}
	if cfg.Interval < 0 {
		return fmt.Errorf("interval must be a positive number of seconds, got %d", cfg.Interval)
	}

	switch strings.ToLower(cfg.Metrics.Source) {
	case "", "builtin":
	case "exporter":
		if cfg.Metrics.ExporterURL == "" {
			return fmt.Errorf("metrics.exporter_url is required when metrics.source is exporter")
		}
	default:
		return fmt.Errorf("invalid metrics source: %s (must be builtin or exporter)", cfg.Metrics.Source)
	}
	if cfg.Metrics.Timeout < time.Second {
		return fmt.Errorf("metrics timeout must be at least 1 second")
	}

	if cfg.Delivery.Timeout < time.Second {
		return fmt.Errorf("delivery timeout must be at least 1 second")
	}
	if cfg.Delivery.Timeout > 5*time.Minute {
		return fmt.Errorf("delivery timeout must not exceed 5 minutes")
	}
	switch cfg.Delivery.Encoding {
	case "json", "form":
	default:
		return fmt.Errorf("invalid delivery encoding: %s (must be json or form)", cfg.Delivery.Encoding)
	}

	switch cfg.Ledger.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("invalid ledger backend: %s (must be file or sqlite)", cfg.Ledger.Backend)
	}
	if cfg.Ledger.Path == "" {
		return fmt.Errorf("ledger.path is required")
	}
	if cfg.Ledger.CompactInterval < time.Minute {
		return fmt.Errorf("ledger compact interval must be at least 1 minute")
	}

	if cfg.Verification.Enabled && cfg.Verification.Interval < 10*time.Second {
		return fmt.Errorf("verification interval must be at least 10 seconds")
	}

	if cfg.Control.Enabled {
		if err := validateControl(&cfg.Control); err != nil {
			return err
		}
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	return nil
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint must use http or https (got: %s)", endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint has no host: %s", endpoint)
	}
	return nil
}

func validateControl(c *ControlConfig) error {
	if len(c.URLs) == 0 {
		return fmt.Errorf("at least one control URL is required")
	}
	if err := validateSubjectPrefix(c.SubjectPrefix); err != nil {
		return err
	}

	switch c.Auth.Type {
	case "none":
	case "creds":
		if c.Auth.CredsFile == "" {
			return fmt.Errorf("creds_file is required for creds auth")
		}
	case "token":
		if c.Auth.Token == "" {
			return fmt.Errorf("token is required for token auth")
		}
	case "userpass":
		if c.Auth.Username == "" || c.Auth.Password == "" {
			return fmt.Errorf("username and password are required for userpass auth")
		}
	default:
		return fmt.Errorf("invalid auth type: %s", c.Auth.Type)
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile != "" && c.TLS.KeyFile == "" {
			return fmt.Errorf("key_file is required when cert_file is set")
		}
		if c.TLS.KeyFile != "" && c.TLS.CertFile == "" {
			return fmt.Errorf("cert_file is required when key_file is set")
		}
		if c.TLS.CertFile != "" {
			if _, err := os.Stat(c.TLS.CertFile); err != nil {
				return fmt.Errorf("certificate file not found: %s", c.TLS.CertFile)
			}
		}
		if c.TLS.KeyFile != "" {
			if _, err := os.Stat(c.TLS.KeyFile); err != nil {
				return fmt.Errorf("key file not found: %s", c.TLS.KeyFile)
			}
		}
		if c.TLS.CAFile != "" {
			if _, err := os.Stat(c.TLS.CAFile); err != nil {
				return fmt.Errorf("CA file not found: %s", c.TLS.CAFile)
			}
		}
	}

	return nil
}

var subjectTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// validateSubjectPrefix checks a NATS subject prefix such as "region.prod.agents"
func validateSubjectPrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("subject_prefix is required")
	}
	if len(prefix) > 50 {
		return fmt.Errorf("subject_prefix must not exceed 50 characters")
	}
	if strings.HasPrefix(prefix, ".") || strings.HasSuffix(prefix, ".") {
		return fmt.Errorf("subject_prefix cannot start or end with a dot")
	}
	if strings.Contains(prefix, "..") {
		return fmt.Errorf("subject_prefix: consecutive dots not allowed")
	}
	for _, token := range strings.Split(prefix, ".") {
		if !subjectTokenPattern.MatchString(token) {
			return fmt.Errorf("subject_prefix token %q contains invalid characters", token)
		}
	}
	return nil
}
