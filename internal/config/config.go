// Package config defines the settings a dastctl invocation runs with.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ahrav/dastctl/internal/domain/shared"
)

// Config represents the top-level configuration.
type Config struct {
	WebInspect WebInspectConfig `mapstructure:"webinspect" yaml:"webinspect"`
	Fortify    FortifyConfig    `mapstructure:"fortify" yaml:"fortify"`
	Notify     NotifyConfig     `mapstructure:"notify" yaml:"notify"`
	Git        GitConfig        `mapstructure:"git" yaml:"git"`
	Agent      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry" yaml:"telemetry"`
}

// WebInspectConfig describes the scanner service and the local artifacts
// uploaded to it.
type WebInspectConfig struct {
	// URL is the scanner used when a scan names no size.
	URL string `mapstructure:"url" yaml:"url"`
	// Servers maps a scanner size ("medium", "large") to its base URL.
	Servers map[string]string `mapstructure:"servers" yaml:"servers,omitempty"`

	SettingsDir  string `mapstructure:"settings_dir" yaml:"settings_dir"`
	PoliciesDir  string `mapstructure:"policies_dir" yaml:"policies_dir"`
	WebmacrosDir string `mapstructure:"webmacros_dir" yaml:"webmacros_dir"`
	ExportDir    string `mapstructure:"export_dir" yaml:"export_dir"`

	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`

	// RequestsPerSecond caps calls to the scanner. Zero disables the limit.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// ScannerURL returns the base URL of the scanner pool for size.
func (c WebInspectConfig) ScannerURL(size string) (string, error) {
	const op = "scanner_url"
	if size != "" {
		if u, ok := c.Servers[size]; ok && u != "" {
			return u, nil
		}
		if len(c.Servers) > 0 {
			return "", shared.ConfigurationError(op, fmt.Errorf("no scanner configured for size %q", size))
		}
	}
	if c.URL == "" {
		return "", shared.ConfigurationError(op, errors.New("webinspect.url is not set"))
	}
	return c.URL, nil
}

// FortifyConfig describes the vulnerability-management service.
type FortifyConfig struct {
	URL             string `mapstructure:"url" yaml:"url"`
	Application     string `mapstructure:"application" yaml:"application"`
	ProjectTemplate string `mapstructure:"project_template" yaml:"project_template"`
	// CredentialsFile caches the session token between invocations.
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
	// Username and Password, when both set, are used instead of prompting.
	Username string `mapstructure:"username" yaml:"username,omitempty"`
	Password string `mapstructure:"password" yaml:"-"`
}

// NotifyConfig selects the lifecycle notification sinks.
type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url" yaml:"webhook_url,omitempty"`
	Kafka      KafkaConfig   `mapstructure:"kafka" yaml:"kafka,omitempty"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// KafkaConfig configures the Kafka sink. It is disabled without brokers.
type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers" yaml:"brokers,omitempty"`
	Topic          string        `mapstructure:"topic" yaml:"topic,omitempty"`
	ClientID       string        `mapstructure:"client_id" yaml:"client_id,omitempty"`
	Encoding       string        `mapstructure:"encoding" yaml:"encoding,omitempty"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout,omitempty"`
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// GitConfig configures access to the GitHub API used to find contributors.
type GitConfig struct {
	// Token is sent as a bearer token when set. Public repositories work
	// without one at a lower rate limit.
	Token string `mapstructure:"token" yaml:"-"`
}

// AgentConfig locates the build agent that consumes the agent info file.
type AgentConfig struct {
	URL     string        `mapstructure:"url" yaml:"url,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// OutputConfig locates files written on the local machine.
type OutputConfig struct {
	IssuesDir     string `mapstructure:"issues_dir" yaml:"issues_dir"`
	AgentInfoFile string `mapstructure:"agent_info_file" yaml:"agent_info_file"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// TelemetryConfig configures trace and metric export. Export is off when
// Endpoint is empty.
type TelemetryConfig struct {
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	const op = "validate_config"
	for name, raw := range map[string]string{
		"webinspect.url":     c.WebInspect.URL,
		"fortify.url":        c.Fortify.URL,
		"notify.webhook_url": c.Notify.WebhookURL,
		"agent.url":          c.Agent.URL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return shared.ConfigurationError(op, fmt.Errorf("%s: invalid url %q", name, raw))
		}
	}
	if c.WebInspect.PollInterval <= 0 {
		return shared.ConfigurationError(op, errors.New("webinspect.poll_interval must be positive"))
	}
	if c.WebInspect.RequestsPerSecond < 0 {
		return shared.ConfigurationError(op, errors.New("webinspect.requests_per_second must not be negative"))
	}
	if c.Notify.Kafka.Enabled() && c.Notify.Kafka.Topic == "" {
		return shared.ConfigurationError(op, errors.New("notify.kafka.topic is required with brokers"))
	}
	if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
		return shared.ConfigurationError(op, fmt.Errorf("telemetry.sample_ratio %v out of range", r))
	}
	return nil
}
