// Package fileloader loads the configuration from a YAML file layered over
// defaults and DASTCTL_* environment variables.
package fileloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ahrav/dastctl/internal/config"
	"github.com/ahrav/dastctl/internal/domain/shared"
)

// EnvPrefix prefixes every environment override, e.g. DASTCTL_WEBINSPECT_URL.
const EnvPrefix = "DASTCTL"

var _ config.Loader = (*FileLoader)(nil)

// FileLoader loads configuration from a file on disk. An empty path searches
// the working directory and ~/.dastctl for dastctl.yaml and tolerates its
// absence; an explicit path must exist.
type FileLoader struct {
	path string
	home string
}

// NewFileLoader creates a new FileLoader for path.
func NewFileLoader(path string) *FileLoader {
	home, _ := os.UserHomeDir()
	return &FileLoader{path: path, home: home}
}

// Load reads and parses the configuration.
func (l *FileLoader) Load(ctx context.Context) (*config.Config, error) {
	const op = "load_config"

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, l.home)

	if l.path != "" {
		v.SetConfigFile(l.path)
	} else {
		v.SetConfigName("dastctl")
		v.AddConfigPath(".")
		if l.home != "" {
			v.AddConfigPath(filepath.Join(l.home, ".dastctl"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.path != "" || !errors.As(err, &notFound) {
			return nil, shared.ConfigurationError(op, fmt.Errorf("failed to read config file: %w", err))
		}
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, shared.ConfigurationError(op, fmt.Errorf("failed to parse config: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that the
// file does not mention.
func setDefaults(v *viper.Viper, home string) {
	credentials := ""
	if home != "" {
		credentials = filepath.Join(home, ".dastctl", "credentials.yaml")
	}

	v.SetDefault("webinspect.url", "")
	v.SetDefault("webinspect.servers", map[string]string{})
	v.SetDefault("webinspect.settings_dir", "settings")
	v.SetDefault("webinspect.policies_dir", "policies")
	v.SetDefault("webinspect.webmacros_dir", "webmacros")
	v.SetDefault("webinspect.export_dir", ".")
	v.SetDefault("webinspect.poll_interval", 30*time.Second)
	v.SetDefault("webinspect.requests_per_second", 0)
	v.SetDefault("webinspect.burst", 1)

	v.SetDefault("fortify.url", "")
	v.SetDefault("fortify.application", "")
	v.SetDefault("fortify.project_template", "")
	v.SetDefault("fortify.credentials_file", credentials)
	v.SetDefault("fortify.username", "")
	v.SetDefault("fortify.password", "")

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout", 10*time.Second)
	v.SetDefault("notify.kafka.brokers", []string{})
	v.SetDefault("notify.kafka.topic", "")
	v.SetDefault("notify.kafka.client_id", "dastctl")
	v.SetDefault("notify.kafka.encoding", "json")
	v.SetDefault("notify.kafka.connect_timeout", time.Minute)

	v.SetDefault("git.token", "")

	v.SetDefault("agent.url", "")
	v.SetDefault("agent.timeout", 30*time.Second)

	v.SetDefault("output.issues_dir", ".")
	v.SetDefault("output.agent_info_file", "agent_info.json")

	v.SetDefault("log.level", "info")

	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.service_name", "dastctl")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.insecure", false)
}
