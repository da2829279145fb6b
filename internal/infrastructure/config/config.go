// Package config implements the gateway's layered configuration loader.
//
// A deployment is rooted at a config directory containing one subdirectory
// per user, each holding its own config.yaml. Layering order (low to high
// priority): built-in defaults -> <configDir>/common.yaml (shared across
// users, optional) -> <configDir>/<user>/config.yaml -> environment
// variables prefixed GATEWAY_.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/axonrelay/gateway/internal/domain/neutral"
	"github.com/axonrelay/gateway/internal/domain/workflow"
)

// Config is the fully resolved configuration for one user's gateway instance.
type Config struct {
	Gateway  GatewayConfig `mapstructure:"gateway"`
	Log      LogConfig     `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`

	Endpoints map[string]neutral.EndpointConfig `mapstructure:"endpoints"`
	ApiTypes  map[string]neutral.ApiTypeConfig  `mapstructure:"api_types"`
	Presets   map[string]neutral.Preset         `mapstructure:"presets"`
	Workflows map[string]workflow.WorkflowDescriptor `mapstructure:"workflows"`

	// Policy carries the two global "add assistant markers" flags the
	// stream transformer and the backend handler's first-chunk buffer
	// both consult.
	Policy neutral.UserPolicy `mapstructure:"policy"`

	// CurrentUser names the account these shared workflows are listed
	// under ("<current_user>:<workflow>" model listing entries).
	CurrentUser string `mapstructure:"current_user"`

	// Defaults maps a frontend api kind (e.g. "openai_chat_completion") to
	// the workflow name that serves it absent an explicit override.
	Defaults map[string]string `mapstructure:"defaults"`

	// ListSharedWorkflows controls whether model-listing endpoints emit one
	// entry per workflow (`<user>:<workflow>`) or a single `<user>` entry.
	ListSharedWorkflows bool `mapstructure:"list_shared_workflows"`
}

// GatewayConfig is the HTTP listener configuration.
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // local, production
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig configures the workflow-node lock store.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite is the only supported type
	DSN  string `mapstructure:"dsn"`
}

// DefaultWorkflows resolves Defaults into the typed routing table the
// workflow engine expects, erroring on any frontend kind or workflow name
// that doesn't resolve against the loaded Workflows map.
func (c *Config) DefaultWorkflows() (map[neutral.FrontendAPIKind]workflow.WorkflowDescriptor, error) {
	out := make(map[neutral.FrontendAPIKind]workflow.WorkflowDescriptor, len(c.Defaults))
	for kind, workflowName := range c.Defaults {
		descriptor, ok := c.Workflows[workflowName]
		if !ok {
			return nil, fmt.Errorf("config: defaults.%s references unknown workflow %q", kind, workflowName)
		}
		out[neutral.FrontendAPIKind(kind)] = descriptor
	}
	return out, nil
}

// Load reads the configuration for one user under configDirectory, applying
// defaults, the shared common.yaml layer, the user's own config.yaml, and
// environment variable overrides, in that priority order.
func Load(configDirectory, user string) (*Config, error) {
	if configDirectory == "" {
		return nil, fmt.Errorf("config: config directory must not be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("config: user must not be empty")
	}

	v := viper.New()
	setDefaults(v)

	commonPath := filepath.Join(configDirectory, "common.yaml")
	if _, err := os.Stat(commonPath); err == nil {
		v.SetConfigFile(commonPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read common config: %w", err)
		}
	}

	userPath := filepath.Join(configDirectory, user, "config.yaml")
	userViper := viper.New()
	userViper.SetConfigFile(userPath)
	if err := userViper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read user %q config: %w", user, err)
	}
	if err := v.MergeConfigMap(userViper.AllSettings()); err != nil {
		return nil, fmt.Errorf("config: merge user config: %w", err)
	}

	v.SetEnvPrefix("GATEWAY")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 18789)
	v.SetDefault("gateway.mode", "local")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "gateway.db")

	v.SetDefault("list_shared_workflows", true)

	v.SetDefault("policy.add_user_assistant", false)
	v.SetDefault("policy.add_missing_assistant", false)
	v.SetDefault("current_user", "gateway")
}
