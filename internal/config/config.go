package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/leave-approval/internal/application/activity"
	"github.com/garyjia/leave-approval/internal/domain/leave"
)

// EnvPrefix prefixes every environment override, e.g. LEAVE_SERVER_PORT
const EnvPrefix = "LEAVE"

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Activity ActivityConfig `mapstructure:"activity"`
	Notifier NotifierConfig `mapstructure:"notifier"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects and tunes the event log store
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or memory
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// WorkflowConfig holds the timing injected into every new instance plus retention
type WorkflowConfig struct {
	ReminderInterval time.Duration `mapstructure:"reminder_interval"`
	ApprovalTimeout  time.Duration `mapstructure:"approval_timeout"`
	TaskQueue        string        `mapstructure:"task_queue"`
	Retention        time.Duration `mapstructure:"retention"`
	ArchiveInterval  time.Duration `mapstructure:"archive_interval"`
}

// Timing returns the schedule injected into new instances
func (w WorkflowConfig) Timing() leave.Timing {
	return leave.Timing{
		ReminderInterval: w.ReminderInterval,
		ApprovalTimeout:  w.ApprovalTimeout,
		TaskQueue:        w.TaskQueue,
	}
}

// ActivityConfig holds the notification retry policy. MaxAttempts 0 means the
// approval timeout is the only bound.
type ActivityConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	MaxAttempts    uint64        `mapstructure:"max_attempts"`
}

// Policy returns the invoker retry policy
func (a ActivityConfig) Policy() activity.Policy {
	return activity.Policy{
		InitialBackoff: a.InitialBackoff,
		MaxBackoff:     a.MaxBackoff,
		MaxAttempts:    a.MaxAttempts,
	}
}

// NotifierConfig selects the notification channel
type NotifierConfig struct {
	Driver string     `mapstructure:"driver"` // log or lark
	Lark   LarkConfig `mapstructure:"lark"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	BaseURL   string `mapstructure:"base_url"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// TracingConfig controls the OpenTelemetry exporter
type TracingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	OutputPath string `mapstructure:"output_path"`
}

// Load reads .env (if present), then the YAML file at configPath (optional when
// empty), then LEAVE_* environment overrides, and validates the result.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/leave.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 0)

	// Workflow defaults
	v.SetDefault("workflow.reminder_interval", 24*time.Hour)
	v.SetDefault("workflow.approval_timeout", 72*time.Hour)
	v.SetDefault("workflow.task_queue", "leave-request-queue")
	v.SetDefault("workflow.retention", 30*24*time.Hour)
	v.SetDefault("workflow.archive_interval", time.Hour)

	// Activity defaults
	v.SetDefault("activity.initial_backoff", time.Second)
	v.SetDefault("activity.max_backoff", 5*time.Minute)
	v.SetDefault("activity.max_attempts", 0)

	// Notifier defaults
	v.SetDefault("notifier.driver", "log")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
}

// bindEnvVars binds secrets to their conventional unprefixed names as well
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string][]string{
		"notifier.lark.app_id":     {"LEAVE_NOTIFIER_LARK_APP_ID", "LARK_APP_ID"},
		"notifier.lark.app_secret": {"LEAVE_NOTIFIER_LARK_APP_SECRET", "LARK_APP_SECRET"},
		"server.port":              {"LEAVE_SERVER_PORT", "PORT"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be sqlite or memory, got %q", c.Database.Driver)
	}

	w := c.Workflow
	if w.ReminderInterval <= 0 {
		return fmt.Errorf("workflow.reminder_interval must be positive")
	}
	if w.ApprovalTimeout <= 0 {
		return fmt.Errorf("workflow.approval_timeout must be positive")
	}
	if w.ReminderInterval > w.ApprovalTimeout {
		return fmt.Errorf("workflow.reminder_interval (%s) must not exceed workflow.approval_timeout (%s)",
			w.ReminderInterval, w.ApprovalTimeout)
	}
	if w.TaskQueue == "" {
		return fmt.Errorf("workflow.task_queue is required")
	}
	if w.Retention <= 0 {
		return fmt.Errorf("workflow.retention must be positive")
	}
	if w.ArchiveInterval <= 0 {
		return fmt.Errorf("workflow.archive_interval must be positive")
	}

	if c.Activity.InitialBackoff <= 0 || c.Activity.MaxBackoff <= 0 {
		return fmt.Errorf("activity backoffs must be positive")
	}
	if c.Activity.InitialBackoff > c.Activity.MaxBackoff {
		return fmt.Errorf("activity.initial_backoff must not exceed activity.max_backoff")
	}

	switch c.Notifier.Driver {
	case "log":
	case "lark":
		if c.Notifier.Lark.AppID == "" {
			return fmt.Errorf("notifier.lark.app_id is required")
		}
		if c.Notifier.Lark.AppSecret == "" {
			return fmt.Errorf("notifier.lark.app_secret is required")
		}
	default:
		return fmt.Errorf("notifier.driver must be log or lark, got %q", c.Notifier.Driver)
	}

	return nil
}
