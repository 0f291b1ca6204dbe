// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire service configuration. It is populated once at
// startup and treated as read-only afterwards.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Pool    PoolConfig    `mapstructure:"pool" yaml:"pool"`
	Task    TaskConfig    `mapstructure:"task" yaml:"task"`
	Report  ReportConfig  `mapstructure:"report" yaml:"report"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	// QueueDepth is how many tasks beyond pool capacity may wait for a
	// session before new requests are rejected as busy.
	QueueDepth      int           `mapstructure:"queue_depth" yaml:"queue_depth"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BrowserConfig holds settings for the headless browser processes.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	ExecPath        string   `mapstructure:"exec_path" yaml:"exec_path"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string `mapstructure:"args" yaml:"args"`
	// MaxProcesses bounds how many browser OS processes may run at once.
	MaxProcesses int `mapstructure:"max_processes" yaml:"max_processes"`
	// MaxSessionsPerProcess bounds isolated contexts per process.
	MaxSessionsPerProcess int           `mapstructure:"max_sessions_per_process" yaml:"max_sessions_per_process"`
	LaunchTimeout         time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
}

// Capacity is the total number of sessions the service can host.
func (b BrowserConfig) Capacity() int {
	return b.MaxProcesses * b.MaxSessionsPerProcess
}

// PoolConfig tunes session reuse and process health monitoring.
type PoolConfig struct {
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`
	// IdleExpiry bounds how long a session may sit idle before it is
	// discarded instead of reused.
	IdleExpiry    time.Duration `mapstructure:"idle_expiry" yaml:"idle_expiry"`
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	// LaunchFailureThreshold consecutive launch failures open the relaunch
	// breaker; LaunchCooldown is how long it stays open.
	LaunchFailureThreshold int           `mapstructure:"launch_failure_threshold" yaml:"launch_failure_threshold"`
	LaunchCooldown         time.Duration `mapstructure:"launch_cooldown" yaml:"launch_cooldown"`
	// LaunchesPerMinute paces relaunch attempts independently of the breaker.
	LaunchesPerMinute float64 `mapstructure:"launches_per_minute" yaml:"launches_per_minute"`
}

// TaskConfig bounds per-request execution.
type TaskConfig struct {
	DefaultDeadline time.Duration `mapstructure:"default_deadline" yaml:"default_deadline"`
	MaxDeadline     time.Duration `mapstructure:"max_deadline" yaml:"max_deadline"`
	// DefaultQuietPeriod is the post-load settle wait for the idle condition.
	DefaultQuietPeriod time.Duration `mapstructure:"default_quiet_period" yaml:"default_quiet_period"`
}

// ReportConfig configures optional forwarding of script results to a remote
// collector.
type ReportConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint"`
	AuthURL  string        `mapstructure:"auth_url" yaml:"auth_url"`
	Username string        `mapstructure:"username" yaml:"-"`
	Password string        `mapstructure:"password" yaml:"-"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "browserd")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.queue_depth", 16)
	v.SetDefault("server.shutdown_timeout", "30s")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.max_processes", 2)
	v.SetDefault("browser.max_sessions_per_process", 4)
	v.SetDefault("browser.launch_timeout", "30s")

	// -- Pool --
	v.SetDefault("pool.acquire_timeout", "15s")
	v.SetDefault("pool.idle_expiry", "5m")
	v.SetDefault("pool.probe_interval", "20s")
	v.SetDefault("pool.probe_timeout", "5s")
	v.SetDefault("pool.launch_failure_threshold", 3)
	v.SetDefault("pool.launch_cooldown", "1m")
	v.SetDefault("pool.launches_per_minute", 6.0)

	// -- Task --
	v.SetDefault("task.default_deadline", "30s")
	v.SetDefault("task.max_deadline", "2m")
	v.SetDefault("task.default_quiet_period", "1500ms")

	// -- Report --
	v.SetDefault("report.enabled", false)
	v.SetDefault("report.timeout", "10s")
}

// NewConfigFromViper creates a configuration instance from a viper object,
// binding sensitive values to environment variables.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.BindEnv("report.username", "BROWSERD_REPORT_USERNAME")
	v.BindEnv("report.password", "BROWSERD_REPORT_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewDefaultConfig returns a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; failure here is a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535]")
	}
	if c.Server.QueueDepth < 0 {
		return fmt.Errorf("server.queue_depth must not be negative")
	}
	if c.Browser.MaxProcesses <= 0 {
		return fmt.Errorf("browser.max_processes must be a positive integer")
	}
	if c.Browser.MaxSessionsPerProcess <= 0 {
		return fmt.Errorf("browser.max_sessions_per_process must be a positive integer")
	}
	if c.Pool.AcquireTimeout <= 0 {
		return fmt.Errorf("pool.acquire_timeout must be a positive duration")
	}
	if c.Pool.IdleExpiry <= 0 {
		return fmt.Errorf("pool.idle_expiry must be a positive duration")
	}
	if c.Pool.ProbeInterval <= 0 || c.Pool.ProbeTimeout <= 0 {
		return fmt.Errorf("pool.probe_interval and pool.probe_timeout must be positive durations")
	}
	if c.Task.DefaultDeadline <= 0 || c.Task.MaxDeadline <= 0 {
		return fmt.Errorf("task.default_deadline and task.max_deadline must be positive durations")
	}
	if c.Task.DefaultDeadline > c.Task.MaxDeadline {
		return fmt.Errorf("task.default_deadline must not exceed task.max_deadline")
	}
	if err := c.Report.Validate(); err != nil {
		return fmt.Errorf("report configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the report configuration.
func (r *ReportConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if r.Endpoint == "" {
		return fmt.Errorf("report.endpoint is required when reporting is enabled")
	}
	if r.AuthURL != "" && (r.Username == "" || r.Password == "") {
		return fmt.Errorf("report.username and report.password are required when report.auth_url is set (use BROWSERD_REPORT_USERNAME / BROWSERD_REPORT_PASSWORD)")
	}
	return nil
}
