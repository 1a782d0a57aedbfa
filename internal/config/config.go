package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the meshmon daemon configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Failover  FailoverConfig  `mapstructure:"failover"`
	Advisor   AdvisorConfig   `mapstructure:"advisor"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Provision ProvisionConfig `mapstructure:"provision"`
	History   HistoryConfig   `mapstructure:"history"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig configures the operator HTTP API.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects the node/event store backend.
type StorageConfig struct {
	// Mode is "memory" or "postgres".
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig configures the PostgreSQL store.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ProbeConfig bounds outbound health probes.
type ProbeConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	ManualTimeout time.Duration `mapstructure:"manual_timeout"`
}

// MonitorConfig tunes the health aggregation loop.
type MonitorConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	LatencyWarningMs float64       `mapstructure:"latency_warning_ms"`
	HealthyWeight    float64       `mapstructure:"healthy_weight"`
	LatencyWeight    float64       `mapstructure:"latency_weight"`
}

// FailoverConfig tunes the decision engine.
type FailoverConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	LatencyWindow time.Duration `mapstructure:"latency_window"`
	GracePeriod   time.Duration `mapstructure:"grace_period"`
}

// AdvisorConfig locates the provider cost table.
type AdvisorConfig struct {
	CostTablePath string  `mapstructure:"cost_table_path"`
	MarginMs      float64 `mapstructure:"margin_ms"`
}

// NotifyConfig configures the outbound notification webhook.
type NotifyConfig struct {
	WebhookURL      string        `mapstructure:"webhook_url"`
	Secret          string        `mapstructure:"secret"`
	Timeout         time.Duration `mapstructure:"timeout"`
	EventsPerMinute int           `mapstructure:"events_per_minute"`
	Burst           int           `mapstructure:"burst"`
}

// ProvisionConfig configures the replacement-node capability hook.
type ProvisionConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Secret     string        `mapstructure:"secret"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// HistoryConfig tunes health-sample retention.
type HistoryConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

// DefaultConfig returns a configuration with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			// Must exceed probe.manual_timeout so a manual node test that
			// runs the probe to its full deadline can still write a response.
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Mode: "memory",
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "meshmon",
			User:            "meshmon",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Probe: ProbeConfig{
			Timeout:       10 * time.Second,
			ManualTimeout: 15 * time.Second,
		},
		Monitor: MonitorConfig{
			Interval:         30 * time.Second,
			FailureThreshold: 3,
			LatencyWarningMs: 150,
			HealthyWeight:    0.7,
			LatencyWeight:    0.3,
		},
		Failover: FailoverConfig{
			Enabled:       true,
			LatencyWindow: 30 * time.Second,
			GracePeriod:   90 * time.Second,
		},
		Advisor: AdvisorConfig{
			CostTablePath: "configs/costs.yaml",
			MarginMs:      25,
		},
		Notify: NotifyConfig{
			Timeout:         10 * time.Second,
			EventsPerMinute: 30,
			Burst:           10,
		},
		Provision: ProvisionConfig{
			Timeout: 15 * time.Second,
		},
		History: HistoryConfig{
			Retention:     24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Environment: "production",
		},
	}
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	switch c.Storage.Mode {
	case "memory":
	case "postgres":
		if c.Database.Host == "" {
			return errors.New("database.host is required for postgres storage")
		}
		if c.Database.Database == "" {
			return errors.New("database.database is required for postgres storage")
		}
		if c.Database.User == "" {
			return errors.New("database.user is required for postgres storage")
		}
	default:
		return fmt.Errorf("storage.mode must be memory or postgres, got %q", c.Storage.Mode)
	}
	if c.Probe.Timeout <= 0 {
		return errors.New("probe.timeout must be positive")
	}
	if c.Probe.ManualTimeout <= 0 {
		return errors.New("probe.manual_timeout must be positive")
	}
	if c.Monitor.Interval <= 0 {
		return errors.New("monitor.interval must be positive")
	}
	if c.Monitor.FailureThreshold <= 0 {
		return errors.New("monitor.failure_threshold must be positive")
	}
	if c.Monitor.LatencyWarningMs <= 0 {
		return errors.New("monitor.latency_warning_ms must be positive")
	}
	if c.Monitor.HealthyWeight < 0 || c.Monitor.LatencyWeight < 0 {
		return errors.New("monitor weights must not be negative")
	}
	if c.Monitor.HealthyWeight+c.Monitor.LatencyWeight <= 0 {
		return errors.New("monitor weights must not both be zero")
	}
	if c.Failover.LatencyWindow <= 0 {
		return errors.New("failover.latency_window must be positive")
	}
	if c.Failover.GracePeriod <= 0 {
		return errors.New("failover.grace_period must be positive")
	}
	if c.Advisor.MarginMs < 0 {
		return errors.New("advisor.margin_ms must not be negative")
	}
	if c.Provision.Enabled && c.Provision.WebhookURL == "" {
		return errors.New("provision.webhook_url is required when provisioning is enabled")
	}
	if c.History.Retention <= 0 {
		return errors.New("history.retention must be positive")
	}
	return nil
}
