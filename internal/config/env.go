package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnvironmentOverrides applies environment variables on top of file
// values. Environment takes precedence so deployments can keep secrets and
// per-host settings out of the config file.
func applyEnvironmentOverrides(cfg *Config) {
	if host := os.Getenv("MESHMON_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("MESHMON_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if mode := os.Getenv("MESHMON_STORAGE_MODE"); mode != "" {
		cfg.Storage.Mode = mode
	}

	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DATABASE_PORT"); dbPort != "" {
		if p, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = p
		}
	}
	if dbName := os.Getenv("DATABASE_NAME"); dbName != "" {
		cfg.Database.Database = dbName
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPassword := os.Getenv("DATABASE_PASSWORD"); dbPassword != "" {
		cfg.Database.Password = dbPassword
	}
	if sslMode := os.Getenv("DATABASE_SSL_MODE"); sslMode != "" {
		cfg.Database.SSLMode = sslMode
	}

	if interval := os.Getenv("MESHMON_MONITOR_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Monitor.Interval = d
		}
	}

	if url := os.Getenv("MESHMON_NOTIFY_WEBHOOK_URL"); url != "" {
		cfg.Notify.WebhookURL = url
	}
	if secret := os.Getenv("MESHMON_NOTIFY_SECRET"); secret != "" {
		cfg.Notify.Secret = secret
	}
	if url := os.Getenv("MESHMON_PROVISION_WEBHOOK_URL"); url != "" {
		cfg.Provision.WebhookURL = url
	}
	if secret := os.Getenv("MESHMON_PROVISION_SECRET"); secret != "" {
		cfg.Provision.Secret = secret
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if env := os.Getenv("MESHMON_ENV"); env != "" {
		cfg.Logging.Environment = env
	}
}

// GetEnvOrDefault returns an environment variable or a default value.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
