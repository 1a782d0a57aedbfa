package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Load reads configuration from an optional yaml file, applies environment
// overrides, and validates the result. A missing file is not an error; the
// daemon can run entirely from defaults and environment.
func Load(configPath string, log *zap.Logger) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			// The file exists but could not be parsed; that is fatal.
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
		log.Info("config file not found, using defaults and environment",
			zap.String("path", configPath))
	} else {
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
		log.Info("loaded config file", zap.String("path", configPath))
	}

	applyEnvironmentOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}
