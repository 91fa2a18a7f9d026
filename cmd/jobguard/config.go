package main

import (
	"go.uber.org/zap"

	"github.com/victorgomez09/jobguard/internal/config"
)

// ConfigManager handles configuration loading and validation
type ConfigManager struct {
	logger *zap.Logger
}

func NewConfigManager(logger *zap.Logger) *ConfigManager {
	return &ConfigManager{
		logger: logger,
	}
}

// Load reads and validates the configuration. A missing file falls back to
// defaults and the environment; an invalid one is fatal.
func (cm *ConfigManager) Load(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		cm.logger.Fatal("Failed to load configuration", zap.String("path", path), zap.Error(err))
	}
	if err := cfg.Validate(cm.logger); err != nil {
		cm.logger.Fatal("Invalid configuration", zap.String("path", path), zap.Error(err))
	}

	cm.logger.Info("Configuration loaded",
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("shared_cache", cfg.Redis.URL != ""),
		zap.Bool("admin_api", cfg.Admin.Enabled),
		zap.Bool("ephemeral_secret", cfg.Auth.EphemeralSecret()))
	return cfg
}
