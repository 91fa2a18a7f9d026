package logger

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Names of the loggers used by the process.
const (
	DefaultName  = "default"
	ProcessName  = "jobguard"
	SecurityName = "security"
	HTTPName     = "http"
)

// LoggerManager owns the named loggers built from the log configuration files.
type LoggerManager struct {
	mu      sync.RWMutex
	loggers map[string]*zap.Logger
	asyncs  []*AsyncCore
}

// NewLoggerManager builds every logger declared in configPaths. A "default"
// logger is always present.
func NewLoggerManager(configPaths []string) (*LoggerManager, error) {
	configs, err := loadConfigs(configPaths)
	if err != nil {
		return nil, err
	}
	if _, ok := configs[DefaultName]; !ok {
		configs[DefaultName] = DefaultConfig
	}

	lm := &LoggerManager{loggers: make(map[string]*zap.Logger, len(configs))}
	for name, cfg := range configs {
		cfg := cfg
		logger, asyncs, err := buildLogger(name, &cfg)
		if err != nil {
			lm.Close()
			return nil, fmt.Errorf("failed to build logger '%s': %w", name, err)
		}
		lm.loggers[name] = logger
		lm.asyncs = append(lm.asyncs, asyncs...)
	}
	return lm, nil
}

// AddLogger registers logger under name.
// Returns error if a logger with the same name already exists.
func (lm *LoggerManager) AddLogger(name string, logger *zap.Logger) error {
	if logger == nil {
		return errors.New("logger cannot be nil")
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	if _, exists := lm.loggers[name]; exists {
		return fmt.Errorf("logger '%s' already exists", name)
	}
	lm.loggers[name] = logger
	return nil
}

// GetLogger retrieves a logger by name. Returns error if logger doesn't exist.
func (lm *LoggerManager) GetLogger(name string) (*zap.Logger, error) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	if logger, ok := lm.loggers[name]; ok {
		return logger, nil
	}
	return nil, fmt.Errorf("logger '%s' not found", name)
}

// Logger returns the named logger, or the default logger named after name
// when no configuration declares it.
func (lm *LoggerManager) Logger(name string) *zap.Logger {
	if logger, err := lm.GetLogger(name); err == nil {
		return logger
	}
	def, err := lm.GetLogger(DefaultName)
	if err != nil {
		return zap.NewNop()
	}
	return def.Named(name)
}

// Sync flushes all loggers managed by LoggerManager.
func (lm *LoggerManager) Sync() error {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	var errs []error
	for name, logger := range lm.loggers {
		if err := logger.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("failed to sync logger '%s': %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close drains the async writers. Loggers keep working afterwards but file
// outputs are dropped.
func (lm *LoggerManager) Close() error {
	lm.mu.Lock()
	asyncs := lm.asyncs
	lm.asyncs = nil
	lm.mu.Unlock()

	var errs []error
	for _, a := range asyncs {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
