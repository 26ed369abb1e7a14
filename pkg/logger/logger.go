package logger

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global *zap.Logger
	once   sync.Once
	mu     sync.RWMutex
)

// Config contains logger configuration
type Config struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string
	// Environment selects encoder defaults: "production" emits JSON,
	// anything else emits console output
	Environment string
	// ServiceName is attached to every entry
	ServiceName string
}

// DefaultConfig returns default logger configuration
func DefaultConfig() *Config {
	return &Config{
		Level:       "info",
		Environment: "development",
		ServiceName: "service",
	}
}

// Init initializes the global logger. Safe to call once at startup; later
// calls replace the global logger.
func Init(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	if cfg.Environment == "production" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	log, err := zapCfg.Build(
		zap.AddCallerSkip(0),
		zap.Fields(zap.String("service", cfg.ServiceName)),
	)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	global = log
	mu.Unlock()
	return nil
}

// Get returns the global logger, initializing a fallback if Init was never
// called (tests, tools)
func Get() *zap.Logger {
	mu.RLock()
	if global != nil {
		defer mu.RUnlock()
		return global
	}
	mu.RUnlock()

	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		if global == nil {
			log, err := zap.NewProduction()
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to init fallback logger: %v\n", err)
				log = zap.NewNop()
			}
			global = log
		}
	})

	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Sync flushes any buffered log entries
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if global != nil {
		_ = global.Sync()
	}
}
