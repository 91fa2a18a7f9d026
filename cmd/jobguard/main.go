package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/victorgomez09/jobguard/internal/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to main config file")
	customLogConfigs := flag.String("log-config", "", "comma-separated paths to custom provided log config files")
	flag.Parse()

	// initilize logging manager
	logManager, zLog := initializeLogging(*customLogConfigs)

	cfg := NewConfigManager(zLog).Load(*configPath)

	errChan := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// build server and initialize components
	app := initializeApp(ctx, cfg, errChan, zLog, logManager)
	// run server
	os.Exit(runApp(ctx, cancel, app, errChan, zLog))
}

// initializeLogging initializes the logger manager and retrieves the process logger.
func initializeLogging(customLogConfigs string) (*logger.LoggerManager, *zap.Logger) {
	logConfigPaths := []string{"log.config.json"}
	if customLogConfigs != "" {
		for _, customConfig := range strings.Split(customLogConfigs, ",") {
			if tp := strings.TrimSpace(customConfig); tp != "" {
				logConfigPaths = append(logConfigPaths, tp)
			}
		}
	}

	logManager, err := logger.NewLoggerManager(logConfigPaths)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return logManager, logManager.Logger(logger.ProcessName)
}

// runApp starts the application and blocks until a shutdown signal or a
// server error. It returns the process exit code.
func runApp(
	ctx context.Context,
	cancel context.CancelFunc,
	app *Application,
	errChan chan error,
	zLog *zap.Logger,
) int {
	code := 0
	if err := app.Start(); err != nil {
		zLog.Error("Failed to start server", zap.Error(err))
		code = 1
	} else {
		// Set up a channel to listen for OS signals for graceful shutdown (e.g., SIGINT, SIGTERM).
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			zLog.Warn("Shutdown signal received. Initializing graceful shutdown", zap.String("signal", sig.String()))
		case err := <-errChan:
			zLog.Error("Server error triggered shutdown", zap.Error(err))
			code = 1
		case <-ctx.Done():
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := app.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		// the logger itself may already be closed at this point
		log.Printf("Error during shutdown: %v", err)
		return 1
	}
	return code
}
