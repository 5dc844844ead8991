package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/leave-approval/internal/config"
	"github.com/garyjia/leave-approval/internal/container"
	httpapi "github.com/garyjia/leave-approval/internal/interfaces/http"
	"github.com/garyjia/leave-approval/pkg/utils"
)

func main() {
	configPath := flag.String("config", os.Getenv("LEAVE_CONFIG"), "path to a YAML config file (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
		Service:    "leave-approval",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting leave approval service",
		zap.Int("port", cfg.Server.Port),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("notifier_driver", cfg.Notifier.Driver),
		zap.Duration("reminder_interval", cfg.Workflow.ReminderInterval),
		zap.Duration("approval_timeout", cfg.Workflow.ApprovalTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := c.Close(closeCtx); err != nil {
			logger.Error("Container shutdown failed", zap.Error(err))
		}
	}()

	if err := c.Start(ctx); err != nil {
		return err
	}

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, c.LeaveService(), c.Registry(), logger)

	// Start blocks until SIGINT/SIGTERM, then drains in-flight requests
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("Shutdown signal received, stopping workflow runtime",
		zap.Duration("timeout", cfg.Server.ShutdownTimeout),
		zap.Time("at", time.Now().UTC()))
	return nil
}
