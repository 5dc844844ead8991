package container

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/leave-approval/internal/application/port"
	"github.com/garyjia/leave-approval/internal/config"
	"github.com/garyjia/leave-approval/internal/infrastructure/notification"
	"github.com/garyjia/leave-approval/internal/infrastructure/persistence/memory"
	"github.com/garyjia/leave-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/leave-approval/migrations"
	"github.com/garyjia/leave-approval/pkg/database"
	"github.com/garyjia/leave-approval/pkg/tracing"
)

// serviceName labels logs and spans
const serviceName = "leave-approval"

// StoreBundle holds the event log and the database behind it, if any
type StoreBundle struct {
	Log port.EventLog
	DB  *database.DB // nil for the memory driver
}

// ProvideEventLog opens the configured event log store and applies migrations
func ProvideEventLog(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*StoreBundle, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("Using in-memory event log; instances will not survive a restart")
		return &StoreBundle{Log: memory.NewEventLog()}, nil
	case "sqlite":
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	db, err := database.New(ctx, database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).Run(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &StoreBundle{
		Log: sqlite.NewEventLog(sqlite.NewDB(db.DB, logger), logger),
		DB:  db,
	}, nil
}

// ProvideNotifier builds the configured notification channel
func ProvideNotifier(cfg config.NotifierConfig, logger *zap.Logger) (port.Notifier, error) {
	switch cfg.Driver {
	case "log":
		return notification.NewLogNotifier(logger), nil
	case "lark":
		return notification.NewLarkNotifier(notification.LarkConfig{
			AppID:     cfg.Lark.AppID,
			AppSecret: cfg.Lark.AppSecret,
			BaseURL:   cfg.Lark.BaseURL,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown notifier driver %q", cfg.Driver)
	}
}

// ProvideTracing installs the span exporter when tracing is enabled
func ProvideTracing(cfg config.TracingConfig) (*tracing.Provider, error) {
	return tracing.Setup(tracing.Config{
		Enabled:     cfg.Enabled,
		ServiceName: serviceName,
		OutputPath:  cfg.OutputPath,
	})
}
