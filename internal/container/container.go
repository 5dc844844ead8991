// Package container wires the leave approval runtime and owns its lifecycle:
// ordered initialization and reverse-order teardown.
package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/garyjia/leave-approval/internal/application/activity"
	"github.com/garyjia/leave-approval/internal/application/dispatcher"
	"github.com/garyjia/leave-approval/internal/application/port"
	"github.com/garyjia/leave-approval/internal/application/scheduler"
	"github.com/garyjia/leave-approval/internal/application/service"
	"github.com/garyjia/leave-approval/internal/config"
	"github.com/garyjia/leave-approval/internal/infrastructure/metrics"
	"github.com/garyjia/leave-approval/internal/worker"
	"github.com/garyjia/leave-approval/pkg/database"
	"github.com/garyjia/leave-approval/pkg/tracing"
)

// Container manages all application dependencies and lifecycle
type Container struct {
	config *config.Config
	logger *zap.Logger
	clock  clockwork.Clock

	// Infrastructure
	db       *database.DB
	eventLog port.EventLog
	notifier port.Notifier
	tracing  *tracing.Provider
	registry *prometheus.Registry
	metrics  *metrics.Collector

	// Application
	dispatcher dispatcher.Dispatcher
	leave      service.LeaveService

	// Workers
	workers *worker.Manager

	// Lifecycle
	mu     sync.Mutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a container. A nil clock means the wall clock.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger, clock clockwork.Clock) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Container{
		config: cfg,
		logger: logger,
		clock:  clock,
	}, nil
}

// Start initializes all components in dependency order:
// 1. Event log store
// 2. Tracing and metrics
// 3. Notifier, dispatcher and leave service
// 4. Workers (recovery of unfinished instances, archiver)
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")
	if err := c.start(ctx); err != nil {
		c.logger.Error("Container initialization failed, rolling back", zap.Error(err))
		for _, rerr := range c.teardown(ctx) {
			c.logger.Error("Rollback step failed", zap.Error(rerr))
		}
		return err
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

func (c *Container) start(ctx context.Context) error {
	store, err := ProvideEventLog(ctx, c.config.Database, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize event log: %w", err)
	}
	c.eventLog, c.db = store.Log, store.DB
	c.logger.Info("Event log initialized", zap.String("driver", c.config.Database.Driver))

	if c.tracing, err = ProvideTracing(c.config.Tracing); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.metrics = metrics.NewCollector(c.registry)

	if c.notifier, err = ProvideNotifier(c.config.Notifier, c.logger); err != nil {
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}

	c.dispatcher = dispatcher.NewDispatcher(c.logger)
	c.metrics.Subscribe(c.dispatcher)

	c.leave = service.NewLeaveService(scheduler.Deps{
		Log:      c.eventLog,
		Notifier: c.notifier,
		Invoker:  activity.NewInvoker(c.config.Activity.Policy(), c.clock, c.logger),
		Clock:    c.clock,
		Logger:   c.logger,
	}, c.config.Workflow.Timing(), c.dispatcher, c.logger)
	c.logger.Info("Leave service initialized")

	c.workers = worker.NewManager(c.logger)
	c.workers.Register(worker.NewRuntimeWorker(c.leave, c.config.Server.ShutdownTimeout, c.metrics.AddRecovered, c.logger))
	c.workers.Register(worker.NewArchiver(c.leave, c.clock, c.config.Workflow.Retention, c.config.Workflow.ArchiveInterval, c.logger))
	if err := c.workers.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	return nil
}

// teardown releases whatever has been initialized, newest first. It serves both
// Close and the rollback of a failed Start.
func (c *Container) teardown(ctx context.Context) []error {
	var errs []error

	if c.workers != nil {
		c.workers.StopAll()
		c.workers = nil
		c.logger.Info("Workers stopped")
	}

	if c.leave != nil {
		if err := c.leave.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown leave service: %w", err))
		}
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
		c.dispatcher = nil
	}

	if c.tracing != nil {
		if err := c.tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
		c.tracing = nil
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		c.db = nil
	}
	c.eventLog = nil
	return errs
}

// Close shuts down all components in reverse order. Instance runners stop without
// appending and the log handle is closed last.
func (c *Container) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	errs := c.teardown(ctx)

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		for _, err := range errs {
			c.logger.Error("Shutdown step failed", zap.Error(err))
		}
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// LeaveService returns the core-facing service
func (c *Container) LeaveService() service.LeaveService {
	return c.leave
}

// Registry returns the Prometheus registry served on /metrics
func (c *Container) Registry() *prometheus.Registry {
	return c.registry
}

// Health returns health status of all components
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    c.ready.Load(),
		Components: make(map[string]ComponentHealth),
	}

	switch {
	case c.db != nil:
		if err := c.db.PingContext(ctx); err != nil {
			status.Components["database"] = ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)}
			status.Overall = false
		} else {
			status.Components["database"] = ComponentHealth{Healthy: true}
		}
	case c.eventLog != nil:
		status.Components["database"] = ComponentHealth{Healthy: true, Message: "in-memory"}
	default:
		status.Components["database"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	}

	if c.workers != nil {
		status.Components["workers"] = ComponentHealth{
			Healthy: c.ready.Load(),
			Message: fmt.Sprintf("worker count: %d", c.workers.Count()),
		}
	} else {
		status.Components["workers"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	}

	return status
}
