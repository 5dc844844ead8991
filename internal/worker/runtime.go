package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Runtime is the part of the leave service the runtime worker drives
type Runtime interface {
	Recover(ctx context.Context) (int, error)
	Shutdown(ctx context.Context) error
}

// RuntimeWorker resumes unfinished instances on start and stops every instance
// runner on stop
type RuntimeWorker struct {
	runtime         Runtime
	shutdownTimeout time.Duration
	onRecovered     func(n int)
	logger          *zap.Logger
}

// NewRuntimeWorker creates the worker. onRecovered, when non-nil, receives the number
// of instances resumed from the log.
func NewRuntimeWorker(runtime Runtime, shutdownTimeout time.Duration, onRecovered func(n int), logger *zap.Logger) *RuntimeWorker {
	return &RuntimeWorker{
		runtime:         runtime,
		shutdownTimeout: shutdownTimeout,
		onRecovered:     onRecovered,
		logger:          logger,
	}
}

func (w *RuntimeWorker) Start(ctx context.Context) error {
	n, err := w.runtime.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover instances: %w", err)
	}
	if w.onRecovered != nil {
		w.onRecovered(n)
	}
	w.logger.Info("Workflow runtime recovered", zap.Int("resumed", n))
	return nil
}

func (w *RuntimeWorker) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
	defer cancel()
	if err := w.runtime.Shutdown(ctx); err != nil {
		w.logger.Warn("Workflow runtime did not stop cleanly", zap.Error(err))
	}
}

func (w *RuntimeWorker) Name() string {
	return "WorkflowRuntime"
}
