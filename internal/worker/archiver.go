package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Archivable retires completed instances
type Archivable interface {
	ArchiveCompletedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Archiver periodically archives instances completed longer than the retention ago
type Archiver struct {
	target    Archivable
	clock     clockwork.Clock
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewArchiver creates the retention worker
func NewArchiver(target Archivable, clock clockwork.Clock, retention, interval time.Duration, logger *zap.Logger) *Archiver {
	return &Archiver{
		target:    target,
		clock:     clock,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
}

func (a *Archiver) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isRunning {
		return fmt.Errorf("archiver is already running")
	}
	if a.interval <= 0 {
		return fmt.Errorf("archive interval must be positive, got %s", a.interval)
	}

	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	a.isRunning = true

	a.logger.Info("Archiver started",
		zap.Duration("retention", a.retention),
		zap.Duration("interval", a.interval))

	go a.loop(ctx)
	return nil
}

func (a *Archiver) Stop() {
	a.mu.Lock()
	if !a.isRunning {
		a.mu.Unlock()
		return
	}
	a.isRunning = false
	a.cancel()
	done := a.done
	a.mu.Unlock()

	<-done
	a.logger.Info("Archiver stopped")
}

func (a *Archiver) Name() string {
	return "Archiver"
}

func (a *Archiver) loop(ctx context.Context) {
	defer close(a.done)

	ticker := a.clock.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			a.RunOnce(ctx)
		}
	}
}

// RunOnce archives everything completed before now minus the retention
func (a *Archiver) RunOnce(ctx context.Context) int {
	cutoff := a.clock.Now().UTC().Add(-a.retention)
	n, err := a.target.ArchiveCompletedBefore(ctx, cutoff)
	if err != nil {
		a.logger.Error("Archive pass failed", zap.Time("cutoff", cutoff), zap.Error(err))
	}
	if n > 0 {
		a.logger.Info("Archived completed instances", zap.Int("count", n), zap.Time("cutoff", cutoff))
	}
	return n
}
