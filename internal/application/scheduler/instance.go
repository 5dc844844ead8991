package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/garyjia/leave-approval/internal/application/activity"
	"github.com/garyjia/leave-approval/internal/application/port"
	"github.com/garyjia/leave-approval/internal/domain/event"
	"github.com/garyjia/leave-approval/internal/domain/leave"
	"github.com/garyjia/leave-approval/internal/domain/workflow"
)

// errNotPending is returned by appendWhilePending when a signal won the race
var errNotPending = errors.New("status no longer pending")

// errWindowClosed is returned when a reminder would be recorded at or after the deadline
var errWindowClosed = errors.New("approval window closed")

// Deps are the collaborators shared by every instance
type Deps struct {
	Log      port.EventLog
	Notifier port.Notifier
	Invoker  *activity.Invoker
	Clock    clockwork.Clock
	Logger   *zap.Logger
	// OnAppend observes every durably appended event; it must not block
	OnAppend func(ctx context.Context, evt *event.Event)
}

// Instance owns one workflow instance: the only writer of its log and the runner of
// its wait loop. Appends are serialized by writeMu; readers take stateMu only.
type Instance struct {
	deps   Deps
	logger *zap.Logger

	writeMu  sync.Mutex
	halted   error
	archived bool

	stateMu sync.RWMutex
	snap    workflow.Snapshot

	wake      chan struct{}
	completed chan struct{}
	haltedCh  chan struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newInstance(deps Deps, snap workflow.Snapshot) *Instance {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	in := &Instance{
		deps:      deps,
		snap:      snap,
		wake:      make(chan struct{}, 1),
		completed: make(chan struct{}),
		haltedCh:  make(chan struct{}),
	}
	in.logger = deps.Logger.With(zap.String("instance_id", snap.InstanceID))
	if snap.Completed {
		close(in.completed)
	}
	return in
}

// Create appends Started for a new instance. It fails with leave.ErrAlreadyExists when
// the id is already present in the log.
func Create(ctx context.Context, deps Deps, req leave.Request, timing leave.Timing) (*Instance, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := timing.Validate(); err != nil {
		return nil, err
	}

	in := newInstance(deps, workflow.Snapshot{InstanceID: req.RequestID})
	started := event.NewStarted(req.RequestID, req, in.now(), timing)
	if err := in.append(ctx, started); err != nil {
		return nil, err
	}
	in.logger.Info("Instance created",
		zap.String("task_queue", timing.TaskQueue),
		zap.Time("submitted_at", started.Started.SubmittedAt))
	return in, nil
}

// Restore rebuilds an instance from its log by replay
func Restore(ctx context.Context, deps Deps, instanceID string) (*Instance, error) {
	events, err := deps.Log.Load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	snap, err := workflow.Replay(events)
	if err != nil {
		return nil, err
	}
	return newInstance(deps, snap), nil
}

// now reads the clock in UTC so live and replayed timestamps compare equal
func (in *Instance) now() time.Time {
	return in.deps.Clock.Now().UTC()
}

// InstanceID implements activity.Journal
func (in *Instance) InstanceID() string {
	return in.Snapshot().InstanceID
}

// Snapshot returns the state derived from the events appended so far. It never waits
// on the wait loop.
func (in *Instance) Snapshot() workflow.Snapshot {
	in.stateMu.RLock()
	defer in.stateMu.RUnlock()
	return in.snap
}

// State returns a copy of the instance state for readers
func (in *Instance) State() leave.State {
	return in.Snapshot().Query()
}

// ActivityDone implements activity.Journal
func (in *Instance) ActivityDone(name event.ActivityName, seq int) bool {
	return in.Snapshot().ActivityDone(name, seq)
}

// RecordActivity implements activity.Journal
func (in *Instance) RecordActivity(ctx context.Context, evt *event.Event) error {
	return in.append(ctx, evt)
}

// Halted returns the durability failure that stopped the instance, if any
func (in *Instance) Halted() error {
	in.stateMu.RLock()
	defer in.stateMu.RUnlock()
	return in.halted
}

// Signal durably records sig and wakes the wait loop. The first decisive signal wins;
// signals against a frozen status are recorded with Applied=false and change nothing.
func (in *Instance) Signal(ctx context.Context, sig leave.Signal) (event.SignalApplied, error) {
	if err := sig.Validate(); err != nil {
		return event.SignalApplied{}, err
	}

	e := event.NewSignalApplied(in.InstanceID(), sig, in.now())
	err := in.appendWith(ctx, e, func(s workflow.Snapshot) error {
		decided, err := workflow.Decide(s, sig)
		if err != nil {
			return err
		}
		*e.Signal = decided
		return nil
	})
	if err != nil {
		return event.SignalApplied{}, err
	}

	select {
	case in.wake <- struct{}{}:
	default:
	}

	applied := *e.Signal
	in.logger.Info("Signal recorded",
		zap.String("kind", string(sig.Kind)),
		zap.String("status", applied.ResultingStatus.String()),
		zap.Bool("applied", applied.Applied))
	return applied, nil
}

// Await blocks until the instance completes and returns its result
func (in *Instance) Await(ctx context.Context) (leave.Result, error) {
	select {
	case <-in.completed:
		return *in.Snapshot().Result, nil
	case <-in.haltedCh:
		return leave.Result{}, in.haltErr()
	case <-ctx.Done():
		return leave.Result{}, ctx.Err()
	}
}

func (in *Instance) haltErr() error {
	return fmt.Errorf("%w: %v", leave.ErrHalted, in.Halted())
}

func (in *Instance) append(ctx context.Context, e *event.Event) error {
	return in.appendWith(ctx, e, nil)
}

// appendWith folds e onto the current snapshot, persists it and only then publishes the
// new snapshot. prepare may fill in e from the snapshot it will be appended to.
func (in *Instance) appendWith(ctx context.Context, e *event.Event, prepare func(workflow.Snapshot) error) error {
	in.writeMu.Lock()
	defer in.writeMu.Unlock()

	if h := in.Halted(); h != nil {
		return in.haltErr()
	}
	if in.archived {
		return fmt.Errorf("%w: %s is archived", leave.ErrNotFound, in.InstanceID())
	}

	cur := in.Snapshot()
	if prepare != nil {
		if err := prepare(cur); err != nil {
			return err
		}
	}
	e.Sequence = cur.LastSequence + 1
	next, _, err := workflow.Apply(cur, e)
	if err != nil {
		return err
	}

	if err := in.deps.Log.Append(ctx, e); err != nil {
		switch {
		case e.Type == event.TypeStarted:
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		}
		in.halt(err)
		return fmt.Errorf("%w: %v", leave.ErrHalted, err)
	}

	in.stateMu.Lock()
	in.snap = next
	in.stateMu.Unlock()

	if e.Type == event.TypeCompleted {
		close(in.completed)
	}
	if in.deps.OnAppend != nil {
		in.deps.OnAppend(ctx, e.Clone())
	}
	return nil
}

// Archive moves a completed instance out of the live set. An append racing with it
// either lands before the archive or fails with leave.ErrNotFound.
func (in *Instance) Archive(ctx context.Context, at time.Time) error {
	in.writeMu.Lock()
	defer in.writeMu.Unlock()

	id := in.InstanceID()
	if in.archived {
		return fmt.Errorf("%w: %s is archived", leave.ErrNotFound, id)
	}
	if !in.Snapshot().Completed {
		return fmt.Errorf("%w: %s", leave.ErrNotCompleted, id)
	}
	if err := in.deps.Log.Archive(ctx, id, at); err != nil {
		return err
	}
	in.archived = true
	return nil
}

// appendWhilePending appends a deadline event unless a signal already froze the status
func (in *Instance) appendWhilePending(ctx context.Context, e *event.Event) error {
	return in.appendWith(ctx, e, func(s workflow.Snapshot) error {
		if s.State.Status != leave.StatusPending {
			return errNotPending
		}
		return nil
	})
}

func (in *Instance) halt(cause error) {
	in.stateMu.Lock()
	in.halted = cause
	in.stateMu.Unlock()
	close(in.haltedCh)
	in.logger.Error("Instance halted after durability failure", zap.Error(cause))
}
