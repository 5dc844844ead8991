package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/leave-approval/internal/application/activity"
	"github.com/garyjia/leave-approval/internal/domain/event"
	"github.com/garyjia/leave-approval/internal/domain/leave"
	"github.com/garyjia/leave-approval/internal/domain/workflow"
)

// Start launches the runner goroutine. Completed instances have nothing to run.
func (in *Instance) Start(ctx context.Context) {
	in.runMu.Lock()
	defer in.runMu.Unlock()

	if in.done != nil || in.Snapshot().Completed {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	in.cancel = cancel
	in.done = make(chan struct{})

	go func() {
		defer close(in.done)
		if err := in.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			in.logger.Error("Instance runner stopped", zap.Error(err))
		}
	}()
}

// Stop cancels the runner and waits for it to exit. Nothing is appended after
// cancellation; a later Restore resumes from the log.
func (in *Instance) Stop() {
	in.runMu.Lock()
	cancel, done := in.cancel, in.done
	in.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the runner exits; nil if the runner never started
func (in *Instance) Done() <-chan struct{} {
	in.runMu.Lock()
	defer in.runMu.Unlock()
	return in.done
}

func (in *Instance) run(ctx context.Context) error {
	snap := in.Snapshot()
	req := snap.State.Request

	// a request decided before the approver was notified needs no approval request
	if snap.State.Status == leave.StatusPending {
		if err := in.invoke(ctx, event.ActivityNotifyApprover, 0, in.windowBudget(), func(ctx context.Context) error {
			return in.deps.Notifier.NotifyApprover(ctx, req)
		}); err != nil {
			return err
		}
	}

	if err := in.waitLoop(ctx); err != nil {
		return err
	}

	// stamped with the decision time so a resumed run reports the same result
	final := in.Snapshot()
	result := leave.ResultOf(final.State, final.DecidedAt)
	if err := in.invoke(ctx, event.ActivityNotifyEmployee, 0, final.Timing.ApprovalTimeout, func(ctx context.Context) error {
		return in.deps.Notifier.NotifyEmployee(ctx, req, result)
	}); err != nil {
		return err
	}

	if err := in.append(ctx, event.NewCompleted(in.InstanceID(), result, in.now())); err != nil {
		return err
	}
	in.logger.Info("Instance completed", zap.String("status", result.Status.String()))
	return nil
}

func (in *Instance) waitLoop(ctx context.Context) error {
	for {
		snap := in.Snapshot()
		if snap.State.Status.IsTerminal() {
			return nil
		}

		next, hasNext := snap.NextReminderAt()
		ws := WaitSet{
			Signals:     in.wake,
			Reminder:    next,
			HasReminder: hasNext,
			Timeout:     snap.TimeoutAt(),
		}

		wake := ws.Wait(ctx, in.deps.Clock)
		in.logger.Debug("Wait loop woke", zap.Stringer("wake", wake))

		var err error
		switch wake {
		case WakeStopped:
			return ctx.Err()
		case WakeSignal:
			// the signal is already in the log; the loop re-reads the status
		case WakeReminder:
			err = in.remind(ctx, snap.RemindersSent+1, snap.State.Request)
		case WakeTimeout:
			err = in.appendWhilePending(ctx, event.NewTimedOut(snap.InstanceID, in.now()))
			if err == nil {
				in.logger.Info("Approval timed out")
			}
		}
		if err != nil && !errors.Is(err, errNotPending) && !errors.Is(err, errWindowClosed) {
			return err
		}
	}
}

func (in *Instance) remind(ctx context.Context, n int, req leave.Request) error {
	if err := in.invokeUntilDecided(ctx, event.ActivitySendReminder, n, func(ctx context.Context) error {
		return in.deps.Notifier.SendReminder(ctx, req, n)
	}); err != nil {
		return err
	}

	// the schedule advances even when the notification itself failed, but only inside
	// the approval window
	at := in.now()
	err := in.appendWith(ctx, event.NewReminderSent(in.InstanceID(), n, at), func(s workflow.Snapshot) error {
		if s.State.Status != leave.StatusPending {
			return errNotPending
		}
		if !at.Before(s.TimeoutAt()) {
			return errWindowClosed
		}
		return nil
	})
	if err != nil {
		return err
	}
	in.logger.Info("Reminder sent", zap.Int("reminder", n))
	return nil
}

// windowBudget is the retry budget left before the approval deadline. Once the
// deadline has passed only a single attempt remains.
func (in *Instance) windowBudget() time.Duration {
	left := in.Snapshot().TimeoutAt().Sub(in.now())
	if left <= 0 {
		return time.Nanosecond
	}
	return left
}

// invokeUntilDecided runs an activity of the wait loop. Retries stop at the approval
// deadline or as soon as a signal moves the status out of pending, so a failing
// notification never holds back the timeout or the decision.
func (in *Instance) invokeUntilDecided(ctx context.Context, name event.ActivityName, seq int, fn func(ctx context.Context) error) error {
	actx, cancel := context.WithCancelCause(ctx)
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		for {
			select {
			case <-actx.Done():
				return
			case <-in.wake:
				// the wait loop re-reads the status afterwards, so the wake is not lost
				if in.Snapshot().State.Status.IsTerminal() {
					cancel(activity.ErrSuperseded)
					return
				}
			}
		}
	}()

	err := in.invoke(actx, name, seq, in.windowBudget(), fn)
	cancel(nil)
	<-watched
	return err
}

func (in *Instance) invoke(ctx context.Context, name event.ActivityName, seq int, budget time.Duration, fn func(ctx context.Context) error) error {
	err := in.deps.Invoker.Invoke(ctx, in, name, seq, budget, fn)
	if errors.Is(err, activity.ErrExhausted) {
		in.logger.Warn("Continuing after failed notification", zap.String("activity", name.String()), zap.Error(err))
		return nil
	}
	return err
}
