package scheduler

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Wake names the source that ended a compound wait
type Wake int

const (
	WakeSignal Wake = iota + 1
	WakeReminder
	WakeTimeout
	WakeStopped
)

func (w Wake) String() string {
	switch w {
	case WakeSignal:
		return "signal"
	case WakeReminder:
		return "reminder"
	case WakeTimeout:
		return "timeout"
	case WakeStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// WaitSet is one compound wait: a signal channel plus absolute reminder and timeout
// deadlines. Deadlines are absolute so a resumed wait sleeps deadline-now, never a
// full interval.
type WaitSet struct {
	Signals     <-chan struct{}
	Reminder    time.Time
	HasReminder bool
	Timeout     time.Time
}

// Wait blocks until a source fires. A pending signal always wins; an elapsed timeout
// wins over an elapsed reminder.
func (w WaitSet) Wait(ctx context.Context, clock clockwork.Clock) Wake {
	for {
		if ctx.Err() != nil {
			return WakeStopped
		}
		select {
		case <-w.Signals:
			return WakeSignal
		default:
		}

		now := clock.Now()
		if !now.Before(w.Timeout) {
			return WakeTimeout
		}
		if w.HasReminder && !now.Before(w.Reminder) {
			return WakeReminder
		}

		deadline := w.Timeout
		if w.HasReminder && w.Reminder.Before(deadline) {
			deadline = w.Reminder
		}

		timer := clock.NewTimer(deadline.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return WakeStopped
		case <-w.Signals:
			timer.Stop()
			return WakeSignal
		case <-timer.Chan():
			// re-evaluate against the clock so simultaneous deadlines resolve by priority
		}
	}
}
