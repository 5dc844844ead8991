package workflow

import (
	"fmt"
	"time"

	"github.com/garyjia/leave-approval/internal/domain/event"
	"github.com/garyjia/leave-approval/internal/domain/leave"
)

// Effect is an instruction emitted by Apply for the scheduler to act on
type Effect string

const (
	// EffectExitWait is emitted when the status leaves pending; the scheduler must
	// leave its wait loop, notify the employee and complete.
	EffectExitWait Effect = "exit_wait"
)

// ActivityKey identifies one logical activity occurrence
type ActivityKey struct {
	Name     event.ActivityName
	Sequence int
}

// ActivityOutcome is the recorded result of an activity occurrence
type ActivityOutcome struct {
	Completed bool
	Error     string
}

// Snapshot is everything derivable from an instance's event log
type Snapshot struct {
	InstanceID    string
	State         leave.State
	Timing        leave.Timing
	Started       bool
	TimedOut      bool
	RemindersSent int
	DecidedAt     time.Time
	Activities    map[ActivityKey]ActivityOutcome
	Completed     bool
	Result        *leave.Result
	LastSequence  int64
}

// Query returns a copy of the instance state safe to hand to readers
func (s Snapshot) Query() leave.State {
	return s.State.Clone()
}

// ActivityDone reports whether a completion or final failure is recorded for the occurrence
func (s Snapshot) ActivityDone(name event.ActivityName, seq int) bool {
	_, ok := s.Activities[ActivityKey{Name: name, Sequence: seq}]
	return ok
}

// TimeoutAt is the absolute approval deadline
func (s Snapshot) TimeoutAt() time.Time {
	return s.Timing.TimeoutAt(s.State.SubmittedAt)
}

// NextReminderAt returns the due time of the next reminder, if any remain
func (s Snapshot) NextReminderAt() (time.Time, bool) {
	return s.Timing.NextReminder(s.State.SubmittedAt, s.RemindersSent)
}

// Decide computes the outcome of delivering sig to the snapshot without changing it.
// Signals against a frozen status resolve to that status and are not applied.
func Decide(s Snapshot, sig leave.Signal) (event.SignalApplied, error) {
	out := event.SignalApplied{Signal: sig, ResultingStatus: s.State.Status}
	if s.State.Status.IsTerminal() {
		return out, nil
	}

	trigger, err := TriggerFor(sig)
	if err != nil {
		return out, err
	}
	m := NewApprovalMachine(s.State.Status)
	if err := m.Fire(trigger); err != nil {
		return out, err
	}
	out.ResultingStatus = m.Status()
	out.Applied = true
	return out, nil
}

// Apply folds one event onto the snapshot. It performs no I/O and reads no clock;
// the input snapshot is left untouched.
func Apply(s Snapshot, e *event.Event) (Snapshot, []Effect, error) {
	if e.Sequence != s.LastSequence+1 {
		return s, nil, fmt.Errorf("%w: expected sequence %d, got %d", ErrInvalidState, s.LastSequence+1, e.Sequence)
	}
	if e.Type != event.TypeStarted && !s.Started {
		return s, nil, fmt.Errorf("%w: %s at sequence %d", ErrNotStarted, e.Type, e.Sequence)
	}
	// only audit records of late signals may follow completion
	if s.Completed && e.Type != event.TypeSignalApplied {
		return s, nil, fmt.Errorf("%w: %s after completion", ErrInvalidState, e.Type)
	}
	if _, err := e.Payload(); err != nil {
		return s, nil, err
	}

	next := s
	next.State = s.State.Clone()
	var effects []Effect

	switch e.Type {
	case event.TypeStarted:
		if s.Started {
			return s, nil, ErrAlreadyStarted
		}
		next.InstanceID = e.InstanceID
		next.Started = true
		next.Timing = e.Started.Timing
		next.State = leave.State{
			Request:     e.Started.Request,
			Status:      leave.StatusPending,
			SubmittedAt: e.Started.SubmittedAt,
		}

	case event.TypeSignalApplied:
		decided, err := Decide(s, e.Signal.Signal)
		if err != nil {
			return s, nil, err
		}
		if decided.Applied != e.Signal.Applied || decided.ResultingStatus != e.Signal.ResultingStatus {
			return s, nil, fmt.Errorf("%w: sequence %d recorded %s (applied=%t), fold gives %s (applied=%t)",
				ErrReplayDivergence, e.Sequence, e.Signal.ResultingStatus, e.Signal.Applied,
				decided.ResultingStatus, decided.Applied)
		}
		if decided.Applied {
			next.State.Status = decided.ResultingStatus
			switch e.Signal.Signal.Kind {
			case leave.SignalDecision:
				next.State.Decision = e.Signal.Signal.Decision.Clone()
			case leave.SignalCancel:
				next.State.CancelReason = e.Signal.Signal.CancelReason
			}
			next.DecidedAt = e.RecordedAt.UTC()
			effects = append(effects, EffectExitWait)
		}

	case event.TypeReminderSent:
		if s.State.Status != leave.StatusPending {
			return s, nil, fmt.Errorf("%w: reminder while %s", ErrInvalidState, s.State.Status)
		}
		if e.Reminder.Sequence != s.RemindersSent+1 {
			return s, nil, fmt.Errorf("%w: reminder %d after %d sent", ErrInvalidState, e.Reminder.Sequence, s.RemindersSent)
		}
		next.RemindersSent = e.Reminder.Sequence

	case event.TypeTimedOut:
		m := NewApprovalMachine(s.State.Status)
		if err := m.Fire(TriggerTimeout); err != nil {
			return s, nil, err
		}
		next.State.Status = m.Status()
		next.TimedOut = true
		next.DecidedAt = e.RecordedAt.UTC()
		effects = append(effects, EffectExitWait)

	case event.TypeActivityCompleted, event.TypeActivityFailed:
		key := ActivityKey{Name: e.Activity.Name, Sequence: e.Activity.Sequence}
		if _, exists := s.Activities[key]; exists {
			return s, nil, fmt.Errorf("%w: activity %s/%d recorded twice", ErrInvalidState, key.Name, key.Sequence)
		}
		activities := make(map[ActivityKey]ActivityOutcome, len(s.Activities)+1)
		for k, v := range s.Activities {
			activities[k] = v
		}
		activities[key] = ActivityOutcome{
			Completed: e.Type == event.TypeActivityCompleted,
			Error:     e.Activity.Error,
		}
		next.Activities = activities

	case event.TypeCompleted:
		if !s.State.Status.IsTerminal() {
			return s, nil, fmt.Errorf("%w: completed while %s", ErrInvalidState, s.State.Status)
		}
		result := e.Completed.Result
		result.Decision = result.Decision.Clone()
		next.Completed = true
		next.Result = &result

	default:
		return s, nil, fmt.Errorf("%w: %s", event.ErrUnknownType, e.Type)
	}

	next.LastSequence = e.Sequence
	return next, effects, nil
}

// Replay folds a full event sequence from scratch
func Replay(events []*event.Event) (Snapshot, error) {
	var s Snapshot
	for _, e := range events {
		var err error
		s, _, err = Apply(s, e)
		if err != nil {
			return Snapshot{}, fmt.Errorf("replay %s: %w", e.InstanceID, err)
		}
	}
	if !s.Started {
		return Snapshot{}, ErrNotStarted
	}
	return s, nil
}
